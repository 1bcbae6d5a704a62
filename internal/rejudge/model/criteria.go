package model

import "time"

// Criteria is the caller's filter over judgings. Every set field narrows the selection.
type Criteria struct {
	Contests    []int64  `json:"contests,omitempty"`
	Problems    []int64  `json:"problems,omitempty"`
	Languages   []string `json:"languages,omitempty"`
	Teams       []int64  `json:"teams,omitempty"`
	Judgehosts  []string `json:"judgehosts,omitempty"`
	Verdicts    []string `json:"verdicts,omitempty"`
	Submissions []int64  `json:"submissions,omitempty"`
	// Rejudgings selects submissions that have a judging under any of these rejudgings.
	Rejudgings      []int64 `json:"rejudgings,omitempty"`
	SubmittedBefore string  `json:"before,omitempty"`
	SubmittedAfter  string  `json:"after,omitempty"`
	IncludeAll      bool    `json:"include_all"`
}

// HasTimeWindow reports whether a submission time restriction is set.
func (c *Criteria) HasTimeWindow() bool {
	return c.SubmittedBefore != "" || c.SubmittedAfter != ""
}

// JudgingFilter is a resolved Criteria as understood by the store.
// Only valid judgings are ever matched.
type JudgingFilter struct {
	ContestIDs      []int64
	ProblemIDs      []int64
	LanguageIDs     []string
	TeamIDs         []int64
	Judgehosts      []string
	Verdicts        []string
	SubmissionIDs   []int64
	RejudgingIDs    []int64
	SubmittedBefore *time.Time
	SubmittedAfter  *time.Time
	// IncludeAll matches any finished judging instead of only incorrect ones.
	IncludeAll bool
}
