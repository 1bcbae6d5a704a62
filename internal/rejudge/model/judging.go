package model

import "time"

// Submission is the unit being judged. RejudgingID points at the open
// rejudging the submission is currently attached to.
type Submission struct {
	ID          int64     `json:"id"`
	ContestID   int64     `json:"contest_id"`
	ProblemID   int64     `json:"problem_id"`
	LanguageID  string    `json:"language_id"`
	TeamID      int64     `json:"team_id"`
	SubmitTime  time.Time `json:"submit_time"`
	RejudgingID *int64    `json:"rejudging_id,omitempty"`
}

// Judging is one evaluation attempt of a submission.
type Judging struct {
	ID                int64      `json:"id"`
	SubmissionID      int64      `json:"submission_id"`
	ContestID         int64      `json:"contest_id"`
	Result            *string    `json:"result,omitempty"`
	Valid             bool       `json:"valid"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	EndTime           *time.Time `json:"end_time,omitempty"`
	Judgehost         string     `json:"judgehost,omitempty"`
	RejudgingID       *int64     `json:"rejudging_id,omitempty"`
	OriginalJudgingID *int64     `json:"original_judging_id,omitempty"`
}

// Finished reports whether the judging pipeline completed the judging.
func (j *Judging) Finished() bool {
	return j.EndTime != nil
}

// Verdict returns the result label or an empty string while judging.
func (j *Judging) Verdict() string {
	if j.Result == nil {
		return ""
	}
	return *j.Result
}

// Duration is the wall-clock time the judging took, zero when unknown.
func (j *Judging) Duration() time.Duration {
	if j.StartTime == nil || j.EndTime == nil {
		return 0
	}
	return j.EndTime.Sub(*j.StartTime)
}

// JudgingRun is the outcome of one testcase within a judging.
type JudgingRun struct {
	JudgingID    int64   `json:"judging_id"`
	TestcaseRank int     `json:"rank"`
	Result       string  `json:"result"`
	Runtime      float64 `json:"runtime"`
}

// Candidate is a valid judging together with its submission, as matched by a selection.
type Candidate struct {
	Judging    Judging
	Submission Submission
}

// SkippedJudging is a matched judging left out because its submission is
// already attached to another open rejudging.
type SkippedJudging struct {
	JudgingID    int64 `json:"judging_id"`
	SubmissionID int64 `json:"submission_id"`
	RejudgingID  int64 `json:"rejudging_id"`
}

// RejudgeTask is handed to the judge queue for every judging that must be redone.
type RejudgeTask struct {
	SubmissionID      int64    `json:"submission_id"`
	Priority          Priority `json:"priority"`
	OriginalJudgingID int64    `json:"original_judging_id"`
	RejudgingID       int64    `json:"rejudging_id"`
}

// JudgingFinishedEvent is published by the judging pipeline when a judging completes.
type JudgingFinishedEvent struct {
	JudgingID    int64  `json:"judging_id"`
	SubmissionID int64  `json:"submission_id"`
	RejudgingID  *int64 `json:"rejudging_id,omitempty"`
}
