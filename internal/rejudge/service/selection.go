package service

import (
	"context"
	"errors"
	"slices"

	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"
)

// Selection is the outcome of matching criteria against the valid judgings.
type Selection struct {
	Eligible []model.Candidate
	// Skipped holds matches whose submission already belongs to an open rejudging.
	Skipped []model.SkippedJudging
}

// Empty reports whether nothing can be rejudged.
func (s *Selection) Empty() bool {
	return s == nil || len(s.Eligible) == 0
}

// Select resolves criteria to the valid judgings of active contests that may be rejudged.
// Usage errors are returned before anything is read from the store.
func (s *RejudgeService) Select(ctx context.Context, criteria *model.Criteria, actor model.Actor) (*Selection, error) {
	if criteria == nil {
		return nil, appErr.ValidationError("criteria", "required")
	}
	if criteria.IncludeAll && !actor.Admin {
		return nil, appErr.New(appErr.InsufficientPermission).WithMessage("rejudging pending or correct submissions requires admin rights")
	}
	return s.selectCandidates(ctx, criteria)
}

func (s *RejudgeService) selectCandidates(ctx context.Context, criteria *model.Criteria) (*Selection, error) {
	if criteria.HasTimeWindow() && len(criteria.Contests) != 1 {
		return nil, appErr.SelectionError("contests", "a submission time window needs exactly one contest")
	}
	if err := checkTimeWindowSyntax(criteria); err != nil {
		return nil, err
	}

	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	active, err := s.store.ListActiveContests(ctxDB.ctx, nil)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list active contests failed")
	}
	contestIDs := activeContestIDs(active, criteria.Contests)
	if len(contestIDs) == 0 {
		return &Selection{}, nil
	}

	filter := &model.JudgingFilter{
		ContestIDs:    contestIDs,
		ProblemIDs:    criteria.Problems,
		LanguageIDs:   criteria.Languages,
		TeamIDs:       criteria.Teams,
		Judgehosts:    criteria.Judgehosts,
		Verdicts:      criteria.Verdicts,
		SubmissionIDs: criteria.Submissions,
		RejudgingIDs:  criteria.Rejudgings,
		IncludeAll:    criteria.IncludeAll,
	}
	if criteria.HasTimeWindow() {
		if err := s.resolveTimeWindow(ctxDB.ctx, criteria, filter); err != nil {
			return nil, err
		}
	}

	candidates, err := s.store.FindCandidates(ctxDB.ctx, nil, filter)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "find rejudge candidates failed")
	}
	return splitCandidates(candidates), nil
}

// checkTimeWindowSyntax rejects malformed times even when no active contest is left to resolve them against.
func checkTimeWindowSyntax(criteria *model.Criteria) error {
	if criteria.SubmittedBefore != "" {
		if err := model.CheckTimeSyntax(criteria.SubmittedBefore); err != nil {
			return appErr.SelectionError("before", err.Error())
		}
	}
	if criteria.SubmittedAfter != "" {
		if err := model.CheckTimeSyntax(criteria.SubmittedAfter); err != nil {
			return appErr.SelectionError("after", err.Error())
		}
	}
	return nil
}

func (s *RejudgeService) resolveTimeWindow(ctx context.Context, criteria *model.Criteria, filter *model.JudgingFilter) error {
	contest, err := s.store.GetContest(ctx, nil, criteria.Contests[0])
	if err != nil {
		if errors.Is(err, repository.ErrContestNotFound) {
			return appErr.New(appErr.ContestNotFound).WithMessage("contest not found")
		}
		return appErr.Wrapf(err, appErr.DatabaseError, "get contest failed")
	}
	if criteria.SubmittedBefore != "" {
		before, err := contest.AbsoluteTime(criteria.SubmittedBefore)
		if err != nil {
			return appErr.SelectionError("before", err.Error())
		}
		filter.SubmittedBefore = &before
	}
	if criteria.SubmittedAfter != "" {
		after, err := contest.AbsoluteTime(criteria.SubmittedAfter)
		if err != nil {
			return appErr.SelectionError("after", err.Error())
		}
		filter.SubmittedAfter = &after
	}
	if filter.SubmittedBefore != nil && filter.SubmittedAfter != nil && filter.SubmittedAfter.After(*filter.SubmittedBefore) {
		return appErr.SelectionError("after", "after must not be later than before")
	}
	return nil
}

// activeContestIDs keeps the requested contests that are active, or every active one
// when none was requested.
func activeContestIDs(active []model.Contest, requested []int64) []int64 {
	ids := make([]int64, 0, len(active))
	for _, c := range active {
		if len(requested) == 0 || slices.Contains(requested, c.ID) {
			ids = append(ids, c.ID)
		}
	}
	return ids
}

func splitCandidates(candidates []model.Candidate) *Selection {
	selection := &Selection{}
	seen := make(map[int64]bool, len(candidates))
	for _, c := range candidates {
		if seen[c.Submission.ID] {
			continue
		}
		seen[c.Submission.ID] = true
		if c.Submission.RejudgingID != nil {
			selection.Skipped = append(selection.Skipped, model.SkippedJudging{
				JudgingID:    c.Judging.ID,
				SubmissionID: c.Submission.ID,
				RejudgingID:  *c.Submission.RejudgingID,
			})
			continue
		}
		selection.Eligible = append(selection.Eligible, c)
	}
	return selection
}
