package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/progress"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"
)

// Tables a rejudging can be created from.
const (
	TableContest    = "contest"
	TableJudgehost  = "judgehost"
	TableLanguage   = "language"
	TableProblem    = "problem"
	TableSubmission = "submission"
	TableTeam       = "team"
	TableRejudging  = "rejudging"
)

// TableRequest asks to rejudge everything one entity touched.
type TableRequest struct {
	Table      string
	ID         string
	Reason     string
	Priority   model.Priority
	AutoApply  bool
	IncludeAll bool
	Repeat     int
	ReturnTo   string
	Actor      model.Actor
}

// TablePlan is a validated TableRequest.
type TablePlan struct {
	Criteria model.Criteria
	Options  model.CreateOptions
	// Source is the rejudging being re-run when the table is "rejudging".
	Source *model.Rejudging
}

// PlanFromTable validates req and turns it into criteria. It only reads the store
// to resolve a source rejudging.
func (s *RejudgeService) PlanFromTable(ctx context.Context, req TableRequest) (*TablePlan, error) {
	table := strings.TrimSpace(req.Table)
	id := strings.TrimSpace(req.ID)
	if table == "" {
		return nil, appErr.ValidationError("table", "required")
	}
	if id == "" {
		return nil, appErr.ValidationError("id", "required")
	}
	if req.IncludeAll && !req.Actor.Admin {
		return nil, appErr.New(appErr.InsufficientPermission).WithMessage("rejudging pending or correct submissions requires admin rights")
	}

	plan := &TablePlan{
		Options: model.CreateOptions{
			Reason:    req.Reason,
			Priority:  req.Priority,
			AutoApply: req.AutoApply,
			Repeat:    req.Repeat,
			Actor:     req.Actor,
			ReturnTo:  req.ReturnTo,
		},
	}
	if strings.TrimSpace(plan.Options.Reason) == "" {
		plan.Options.Reason = fmt.Sprintf("%s: %s", table, id)
	}
	includeAll := req.IncludeAll

	switch table {
	case TableJudgehost:
		plan.Criteria.Judgehosts = []string{id}
	case TableLanguage:
		plan.Criteria.Languages = []string{id}
	case TableContest, TableProblem, TableSubmission, TableTeam, TableRejudging:
		numericID, err := strconv.ParseInt(id, 10, 64)
		if err != nil || numericID <= 0 {
			return nil, appErr.ValidationError("id", "must be a positive integer")
		}
		switch table {
		case TableContest:
			plan.Criteria.Contests = []int64{numericID}
		case TableProblem:
			plan.Criteria.Problems = []int64{numericID}
		case TableTeam:
			plan.Criteria.Teams = []int64{numericID}
		case TableSubmission:
			plan.Criteria.Submissions = []int64{numericID}
			if req.Actor.Admin {
				includeAll = true
			}
		case TableRejudging:
			source, err := s.getRejudging(ctx, numericID)
			if err != nil {
				return nil, err
			}
			plan.Source = source
			plan.Criteria.Rejudgings = []int64{numericID}
			plan.Options.Reason = source.Reason
			plan.Options.AutoApply = false
			includeAll = true
		}
	default:
		return nil, appErr.New(appErr.UnknownRejudgeTable).WithMessagef("unknown table %s in rejudging", table)
	}
	plan.Criteria.IncludeAll = includeAll
	return plan, nil
}

// CreateFromTable selects the judgings described by plan and rejudges them.
// Re-running a rejudging whose submissions are all still attached elsewhere returns the source.
func (s *RejudgeService) CreateFromTable(ctx context.Context, plan *TablePlan, reporter progress.Reporter) (*CreateResult, error) {
	if plan == nil {
		reporter.Finish(failureMessage("Creating rejudging", nil))
		return nil, appErr.ValidationError("plan", "required")
	}
	sel, err := s.selectCandidates(ctx, &plan.Criteria)
	if err != nil {
		reporter.Finish(failureMessage("Selecting judgings", err))
		return nil, err
	}
	if plan.Source != nil && sel.Empty() && len(sel.Skipped) > 0 {
		for _, skipped := range sel.Skipped {
			reporter.Report(0, skippedNotice(skipped))
		}
		reporter.Finish(rejudgingURL(plan.Source.ID))
		return &CreateResult{Rejudging: plan.Source, Skipped: sel.Skipped}, nil
	}
	return s.CreateFromSelection(ctx, sel, plan.Options, reporter)
}

func (s *RejudgeService) getRejudging(ctx context.Context, rejudgingID int64) (*model.Rejudging, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	rejudging, err := s.store.GetRejudging(ctxDB.ctx, nil, rejudgingID)
	if err != nil {
		if errors.Is(err, repository.ErrRejudgingNotFound) {
			return nil, appErr.New(appErr.RejudgingNotFound).WithMessagef("rejudging r%d not found", rejudgingID)
		}
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get rejudging failed")
	}
	return rejudging, nil
}
