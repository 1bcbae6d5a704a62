package service

import (
	"context"
	"encoding/json"
	"errors"

	"rejudge/internal/common/db"
	"rejudge/internal/common/mq"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/progress"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"
	"rejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

type completionStep int

const (
	stepNone completionStep = iota
	stepAdvanceChain
	stepAutoApply
)

// HandleJudgingFinished processes judging-finished events from MQ.
// Events of judgings outside any rejudging are ignored.
func (s *RejudgeService) HandleJudgingFinished(ctx context.Context, msg *mq.Message) error {
	if msg == nil {
		return appErr.New(appErr.InvalidParams).WithMessage("message is nil")
	}
	var event model.JudgingFinishedEvent
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		return appErr.Wrapf(err, appErr.InvalidParams, "decode judging finished event failed")
	}
	if event.RejudgingID == nil {
		return nil
	}
	return s.Evaluate(ctx, *event.RejudgingID)
}

// Sweep evaluates every open rejudging. It catches up on events that were lost.
func (s *RejudgeService) Sweep(ctx context.Context) error {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	open, err := s.store.ListRejudgings(ctxDB.ctx, nil, repository.RejudgingFilter{OpenOnly: true})
	ctxDB.cancel()
	if err != nil {
		return appErr.Wrapf(err, appErr.DatabaseError, "list open rejudgings failed")
	}
	var errs []error
	for _, r := range open {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.Evaluate(ctx, r.ID); err != nil {
			logger.Warn(ctx, "evaluate rejudging failed", zap.Int64("rejudging_id", r.ID), zap.Error(err))
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Evaluate moves a rejudging forward once all its judgings are done: an unfinished
// repeat chain gets its next sibling and an auto-applied rejudging is applied.
// Anything else waits for a human.
func (s *RejudgeService) Evaluate(ctx context.Context, rejudgingID int64) error {
	rejudging, err := s.getRejudging(ctx, rejudgingID)
	if err != nil {
		if appErr.Is(err, appErr.RejudgingNotFound) {
			return nil
		}
		return err
	}
	if !rejudging.IsOpen() {
		return nil
	}
	step, err := s.completionStep(ctx, rejudging)
	if err != nil || step == stepNone {
		return err
	}
	todo, err := s.CalculateTodo(ctx, rejudgingID)
	if err != nil || todo.Todo > 0 {
		return err
	}

	unlock, err := s.lock(ctx, rejudgingID)
	if err != nil {
		if appErr.Is(err, appErr.RejudgingBusy) {
			return nil
		}
		return err
	}
	defer unlock()

	switch step {
	case stepAdvanceChain:
		err = s.advanceChain(ctx, rejudgingID)
	case stepAutoApply:
		err = s.finishLocked(ctx, rejudgingID, model.ActionApply, nil, progress.NewLogReporter(ctx, "auto-apply", rejudgingID))
	}
	if appErr.Is(err, appErr.RejudgingFinished) || appErr.Is(err, appErr.RejudgingIncomplete) {
		return nil
	}
	return err
}

func (s *RejudgeService) completionStep(ctx context.Context, rejudging *model.Rejudging) (completionStep, error) {
	if !rejudging.Repeated() {
		if rejudging.AutoApply {
			return stepAutoApply, nil
		}
		return stepNone, nil
	}
	group, err := s.listGroup(ctx, rejudging.GroupID())
	if err != nil {
		return stepNone, err
	}
	if len(group) < rejudging.RepeatCount {
		return stepAdvanceChain, nil
	}
	if rejudging.AutoApply && s.repeatDecision == RepeatDecisionAutoApply {
		return stepAutoApply, nil
	}
	return stepNone, nil
}

// advanceChain cancels a finished sibling and opens the next one over the same original
// judgings. Both happen in one transaction so the submissions never become free in between.
// The caller holds the lock of the current sibling.
func (s *RejudgeService) advanceChain(ctx context.Context, rejudgingID int64) error {
	current, err := s.CheckFinishable(ctx, rejudgingID)
	if err != nil {
		return err
	}
	submissions, candidates, err := s.chainCandidates(ctx, rejudgingID)
	if err != nil {
		return err
	}

	groupID := current.GroupID()
	template := model.Rejudging{
		Reason:              current.Reason,
		Priority:            current.Priority,
		AutoApply:           current.AutoApply,
		RepeatCount:         current.RepeatCount,
		RepeatedRejudgingID: &groupID,
		StartTime:           s.now(),
		StartUserID:         current.StartUserID,
	}
	var (
		attached []model.Candidate
		claimed  model.Rejudging
	)
	reporter := progress.NewLogReporter(ctx, "repeat", rejudgingID)
	ctxDB := withTimeout(ctx, s.timeouts.Batch)
	err = s.store.Transaction(ctxDB.ctx, func(tx db.Transaction) error {
		for _, submissionID := range submissions {
			if _, err := s.store.DetachSubmission(ctxDB.ctx, tx, submissionID, rejudgingID); err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "detach submission failed")
			}
		}
		closed, err := s.store.CloseRejudging(ctxDB.ctx, tx, rejudgingID, false, nil, s.now())
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "close rejudging failed")
		}
		if !closed {
			return appErr.New(appErr.RejudgingFinished).WithMessagef("rejudging r%d is already finished", rejudgingID)
		}
		if len(candidates) == 0 {
			return nil
		}
		claimed = template
		attached, _, err = s.claim(ctxDB.ctx, tx, &claimed, candidates, reporter)
		if errors.Is(err, errNothingAttached) {
			// Every submission moved on to another rejudging; the chain ends here.
			_, err = s.store.CloseRejudging(ctxDB.ctx, tx, claimed.ID, false, nil, s.now())
		}
		return err
	})
	ctxDB.cancel()
	if err != nil {
		return err
	}
	next := &claimed
	s.archiveReport(ctx, rejudgingID)
	if len(attached) == 0 {
		logger.Warn(ctx, "repeated rejudging has nothing left to rejudge",
			zap.Int64("rejudging_id", rejudgingID),
			zap.Int64("group_id", groupID),
		)
		return nil
	}

	enqueued, failed := s.dispatch(ctx, next, attached, progress.NewLogReporter(ctx, "repeat", next.ID))
	logger.Info(ctx, "repeated rejudging advanced",
		zap.Int64("rejudging_id", rejudgingID),
		zap.Int64("next_rejudging_id", next.ID),
		zap.Int64("group_id", groupID),
		zap.Int("enqueued", enqueued),
		zap.Int("failed", failed),
	)
	return nil
}

// chainCandidates returns the submissions attached to a sibling and rebuilds its
// candidates from the original judgings its judgings replaced.
func (s *RejudgeService) chainCandidates(ctx context.Context, rejudgingID int64) ([]int64, []model.Candidate, error) {
	submissions, latest, err := s.loadFinishState(ctx, rejudgingID)
	if err != nil {
		return nil, nil, err
	}
	originalIDs := make([]int64, 0, len(latest))
	for _, j := range latest {
		if j.OriginalJudgingID != nil {
			originalIDs = append(originalIDs, *j.OriginalJudgingID)
		}
	}
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	originals, err := s.store.GetJudgings(ctxDB.ctx, nil, originalIDs)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "get original judgings failed")
	}

	candidates := make([]model.Candidate, 0, len(submissions))
	for _, submissionID := range submissions {
		next, ok := latest[submissionID]
		if !ok || next.OriginalJudgingID == nil {
			continue
		}
		original, ok := originals[*next.OriginalJudgingID]
		if !ok {
			continue
		}
		candidates = append(candidates, model.Candidate{
			Judging:    original,
			Submission: model.Submission{ID: submissionID, ContestID: original.ContestID},
		})
	}
	return submissions, candidates, nil
}
