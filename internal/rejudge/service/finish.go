package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"rejudge/internal/common/db"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/progress"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"
	"rejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const lockExtendEvery = 50

// CalculateTodo returns how many attached submissions still wait for a judging
// and how many judgings of the rejudging have finished.
func (s *RejudgeService) CalculateTodo(ctx context.Context, rejudgingID int64) (model.Todo, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	todo, err := s.store.CountTodo(ctxDB.ctx, nil, rejudgingID)
	if err != nil {
		return model.Todo{}, appErr.Wrapf(err, appErr.DatabaseError, "count todo failed")
	}
	return todo, nil
}

// CheckFinishable returns the rejudging if it may be finalized right now.
func (s *RejudgeService) CheckFinishable(ctx context.Context, rejudgingID int64) (*model.Rejudging, error) {
	rejudging, err := s.getRejudging(ctx, rejudgingID)
	if err != nil {
		return nil, err
	}
	if !rejudging.IsOpen() {
		return nil, appErr.New(appErr.RejudgingFinished).WithMessagef("rejudging r%d is already finished", rejudgingID)
	}
	todo, err := s.CalculateTodo(ctx, rejudgingID)
	if err != nil {
		return nil, err
	}
	if todo.Todo > 0 {
		return nil, appErr.New(appErr.RejudgingIncomplete).
			WithMessagef("rejudging r%d still has %d judgings to do", rejudgingID, todo.Todo).
			WithDetail("todo", todo.Todo).
			WithDetail("done", todo.Done)
	}
	return rejudging, nil
}

// FinishRejudging applies or cancels a rejudging on behalf of a user.
// It is safe to call again after an interrupted run.
func (s *RejudgeService) FinishRejudging(ctx context.Context, rejudgingID int64, action model.Action, actor model.Actor, reporter progress.Reporter) error {
	if actor.UserID == nil {
		reporter.Finish(failureMessage("Finishing rejudging", nil))
		return appErr.ValidationError("user_id", "required")
	}
	return s.finish(ctx, rejudgingID, action, actor.UserID, reporter)
}

func (s *RejudgeService) finish(ctx context.Context, rejudgingID int64, action model.Action, finishUserID *int64, reporter progress.Reporter) error {
	unlock, err := s.lock(ctx, rejudgingID)
	if err != nil {
		reporter.Finish(failureMessage("Finishing rejudging", err))
		return err
	}
	defer unlock()
	return s.finishLocked(ctx, rejudgingID, action, finishUserID, reporter)
}

// finishLocked runs the finalization. The caller holds the rejudging lock.
func (s *RejudgeService) finishLocked(ctx context.Context, rejudgingID int64, action model.Action, finishUserID *int64, reporter progress.Reporter) error {
	started := s.now()
	rejudging, err := s.CheckFinishable(ctx, rejudgingID)
	if err != nil {
		reporter.Finish(failureMessage("Finishing rejudging", err))
		return err
	}

	submissions, latest, err := s.loadFinishState(ctx, rejudgingID)
	if err != nil {
		reporter.Finish(failureMessage("Finishing rejudging", err))
		return err
	}

	for i, submissionID := range submissions {
		if i > 0 && i%lockExtendEvery == 0 {
			s.extendLock(ctx, rejudgingID)
		}
		line, err := s.finishSubmission(ctx, rejudging, action, submissionID, latest[submissionID])
		if err != nil {
			logger.Error(ctx, "finish submission failed",
				zap.Int64("rejudging_id", rejudgingID),
				zap.Int64("submission_id", submissionID),
				zap.Error(err),
			)
			reporter.Finish(failureMessage("Finishing rejudging", err))
			return err
		}
		reporter.Report(progress.Percent(i+1, len(submissions)), line)
	}

	closed, err := s.closeRejudging(ctx, rejudging, action, finishUserID)
	if err != nil {
		reporter.Finish(failureMessage("Finishing rejudging", err))
		return err
	}
	if !closed {
		logger.Warn(ctx, "rejudging closed concurrently", zap.Int64("rejudging_id", rejudgingID))
	}

	logger.Info(ctx, "rejudging finished",
		zap.Int64("rejudging_id", rejudgingID),
		zap.String("action", string(action)),
		zap.Int("submissions", len(submissions)),
		zap.Bool("automatic", finishUserID == nil),
		zap.Duration("duration", s.now().Sub(started)),
	)
	s.archiveReport(ctx, rejudgingID)
	reporter.Finish(rejudgingURL(rejudgingID))
	return nil
}

// loadFinishState returns the attached submissions and, per submission, the latest
// finished judging produced under the rejudging.
func (s *RejudgeService) loadFinishState(ctx context.Context, rejudgingID int64) ([]int64, map[int64]model.Judging, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	submissions, err := s.store.ListAttachedSubmissions(ctxDB.ctx, nil, rejudgingID)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "list attached submissions failed")
	}
	judgings, err := s.store.ListRejudgingJudgings(ctxDB.ctx, nil, rejudgingID)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "list rejudging judgings failed")
	}
	return submissions, latestFinished(judgings), nil
}

// finishSubmission settles one submission in its own transaction. A submission that
// is no longer attached to the rejudging was settled by an earlier run and is left alone.
func (s *RejudgeService) finishSubmission(ctx context.Context, rejudging *model.Rejudging, action model.Action, submissionID int64, next model.Judging) (string, error) {
	line := fmt.Sprintf("s%d: already settled", submissionID)
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	err := s.store.Transaction(ctxDB.ctx, func(tx db.Transaction) error {
		submission, err := s.store.GetSubmission(ctxDB.ctx, tx, submissionID)
		if err != nil {
			if errors.Is(err, repository.ErrSubmissionNotFound) {
				return nil
			}
			return appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if submission.RejudgingID == nil || *submission.RejudgingID != rejudging.ID {
			return nil
		}

		line = fmt.Sprintf("s%d: released", submissionID)
		if action == model.ActionApply && next.ID != 0 && next.OriginalJudgingID != nil {
			switched, err := s.switchValidJudging(ctxDB.ctx, tx, *next.OriginalJudgingID, next.ID)
			if err != nil {
				return err
			}
			if switched {
				line = fmt.Sprintf("s%d: j%d replaced by j%d", submissionID, *next.OriginalJudgingID, next.ID)
			} else {
				logger.Warn(ctx, "original judging is no longer valid, keeping current verdict",
					zap.Int64("rejudging_id", rejudging.ID),
					zap.Int64("submission_id", submissionID),
					zap.Int64("original_judging_id", *next.OriginalJudgingID),
				)
				line = fmt.Sprintf("s%d: original judging j%d no longer valid, kept", submissionID, *next.OriginalJudgingID)
			}
		}

		detached, err := s.store.DetachSubmission(ctxDB.ctx, tx, submissionID, rejudging.ID)
		if err != nil {
			return appErr.Wrapf(err, appErr.DatabaseError, "detach submission failed")
		}
		if !detached {
			return appErr.New(appErr.TransactionFailed).WithMessagef("submission s%d changed while finishing", submissionID)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return line, nil
}

// switchValidJudging moves validity from the original judging to its replacement.
// Nothing is written unless the original is still the valid one.
func (s *RejudgeService) switchValidJudging(ctx context.Context, tx db.Transaction, originalID, nextID int64) (bool, error) {
	demoted, err := s.store.SetJudgingValid(ctx, tx, originalID, true, false)
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "invalidate original judging failed")
	}
	if !demoted {
		return false, nil
	}
	if _, err := s.store.SetJudgingValid(ctx, tx, nextID, false, true); err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "validate new judging failed")
	}
	return true, nil
}

func (s *RejudgeService) closeRejudging(ctx context.Context, rejudging *model.Rejudging, action model.Action, finishUserID *int64) (bool, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	closed, err := s.store.CloseRejudging(ctxDB.ctx, nil, rejudging.ID, action == model.ActionApply, finishUserID, s.now())
	if err != nil {
		return false, appErr.Wrapf(err, appErr.DatabaseError, "close rejudging failed")
	}
	return closed, nil
}

func (s *RejudgeService) lock(ctx context.Context, rejudgingID int64) (func(), error) {
	key := lockKey(rejudgingID)
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	ok, err := s.cache.TryLock(ctxCache.ctx, key, s.lockTTL)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.LockFailed, "acquire rejudging lock failed")
	}
	if !ok {
		return nil, appErr.New(appErr.RejudgingBusy).WithMessagef("rejudging r%d is being processed", rejudgingID)
	}
	return func() {
		ctxUnlock := withTimeout(context.WithoutCancel(ctx), s.timeouts.Cache)
		defer ctxUnlock.cancel()
		if err := s.cache.Unlock(ctxUnlock.ctx, key); err != nil {
			logger.Warn(ctx, "release rejudging lock failed", zap.Int64("rejudging_id", rejudgingID), zap.Error(err))
		}
	}, nil
}

func (s *RejudgeService) extendLock(ctx context.Context, rejudgingID int64) {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	if err := s.cache.ExtendLock(ctxCache.ctx, lockKey(rejudgingID), s.lockTTL); err != nil {
		logger.Warn(ctx, "extend rejudging lock failed", zap.Int64("rejudging_id", rejudgingID), zap.Error(err))
	}
}

func lockKey(rejudgingID int64) string {
	return lockKeyPrefix + strconv.FormatInt(rejudgingID, 10)
}

// latestFinished keeps, per submission, the finished judging with the highest id.
func latestFinished(judgings []model.Judging) map[int64]model.Judging {
	latest := make(map[int64]model.Judging, len(judgings))
	for _, j := range judgings {
		if !j.Finished() {
			continue
		}
		if current, ok := latest[j.SubmissionID]; !ok || j.ID > current.ID {
			latest[j.SubmissionID] = j
		}
	}
	return latest
}
