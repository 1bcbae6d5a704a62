package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"rejudge/internal/common/db"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/progress"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"
	"rejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

const (
	defaultReason    = "rejudging"
	noMatchesMessage = "No judgings matched."
	claimReportEvery = 100
	dispatchChunk    = 100
)

var errNothingAttached = errors.New("no submission could be attached")

// CreateResult describes a finished creation. Rejudging is nil when nothing was rejudged.
type CreateResult struct {
	Rejudging *model.Rejudging
	Skipped   []model.SkippedJudging
	Enqueued  int
	Failed    int
}

// CreateFromSelection announces the skipped judgings of sel and rejudges the eligible ones.
func (s *RejudgeService) CreateFromSelection(ctx context.Context, sel *Selection, opts model.CreateOptions, reporter progress.Reporter) (*CreateResult, error) {
	if sel == nil {
		sel = &Selection{}
	}
	for _, skipped := range sel.Skipped {
		reporter.Report(0, skippedNotice(skipped))
	}
	result, err := s.CreateRejudging(ctx, opts, sel.Eligible, reporter)
	if result != nil {
		result.Skipped = append(append([]model.SkippedJudging(nil), sel.Skipped...), result.Skipped...)
	}
	return result, err
}

// CreateRejudging opens a rejudging over the given judgings and enqueues one task per judging.
// The reporter always receives exactly one terminal event.
func (s *RejudgeService) CreateRejudging(ctx context.Context, opts model.CreateOptions, judgings []model.Candidate, reporter progress.Reporter) (*CreateResult, error) {
	if len(judgings) == 0 {
		reporter.Finish(returnTo(opts))
		return &CreateResult{}, nil
	}
	opts = normalizeOptions(opts)
	started := s.now()

	rejudging := &model.Rejudging{
		Reason:      opts.Reason,
		Priority:    opts.Priority,
		AutoApply:   opts.AutoApply,
		RepeatCount: opts.Repeat,
		StartTime:   started,
		StartUserID: opts.Actor.UserID,
	}
	attached, skipped, err := s.openRejudging(ctx, rejudging, judgings, reporter)
	if err != nil {
		if errors.Is(err, errNothingAttached) {
			for _, item := range skipped {
				reporter.Report(dispatchPercent(0, len(judgings)), skippedNotice(item))
			}
			reporter.Finish(returnTo(opts))
			return &CreateResult{Skipped: skipped}, nil
		}
		reporter.Finish(failureMessage("Creating rejudging", err))
		return nil, err
	}
	for _, item := range skipped {
		reporter.Report(dispatchPercent(0, len(judgings)), skippedNotice(item))
	}

	enqueued, failed := s.dispatch(ctx, rejudging, attached, reporter)
	logger.Info(ctx, "rejudging created",
		zap.Int64("rejudging_id", rejudging.ID),
		zap.Int("enqueued", enqueued),
		zap.Int("failed", failed),
		zap.Int("skipped", len(skipped)),
		zap.Int("repeat", rejudging.RepeatCount),
		zap.Duration("duration", s.now().Sub(started)),
	)
	reporter.Finish(rejudgingURL(rejudging.ID))
	return &CreateResult{Rejudging: rejudging, Skipped: skipped, Enqueued: enqueued, Failed: failed}, nil
}

// openRejudging inserts the rejudging and claims the submissions of judgings in one transaction.
func (s *RejudgeService) openRejudging(ctx context.Context, rejudging *model.Rejudging, judgings []model.Candidate, reporter progress.Reporter) ([]model.Candidate, []model.SkippedJudging, error) {
	var (
		attached []model.Candidate
		skipped  []model.SkippedJudging
	)
	ctxDB := withTimeout(ctx, s.timeouts.Batch)
	defer ctxDB.cancel()
	// claim fills in ids, so every attempt of the transaction starts from a fresh copy.
	claimed := *rejudging
	err := s.store.Transaction(ctxDB.ctx, func(tx db.Transaction) error {
		claimed = *rejudging
		var err error
		attached, skipped, err = s.claim(ctxDB.ctx, tx, &claimed, judgings, reporter)
		return err
	})
	if err != nil {
		return nil, skipped, err
	}
	*rejudging = claimed
	return attached, skipped, nil
}

// claim inserts the rejudging and attaches the submissions of judgings to it.
// A submission claimed by another rejudging in the meantime ends up in skipped.
func (s *RejudgeService) claim(ctx context.Context, tx db.Transaction, rejudging *model.Rejudging, judgings []model.Candidate, reporter progress.Reporter) ([]model.Candidate, []model.SkippedJudging, error) {
	var (
		attached []model.Candidate
		skipped  []model.SkippedJudging
	)
	id, err := s.store.CreateRejudging(ctx, tx, rejudging)
	if err != nil {
		return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "create rejudging failed")
	}
	rejudging.ID = id
	if rejudging.RepeatCount > 1 && rejudging.RepeatedRejudgingID == nil {
		if err := s.store.SetRepeatedRejudging(ctx, tx, id, id); err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "set repeated rejudging failed")
		}
		groupID := id
		rejudging.RepeatedRejudgingID = &groupID
	}
	for i, c := range judgings {
		if i > 0 && i%claimReportEvery == 0 {
			reportClaimed(reporter, i, len(judgings))
		}
		ok, err := s.store.AttachSubmission(ctx, tx, c.Submission.ID, id)
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "attach submission failed")
		}
		if ok {
			attached = append(attached, c)
			continue
		}
		current, err := s.store.GetSubmission(ctx, tx, c.Submission.ID)
		if errors.Is(err, repository.ErrSubmissionNotFound) {
			continue
		}
		if err != nil {
			return nil, nil, appErr.Wrapf(err, appErr.DatabaseError, "get submission failed")
		}
		if current.RejudgingID != nil {
			skipped = append(skipped, model.SkippedJudging{
				JudgingID:    c.Judging.ID,
				SubmissionID: c.Submission.ID,
				RejudgingID:  *current.RejudgingID,
			})
		}
	}
	reportClaimed(reporter, len(judgings), len(judgings))
	if len(attached) == 0 {
		return nil, skipped, errNothingAttached
	}
	return attached, skipped, nil
}

// Claiming covers the first half of the progress range, dispatching the second.
func reportClaimed(reporter progress.Reporter, done, total int) {
	reporter.Report(progress.Percent(done, total)/2, fmt.Sprintf("checked %d/%d submissions", done, total))
}

func dispatchPercent(done, total int) int {
	return 50 + progress.Percent(done, total)/2
}

// dispatch publishes one task per attached judging, a chunk at a time. When a chunk is
// rejected its tasks are retried one by one, and a submission whose task still cannot be
// published is released again so the rejudging does not wait for it forever.
func (s *RejudgeService) dispatch(ctx context.Context, rejudging *model.Rejudging, attached []model.Candidate, reporter progress.Reporter) (int, int) {
	enqueued, failed := 0, 0
	for start := 0; start < len(attached); start += dispatchChunk {
		chunk := attached[start:min(start+dispatchChunk, len(attached))]
		tasks := make([]model.RejudgeTask, 0, len(chunk))
		for _, c := range chunk {
			tasks = append(tasks, rejudgeTask(rejudging, c))
		}
		err := s.publishTasks(ctx, rejudging.Priority, tasks)
		if err == nil {
			for i, c := range chunk {
				enqueued++
				reporter.Report(dispatchPercent(start+i+1, len(attached)), queuedNotice(c))
			}
			continue
		}
		logger.Warn(ctx, "enqueue rejudge task batch failed, publishing one by one",
			zap.Int64("rejudging_id", rejudging.ID),
			zap.Int("tasks", len(tasks)),
			zap.Error(err),
		)
		for i, c := range chunk {
			percent := dispatchPercent(start+i+1, len(attached))
			if err := s.publishTask(ctx, tasks[i]); err != nil {
				failed++
				logger.Warn(ctx, "enqueue rejudge task failed",
					zap.Int64("rejudging_id", rejudging.ID),
					zap.Int64("submission_id", c.Submission.ID),
					zap.Error(err),
				)
				s.release(ctx, rejudging.ID, c.Submission.ID)
				reporter.Report(percent, fmt.Sprintf("s%d: enqueue failed, submission released", c.Submission.ID))
				continue
			}
			enqueued++
			reporter.Report(percent, queuedNotice(c))
		}
	}
	return enqueued, failed
}

func rejudgeTask(rejudging *model.Rejudging, c model.Candidate) model.RejudgeTask {
	return model.RejudgeTask{
		SubmissionID:      c.Submission.ID,
		Priority:          rejudging.Priority,
		OriginalJudgingID: c.Judging.ID,
		RejudgingID:       rejudging.ID,
	}
}

func queuedNotice(c model.Candidate) string {
	return fmt.Sprintf("s%d: judging j%d queued for rejudging", c.Submission.ID, c.Judging.ID)
}

func (s *RejudgeService) release(ctx context.Context, rejudgingID, submissionID int64) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	if _, err := s.store.DetachSubmission(ctxDB.ctx, nil, submissionID, rejudgingID); err != nil {
		logger.Error(ctx, "release submission failed",
			zap.Int64("rejudging_id", rejudgingID),
			zap.Int64("submission_id", submissionID),
			zap.Error(err),
		)
	}
}

func normalizeOptions(opts model.CreateOptions) model.CreateOptions {
	opts.Reason = strings.TrimSpace(opts.Reason)
	if opts.Reason == "" {
		opts.Reason = defaultReason
	}
	if opts.Repeat < 1 {
		opts.Repeat = 1
	}
	return opts
}

func returnTo(opts model.CreateOptions) string {
	if opts.ReturnTo != "" {
		return opts.ReturnTo
	}
	return noMatchesMessage
}

func skippedNotice(skipped model.SkippedJudging) string {
	return fmt.Sprintf("Skipping submission s%d since it is already part of rejudging r%d.", skipped.SubmissionID, skipped.RejudgingID)
}
