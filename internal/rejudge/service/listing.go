package service

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"sync"

	"rejudge/internal/common/cache"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/report"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"

	"golang.org/x/sync/errgroup"
)

// RejudgingSummary is one row of the rejudging list.
type RejudgingSummary struct {
	Rejudging  model.Rejudging `json:"rejudging"`
	Todo       model.Todo      `json:"todo"`
	Status     string          `json:"status"`
	Order      int             `json:"order"`
	FinishedBy string          `json:"finished_by,omitempty"`
}

// RejudgingView is the detail page of a rejudging.
type RejudgingView struct {
	RejudgingSummary
	Matrix   *report.MatrixView `json:"matrix"`
	Siblings []int64            `json:"siblings,omitempty"`
	Stats    *report.GroupStats `json:"stats,omitempty"`
}

// ListRejudgings returns rejudgings newest first, optionally only those touching a contest.
func (s *RejudgeService) ListRejudgings(ctx context.Context, contestID *int64) ([]RejudgingSummary, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	rejudgings, err := s.store.ListRejudgings(ctxDB.ctx, nil, repository.RejudgingFilter{ContestID: contestID})
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list rejudgings failed")
	}

	summaries := make([]RejudgingSummary, len(rejudgings))
	g, gctx := errgroup.WithContext(ctxDB.ctx)
	g.SetLimit(s.runLoaders)
	for i := range rejudgings {
		i := i
		g.Go(func() error {
			todo, err := s.store.CountTodo(gctx, nil, rejudgings[i].ID)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "count todo failed")
			}
			summaries[i] = summarize(rejudgings[i], todo)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return summaries, nil
}

// GetRejudgingView returns a rejudging with its progress, diff matrix and,
// for repeated rejudgings, the statistics of its group.
func (s *RejudgeService) GetRejudgingView(ctx context.Context, rejudgingID int64) (*RejudgingView, error) {
	rejudging, err := s.getRejudging(ctx, rejudgingID)
	if err != nil {
		return nil, err
	}

	var (
		todo   model.Todo
		matrix *report.MatrixView
		group  []model.Rejudging
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		todo, err = s.CalculateTodo(gctx, rejudgingID)
		return err
	})
	g.Go(func() error {
		var err error
		matrix, err = s.BuildMatrix(gctx, rejudging)
		return err
	})
	if rejudging.Repeated() {
		g.Go(func() error {
			var err error
			group, err = s.listGroup(gctx, rejudging.GroupID())
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	view := &RejudgingView{
		RejudgingSummary: summarize(*rejudging, todo),
		Matrix:           matrix,
	}
	for _, sibling := range group {
		view.Siblings = append(view.Siblings, sibling.ID)
	}
	if len(group) > 1 {
		stats, err := s.GroupStats(ctx, rejudging.GroupID(), group)
		if err != nil {
			return nil, err
		}
		view.Stats = stats
	}
	return view, nil
}

// BuildMatrix pairs every finished judging of the rejudging with the judging it replaces.
// Matrices of finalized rejudgings are cached.
func (s *RejudgeService) BuildMatrix(ctx context.Context, rejudging *model.Rejudging) (*report.MatrixView, error) {
	if rejudging.IsOpen() {
		return s.buildMatrix(ctx, rejudging.ID)
	}
	key := matrixKeyPrefix + strconv.FormatInt(rejudging.ID, 10)
	return cachedJSON(ctx, s, key, func(ctx context.Context) (*report.MatrixView, error) {
		return s.buildMatrix(ctx, rejudging.ID)
	})
}

func (s *RejudgeService) buildMatrix(ctx context.Context, rejudgingID int64) (*report.MatrixView, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	judgings, err := s.store.ListRejudgingJudgings(ctxDB.ctx, nil, rejudgingID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list rejudging judgings failed")
	}
	latest := latestFinished(judgings)

	originalIDs := make([]int64, 0, len(latest))
	for _, j := range latest {
		if j.OriginalJudgingID != nil {
			originalIDs = append(originalIDs, *j.OriginalJudgingID)
		}
	}
	originals, err := s.store.GetJudgings(ctxDB.ctx, nil, originalIDs)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "get original judgings failed")
	}

	submissionIDs := make([]int64, 0, len(latest))
	for id := range latest {
		submissionIDs = append(submissionIDs, id)
	}
	slices.Sort(submissionIDs)

	matrix := report.NewMatrix(s.knownVerdicts)
	for _, submissionID := range submissionIDs {
		next := latest[submissionID]
		original := ""
		if next.OriginalJudgingID != nil {
			if j, ok := originals[*next.OriginalJudgingID]; ok {
				original = j.Verdict()
			}
		}
		matrix.Add(original, next.Verdict(), submissionID)
	}
	return matrix.View(), nil
}

// GroupStats aggregates the finished judgings of every sibling in a repeat chain.
// Statistics of a chain whose siblings are all finalized are cached.
func (s *RejudgeService) GroupStats(ctx context.Context, groupID int64, group []model.Rejudging) (*report.GroupStats, error) {
	if !groupFinished(group) {
		return s.aggregateGroup(ctx, groupID, group)
	}
	key := statsKeyPrefix + strconv.FormatInt(groupID, 10)
	return cachedJSON(ctx, s, key, func(ctx context.Context) (*report.GroupStats, error) {
		return s.aggregateGroup(ctx, groupID, group)
	})
}

func (s *RejudgeService) aggregateGroup(ctx context.Context, groupID int64, group []model.Rejudging) (*report.GroupStats, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()

	var (
		mu      sync.Mutex
		samples []report.Sample
	)
	g, gctx := errgroup.WithContext(ctxDB.ctx)
	g.SetLimit(s.runLoaders)
	for _, sibling := range group {
		sibling := sibling
		g.Go(func() error {
			judgings, err := s.store.ListRejudgingJudgings(gctx, nil, sibling.ID)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "list rejudging judgings failed")
			}
			finished := make([]model.Judging, 0, len(judgings))
			ids := make([]int64, 0, len(judgings))
			for _, j := range judgings {
				if j.Finished() {
					finished = append(finished, j)
					ids = append(ids, j.ID)
				}
			}
			runs, err := s.store.ListJudgingRuns(gctx, nil, ids)
			if err != nil {
				return appErr.Wrapf(err, appErr.DatabaseError, "list judging runs failed")
			}
			mu.Lock()
			defer mu.Unlock()
			for _, j := range finished {
				samples = append(samples, report.Sample{RejudgingID: sibling.ID, Judging: j, Runs: runs[j.ID]})
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.SortFunc(samples, func(a, b report.Sample) int {
		switch {
		case a.Judging.ID < b.Judging.ID:
			return -1
		case a.Judging.ID > b.Judging.ID:
			return 1
		}
		return 0
	})
	return report.Aggregate(groupID, samples, s.maxListLen), nil
}

func (s *RejudgeService) listGroup(ctx context.Context, groupID int64) ([]model.Rejudging, error) {
	ctxDB := withTimeout(ctx, s.timeouts.DB)
	defer ctxDB.cancel()
	group, err := s.store.ListGroup(ctxDB.ctx, nil, groupID)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.DatabaseError, "list repeated rejudgings failed")
	}
	return group, nil
}

func summarize(rejudging model.Rejudging, todo model.Todo) RejudgingSummary {
	status, order := rejudging.Status(todo)
	return RejudgingSummary{
		Rejudging:  rejudging,
		Todo:       todo,
		Status:     status,
		Order:      order,
		FinishedBy: rejudging.FinishedBy(),
	}
}

func groupFinished(group []model.Rejudging) bool {
	if len(group) == 0 || len(group) < group[0].RepeatCount {
		return false
	}
	for _, r := range group {
		if r.IsOpen() {
			return false
		}
	}
	return true
}

func cachedJSON[T any](ctx context.Context, s *RejudgeService, key string, fn func(context.Context) (*T, error)) (*T, error) {
	ctxCache := withTimeout(ctx, s.timeouts.Cache)
	defer ctxCache.cancel()
	return cache.GetWithCached(
		ctxCache.ctx,
		s.cache,
		key,
		cache.JitterTTL(s.reportCacheTTL),
		defaultEmptyTTL,
		func(v *T) bool { return v == nil },
		func(v *T) string {
			data, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(data)
		},
		func(data string) (*T, error) {
			var v T
			if err := json.Unmarshal([]byte(data), &v); err != nil {
				return nil, err
			}
			return &v, nil
		},
		func(context.Context) (*T, error) {
			return fn(ctx)
		},
	)
}
