package repository

import (
	"context"
	"errors"
	"slices"
	"sort"
	"sync"
	"time"

	"rejudge/internal/common/db"
	"rejudge/internal/rejudge/model"
)

// MemoryStore is an in-process Store used by tests and local runs.
// Transactions are serialized and roll back to a snapshot when fn fails.
type MemoryStore struct {
	txMu sync.Mutex

	mu            sync.RWMutex
	contests      map[int64]model.Contest
	submissions   map[int64]model.Submission
	judgings      map[int64]model.Judging
	runs          map[int64][]model.JudgingRun
	rejudgings    map[int64]model.Rejudging
	nextJudging   int64
	nextRejudging int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contests:    make(map[int64]model.Contest),
		submissions: make(map[int64]model.Submission),
		judgings:    make(map[int64]model.Judging),
		runs:        make(map[int64][]model.JudgingRun),
		rejudgings:  make(map[int64]model.Rejudging),
	}
}

// PutContest inserts or replaces a contest.
func (m *MemoryStore) PutContest(c model.Contest) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contests[c.ID] = c
}

// PutSubmission inserts or replaces a submission.
func (m *MemoryStore) PutSubmission(s model.Submission) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submissions[s.ID] = s
}

// PutJudging inserts or replaces a judging. A zero id is assigned the next free id.
func (m *MemoryStore) PutJudging(j model.Judging) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j.ID == 0 {
		m.nextJudging++
		j.ID = m.nextJudging
	} else if j.ID > m.nextJudging {
		m.nextJudging = j.ID
	}
	m.judgings[j.ID] = j
	return j.ID
}

// PutRuns replaces the runs of a judging.
func (m *MemoryStore) PutRuns(judgingID int64, runs []model.JudgingRun) {
	m.mu.Lock()
	defer m.mu.Unlock()
	copied := make([]model.JudgingRun, len(runs))
	for i, run := range runs {
		run.JudgingID = judgingID
		copied[i] = run
	}
	m.runs[judgingID] = copied
}

// Transaction runs fn under the store-wide transaction lock.
func (m *MemoryStore) Transaction(ctx context.Context, fn func(tx db.Transaction) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.txMu.Lock()
	defer m.txMu.Unlock()

	snapshot := m.snapshot()
	if err := fn(nil); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

func (m *MemoryStore) ListActiveContests(ctx context.Context, tx db.Transaction) ([]model.Contest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var contests []model.Contest
	for _, c := range m.contests {
		if c.Active {
			contests = append(contests, c)
		}
	}
	sort.Slice(contests, func(i, j int) bool { return contests[i].ID < contests[j].ID })
	return contests, nil
}

func (m *MemoryStore) GetContest(ctx context.Context, tx db.Transaction, contestID int64) (*model.Contest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contests[contestID]
	if !ok {
		return nil, ErrContestNotFound
	}
	return &c, nil
}

func (m *MemoryStore) FindCandidates(ctx context.Context, tx db.Transaction, filter *model.JudgingFilter) ([]model.Candidate, error) {
	if filter == nil {
		return nil, errors.New("filter is required")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var candidates []model.Candidate
	for _, j := range m.judgings {
		if !j.Valid {
			continue
		}
		s, ok := m.submissions[j.SubmissionID]
		if !ok || !m.matches(filter, j, s) {
			continue
		}
		candidates = append(candidates, model.Candidate{Judging: cloneJudging(j), Submission: cloneSubmission(s)})
	}
	sort.Slice(candidates, func(i, k int) bool { return candidates[i].Judging.ID < candidates[k].Judging.ID })
	return candidates, nil
}

func (m *MemoryStore) matches(f *model.JudgingFilter, j model.Judging, s model.Submission) bool {
	if len(f.ContestIDs) > 0 && !slices.Contains(f.ContestIDs, j.ContestID) {
		return false
	}
	if len(f.ProblemIDs) > 0 && !slices.Contains(f.ProblemIDs, s.ProblemID) {
		return false
	}
	if len(f.LanguageIDs) > 0 && !slices.Contains(f.LanguageIDs, s.LanguageID) {
		return false
	}
	if len(f.TeamIDs) > 0 && !slices.Contains(f.TeamIDs, s.TeamID) {
		return false
	}
	if len(f.Judgehosts) > 0 && !slices.Contains(f.Judgehosts, j.Judgehost) {
		return false
	}
	if len(f.Verdicts) > 0 && (j.Result == nil || !slices.Contains(f.Verdicts, *j.Result)) {
		return false
	}
	if len(f.SubmissionIDs) > 0 && !slices.Contains(f.SubmissionIDs, s.ID) {
		return false
	}
	if len(f.RejudgingIDs) > 0 && !m.hasJudgingUnder(s.ID, f.RejudgingIDs) {
		return false
	}
	if f.SubmittedBefore != nil && s.SubmitTime.After(*f.SubmittedBefore) {
		return false
	}
	if f.SubmittedAfter != nil && s.SubmitTime.Before(*f.SubmittedAfter) {
		return false
	}
	if j.Result == nil {
		return false
	}
	if !f.IncludeAll && *j.Result == model.VerdictCorrect {
		return false
	}
	return true
}

func (m *MemoryStore) hasJudgingUnder(submissionID int64, rejudgingIDs []int64) bool {
	for _, j := range m.judgings {
		if j.SubmissionID == submissionID && j.RejudgingID != nil && slices.Contains(rejudgingIDs, *j.RejudgingID) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) CreateRejudging(ctx context.Context, tx db.Transaction, rejudging *model.Rejudging) (int64, error) {
	if rejudging == nil {
		return 0, errors.New("rejudging is nil")
	}
	if rejudging.RepeatCount < 1 {
		return 0, errors.New("repeat count must be at least 1")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextRejudging++
	rejudging.ID = m.nextRejudging
	stored := cloneRejudging(*rejudging)
	stored.EndTime, stored.FinishUserID, stored.Valid = nil, nil, nil
	m.rejudgings[stored.ID] = stored
	return stored.ID, nil
}

func (m *MemoryStore) SetRepeatedRejudging(ctx context.Context, tx db.Transaction, rejudgingID, groupID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rejudgings[rejudgingID]
	if !ok {
		return ErrRejudgingNotFound
	}
	r.RepeatedRejudgingID = &groupID
	m.rejudgings[rejudgingID] = r
	return nil
}

func (m *MemoryStore) GetRejudging(ctx context.Context, tx db.Transaction, rejudgingID int64) (*model.Rejudging, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rejudgings[rejudgingID]
	if !ok {
		return nil, ErrRejudgingNotFound
	}
	r = cloneRejudging(r)
	return &r, nil
}

func (m *MemoryStore) ListRejudgings(ctx context.Context, tx db.Transaction, filter RejudgingFilter) ([]model.Rejudging, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []model.Rejudging
	for _, r := range m.rejudgings {
		if filter.OpenOnly && r.EndTime != nil {
			continue
		}
		if filter.ContestID != nil && !m.touchesContest(r.ID, *filter.ContestID) {
			continue
		}
		result = append(result, cloneRejudging(r))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID > result[j].ID })
	return result, nil
}

func (m *MemoryStore) touchesContest(rejudgingID, contestID int64) bool {
	for _, j := range m.judgings {
		if j.RejudgingID != nil && *j.RejudgingID == rejudgingID && j.ContestID == contestID {
			return true
		}
	}
	for _, s := range m.submissions {
		if s.RejudgingID != nil && *s.RejudgingID == rejudgingID && s.ContestID == contestID {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListGroup(ctx context.Context, tx db.Transaction, groupID int64) ([]model.Rejudging, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []model.Rejudging
	for _, r := range m.rejudgings {
		if r.RepeatedRejudgingID != nil && *r.RepeatedRejudgingID == groupID {
			result = append(result, cloneRejudging(r))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *MemoryStore) CloseRejudging(ctx context.Context, tx db.Transaction, rejudgingID int64, valid bool, finishUserID *int64, endTime time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rejudgings[rejudgingID]
	if !ok || r.EndTime != nil {
		return false, nil
	}
	r.EndTime = &endTime
	r.Valid = &valid
	r.FinishUserID = copyPtr(finishUserID)
	m.rejudgings[rejudgingID] = r
	return true, nil
}

func (m *MemoryStore) GetSubmission(ctx context.Context, tx db.Transaction, submissionID int64) (*model.Submission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return nil, ErrSubmissionNotFound
	}
	s = cloneSubmission(s)
	return &s, nil
}

func (m *MemoryStore) AttachSubmission(ctx context.Context, tx db.Transaction, submissionID, rejudgingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok || s.RejudgingID != nil {
		return false, nil
	}
	s.RejudgingID = &rejudgingID
	m.submissions[submissionID] = s
	return true, nil
}

func (m *MemoryStore) DetachSubmission(ctx context.Context, tx db.Transaction, submissionID, rejudgingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok || s.RejudgingID == nil || *s.RejudgingID != rejudgingID {
		return false, nil
	}
	s.RejudgingID = nil
	m.submissions[submissionID] = s
	return true, nil
}

func (m *MemoryStore) ListAttachedSubmissions(ctx context.Context, tx db.Transaction, rejudgingID int64) ([]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ids []int64
	for _, s := range m.submissions {
		if s.RejudgingID != nil && *s.RejudgingID == rejudgingID {
			ids = append(ids, s.ID)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

func (m *MemoryStore) ListRejudgingJudgings(ctx context.Context, tx db.Transaction, rejudgingID int64) ([]model.Judging, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []model.Judging
	for _, j := range m.judgings {
		if j.RejudgingID != nil && *j.RejudgingID == rejudgingID {
			result = append(result, cloneJudging(j))
		}
	}
	sort.Slice(result, func(i, k int) bool { return result[i].ID < result[k].ID })
	return result, nil
}

func (m *MemoryStore) GetJudgings(ctx context.Context, tx db.Transaction, judgingIDs []int64) (map[int64]model.Judging, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64]model.Judging, len(judgingIDs))
	for _, id := range judgingIDs {
		if j, ok := m.judgings[id]; ok {
			result[id] = cloneJudging(j)
		}
	}
	return result, nil
}

func (m *MemoryStore) ListJudgingRuns(ctx context.Context, tx db.Transaction, judgingIDs []int64) (map[int64][]model.JudgingRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make(map[int64][]model.JudgingRun, len(judgingIDs))
	for _, id := range judgingIDs {
		if runs, ok := m.runs[id]; ok {
			copied := slices.Clone(runs)
			sort.Slice(copied, func(i, k int) bool { return copied[i].TestcaseRank < copied[k].TestcaseRank })
			result[id] = copied
		}
	}
	return result, nil
}

func (m *MemoryStore) SetJudgingValid(ctx context.Context, tx db.Transaction, judgingID int64, from, to bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.judgings[judgingID]
	if !ok || j.Valid != from {
		return false, nil
	}
	j.Valid = to
	m.judgings[judgingID] = j
	return true, nil
}

func (m *MemoryStore) CountTodo(ctx context.Context, tx db.Transaction, rejudgingID int64) (model.Todo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var todo model.Todo
	finished := make(map[int64]bool)
	for _, j := range m.judgings {
		if j.RejudgingID != nil && *j.RejudgingID == rejudgingID && j.EndTime != nil {
			todo.Done++
			finished[j.SubmissionID] = true
		}
	}
	for _, s := range m.submissions {
		if s.RejudgingID != nil && *s.RejudgingID == rejudgingID && !finished[s.ID] {
			todo.Todo++
		}
	}
	return todo, nil
}

type memorySnapshot struct {
	contests      map[int64]model.Contest
	submissions   map[int64]model.Submission
	judgings      map[int64]model.Judging
	runs          map[int64][]model.JudgingRun
	rejudgings    map[int64]model.Rejudging
	nextJudging   int64
	nextRejudging int64
}

func (m *MemoryStore) snapshot() memorySnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap := memorySnapshot{
		contests:      make(map[int64]model.Contest, len(m.contests)),
		submissions:   make(map[int64]model.Submission, len(m.submissions)),
		judgings:      make(map[int64]model.Judging, len(m.judgings)),
		runs:          make(map[int64][]model.JudgingRun, len(m.runs)),
		rejudgings:    make(map[int64]model.Rejudging, len(m.rejudgings)),
		nextJudging:   m.nextJudging,
		nextRejudging: m.nextRejudging,
	}
	for k, v := range m.contests {
		snap.contests[k] = v
	}
	for k, v := range m.submissions {
		snap.submissions[k] = cloneSubmission(v)
	}
	for k, v := range m.judgings {
		snap.judgings[k] = cloneJudging(v)
	}
	for k, v := range m.runs {
		snap.runs[k] = slices.Clone(v)
	}
	for k, v := range m.rejudgings {
		snap.rejudgings[k] = cloneRejudging(v)
	}
	return snap
}

func (m *MemoryStore) restore(snap memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.contests = snap.contests
	m.submissions = snap.submissions
	m.judgings = snap.judgings
	m.runs = snap.runs
	m.rejudgings = snap.rejudgings
	m.nextJudging = snap.nextJudging
	m.nextRejudging = snap.nextRejudging
}

func copyPtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneSubmission(s model.Submission) model.Submission {
	s.RejudgingID = copyPtr(s.RejudgingID)
	return s
}

func cloneJudging(j model.Judging) model.Judging {
	j.Result = copyPtr(j.Result)
	j.StartTime = copyPtr(j.StartTime)
	j.EndTime = copyPtr(j.EndTime)
	j.RejudgingID = copyPtr(j.RejudgingID)
	j.OriginalJudgingID = copyPtr(j.OriginalJudgingID)
	return j
}

func cloneRejudging(r model.Rejudging) model.Rejudging {
	r.RepeatedRejudgingID = copyPtr(r.RepeatedRejudgingID)
	r.EndTime = copyPtr(r.EndTime)
	r.StartUserID = copyPtr(r.StartUserID)
	r.FinishUserID = copyPtr(r.FinishUserID)
	r.Valid = copyPtr(r.Valid)
	return r
}

var _ Store = (*MemoryStore)(nil)
