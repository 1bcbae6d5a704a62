package service_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"rejudge/internal/common/cache"
	"rejudge/internal/common/mq"
	"rejudge/internal/common/storage"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/progress"
	"rejudge/internal/rejudge/repository"
	"rejudge/internal/rejudge/service"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

const (
	topicHigh    = "rejudge.tasks.high"
	topicDefault = "rejudge.tasks.default"
	topicLow     = "rejudge.tasks.low"
)

type published struct {
	topic   string
	message *mq.Message
	task    model.RejudgeTask
}

type fakeProducer struct {
	mu       sync.Mutex
	messages []published
	batches  int
	failFor  map[int64]bool
}

func (p *fakeProducer) Publish(ctx context.Context, topic string, message *mq.Message) error {
	return p.PublishBatch(ctx, topic, []*mq.Message{message})
}

// PublishBatch rejects the whole batch when any of its tasks is marked to fail.
func (p *fakeProducer) PublishBatch(ctx context.Context, topic string, messages []*mq.Message) error {
	batch := make([]published, 0, len(messages))
	for _, m := range messages {
		var task model.RejudgeTask
		if err := json.Unmarshal(m.Body, &task); err != nil {
			return err
		}
		batch = append(batch, published{topic: topic, message: m, task: task})
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, item := range batch {
		if p.failFor[item.task.SubmissionID] {
			return errors.New("broker unavailable")
		}
	}
	p.batches++
	p.messages = append(p.messages, batch...)
	return nil
}

// drain returns and forgets the tasks published so far.
func (p *fakeProducer) drain() []published {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := p.messages
	p.messages = nil
	return out
}

type fakeObjectStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newFakeObjectStorage() *fakeObjectStorage {
	return &fakeObjectStorage{objects: make(map[string][]byte)}
}

func (f *fakeObjectStorage) PutObject(ctx context.Context, bucket, objectKey string, reader io.Reader, sizeBytes int64, contentType string) error {
	data, err := io.ReadAll(reader)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[bucket+"/"+objectKey] = data
	return nil
}

func (f *fakeObjectStorage) GetObject(ctx context.Context, bucket, objectKey string) (storage.ObjectReader, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[bucket+"/"+objectKey]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// recorder is a Reporter that keeps every event.
type recorder struct {
	mu     sync.Mutex
	events []progress.Event
}

func (r *recorder) Report(percent int, log string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progress.Event{Progress: percent, Log: log})
}

func (r *recorder) Finish(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, progress.Event{Progress: 100, Message: &message})
}

func (r *recorder) terminals() []progress.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []progress.Event
	for _, e := range r.events {
		if e.Terminal() {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *repository.MemoryStore
	producer *fakeProducer
	cache    *cache.RedisCache
	redis    *miniredis.Miniredis
	storage  *fakeObjectStorage
	svc      *service.RejudgeService
	now      time.Time
}

type fixtureOption func(*service.Config)

func withRepeatDecision(d service.RepeatDecision) fixtureOption {
	return func(cfg *service.Config) { cfg.RepeatDecision = d }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	server := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCacheWithClient(redis.NewClient(&redis.Options{Addr: server.Addr()}))
	if err != nil {
		t.Fatalf("new cache failed: %v", err)
	}
	t.Cleanup(func() { _ = redisCache.Close() })

	f := &fixture{
		store:    repository.NewMemoryStore(),
		producer: &fakeProducer{failFor: make(map[int64]bool)},
		cache:    redisCache,
		redis:    server,
		storage:  newFakeObjectStorage(),
		now:      time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC),
	}
	cfg := service.Config{
		Store:    f.store,
		Producer: f.producer,
		Cache:    f.cache,
		Storage:  f.storage,
		Topics:   service.TopicConfig{High: topicHigh, Default: topicDefault, Low: topicLow},
		Archive:  service.ArchiveConfig{Bucket: "reports", Prefix: "rejudgings"},
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	svc, err := service.NewRejudgeService(cfg)
	if err != nil {
		t.Fatalf("new service failed: %v", err)
	}
	f.svc = svc
	f.store.PutContest(model.Contest{ID: 1, Name: "finals", StartTime: f.now.Add(-2 * time.Hour), EndTime: f.now.Add(3 * time.Hour), Active: true})
	f.store.PutContest(model.Contest{ID: 2, Name: "archive", StartTime: f.now.Add(-48 * time.Hour), Active: false})
	return f
}

// addJudged stores a submission of contest 1 with a valid finished judging.
func (f *fixture) addJudged(submissionID int64, verdict string) int64 {
	return f.addJudgedIn(1, submissionID, verdict, f.now.Add(-time.Hour))
}

func (f *fixture) addJudgedIn(contestID, submissionID int64, verdict string, submitted time.Time) int64 {
	f.store.PutSubmission(model.Submission{
		ID:         submissionID,
		ContestID:  contestID,
		ProblemID:  10,
		LanguageID: "cpp",
		TeamID:     100 + submissionID,
		SubmitTime: submitted,
	})
	start := submitted.Add(time.Second)
	end := start.Add(2 * time.Second)
	result := verdict
	return f.store.PutJudging(model.Judging{
		SubmissionID: submissionID,
		ContestID:    contestID,
		Result:       &result,
		Valid:        true,
		StartTime:    &start,
		EndTime:      &end,
		Judgehost:    "judgehost-1",
	})
}

// judge plays the judging pipeline: every published task gets a finished judging.
// verdicts maps submission ids to results, missing ones are judged correct.
func (f *fixture) judge(verdicts map[int64]string, runtimes map[int64][]float64) []int64 {
	var ids []int64
	for _, p := range f.producer.drain() {
		verdict, ok := verdicts[p.task.SubmissionID]
		if !ok {
			verdict = model.VerdictCorrect
		}
		start := f.now
		end := f.now.Add(3 * time.Second)
		rejudgingID := p.task.RejudgingID
		originalID := p.task.OriginalJudgingID
		id := f.store.PutJudging(model.Judging{
			SubmissionID:      p.task.SubmissionID,
			ContestID:         1,
			Result:            &verdict,
			StartTime:         &start,
			EndTime:           &end,
			Judgehost:         "judgehost-2",
			RejudgingID:       &rejudgingID,
			OriginalJudgingID: &originalID,
		})
		var runs []model.JudgingRun
		for i, rt := range runtimes[p.task.SubmissionID] {
			runs = append(runs, model.JudgingRun{JudgingID: id, TestcaseRank: i + 1, Result: verdict, Runtime: rt})
		}
		if len(runs) > 0 {
			f.store.PutRuns(id, runs)
		}
		ids = append(ids, id)
	}
	return ids
}

func (f *fixture) validJudgings(t *testing.T, submissionID int64) []int64 {
	t.Helper()
	candidates, err := f.store.FindCandidates(context.Background(), nil, &model.JudgingFilter{
		SubmissionIDs: []int64{submissionID},
		IncludeAll:    true,
	})
	if err != nil {
		t.Fatalf("find candidates failed: %v", err)
	}
	var ids []int64
	for _, c := range candidates {
		ids = append(ids, c.Judging.ID)
	}
	return ids
}

func admin(userID int64) model.Actor {
	return model.Actor{UserID: &userID, Admin: true}
}

func jury(userID int64) model.Actor {
	return model.Actor{UserID: &userID}
}
