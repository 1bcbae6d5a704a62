package service

import (
	"context"
	"fmt"
	"time"

	"rejudge/internal/common/cache"
	"rejudge/internal/common/mq"
	"rejudge/internal/common/storage"
	"rejudge/internal/rejudge/model"
	"rejudge/internal/rejudge/report"
	"rejudge/internal/rejudge/repository"
	appErr "rejudge/pkg/errors"
)

const (
	lockKeyPrefix        = "rejudge:lock:"
	matrixKeyPrefix      = "rejudge:matrix:"
	statsKeyPrefix       = "rejudge:stats:"
	defaultArchivePrefix = "rejudgings"
	defaultLockTTL       = 2 * time.Minute
	defaultReportTTL     = 30 * time.Minute
	defaultEmptyTTL      = time.Minute
	defaultRunLoaders    = 4
	defaultBatchTimeout  = 2 * time.Minute
)

// RepeatDecision controls whether the last sibling of a repeat chain may be auto-applied.
type RepeatDecision string

const (
	// RepeatDecisionManual keeps the last sibling open for a human decision.
	RepeatDecisionManual RepeatDecision = "manual"
	// RepeatDecisionAutoApply lets the last sibling honour its auto-apply flag.
	RepeatDecisionAutoApply RepeatDecision = "autoApply"
)

// ParseRepeatDecision validates a repeat decision name. Empty means manual.
func ParseRepeatDecision(name string) (RepeatDecision, error) {
	switch RepeatDecision(name) {
	case "", RepeatDecisionManual:
		return RepeatDecisionManual, nil
	case RepeatDecisionAutoApply:
		return RepeatDecisionAutoApply, nil
	default:
		return "", fmt.Errorf("unknown repeat decision %q", name)
	}
}

// TopicConfig defines the judge task topic per priority.
type TopicConfig struct {
	High    string
	Default string
	Low     string
}

func (t TopicConfig) forPriority(p model.Priority) string {
	switch {
	case p < model.PriorityDefault:
		return t.High
	case p > model.PriorityDefault:
		return t.Low
	default:
		return t.Default
	}
}

// TimeoutConfig holds timeout settings for external calls.
type TimeoutConfig struct {
	DB      time.Duration
	Cache   time.Duration
	MQ      time.Duration
	Storage time.Duration
	// Batch bounds a transaction that claims a whole selection.
	Batch time.Duration
}

// ArchiveConfig locates finalized rejudging reports in object storage.
type ArchiveConfig struct {
	Bucket string
	Prefix string
}

// Config holds rejudge service dependencies and settings.
type Config struct {
	Store    repository.Store
	Producer mq.Producer
	Cache    cache.Cache
	// Storage is optional. Reports are not archived without it.
	Storage storage.ObjectStorage

	Topics         TopicConfig
	Archive        ArchiveConfig
	KnownVerdicts  []string
	MaxListLen     int
	LockTTL        time.Duration
	ReportCacheTTL time.Duration
	RepeatDecision RepeatDecision
	RunLoaders     int
	Timeouts       TimeoutConfig
}

// RejudgeService orchestrates rejudgings: selection, task dispatch,
// completion tracking, finalization and reporting.
type RejudgeService struct {
	store    repository.Store
	producer mq.Producer
	cache    cache.Cache
	storage  storage.ObjectStorage

	topics         TopicConfig
	archive        ArchiveConfig
	knownVerdicts  []string
	maxListLen     int
	lockTTL        time.Duration
	reportCacheTTL time.Duration
	repeatDecision RepeatDecision
	runLoaders     int
	timeouts       TimeoutConfig

	now func() time.Time
}

// NewRejudgeService creates a new rejudge service.
func NewRejudgeService(cfg Config) (*RejudgeService, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if cfg.Producer == nil {
		return nil, fmt.Errorf("producer is required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("cache is required")
	}
	if cfg.Topics.Default == "" {
		return nil, fmt.Errorf("default task topic is required")
	}
	if cfg.Topics.High == "" {
		cfg.Topics.High = cfg.Topics.Default
	}
	if cfg.Topics.Low == "" {
		cfg.Topics.Low = cfg.Topics.Default
	}
	if cfg.Storage != nil && cfg.Archive.Bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if cfg.Archive.Prefix == "" {
		cfg.Archive.Prefix = defaultArchivePrefix
	}
	if len(cfg.KnownVerdicts) == 0 {
		cfg.KnownVerdicts = model.DefaultVerdicts
	}
	if cfg.MaxListLen <= 0 {
		cfg.MaxListLen = report.DefaultMaxListLen
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = defaultLockTTL
	}
	if cfg.ReportCacheTTL <= 0 {
		cfg.ReportCacheTTL = defaultReportTTL
	}
	if cfg.RepeatDecision == "" {
		cfg.RepeatDecision = RepeatDecisionManual
	}
	if cfg.RunLoaders <= 0 {
		cfg.RunLoaders = defaultRunLoaders
	}
	if cfg.Timeouts.Batch <= 0 {
		cfg.Timeouts.Batch = defaultBatchTimeout
	}
	return &RejudgeService{
		store:          cfg.Store,
		producer:       cfg.Producer,
		cache:          cfg.Cache,
		storage:        cfg.Storage,
		topics:         cfg.Topics,
		archive:        cfg.Archive,
		knownVerdicts:  cfg.KnownVerdicts,
		maxListLen:     cfg.MaxListLen,
		lockTTL:        cfg.LockTTL,
		reportCacheTTL: cfg.ReportCacheTTL,
		repeatDecision: cfg.RepeatDecision,
		runLoaders:     cfg.RunLoaders,
		timeouts:       cfg.Timeouts,
		now:            time.Now,
	}, nil
}

type timeoutCtx struct {
	ctx    context.Context
	cancel context.CancelFunc
}

func withTimeout(ctx context.Context, timeout time.Duration) timeoutCtx {
	if timeout <= 0 {
		return timeoutCtx{ctx: ctx, cancel: func() {}}
	}
	ctxTimeout, cancel := context.WithTimeout(ctx, timeout)
	return timeoutCtx{ctx: ctxTimeout, cancel: cancel}
}

func rejudgingURL(rejudgingID int64) string {
	return fmt.Sprintf("/api/v1/rejudgings/%d", rejudgingID)
}

func failureMessage(operation string, err error) string {
	if e := appErr.GetError(err); e != nil && e.Message != "" {
		return fmt.Sprintf("%s failed: %s", operation, e.Message)
	}
	return fmt.Sprintf("%s failed", operation)
}
