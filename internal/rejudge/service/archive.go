package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"rejudge/internal/common/storage"
	"rejudge/internal/rejudge/report"
	appErr "rejudge/pkg/errors"
	"rejudge/pkg/utils/logger"

	"go.uber.org/zap"
)

func (s *RejudgeService) archiveKey(rejudgingID int64) string {
	return fmt.Sprintf("%s/r%d.json.zst", s.archive.Prefix, rejudgingID)
}

// archiveReport stores the report of a finalized rejudging. Failures are only logged.
func (s *RejudgeService) archiveReport(ctx context.Context, rejudgingID int64) {
	if s.storage == nil {
		return
	}
	doc, err := s.buildDocument(ctx, rejudgingID)
	if err != nil {
		logger.Warn(ctx, "build rejudging report failed", zap.Int64("rejudging_id", rejudgingID), zap.Error(err))
		return
	}
	data, err := report.Encode(doc)
	if err != nil {
		logger.Warn(ctx, "encode rejudging report failed", zap.Int64("rejudging_id", rejudgingID), zap.Error(err))
		return
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	key := s.archiveKey(rejudgingID)
	if err := s.storage.PutObject(ctxStorage.ctx, s.archive.Bucket, key, bytes.NewReader(data), int64(len(data)), report.ContentType); err != nil {
		logger.Warn(ctx, "archive rejudging report failed",
			zap.Int64("rejudging_id", rejudgingID),
			zap.String("object_key", key),
			zap.Error(err),
		)
		return
	}
	logger.Info(ctx, "rejudging report archived",
		zap.Int64("rejudging_id", rejudgingID),
		zap.String("object_key", key),
		zap.Int("size_bytes", len(data)),
	)
}

// GetArchivedReport reads back the report stored when the rejudging was finalized.
func (s *RejudgeService) GetArchivedReport(ctx context.Context, rejudgingID int64) (*report.Document, error) {
	if s.storage == nil {
		return nil, appErr.New(appErr.ReportNotArchived).WithMessage("report archive is not configured")
	}
	ctxStorage := withTimeout(ctx, s.timeouts.Storage)
	defer ctxStorage.cancel()
	reader, err := s.storage.GetObject(ctxStorage.ctx, s.archive.Bucket, s.archiveKey(rejudgingID))
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotFound) {
			return nil, appErr.New(appErr.ReportNotArchived).WithMessagef("no archived report for rejudging r%d", rejudgingID)
		}
		return nil, appErr.Wrapf(err, appErr.StorageError, "read archived report failed")
	}
	defer reader.Close()
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "read archived report failed")
	}
	doc, err := report.Decode(data)
	if err != nil {
		return nil, appErr.Wrapf(err, appErr.StorageError, "decode archived report failed")
	}
	return doc, nil
}

func (s *RejudgeService) buildDocument(ctx context.Context, rejudgingID int64) (*report.Document, error) {
	view, err := s.GetRejudgingView(ctx, rejudgingID)
	if err != nil {
		return nil, err
	}
	return &report.Document{
		Rejudging:   view.Rejudging,
		Todo:        view.Todo,
		Matrix:      view.Matrix,
		Stats:       view.Stats,
		GeneratedAt: s.now().UTC(),
	}, nil
}
