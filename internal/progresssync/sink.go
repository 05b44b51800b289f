package progresssync

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/store"
)

// OpPush labels failed progress pushes.
const OpPush = "push_progress"

// ErrorSink receives failures of detached operations.
type ErrorSink interface {
	Report(ctx context.Context, op string, u learning.ProgressUpdate, err error)
}

type logSink struct {
	logger *zap.Logger
}

// LogSink reports failures to the logger only.
func LogSink(logger *zap.Logger) ErrorSink {
	return &logSink{logger: logger}
}

func (s *logSink) Report(_ context.Context, op string, u learning.ProgressUpdate, err error) {
	fields := []zap.Field{
		zap.String("op", op),
		zap.String("sentence_id", u.SentenceID.String()),
		zap.Strings("fields", u.Fields()),
		zap.Error(err),
	}
	// Signed-out users study offline; that is not worth a warning.
	if errors.Is(err, api.ErrNoCredential) {
		s.logger.Debug("progress not synced", fields...)
		return
	}
	s.logger.Warn("progress sync failed", fields...)
}

type recordingSink struct {
	logSink
	repo store.EventRepo
}

// RecordingSink logs failures and records them in the local event store,
// where `kotoba progress --failures` lists them. Missing credentials are
// logged but not recorded.
func RecordingSink(logger *zap.Logger, repo store.EventRepo) ErrorSink {
	return &recordingSink{logSink: logSink{logger: logger}, repo: repo}
}

func (s *recordingSink) Report(ctx context.Context, op string, u learning.ProgressUpdate, err error) {
	s.logSink.Report(ctx, op, u, err)
	if errors.Is(err, api.ErrNoCredential) {
		return
	}

	data := store.SyncFailureData{
		Operation:    op,
		SentenceID:   u.SentenceID.String(),
		DailySetID:   u.DailySetID.String(),
		Payload:      u.String(),
		ErrorMessage: err.Error(),
	}
	var se *api.StatusError
	if errors.As(err, &se) {
		data.StatusCode = se.StatusCode
	}
	// The sink runs on the worker after the caller's context may be gone.
	if ctx.Err() != nil {
		ctx = context.Background()
	}
	if rerr := s.repo.AppendSyncFailure(ctx, data); rerr != nil {
		s.logger.Warn("failed to record sync failure", zap.Error(rerr))
	}
}
