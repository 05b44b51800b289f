// Package progresssync mirrors local learning progress to the backend and
// pulls authoritative state back.
package progresssync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
)

// DefaultQueueSize bounds pending pushes.
const DefaultQueueSize = 64

// ErrQueueFull is reported when a push is dropped because the worker is
// behind.
var ErrQueueFull = errors.New("progress push queue full")

// ErrClosed is reported for pushes after Close.
var ErrClosed = errors.New("progress syncer closed")

// Backend is the subset of the API client the syncer uses.
type Backend interface {
	PushProgress(ctx context.Context, u learning.ProgressUpdate) error
	TodaySentences(ctx context.Context) (learning.DailySet, error)
	ProgressSnapshot(ctx context.Context, dailySetID learning.ID) ([]learning.ProgressRecord, error)
	SubmitQuiz(ctx context.Context, s learning.QuizSubmission) (*learning.QuizResult, error)
	History(ctx context.Context, page, perPage int) (api.HistoryPage, error)
}

// LocalState is the subset of the progress store the syncer updates.
type LocalState interface {
	Get(id learning.ID) learning.SentenceProgress
	ReplaceAll(set learning.DailySet)
	ApplySnapshot(snapshot map[learning.ID]learning.SentenceProgress)
	MarkMemorized(id learning.ID) learning.SentenceProgress
	DailySetID() learning.ID
}

// Options configures a Syncer.
type Options struct {
	Backend   Backend
	State     LocalState
	Sink      ErrorSink
	Logger    *zap.Logger
	QueueSize int

	// PushTimeout bounds each background push. Default: 15s.
	PushTimeout time.Duration
}

// Syncer pushes progress updates from a single background worker, so
// updates reach the backend in the order they were made. Pushes are never
// retried and failures never roll local state back.
type Syncer struct {
	backend Backend
	state   LocalState
	sink    ErrorSink
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	pending chan learning.ProgressUpdate
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a Syncer and starts its worker.
func New(opts Options) *Syncer {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Sink == nil {
		opts.Sink = LogSink(opts.Logger)
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.PushTimeout <= 0 {
		opts.PushTimeout = 15 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Syncer{
		backend: opts.Backend,
		state:   opts.State,
		sink:    opts.Sink,
		logger:  opts.Logger,
		timeout: opts.PushTimeout,
		pending: make(chan learning.ProgressUpdate, opts.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go s.processLoop()
	return s
}

// PushStepUpdate enqueues an update and returns immediately. A full queue
// drops the update and reports it.
func (s *Syncer) PushStepUpdate(u learning.ProgressUpdate) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.sink.Report(context.Background(), OpPush, u, ErrClosed)
		return
	}
	select {
	case s.pending <- u:
		s.mu.Unlock()
	default:
		s.mu.Unlock()
		s.sink.Report(context.Background(), OpPush, u, ErrQueueFull)
	}
}

func (s *Syncer) processLoop() {
	defer close(s.done)
	for u := range s.pending {
		ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
		err := s.backend.PushProgress(ctx, u)
		cancel()
		if err != nil {
			s.sink.Report(s.ctx, OpPush, u, err)
			continue
		}
		s.logger.Debug("progress pushed",
			zap.String("sentence_id", u.SentenceID.String()),
			zap.Strings("fields", u.Fields()))
	}
}

// Close stops accepting pushes and waits for queued ones to finish. If ctx
// ends first the in-flight push is aborted and ctx's error returned.
func (s *Syncer) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.pending)
	}
	s.mu.Unlock()

	select {
	case <-s.done:
		s.cancel()
		return nil
	case <-ctx.Done():
		s.cancel()
		<-s.done
		return ctx.Err()
	}
}

// PullTodaySentences fetches today's set and replaces the local list. On
// failure local state is untouched.
func (s *Syncer) PullTodaySentences(ctx context.Context) (learning.DailySet, error) {
	set, err := s.backend.TodaySentences(ctx)
	if err != nil {
		return learning.DailySet{}, fmt.Errorf("pull today's sentences: %w", err)
	}
	s.state.ReplaceAll(set)
	s.logger.Info("today's sentences loaded",
		zap.String("daily_set_id", set.ID.String()),
		zap.Int("count", len(set.Sentences)))
	return set, nil
}

// PullProgressSnapshot overwrites local entries with the server's progress
// for the current daily set. It returns how many entries were applied.
func (s *Syncer) PullProgressSnapshot(ctx context.Context) (int, error) {
	records, err := s.backend.ProgressSnapshot(ctx, s.state.DailySetID())
	if err != nil {
		return 0, fmt.Errorf("pull progress snapshot: %w", err)
	}
	snap := make(map[learning.ID]learning.SentenceProgress, len(records))
	for _, r := range records {
		if r.SentenceID == "" {
			continue
		}
		snap[r.SentenceID] = r.Progress()
	}
	s.state.ApplySnapshot(snap)
	return len(snap), nil
}

// SubmitQuiz sends a quiz answer and waits for the verdict. Errors reach
// the caller. An accepted answer marks the sentence memorized locally.
func (s *Syncer) SubmitQuiz(ctx context.Context, sub learning.QuizSubmission) (*learning.QuizResult, error) {
	if sub.DailySetID == "" {
		sub.DailySetID = s.state.DailySetID()
	}
	res, err := s.backend.SubmitQuiz(ctx, sub)
	if err != nil {
		return nil, err
	}
	if (res.AllCorrect || res.Memorized) && !s.state.Get(sub.SentenceID).Memorized() {
		s.state.MarkMemorized(sub.SentenceID)
	}
	return res, nil
}

// PullHistory fetches past daily sets. Local state is not touched.
func (s *Syncer) PullHistory(ctx context.Context, page, perPage int) (api.HistoryPage, error) {
	h, err := s.backend.History(ctx, page, perPage)
	if err != nil {
		return api.HistoryPage{}, fmt.Errorf("pull history: %w", err)
	}
	return h, nil
}
