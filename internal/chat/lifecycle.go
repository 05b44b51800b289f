package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
)

// Backend is the chat part of the learning API.
type Backend interface {
	Streamer
	CreateChatSession(ctx context.Context, topic, detail string) (*api.ChatSession, error)
	EndChatSession(ctx context.Context, sessionID learning.ID) error
	Feedback(ctx context.Context, sessionID learning.ID) (*api.Feedback, error)
}

// Lifecycle creates, tracks and ends the current session.
type Lifecycle struct {
	backend Backend
	opts    Options
	logger  *zap.Logger

	mu      sync.Mutex
	current *Session
}

// NewLifecycle returns a lifecycle whose sessions share opts. The Streamer
// in opts is replaced by backend.
func NewLifecycle(backend Backend, opts Options) *Lifecycle {
	opts.Streamer = backend
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Lifecycle{backend: backend, opts: opts, logger: logger}
}

// CreateSession starts a session on topic and runs the tutor's opening
// turn in the background. On error the caller stays in topic selection.
func (l *Lifecycle) CreateSession(ctx context.Context, topic, detail string) (*Session, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, fmt.Errorf("create chat session: topic is required")
	}
	info, err := l.backend.CreateChatSession(ctx, topic, strings.TrimSpace(detail))
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	if info.Topic == "" {
		info.Topic = topic
	}

	s := NewSession(*info, l.opts)
	l.mu.Lock()
	prev := l.current
	l.current = s
	l.mu.Unlock()
	if prev != nil {
		prev.Close()
	}

	l.logger.Info("chat session created",
		zap.String("session_id", info.ID.String()),
		zap.String("topic", info.Topic),
		zap.Int("max_turn", info.MaxTurn),
	)

	// The opening turn outlives the create request.
	if err := s.start(context.WithoutCancel(ctx), ""); err != nil {
		l.logger.Warn("opening turn not started", zap.Error(err))
	}
	return s, nil
}

// Current returns the current session or nil.
func (l *Lifecycle) Current() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.current
}

// EndSession tells the backend the current session is over. The call is
// best effort: the local session is ended and released either way, and
// the returned error is informational.
func (l *Lifecycle) EndSession(ctx context.Context) error {
	l.mu.Lock()
	s := l.current
	l.mu.Unlock()
	if s == nil {
		return nil
	}
	defer func() {
		l.mu.Lock()
		if l.current == s {
			l.current = nil
		}
		l.mu.Unlock()
	}()

	s.Cancel()
	err := l.backend.EndChatSession(ctx, s.ID())
	if err != nil {
		l.logger.Warn("end chat session", zap.String("session_id", s.ID().String()), zap.Error(err))
		err = fmt.Errorf("end chat session: %w", err)
	}
	s.End()
	return err
}

// Feedback fetches the scores and notes for a finished session.
func (l *Lifecycle) Feedback(ctx context.Context, sessionID learning.ID) (*api.Feedback, error) {
	if sessionID.String() == "" {
		return nil, fmt.Errorf("feedback: session id is required")
	}
	fb, err := l.backend.Feedback(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("feedback for session %s: %w", sessionID, err)
	}
	return fb, nil
}

// Close releases the current session without contacting the backend.
func (l *Lifecycle) Close() {
	l.mu.Lock()
	s := l.current
	l.current = nil
	l.mu.Unlock()
	if s != nil {
		s.Close()
	}
}
