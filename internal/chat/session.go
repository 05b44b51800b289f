package chat

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/playback"
	"github.com/kotoba-app/kotoba/internal/sse"
)

// DefaultRedirectDelay is the pause between completion and navigation to
// the feedback view.
const DefaultRedirectDelay = 2 * time.Second

var (
	// ErrSendInFlight is returned when a turn is already streaming.
	ErrSendInFlight = errors.New("chat: a reply is still streaming")
	// ErrSessionClosed is returned when the session is completed or ended.
	ErrSessionClosed = errors.New("chat: session is closed")
)

// Streamer opens the reply stream for one turn.
type Streamer interface {
	StreamChatMessage(ctx context.Context, sessionID learning.ID, message string) (io.ReadCloser, error)
}

// Options configures a Session.
type Options struct {
	Streamer Streamer
	// Player receives audio clips. Nil disables playback; clips are still
	// kept on their messages.
	Player *playback.Coordinator
	// Navigator is called once, off the caller's goroutine, when the
	// session completes or is ended.
	Navigator func(sessionID learning.ID)
	// Observer is called after every state change, without locks held.
	Observer      func()
	RedirectDelay time.Duration
	Logger        *zap.Logger
	Now           func() time.Time
}

// sendHandle is the abort handle of one in-flight turn.
type sendHandle struct {
	cancel    context.CancelFunc
	messageID string
	done      chan struct{}
}

// Session is one streaming conversation. All methods are safe for
// concurrent use; network reads never run under the lock.
type Session struct {
	opts   Options
	logger *zap.Logger

	mu          sync.Mutex
	info        api.ChatSession
	state       State
	currentTurn int
	maxTurn     int
	messages    []Message
	inflight    *sendHandle
	navigated   bool
	redirect    *time.Timer
}

// NewSession binds an active session returned by the backend.
func NewSession(info api.ChatSession, opts Options) *Session {
	if opts.RedirectDelay <= 0 {
		opts.RedirectDelay = DefaultRedirectDelay
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Session{
		opts:   opts,
		logger: logger.With(zap.String("session_id", info.ID.String())),
		info:   info,
		state:  StateActive,
	}
	s.setTurnsLocked(info.CurrentTurn, info.MaxTurn)
	return s
}

// ID returns the backend session ID.
func (s *Session) ID() learning.ID { return s.info.ID }

// Info returns the session as created, with the latest turn counts.
func (s *Session) Info() api.ChatSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := s.info
	info.CurrentTurn, info.MaxTurn = s.currentTurn, s.maxTurn
	info.Status = s.state.String()
	return info
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Turns returns the current and maximum turn counts.
func (s *Session) Turns() (current, limit int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.currentTurn, s.maxTurn
}

// Messages returns a copy of the transcript.
func (s *Session) Messages() []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// Streaming reports whether a turn is in flight.
func (s *Session) Streaming() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inflight != nil
}

// SendTurn sends text and blocks until the reply stream ends. Empty text
// requests the tutor's opening line without adding a user message.
// Cancellation through Cancel, Close or ctx returns nil.
func (s *Session) SendTurn(ctx context.Context, text string) error {
	h, streamCtx, err := s.begin(ctx, text)
	if err != nil {
		return err
	}
	return s.run(streamCtx, h, text)
}

// Wait blocks until the in-flight turn, if any, has finished.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	h := s.inflight
	s.mu.Unlock()
	if h == nil {
		return nil
	}
	select {
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// start begins a turn in the background. Its result is logged.
func (s *Session) start(ctx context.Context, text string) error {
	h, streamCtx, err := s.begin(ctx, text)
	if err != nil {
		return err
	}
	go func() {
		if err := s.run(streamCtx, h, text); err != nil {
			s.logger.Warn("chat turn failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Session) begin(ctx context.Context, text string) (*sendHandle, context.Context, error) {
	s.mu.Lock()
	if s.state.Closed() {
		s.mu.Unlock()
		return nil, nil, ErrSessionClosed
	}
	if s.inflight != nil {
		s.mu.Unlock()
		return nil, nil, ErrSendInFlight
	}

	now := s.opts.Now()
	if text != "" {
		s.messages = append(s.messages, Message{
			ID: uuid.NewString(), Role: RoleUser, Content: text, CreatedAt: now,
		})
	}
	placeholder := Message{ID: uuid.NewString(), Role: RoleAssistant, Streaming: true, CreatedAt: now}
	s.messages = append(s.messages, placeholder)

	streamCtx, cancel := context.WithCancel(ctx)
	h := &sendHandle{cancel: cancel, messageID: placeholder.ID, done: make(chan struct{})}
	s.inflight = h
	s.mu.Unlock()

	s.notify()
	return h, streamCtx, nil
}

func (s *Session) run(ctx context.Context, h *sendHandle, text string) (err error) {
	defer func() {
		h.cancel()
		current := s.finish(h, err)
		close(h.done)
		if !current || errors.Is(err, context.Canceled) {
			err = nil
		}
	}()

	body, err := s.opts.Streamer.StreamChatMessage(ctx, s.info.ID, text)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("open reply stream: %w", err)
	}
	defer body.Close()

	return sse.Stream(ctx, body, func(ev sse.Event) error {
		return s.dispatch(h, ev)
	})
}

// finish settles the placeholder and reports whether h was still current.
// A handle that is no longer current was already settled by Cancel and
// writes nothing.
func (s *Session) finish(h *sendHandle, err error) bool {
	s.mu.Lock()
	if s.inflight != h {
		s.mu.Unlock()
		return false
	}
	s.inflight = nil

	switch {
	case err == nil:
		s.settleLocked(h.messageID)
	case errors.Is(err, context.Canceled):
		s.settleLocked(h.messageID)
	default:
		if i := s.indexLocked(h.messageID); i >= 0 {
			s.messages[i].Content = FailureNotice
			s.messages[i].Streaming = false
			s.messages[i].Failed = true
		}
		s.logger.Warn("reply stream failed", zap.Error(err))
	}
	s.mu.Unlock()
	s.notify()
	return true
}

// settleLocked clears the streaming flag and drops the message if nothing
// arrived for it.
func (s *Session) settleLocked(id string) {
	i := s.indexLocked(id)
	if i < 0 {
		return
	}
	m := &s.messages[i]
	m.Streaming = false
	if m.Content == "" && !m.HasAudio() {
		s.messages = append(s.messages[:i], s.messages[i+1:]...)
	}
}

func (s *Session) dispatch(h *sendHandle, ev sse.Event) error {
	var (
		clip     *playback.Clip
		complete bool
	)

	s.mu.Lock()
	if s.inflight != h {
		s.mu.Unlock()
		return sse.ErrStop
	}
	i := s.indexLocked(h.messageID)
	if i < 0 {
		s.mu.Unlock()
		return sse.ErrStop
	}
	m := &s.messages[i]

	switch {
	case ev.Done:
		m.Streaming = false
	case ev.Literal:
		m.Content += ev.Data
	case ev.Type == EventContent:
		var p contentPayload
		if ev.Decode(&p) == nil {
			m.Content += p.fragment()
		}
	case ev.Type == EventAudio:
		m.Streaming = false
		var p audioPayload
		if ev.Decode(&p) == nil {
			if data, mime, ok := p.clip(); ok {
				m.Audio = &playback.Clip{Data: data, MIME: mime}
				clip = m.Audio
			} else {
				s.logger.Debug("undecodable audio payload")
			}
		}
	case ev.Type == EventTurnInfo:
		var t turnCounts
		if ev.Decode(&t) == nil {
			s.applyTurnsLocked(t)
		}
	case ev.Type == EventDone:
		m.Streaming = false
		t := parseDone(ev)
		s.applyTurnsLocked(t)
		complete = t.IsCompleted != nil && *t.IsCompleted
	case ev.Type == EventSessionEnd:
		complete = true
	default:
		m.Content += ev.Data
	}

	var navigate func()
	if complete {
		navigate = s.completeLocked(StateCompleted)
	}
	s.mu.Unlock()

	if clip != nil && s.opts.Player != nil {
		s.opts.Player.Play(h.messageID, *clip)
	}
	if navigate != nil {
		navigate()
	}
	s.notify()
	return nil
}

func (s *Session) applyTurnsLocked(t turnCounts) {
	cur, limit := s.currentTurn, s.maxTurn
	if t.CurrentTurn != nil {
		cur = *t.CurrentTurn
	}
	if t.MaxTurn != nil {
		limit = *t.MaxTurn
	}
	s.setTurnsLocked(cur, limit)
}

// setTurnsLocked clamps the counts to 0 <= current <= limit.
func (s *Session) setTurnsLocked(cur, limit int) {
	limit = max(limit, 0)
	cur = max(cur, 0)
	if limit > 0 {
		cur = min(cur, limit)
	}
	s.currentTurn, s.maxTurn = cur, limit
}

// completeLocked moves an active session to state and arranges the single
// navigation. Completion is delayed; ending navigates right away. The
// returned func must run after unlocking.
func (s *Session) completeLocked(state State) func() {
	if s.state == StateActive {
		s.state = state
	}
	if s.navigated {
		return nil
	}
	s.navigated = true
	nav := s.opts.Navigator
	if nav == nil {
		return nil
	}
	id := s.info.ID
	if state == StateEnded {
		return func() { go nav(id) }
	}
	s.redirect = time.AfterFunc(s.opts.RedirectDelay, func() { nav(id) })
	return nil
}

// Cancel aborts the in-flight turn. The placeholder is settled at once and
// the aborted stream writes nothing further.
func (s *Session) Cancel() {
	s.mu.Lock()
	h := s.inflight
	if h == nil {
		s.mu.Unlock()
		return
	}
	s.inflight = nil
	h.cancel()
	s.settleLocked(h.messageID)
	s.mu.Unlock()
	s.notify()
}

// End cancels any in-flight turn, stops playback and marks the session
// ended by the user. Navigation fires once; a pending completion redirect
// is kept.
func (s *Session) End() {
	s.Cancel()
	s.mu.Lock()
	navigate := s.completeLocked(StateEnded)
	s.mu.Unlock()
	if s.opts.Player != nil {
		s.opts.Player.Stop()
	}
	if navigate != nil {
		navigate()
	}
	s.notify()
}

// Close releases the session: it cancels streaming, stops playback and
// drops a redirect that has not fired yet.
func (s *Session) Close() {
	s.Cancel()
	s.mu.Lock()
	if s.redirect != nil {
		s.redirect.Stop()
		s.redirect = nil
	}
	s.mu.Unlock()
	if s.opts.Player != nil {
		s.opts.Player.Stop()
	}
}

// ToggleAudio plays or stops the clip of messageID. It reports whether the
// clip is playing afterwards.
func (s *Session) ToggleAudio(messageID string) bool {
	if s.opts.Player == nil {
		return false
	}
	s.mu.Lock()
	var clip *playback.Clip
	if i := s.indexLocked(messageID); i >= 0 && s.messages[i].HasAudio() {
		clip = s.messages[i].Audio
	}
	s.mu.Unlock()
	if clip == nil {
		return false
	}
	return s.opts.Player.Toggle(messageID, *clip)
}

func (s *Session) indexLocked(id string) int {
	for i := len(s.messages) - 1; i >= 0; i-- {
		if s.messages[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) notify() {
	if s.opts.Observer != nil {
		s.opts.Observer()
	}
}
