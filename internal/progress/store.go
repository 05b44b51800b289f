// Package progress owns the learner's per-sentence progress and the day's
// sentence list.
package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/learning"
)

// Mirror receives every local mutation for best-effort delivery to the
// backend. Implementations must not block.
type Mirror interface {
	PushStepUpdate(update learning.ProgressUpdate)
}

// KV is the durable key-value adapter the store caches itself in.
type KV interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte) error
}

// StateKey is the KV key the store persists under.
const StateKey = "progress.state"

// Options configures a Store.
type Options struct {
	Mirror Mirror
	Logger *zap.Logger

	// Strict makes wiring bugs such as unknown step names panic instead of
	// being logged and ignored.
	Strict bool
}

// Store is the authoritative in-memory progress map. All operations are
// total: they never fail on local state.
type Store struct {
	mu      sync.RWMutex
	entries map[learning.ID]learning.SentenceProgress
	set     learning.DailySet
	mirror  Mirror
	logger  *zap.Logger
	strict  bool
}

// New creates an empty store.
func New(opts Options) *Store {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		entries: make(map[learning.ID]learning.SentenceProgress),
		mirror:  opts.Mirror,
		logger:  logger,
		strict:  opts.Strict,
	}
}

// SetMirror replaces the mirror. The syncer depends on the store, so it is
// attached after both exist.
func (s *Store) SetMirror(m Mirror) {
	s.mu.Lock()
	s.mirror = m
	s.mu.Unlock()
}

// Get returns the stored entry or a fresh not-started one.
func (s *Store) Get(id learning.ID) learning.SentenceProgress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getLocked(id)
}

func (s *Store) getLocked(id learning.ID) learning.SentenceProgress {
	if p, ok := s.entries[id]; ok {
		return p
	}
	return learning.NewProgress()
}

// knownLocked reports whether id belongs to the loaded set. Before any set
// is loaded every ID is accepted.
func (s *Store) knownLocked(id learning.ID) bool {
	if id == "" {
		return false
	}
	if len(s.set.Sentences) == 0 {
		return true
	}
	_, ok := s.set.Find(id)
	return ok
}

// SetStep sets one step flag. Status becomes in_progress unless the
// sentence is already memorized, which is sticky.
func (s *Store) SetStep(id learning.ID, step learning.Step, completed bool) learning.SentenceProgress {
	step, err := learning.ParseStep(string(step))
	if err != nil {
		s.invalid("set step", zap.String("sentence_id", id.String()), zap.Error(err))
		return s.Get(id)
	}

	s.mu.Lock()
	if !s.knownLocked(id) {
		s.mu.Unlock()
		s.invalid("sentence", zap.String("sentence_id", id.String()))
		return learning.NewProgress()
	}
	p := s.getLocked(id)
	if p.Memorized() && !completed {
		// Memorized implies every step; a later toggle cannot clear one.
		s.mu.Unlock()
		return p
	}
	p = p.WithStep(step, completed)
	if !p.Memorized() {
		p.Status = learning.StatusInProgress
	}
	s.entries[id] = p
	update := learning.StepUpdate(id, step, completed)
	update.DailySetID = s.set.ID
	mirror := s.mirror
	s.mu.Unlock()

	s.logger.Debug("step updated",
		zap.String("sentence_id", id.String()),
		zap.String("step", string(step)),
		zap.Bool("completed", completed),
	)
	if mirror != nil {
		mirror.PushStepUpdate(update)
	}
	return p
}

// MarkMemorized sets the sentence to memorized and forces every step flag.
func (s *Store) MarkMemorized(id learning.ID) learning.SentenceProgress {
	s.mu.Lock()
	if !s.knownLocked(id) {
		s.mu.Unlock()
		s.invalid("sentence", zap.String("sentence_id", id.String()))
		return learning.NewProgress()
	}
	p := s.getLocked(id)
	p.Status = learning.StatusMemorized
	p.Understand, p.Speak, p.Check = true, true, true
	s.entries[id] = p
	t := true
	update := learning.ProgressUpdate{
		SentenceID: id,
		DailySetID: s.set.ID,
		Understand: &t,
		Speak:      &t,
		Confirm:    &t,
		Memorized:  &t,
	}
	mirror := s.mirror
	s.mu.Unlock()

	s.logger.Info("sentence memorized", zap.String("sentence_id", id.String()))
	if mirror != nil {
		mirror.PushStepUpdate(update)
	}
	return p
}

// MarkQuizCompleted records that every quiz of the sentence was passed.
func (s *Store) MarkQuizCompleted(id learning.ID) learning.SentenceProgress {
	s.mu.Lock()
	p := s.getLocked(id)
	p.QuizCompleted = true
	if p.Status == learning.StatusNotStarted {
		p.Status = learning.StatusInProgress
	}
	s.entries[id] = p
	t := true
	update := learning.ProgressUpdate{SentenceID: id, DailySetID: s.set.ID, QuizCompleted: &t}
	mirror := s.mirror
	s.mu.Unlock()

	if mirror != nil {
		mirror.PushStepUpdate(update)
	}
	return p
}

// ReplaceAll swaps in a new day's sentence list. Progress entries for
// sentences outside the new set are kept. Sentences the server already
// reports as memorized are folded in locally.
func (s *Store) ReplaceAll(set learning.DailySet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = learning.DailySet{
		ID:        set.ID,
		Date:      set.Date,
		Sentences: append([]learning.Sentence(nil), set.Sentences...),
	}
	for _, sen := range set.Sentences {
		if !sen.Memorized {
			continue
		}
		p := s.getLocked(sen.ID)
		p.Status = learning.StatusMemorized
		p.Understand, p.Speak, p.Check = true, true, true
		s.entries[sen.ID] = p
	}
}

// ApplySnapshot overwrites local entries with authoritative server state.
// A memorized local entry stays memorized.
func (s *Store) ApplySnapshot(snapshot map[learning.ID]learning.SentenceProgress) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, p := range snapshot {
		if cur, ok := s.entries[id]; ok && cur.Memorized() && !p.Memorized() {
			continue
		}
		s.entries[id] = p
	}
}

// Sentences returns a copy of the current day's sentences.
func (s *Store) Sentences() []learning.Sentence {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]learning.Sentence(nil), s.set.Sentences...)
}

// Sentence looks up a sentence of the current set.
func (s *Store) Sentence(id learning.ID) (learning.Sentence, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Find(id)
}

// DailySetID returns the ID of the current set.
func (s *Store) DailySetID() learning.ID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.ID
}

// Reset clears all progress. The sentence list is kept.
func (s *Store) Reset() {
	s.mu.Lock()
	s.entries = make(map[learning.ID]learning.SentenceProgress)
	s.mu.Unlock()
	s.logger.Info("progress reset")
}

// ClearSentences forgets the cached sentence list, e.g. on logout.
func (s *Store) ClearSentences() {
	s.mu.Lock()
	s.set = learning.DailySet{}
	s.mu.Unlock()
}

// Summary counts memorized sentences in the current set.
type Summary struct {
	Total      int
	Memorized  int
	InProgress int
}

// Summary reports progress over the current set.
func (s *Store) Summary() Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := Summary{Total: len(s.set.Sentences)}
	for _, sen := range s.set.Sentences {
		switch s.getLocked(sen.ID).Status {
		case learning.StatusMemorized:
			sum.Memorized++
		case learning.StatusInProgress:
			sum.InProgress++
		}
	}
	return sum
}

func (s *Store) invalid(msg string, fields ...zap.Field) {
	if s.strict {
		panic(fmt.Sprintf("progress: invalid %s", msg))
	}
	s.logger.Warn("progress: ignoring invalid "+msg, fields...)
}

type persisted struct {
	Set     learning.DailySet                         `json:"set"`
	Entries map[learning.ID]learning.SentenceProgress `json:"entries"`
}

// Load restores a previously saved state. A missing key is not an error.
func (s *Store) Load(ctx context.Context, kv KV) error {
	raw, ok, err := kv.Get(ctx, StateKey)
	if err != nil {
		return fmt.Errorf("load progress: %w", err)
	}
	if !ok {
		return nil
	}
	var st persisted
	if err := json.Unmarshal(raw, &st); err != nil {
		return fmt.Errorf("decode progress: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.set = st.Set
	s.entries = make(map[learning.ID]learning.SentenceProgress, len(st.Entries))
	for id, p := range st.Entries {
		s.entries[id] = p
	}
	return nil
}

// Save writes the current state to the KV adapter.
func (s *Store) Save(ctx context.Context, kv KV) error {
	s.mu.RLock()
	st := persisted{Set: s.set, Entries: make(map[learning.ID]learning.SentenceProgress, len(s.entries))}
	for id, p := range s.entries {
		st.Entries[id] = p
	}
	s.mu.RUnlock()

	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	if err := kv.Set(ctx, StateKey, raw); err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}
