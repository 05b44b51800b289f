package devserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/llm"
)

const (
	statusActive    = "active"
	statusCompleted = "completed"
	statusEnded     = "ended"

	chunkRunes = 6
)

func (c *chatSession) info() api.ChatSession {
	return api.ChatSession{
		ID:          learning.ID(c.id),
		Topic:       c.topic,
		TopicDetail: c.detail,
		CurrentTurn: c.currentTurn,
		MaxTurn:     c.maxTurn,
		Status:      c.status,
	}
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var in struct {
		Topic       string `json:"topic"`
		TopicDetail string `json:"topic_detail"`
	}
	if err := decodeBody(w, r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	in.Topic = strings.TrimSpace(in.Topic)
	if in.Topic == "" {
		respondWithError(w, http.StatusBadRequest, "topic is required")
		return
	}

	c := &chatSession{
		id:      newPublicID(),
		userID:  u.id,
		topic:   in.Topic,
		detail:  strings.TrimSpace(in.TopicDetail),
		maxTurn: s.opts.MaxTurn,
		status:  statusActive,
	}
	s.mu.Lock()
	s.sessions[c.id] = c
	out := c.info()
	s.mu.Unlock()

	s.logger.Info("chat session created",
		zap.String("session_id", c.id),
		zap.Int("user_id", u.id),
		zap.String("topic", c.topic),
	)
	respondWithJSON(w, http.StatusCreated, out)
}

// sessionFor returns the caller's session named in the path.
func (s *Server) sessionFor(r *http.Request) (*chatSession, bool) {
	u := userFrom(r.Context())
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.sessions[mux.Vars(r)["id"]]
	if !ok || c.userID != u.id {
		return nil, false
	}
	return c, true
}

// conversationLocked snapshots what the tutor needs to see.
func (s *Server) conversationLocked(c *chatSession) Conversation {
	u := s.byID[c.userID]
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	return Conversation{
		Topic:       c.topic,
		Detail:      c.detail,
		Level:       u.onboarding.Level,
		CurrentTurn: c.currentTurn,
		MaxTurn:     c.maxTurn,
		Turns:       turns,
		Sentences:   s.seed.Today,
	}
}

// handleStream records one user turn and streams the tutor's answer as
// server-sent events. An empty message asks for the opening line.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	c, ok := s.sessionFor(r)
	if !ok {
		respondWithError(w, http.StatusNotFound, "chat session not found")
		return
	}
	var in struct {
		Message string `json:"message"`
	}
	if err := decodeBody(w, r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		respondWithError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	s.mu.Lock()
	if c.status != statusActive {
		s.mu.Unlock()
		respondWithError(w, http.StatusConflict, "chat session is closed")
		return
	}
	if c.streaming {
		s.mu.Unlock()
		respondWithError(w, http.StatusConflict, "a reply is already streaming")
		return
	}
	c.streaming = true
	prevTurns, prevCount := len(c.turns), c.currentTurn
	if msg := strings.TrimSpace(in.Message); msg != "" {
		c.turns = append(c.turns, Turn{Role: llm.RoleUser, Text: msg})
		c.currentTurn++
	}
	conv := s.conversationLocked(c)
	s.mu.Unlock()

	reply, err := s.tutor.Reply(r.Context(), conv)
	if err != nil {
		s.mu.Lock()
		c.streaming = false
		c.turns, c.currentTurn = c.turns[:prevTurns], prevCount
		s.mu.Unlock()
		s.logger.Error("tutor reply failed", zap.String("session_id", c.id), zap.Error(err))
		respondWithError(w, http.StatusBadGateway, "failed to generate reply")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	send := func(v any) {
		data, _ := json.Marshal(v)
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	send(map[string]any{"type": "turn_info", "current_turn": conv.CurrentTurn, "max_turn": conv.MaxTurn})

	for i, chunk := range chunks(reply, chunkRunes) {
		if i > 0 && !sleepCtx(r.Context(), s.opts.ChunkDelay) {
			break
		}
		send(map[string]any{"type": "content", "content": chunk})
	}

	if s.opts.Speech != nil {
		clip, err := s.opts.Speech.Synthesize(r.Context(), reply)
		if err != nil {
			s.logger.Warn("speech synthesis failed", zap.String("session_id", c.id), zap.Error(err))
		} else {
			send(map[string]any{"type": "audio", "audio": base64.StdEncoding.EncodeToString(clip.Data), "mime": clip.MIME})
		}
	}

	s.mu.Lock()
	c.turns = append(c.turns, Turn{Role: llm.RoleAssistant, Text: reply})
	c.streaming = false
	completed := c.currentTurn >= c.maxTurn
	if completed {
		c.status = statusCompleted
	}
	current, limit := c.currentTurn, c.maxTurn
	s.mu.Unlock()

	send(map[string]any{
		"type": "done",
		"turn_summary": map[string]any{
			"current_turn": current,
			"max_turn":     limit,
			"is_completed": completed,
		},
	})
	if completed {
		send(map[string]any{"type": "session_end"})
		s.logger.Info("chat session completed", zap.String("session_id", c.id), zap.Int("turns", current))
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

// chunks splits text into pieces of at most n runes.
func chunks(text string, n int) []string {
	runes := []rune(text)
	out := make([]string, 0, len(runes)/n+1)
	for len(runes) > 0 {
		k := min(n, len(runes))
		out = append(out, string(runes[:k]))
		runes = runes[k:]
	}
	return out
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (s *Server) handleEndSession(w http.ResponseWriter, r *http.Request) {
	c, ok := s.sessionFor(r)
	if !ok {
		respondWithError(w, http.StatusNotFound, "chat session not found")
		return
	}
	s.mu.Lock()
	if c.status == statusActive {
		c.status = statusEnded
	}
	out := c.info()
	s.mu.Unlock()

	s.logger.Info("chat session ended", zap.String("session_id", c.id), zap.String("status", out.Status))
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	c, ok := s.sessionFor(r)
	if !ok {
		respondWithError(w, http.StatusNotFound, "chat session not found")
		return
	}
	u := userFrom(r.Context())

	s.mu.Lock()
	conv := s.conversationLocked(c)
	usage := s.sentenceUsageLocked(u, conv)
	s.mu.Unlock()

	ev, err := s.tutor.Evaluate(r.Context(), conv)
	if err != nil {
		s.logger.Error("feedback failed", zap.String("session_id", c.id), zap.Error(err))
		respondWithError(w, http.StatusBadGateway, "failed to evaluate session")
		return
	}
	respondWithJSON(w, http.StatusOK, api.Feedback{
		SessionID:  learning.ID(c.id),
		Scores:     ev.Scores,
		Summaries:  ev.Summaries,
		Usage:      usage,
		Highlights: ev.Highlights,
		Text:       ev.Text,
	})
}

// sentenceUsageLocked classifies each of today's sentences: said by the
// learner, only practised through the learning steps, or untouched.
func (s *Server) sentenceUsageLocked(u *user, conv Conversation) []api.SentenceUsage {
	out := make([]api.SentenceUsage, 0, len(conv.Sentences))
	for _, sen := range conv.Sentences {
		status := "not_used"
		p, practised := u.progress[sen.ID]
		switch {
		case saidBy(conv.Turns, sen.Japanese):
			status = "used_in_conversation"
		case practised && (p.Memorized() || p.Understand || p.Speak || p.Check):
			status = "practice_only"
		}
		out = append(out, api.SentenceUsage{
			ID:       sen.ID,
			Japanese: sen.Japanese,
			Meaning:  sen.Meaning,
			Status:   status,
		})
	}
	return out
}

func saidBy(turns []Turn, sentence string) bool {
	needle := strings.TrimRight(strings.TrimSpace(sentence), "。！？!?")
	if needle == "" {
		return false
	}
	for _, t := range turns {
		if t.Role == llm.RoleUser && strings.Contains(t.Text, needle) {
			return true
		}
	}
	return false
}
