package devserver

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
)

func (s *Server) handleOnboarding(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var o api.Onboarding
	if err := decodeBody(w, r, &o); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	if o.Level < 0 || o.Level > 5 {
		respondWithError(w, http.StatusBadRequest, "level must be between 0 and 5")
		return
	}

	s.mu.Lock()
	u.onboarding = o
	u.onboarded = true
	s.mu.Unlock()

	s.logger.Info("onboarding stored",
		zap.Int("user_id", u.id),
		zap.Int("level", o.Level),
		zap.Ints("interests", o.Interests),
	)
	respondWithJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	var in api.Settings
	if err := decodeBody(w, r, &in); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	s.mu.Lock()
	if in.Name != "" {
		u.name = in.Name
	}
	if in.Level != nil {
		u.onboarding.Level = *in.Level
	}
	if in.Interests != nil {
		u.onboarding.Interests = in.Interests
	}
	if in.Purposes != nil {
		u.onboarding.Purposes = in.Purposes
	}
	out := s.publicUserLocked(u)
	s.mu.Unlock()

	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	s.mu.Lock()
	out := s.publicUserLocked(u)
	s.mu.Unlock()
	respondWithJSON(w, http.StatusOK, out)
}

func (s *Server) publicUserLocked(u *user) api.User {
	return api.User{
		ID:        learning.IDFrom(u.id),
		Email:     u.email,
		Name:      u.name,
		Level:     u.onboarding.Level,
		Interests: u.onboarding.Interests,
		Purposes:  u.onboarding.Purposes,
		Points:    u.points,
		Onboarded: u.onboarded,
	}
}
