// Package devserver is an in-memory implementation of the learning backend
// for local development and tests.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/playback"
)

const (
	DefaultMaxTurn  = 5
	DefaultTokenTTL = 30 * 24 * time.Hour
)

// Speaker renders tutor replies to audio.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (playback.Clip, error)
}

// Options configures a Server.
type Options struct {
	JWTSecret      []byte
	TokenTTL       time.Duration
	AllowedOrigins []string
	MaxTurn        int
	Seed           *Seed
	// Tutor writes assistant turns. Nil replays the sample conversation.
	Tutor Tutor
	// Speech adds an audio event to each reply when set.
	Speech Speaker
	// ChunkDelay paces content chunks so clients see a live stream.
	ChunkDelay time.Duration
	Logger     *zap.Logger
	Now        func() time.Time
}

type user struct {
	id         int
	email      string
	name       string
	hash       []byte
	onboarding api.Onboarding
	onboarded  bool
	progress   map[learning.ID]learning.SentenceProgress
	points     int
}

type chatSession struct {
	id          string
	userID      int
	topic       string
	detail      string
	currentTurn int
	maxTurn     int
	status      string
	turns       []Turn
	streaming   bool
}

// Server serves the learning API from memory.
type Server struct {
	opts   Options
	seed   *Seed
	tutor  Tutor
	logger *zap.Logger

	todayID     learning.ID
	yesterdayID learning.ID

	mu       sync.Mutex
	users    map[string]*user // by email
	byID     map[int]*user
	nextUser int
	sessions map[string]*chatSession
}

// New creates a server. It fails only when the bundled seed is unreadable.
func New(opts Options) (*Server, error) {
	if len(opts.JWTSecret) == 0 {
		return nil, errors.New("devserver: jwt secret is required")
	}
	if opts.Seed == nil {
		seed, err := LoadSeed()
		if err != nil {
			return nil, err
		}
		opts.Seed = seed
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = DefaultTokenTTL
	}
	if opts.MaxTurn <= 0 {
		opts.MaxTurn = DefaultMaxTurn
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	tutor := opts.Tutor
	if tutor == nil {
		tutor = NewScriptedTutor(opts.Seed)
	}

	s := &Server{
		opts:     opts,
		seed:     opts.Seed,
		tutor:    tutor,
		logger:   logger,
		users:    make(map[string]*user),
		byID:     make(map[int]*user),
		sessions: make(map[string]*chatSession),
	}
	s.todayID = learning.ID(newPublicID())
	s.yesterdayID = learning.ID(newPublicID())
	return s, nil
}

// Handler returns the routed API wrapped in CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	a := r.PathPrefix("/api").Subrouter()
	a.HandleFunc("/auth/register", s.handleRegister).Methods(http.MethodPost)
	a.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)

	p := a.PathPrefix("/").Subrouter()
	p.Use(s.authMiddleware)
	p.HandleFunc("/sentences/today", s.handleToday).Methods(http.MethodGet)
	p.HandleFunc("/sentences/history", s.handleHistory).Methods(http.MethodGet)
	p.HandleFunc("/learning/progress", s.handlePushProgress).Methods(http.MethodPost)
	p.HandleFunc("/learning/today", s.handleProgressSnapshot).Methods(http.MethodGet)
	p.HandleFunc("/learning/quiz", s.handleQuiz).Methods(http.MethodPost)
	p.HandleFunc("/user/onboarding", s.handleOnboarding).Methods(http.MethodPost)
	p.HandleFunc("/user/settings", s.handleSettings).Methods(http.MethodPut)
	p.HandleFunc("/user/me", s.handleMe).Methods(http.MethodGet)
	p.HandleFunc("/chat/session", s.handleCreateSession).Methods(http.MethodPost)
	p.HandleFunc("/chat/sessions/{id}/message/stream", s.handleStream).Methods(http.MethodPost)
	p.HandleFunc("/chat/session/{id}/end", s.handleEndSession).Methods(http.MethodPost)
	p.HandleFunc("/feedback/{id}", s.handleFeedback).Methods(http.MethodGet)

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		respondWithError(w, http.StatusNotFound, "not found")
	})

	return cors.New(cors.Options{
		AllowedOrigins:   s.opts.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept"},
		AllowCredentials: true,
		MaxAge:           86400,
	}).Handler(s.logRequests(r))
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.logger.Info("dev server listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.opts.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("took", s.opts.Now().Sub(start)),
		)
	})
}

// respondWithJSON wraps payload in the {"data": ...} envelope.
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	body, err := json.Marshal(map[string]any{"data": payload})
	if err != nil {
		http.Error(w, `{"error":"encode response"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	body, _ := json.Marshal(map[string]string{"error": message})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	return dec.Decode(v)
}
