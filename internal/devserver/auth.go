package devserver

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/kotoba-app/kotoba/internal/learning"
)

type ctxKey struct{}

// Claims carries the user ID inside the bearer token.
type Claims struct {
	UserID int `json:"user_id"`
	jwt.RegisteredClaims
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
	if c.Email == "" || c.Password == "" {
		respondWithError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(c.Password), bcrypt.DefaultCost)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	s.mu.Lock()
	if _, exists := s.users[c.Email]; exists {
		s.mu.Unlock()
		respondWithError(w, http.StatusConflict, "email already exists")
		return
	}
	s.nextUser++
	u := &user{
		id:       s.nextUser,
		email:    c.Email,
		name:     c.Name,
		hash:     hash,
		progress: make(map[learning.ID]learning.SentenceProgress),
	}
	s.users[u.email] = u
	s.byID[u.id] = u
	s.mu.Unlock()

	s.logger.Info("user registered", zap.Int("user_id", u.id))
	respondWithJSON(w, http.StatusCreated, map[string]any{"id": u.id, "email": u.email})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if err := decodeBody(w, r, &c); err != nil {
		respondWithError(w, http.StatusBadRequest, "invalid request payload")
		return
	}

	s.mu.Lock()
	u, ok := s.users[strings.ToLower(strings.TrimSpace(c.Email))]
	s.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(c.Password)) != nil {
		respondWithError(w, http.StatusUnauthorized, "invalid email or password")
		return
	}

	token, err := s.issueToken(u.id)
	if err != nil {
		respondWithError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"access_token": token, "token_type": "Bearer"})
}

func (s *Server) issueToken(userID int) (string, error) {
	now := s.opts.Now()
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.opts.TokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.opts.JWTSecret)
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		scheme, raw, ok := strings.Cut(r.Header.Get("Authorization"), " ")
		if !ok || scheme != "Bearer" || raw == "" {
			respondWithError(w, http.StatusUnauthorized, "authorization header required")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
			return s.opts.JWTSecret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.opts.Now))
		if err != nil || !token.Valid {
			msg := "invalid token"
			if errors.Is(err, jwt.ErrTokenExpired) {
				msg = "token has expired"
			}
			respondWithError(w, http.StatusUnauthorized, msg)
			return
		}

		s.mu.Lock()
		u, ok := s.byID[claims.UserID]
		s.mu.Unlock()
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, u)))
	})
}

func userFrom(ctx context.Context) *user {
	u, _ := ctx.Value(ctxKey{}).(*user)
	return u
}

// newPublicID returns a short URL-safe identifier.
func newPublicID() string {
	return gonanoid.Must(12)
}
