// Package account keeps the signed-in credential and the onboarding
// profile, persisted in the local store.
package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/store"
)

// KV keys owned by this package.
const (
	KeyToken     = "auth.token"
	KeyOnboarded = "onboarding.done"
	KeyProfile   = "onboarding.profile"
)

var (
	ErrMissingCredentials = errors.New("account: email and password are required")
	ErrNotOnboarded       = errors.New("account: onboarding not completed")
)

// Credentials holds the bearer token. It is the api.TokenSource of the
// client, so clearing it signs every later request out.
type Credentials struct {
	mu    sync.RWMutex
	token string
}

func (c *Credentials) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *Credentials) set(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

// Backend is the account part of the learning API.
type Backend interface {
	Register(ctx context.Context, cred api.Credentials) error
	Login(ctx context.Context, cred api.Credentials) (string, error)
	SubmitOnboarding(ctx context.Context, o api.Onboarding) error
	UpdateSettings(ctx context.Context, s api.Settings) (*api.User, error)
	Me(ctx context.Context) (*api.User, error)
}

// Options configures an Account.
type Options struct {
	Backend     Backend
	Credentials *Credentials
	KV          store.KVRepo
	Logger      *zap.Logger
	// OnLogout runs after the account keys are removed, e.g. to drop the
	// cached sentence list.
	OnLogout func(ctx context.Context) error
}

// Account signs the learner in and out and records onboarding.
type Account struct {
	backend  Backend
	creds    *Credentials
	kv       store.KVRepo
	logger   *zap.Logger
	onLogout func(ctx context.Context) error

	mu        sync.Mutex
	onboarded bool
	profile   *Profile
}

// New creates an Account. Call Load to restore a saved session.
func New(opts Options) *Account {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	creds := opts.Credentials
	if creds == nil {
		creds = &Credentials{}
	}
	return &Account{
		backend:  opts.Backend,
		creds:    creds,
		kv:       opts.KV,
		logger:   logger,
		onLogout: opts.OnLogout,
	}
}

// Credentials returns the token holder shared with the API client.
func (a *Account) Credentials() *Credentials { return a.creds }

// Load restores the token, onboarding flag and profile from the store.
func (a *Account) Load(ctx context.Context) error {
	token, ok, err := a.kv.Get(ctx, KeyToken)
	if err != nil {
		return fmt.Errorf("load token: %w", err)
	}
	if ok {
		a.creds.set(string(token))
	}

	done, ok, err := a.kv.Get(ctx, KeyOnboarded)
	if err != nil {
		return fmt.Errorf("load onboarding flag: %w", err)
	}
	onboarded := ok && string(done) == "true"

	var profile *Profile
	raw, ok, err := a.kv.Get(ctx, KeyProfile)
	if err != nil {
		return fmt.Errorf("load profile: %w", err)
	}
	if ok {
		var p Profile
		if err := json.Unmarshal(raw, &p); err != nil {
			a.logger.Warn("discarding unreadable onboarding profile", zap.Error(err))
		} else {
			profile = &p
		}
	}

	a.mu.Lock()
	a.onboarded, a.profile = onboarded, profile
	a.mu.Unlock()
	return nil
}

// LoggedIn reports whether a token is held.
func (a *Account) LoggedIn() bool { return a.creds.Token() != "" }

// Onboarded reports whether onboarding was completed.
func (a *Account) Onboarded() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.onboarded
}

// Profile returns the saved onboarding profile, or nil.
func (a *Account) Profile() *Profile {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.profile == nil {
		return nil
	}
	p := *a.profile
	return &p
}

// Login registers the account if it does not exist yet, then logs in and
// persists the token. A failed registration is expected for returning
// users and only logged.
func (a *Account) Login(ctx context.Context, email, password string) error {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return ErrMissingCredentials
	}
	cred := api.Credentials{Email: email, Password: password}
	if name, _, ok := strings.Cut(email, "@"); ok {
		cred.Name = name
	}

	if err := a.backend.Register(ctx, cred); err != nil {
		a.logger.Debug("register skipped", zap.String("email", email), zap.Error(err))
	}

	token, err := a.backend.Login(ctx, api.Credentials{Email: email, Password: password})
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}
	if err := a.kv.Set(ctx, KeyToken, []byte(token)); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	a.creds.set(token)
	a.logger.Info("logged in", zap.String("email", email))
	return nil
}

// Logout forgets the token, onboarding state and cached data.
func (a *Account) Logout(ctx context.Context) error {
	a.creds.set("")
	a.mu.Lock()
	a.onboarded, a.profile = false, nil
	a.mu.Unlock()

	if err := a.kv.Delete(ctx, KeyToken, KeyOnboarded, KeyProfile); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	if a.onLogout != nil {
		if err := a.onLogout(ctx); err != nil {
			return fmt.Errorf("logout: %w", err)
		}
	}
	a.logger.Info("logged out")
	return nil
}

// CompleteOnboarding sends the profile to the backend when signed in and
// records it locally either way.
func (a *Account) CompleteOnboarding(ctx context.Context, p Profile) error {
	level, interests, purposes := p.Codes()
	if a.LoggedIn() {
		err := a.backend.SubmitOnboarding(ctx, api.Onboarding{Level: level, Interests: interests, Purposes: purposes})
		if err != nil {
			a.logger.Warn("onboarding upload failed", zap.Error(err))
		}
	}

	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := a.kv.Set(ctx, KeyProfile, raw); err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	if err := a.kv.Set(ctx, KeyOnboarded, []byte("true")); err != nil {
		return fmt.Errorf("save onboarding flag: %w", err)
	}

	a.mu.Lock()
	a.onboarded, a.profile = true, &p
	a.mu.Unlock()
	return nil
}

// ResetOnboarding clears the onboarding flag and profile.
func (a *Account) ResetOnboarding(ctx context.Context) error {
	if err := a.kv.Delete(ctx, KeyOnboarded, KeyProfile); err != nil {
		return fmt.Errorf("reset onboarding: %w", err)
	}
	a.mu.Lock()
	a.onboarded, a.profile = false, nil
	a.mu.Unlock()
	return nil
}

// UpdateSettings changes the learner's preferences.
func (a *Account) UpdateSettings(ctx context.Context, s api.Settings) (*api.User, error) {
	u, err := a.backend.UpdateSettings(ctx, s)
	if err != nil {
		return nil, fmt.Errorf("update settings: %w", err)
	}
	return u, nil
}

// Me fetches the signed-in user.
func (a *Account) Me(ctx context.Context) (*api.User, error) {
	u, err := a.backend.Me(ctx)
	if err != nil {
		return nil, fmt.Errorf("me: %w", err)
	}
	return u, nil
}
