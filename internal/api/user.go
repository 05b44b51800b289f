package api

import (
	"context"
	"net/http"

	"github.com/kotoba-app/kotoba/internal/learning"
)

// Onboarding is the numeric profile the backend stores.
type Onboarding struct {
	Level       int   `json:"level"`
	Interests   []int `json:"interests"`
	Purposes    []int `json:"purposes"`
	DailyTarget int   `json:"daily_target,omitempty"`
}

// Settings are user-adjustable preferences.
type Settings struct {
	Name          string `json:"name,omitempty"`
	Level         *int   `json:"level,omitempty"`
	Interests     []int  `json:"interests,omitempty"`
	Purposes      []int  `json:"purposes,omitempty"`
	Notifications *bool  `json:"notifications,omitempty"`
}

// User is the signed-in account.
type User struct {
	ID        learning.ID `json:"id"`
	Email     string      `json:"email"`
	Name      string      `json:"name"`
	Level     int         `json:"level"`
	Interests []int       `json:"interests,omitempty"`
	Purposes  []int       `json:"purposes,omitempty"`
	Streak    int         `json:"streak"`
	Points    int         `json:"points"`
	Onboarded bool        `json:"onboarded"`
}

// SubmitOnboarding stores the onboarding profile.
func (c *Client) SubmitOnboarding(ctx context.Context, o Onboarding) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/user/onboarding", body: o, auth: true}, nil)
}

// UpdateSettings changes preferences.
func (c *Client) UpdateSettings(ctx context.Context, s Settings) (*User, error) {
	var out User
	if err := c.do(ctx, request{method: http.MethodPut, path: "/api/user/settings", body: s, auth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Me fetches the signed-in user.
func (c *Client) Me(ctx context.Context) (*User, error) {
	var out User
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/user/me", auth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
