package api

import (
	"context"
	"errors"
	"net/http"
)

// Credentials is the register/login body.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

// ErrNoToken means login succeeded but the response carried no token.
var ErrNoToken = errors.New("api: login response has no token")

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	Token        string `json:"token"`
}

// Register creates an account. The backend rejects duplicates; callers that
// register opportunistically before logging in ignore that error.
func (c *Client) Register(ctx context.Context, cred Credentials) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/auth/register", body: cred}, nil)
}

// Login exchanges credentials for a bearer token.
func (c *Client) Login(ctx context.Context, cred Credentials) (string, error) {
	var resp tokenResponse
	err := c.do(ctx, request{method: http.MethodPost, path: "/api/auth/login", body: cred}, &resp)
	if err != nil {
		return "", err
	}
	for _, t := range []string{resp.AccessToken, resp.RefreshToken, resp.Token} {
		if t != "" {
			return t, nil
		}
	}
	return "", ErrNoToken
}
