package account

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/store"
)

type fakeBackend struct {
	registerErr error
	loginErr    error
	token       string
	registered  []api.Credentials
	onboarding  []api.Onboarding
	onboardErr  error
}

func (f *fakeBackend) Register(_ context.Context, c api.Credentials) error {
	f.registered = append(f.registered, c)
	return f.registerErr
}

func (f *fakeBackend) Login(_ context.Context, c api.Credentials) (string, error) {
	if f.loginErr != nil {
		return "", f.loginErr
	}
	return f.token, nil
}

func (f *fakeBackend) SubmitOnboarding(_ context.Context, o api.Onboarding) error {
	f.onboarding = append(f.onboarding, o)
	return f.onboardErr
}

func (f *fakeBackend) UpdateSettings(_ context.Context, s api.Settings) (*api.User, error) {
	return &api.User{Name: s.Name}, nil
}

func (f *fakeBackend) Me(context.Context) (*api.User, error) {
	return &api.User{ID: "1", Email: "a@b.c"}, nil
}

func openKV(t *testing.T) store.KVRepo {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "account.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s.KV()
}

func TestLogin_RegistersThenPersistsToken(t *testing.T) {
	kv := openKV(t)
	b := &fakeBackend{token: "tok-1", registerErr: &api.StatusError{StatusCode: 409, Message: "exists"}}
	a := New(Options{Backend: b, KV: kv})

	require.NoError(t, a.Login(context.Background(), " yuki@example.com ", "pw"))
	assert.True(t, a.LoggedIn())
	assert.Equal(t, "tok-1", a.Credentials().Token())
	require.Len(t, b.registered, 1)
	assert.Equal(t, "yuki", b.registered[0].Name)

	restored := New(Options{Backend: b, KV: kv})
	require.NoError(t, restored.Load(context.Background()))
	assert.Equal(t, "tok-1", restored.Credentials().Token())
}

func TestLogin_Errors(t *testing.T) {
	a := New(Options{Backend: &fakeBackend{loginErr: errors.New("bad password")}, KV: openKV(t)})

	assert.ErrorIs(t, a.Login(context.Background(), "", "pw"), ErrMissingCredentials)
	err := a.Login(context.Background(), "a@b.c", "pw")
	require.Error(t, err)
	assert.False(t, a.LoggedIn())
}

func TestProfileCodes(t *testing.T) {
	p := Profile{
		Category:      "game",
		SubCategories: []string{"JRPG", "리듬게임", "이세계/판타지"},
		Level:         "lv4",
		Purposes:      []string{"기타", "일본 여행에서 말하고 싶어서", "없는 목적"},
	}
	level, interests, purposes := p.Codes()
	assert.Equal(t, 4, level)
	assert.Equal(t, []int{201, 203}, interests, "sub-categories of other categories are dropped")
	assert.Equal(t, []int{7, 3}, purposes)

	level, interests, _ = Profile{Level: "lv9", Category: "nope", SubCategories: []string{"JRPG"}}.Codes()
	assert.Equal(t, DefaultLevel, level)
	assert.Empty(t, interests)
}

func TestCompleteOnboarding(t *testing.T) {
	kv := openKV(t)
	b := &fakeBackend{token: "tok", onboardErr: errors.New("server down")}
	a := New(Options{Backend: b, KV: kv})
	ctx := context.Background()
	p := Profile{Category: "anime", SubCategories: []string{"일상물"}, Level: "lv0", Purposes: []string{"기타"}}

	// Signed out: nothing is uploaded but the flag is still set.
	require.NoError(t, a.CompleteOnboarding(ctx, p))
	assert.Empty(t, b.onboarding)
	assert.True(t, a.Onboarded())

	require.NoError(t, a.Login(ctx, "a@b.c", "pw"))
	require.NoError(t, a.CompleteOnboarding(ctx, p), "upload failures are not fatal")
	require.Len(t, b.onboarding, 1)
	assert.Equal(t, api.Onboarding{Level: 0, Interests: []int{103}, Purposes: []int{7}}, b.onboarding[0])

	restored := New(Options{Backend: b, KV: kv})
	require.NoError(t, restored.Load(ctx))
	assert.True(t, restored.Onboarded())
	require.NotNil(t, restored.Profile())
	assert.Equal(t, p, *restored.Profile())

	require.NoError(t, restored.ResetOnboarding(ctx))
	assert.False(t, restored.Onboarded())
	assert.Nil(t, restored.Profile())
}

func TestLogout_ClearsEverything(t *testing.T) {
	kv := openKV(t)
	ctx := context.Background()
	var hooked bool
	a := New(Options{
		Backend:  &fakeBackend{token: "tok"},
		KV:       kv,
		OnLogout: func(context.Context) error { hooked = true; return nil },
	})
	require.NoError(t, a.Login(ctx, "a@b.c", "pw"))
	require.NoError(t, a.CompleteOnboarding(ctx, Profile{Level: "lv1"}))

	require.NoError(t, a.Logout(ctx))
	assert.True(t, hooked)
	assert.False(t, a.LoggedIn())
	assert.False(t, a.Onboarded())
	for _, k := range []string{KeyToken, KeyOnboarded, KeyProfile} {
		_, ok, err := kv.Get(ctx, k)
		require.NoError(t, err)
		assert.False(t, ok, k)
	}
}

func TestCredentials_SignOutShortCircuitsClient(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"id":7,"email":"a@b.c"}}`))
	}))
	defer srv.Close()

	creds := &Credentials{}
	client, err := api.New(api.Options{BaseURL: srv.URL, Tokens: creds})
	require.NoError(t, err)
	a := New(Options{Backend: client, Credentials: creds, KV: openKV(t)})

	_, err = a.Me(context.Background())
	assert.ErrorIs(t, err, api.ErrNoCredential)
	assert.Zero(t, hits.Load())

	creds.set("tok")
	u, err := a.Me(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", u.Email)
	assert.EqualValues(t, 1, hits.Load())
}
