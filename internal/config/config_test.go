package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate runs the test in an empty directory with no provider keys set.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{"GEMINI_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY", "APP_ENV", "KOTOBA_ENV"} {
		t.Setenv(k, "")
	}
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "local", cfg.Env)
	assert.Equal(t, "http://localhost:8080", cfg.API.BaseURL)
	assert.Equal(t, 15*time.Second, cfg.API.Timeout)
	assert.Equal(t, 2*time.Second, cfg.Chat.RedirectDelay)
	assert.Equal(t, time.Second, cfg.Quiz.RetryDelay)
	assert.Equal(t, 64, cfg.Sync.QueueSize)
	assert.Equal(t, 3, cfg.LLM.Retry.MaxAttempts)
	assert.Equal(t, "claude-haiku", cfg.LLM.Anthropic.Model)
	assert.False(t, cfg.LLM.Enabled())
	assert.False(t, cfg.Strict())
}

func TestStrictOnlyInDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"local", false},
		{"production", false},
		{"", false},
	}
	for _, tt := range tests {
		cfg := Config{Env: tt.env}
		assert.Equal(t, tt.want, cfg.Strict(), "env %q", tt.env)
	}
}

func TestLoad_FileThenEnv(t *testing.T) {
	dir := isolate(t)
	yaml := `env: development
api:
  base_url: https://api.example.com
sync:
  queue_size: 8
llm:
  provider: mock
server:
  max_turn: 3
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))
	t.Setenv("KOTOBA_SYNC_QUEUE_SIZE", "16")
	t.Setenv("KOTOBA_CHAT_REDIRECT_DELAY", "500ms")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, 16, cfg.Sync.QueueSize, "env overrides file")
	assert.Equal(t, 500*time.Millisecond, cfg.Chat.RedirectDelay)
	assert.Equal(t, "mock", cfg.LLM.Provider)
	assert.Equal(t, 3, cfg.Server.MaxTurn)
	assert.True(t, cfg.Strict())
}

func TestLoad_DotEnv(t *testing.T) {
	dir := isolate(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"),
		[]byte("KOTOBA_LLM_PROVIDER=openai\nKOTOBA_LLM_OPENAI_API_KEY=sk-test\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("KOTOBA_LLM_PROVIDER")
		os.Unsetenv("KOTOBA_LLM_OPENAI_API_KEY")
	})

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "openai", cfg.LLM.Provider)
	assert.Equal(t, "sk-test", cfg.LLM.OpenAI.APIKey)
}

func TestLoad_DiscoversProviderKey(t *testing.T) {
	isolate(t)
	t.Setenv("GEMINI_API_KEY", "g-key")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Provider)
	assert.Equal(t, "g-key", cfg.LLM.Gemini.APIKey)
}

func TestLoad_Invalid(t *testing.T) {
	isolate(t)

	t.Setenv("KOTOBA_API_BASE_URL", "not a url")
	_, err := Load("")
	assert.True(t, errors.Is(err, ErrInvalidConfig), "got %v", err)
}

func TestLoad_ExplicitFileMustExist(t *testing.T) {
	dir := isolate(t)
	_, err := Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
