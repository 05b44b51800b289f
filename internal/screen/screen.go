package screen

import (
	"context"
	"time"

	tea "charm.land/bubbletea/v2"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/playback"
	"github.com/kotoba-app/kotoba/internal/progress"
	"github.com/kotoba-app/kotoba/internal/progresssync"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
)

// Screen defines the interface for all application screens.
type Screen interface {
	// Init returns an initial command when the screen is first created.
	Init() tea.Cmd

	// Update handles messages and returns updated screen + command.
	Update(msg tea.Msg) (Screen, tea.Cmd)

	// View renders the screen content (excluding header/footer).
	View(width, height int) string

	// Title returns the screen name for the header.
	Title() string
}

// KeyHintProvider is an optional interface that screens can implement
// to provide custom footer key hints.
type KeyHintProvider interface {
	KeyHints() []layout.KeyHint
}

// Speaker synthesizes pronunciation clips for sentences.
type Speaker interface {
	Synthesize(ctx context.Context, text string) (playback.Clip, error)
}

// Services are the long-lived components screens drive.
type Services struct {
	Account  *account.Account
	Progress *progress.Store
	Sync     *progresssync.Syncer
	Client   *api.Client
	Player   *playback.Coordinator
	Logger   *zap.Logger

	// Speech is nil when text-to-speech is not configured.
	Speech Speaker

	QuizRetryDelay time.Duration
	RedirectDelay  time.Duration
}
