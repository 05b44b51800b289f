package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/app"
	"github.com/kotoba-app/kotoba/internal/config"
	"github.com/kotoba-app/kotoba/internal/logger"
	"github.com/kotoba-app/kotoba/internal/playback"
	"github.com/kotoba-app/kotoba/internal/progress"
	"github.com/kotoba-app/kotoba/internal/progresssync"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/store"
	"github.com/kotoba-app/kotoba/internal/tts"
)

const drainTimeout = 10 * time.Second

var tuiCmd = &cobra.Command{
	Use:   "tui",
	Short: "Open the terminal app",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runApp(cmd)
	},
}

// deps are the long-lived components shared by every client command.
type deps struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    *store.Store
	progress *progress.Store
	sync     *progresssync.Syncer
	client   *api.Client
	account  *account.Account
	player   *playback.Coordinator
	speech   *tts.Synthesizer
}

// loadConfig reads the config named by --config.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// openDeps opens the store, restores the saved account and progress, and
// starts the progress syncer. Callers must Close the result.
func openDeps(cmd *cobra.Command) (*deps, error) {
	ctx := cmd.Context()
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	log, err := logger.NewQuiet(cfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	dbPath, err := resolveDBPath(cmd, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("resolve DB path: %w", err)
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	d := &deps{cfg: cfg, logger: log, store: st}

	d.progress = progress.New(progress.Options{Logger: log, Strict: cfg.Strict()})
	if err := d.progress.Load(ctx, st.KV()); err != nil {
		log.Warn("discarding cached progress", zap.Error(err))
	}

	creds := &account.Credentials{}
	d.client, err = api.New(api.Options{
		BaseURL: cfg.API.BaseURL,
		Timeout: cfg.API.Timeout,
		Tokens:  creds,
		Logger:  log,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	d.account = account.New(account.Options{
		Backend:     d.client,
		Credentials: creds,
		KV:          st.KV(),
		Logger:      log,
		OnLogout: func(ctx context.Context) error {
			d.progress.ClearSentences()
			d.progress.Reset()
			return d.progress.Save(ctx, st.KV())
		},
	})
	if err := d.account.Load(ctx); err != nil {
		st.Close()
		return nil, err
	}

	d.sync = progresssync.New(progresssync.Options{
		Backend:   d.client,
		State:     d.progress,
		Sink:      progresssync.RecordingSink(log, st.EventRepo()),
		Logger:    log,
		QueueSize: cfg.Sync.QueueSize,
	})
	d.progress.SetMirror(d.sync)

	d.player = playback.New(playback.NewCommandOutput(cfg.Audio.Player), log)

	if cfg.TTS.Enabled {
		d.speech, err = tts.New(ctx, tts.Config{Voice: cfg.TTS.Voice, CredentialsFile: cfg.TTS.CredentialsFile}, log)
		if err != nil {
			log.Warn("text-to-speech unavailable", zap.Error(err))
		}
	}
	return d, nil
}

// Close flushes pending progress pushes, saves local progress and releases
// the store.
func (d *deps) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	d.player.Close()
	if err := d.sync.Close(ctx); err != nil {
		d.logger.Warn("progress sync did not drain", zap.Error(err))
	}
	if err := d.progress.Save(ctx, d.store.KV()); err != nil {
		d.logger.Warn("progress not saved", zap.Error(err))
	}
	if d.speech != nil {
		_ = d.speech.Close()
	}
	_ = d.store.Close()
	_ = d.logger.Sync()
}

// requireLogin fails fast for commands that need the backend.
func (d *deps) requireLogin() error {
	if !d.account.LoggedIn() {
		return errors.New("not logged in; run `kotoba login` first")
	}
	return nil
}

func (d *deps) services() *screen.Services {
	svc := &screen.Services{
		Account:        d.account,
		Progress:       d.progress,
		Sync:           d.sync,
		Client:         d.client,
		Player:         d.player,
		Logger:         d.logger,
		QuizRetryDelay: d.cfg.Quiz.RetryDelay,
		RedirectDelay:  d.cfg.Chat.RedirectDelay,
	}
	if d.speech != nil {
		svc.Speech = d.speech
	}
	return svc
}

// runApp builds dependencies and launches the TUI.
func runApp(cmd *cobra.Command) error {
	d, err := openDeps(cmd)
	if err != nil {
		return err
	}
	defer d.Close()

	if d.cfg.Audio.Player == "" {
		fmt.Fprintln(os.Stderr, "audio.player not configured; audio will be silent.")
	}
	return app.Run(d.services())
}
