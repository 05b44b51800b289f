package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/devserver"
	"github.com/kotoba-app/kotoba/internal/llm"
	"github.com/kotoba-app/kotoba/internal/logger"
	"github.com/kotoba-app/kotoba/internal/store"
	"github.com/kotoba-app/kotoba/internal/tts"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the in-memory learning backend for local development",
	Long: `Run the in-memory learning backend for local development.

Tutor replies come from the configured LLM provider, or from a scripted
conversation when none is configured. Accounts and progress live in memory
and are lost on exit.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.Server.Addr = addr
		}
		chunkDelay, _ := cmd.Flags().GetDuration("chunk-delay")

		log, err := logger.New(cfg)
		if err != nil {
			return fmt.Errorf("create logger: %w", err)
		}
		defer func() { _ = log.Sync() }()

		dbPath, err := resolveDBPath(cmd, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("resolve DB path: %w", err)
		}
		st, err := store.Open(dbPath)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer st.Close()

		ctx := cmd.Context()
		opts := devserver.Options{
			JWTSecret:      []byte(cfg.Server.JWTSecret),
			TokenTTL:       cfg.Server.TokenTTL,
			AllowedOrigins: cfg.Server.AllowedOrigins,
			MaxTurn:        cfg.Server.MaxTurn,
			ChunkDelay:     chunkDelay,
			Logger:         log,
		}

		provider, err := llm.NewProvider(ctx, cfg.LLM, st.EventRepo(), log)
		switch {
		case errors.Is(err, llm.ErrDisabled):
			log.Info("no LLM provider configured; using the scripted tutor")
		case err != nil:
			return fmt.Errorf("create LLM provider: %w", err)
		default:
			opts.Tutor = devserver.NewLLMTutor(provider)
			log.Info("LLM tutor enabled", zap.String("model", provider.ModelID()))
		}

		if cfg.TTS.Enabled {
			speech, err := tts.New(ctx, tts.Config{Voice: cfg.TTS.Voice, CredentialsFile: cfg.TTS.CredentialsFile}, log)
			if err != nil {
				log.Warn("text-to-speech unavailable", zap.Error(err))
			} else {
				defer speech.Close()
				opts.Speech = speech
			}
		}

		srv, err := devserver.New(opts)
		if err != nil {
			return err
		}
		return srv.ListenAndServe(ctx, cfg.Server.Addr)
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Listen address (overrides server.addr)")
	serveCmd.Flags().Duration("chunk-delay", 40*time.Millisecond, "Pause between streamed reply chunks")
}
