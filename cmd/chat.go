package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/chat"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/screens/feedback"
)

const feedbackWidth = 72

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Practice today's sentences with the AI tutor",
	Long: `Practice today's sentences with the AI tutor.

Type a line and press Enter to send it. /end finishes the session early.
Feedback is printed when the session ends.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		topic, _ := cmd.Flags().GetString("topic")
		detail, _ := cmd.Flags().GetString("detail")
		if cat, ok := account.LookupCategory(topic); ok {
			topic = cat.Label
		}

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.requireLogin(); err != nil {
			return err
		}
		if topic == "" {
			if p := d.account.Profile(); p != nil {
				if cat, ok := account.LookupCategory(p.Category); ok {
					topic = cat.Label
				}
			}
		}
		if topic == "" {
			return errors.New("--topic is required")
		}

		ended := make(chan learning.ID, 1)
		opts := chat.Options{
			Navigator: func(id learning.ID) {
				select {
				case ended <- id:
				default:
				}
			},
			RedirectDelay: d.cfg.Chat.RedirectDelay,
			Logger:        d.logger,
		}
		if d.cfg.Audio.Player != "" {
			opts.Player = d.player
		}
		lc := chat.NewLifecycle(d.client, opts)
		defer lc.Close()

		ctx := cmd.Context()
		s, err := lc.CreateSession(ctx, topic, detail)
		if err != nil {
			return err
		}
		_, limit := s.Turns()
		fmt.Printf("Session %s  topic: %s  (%d turns, /end to finish)\n\n", s.ID(), topic, limit)

		r := &transcript{}
		if err := s.Wait(ctx); err != nil {
			return err
		}
		r.flush(s)

		in := bufio.NewScanner(cmd.InOrStdin())
		for !s.State().Closed() {
			cur, limit := s.Turns()
			fmt.Printf("[%d/%d] > ", cur, limit)
			if !in.Scan() {
				break
			}
			line := strings.TrimSpace(in.Text())
			switch line {
			case "":
				continue
			case "/end":
				if err := lc.EndSession(ctx); err != nil {
					d.logger.Warn("session not ended cleanly", zap.Error(err))
				}
				continue
			}
			if err := s.SendTurn(ctx, line); err != nil {
				if errors.Is(err, chat.ErrSessionClosed) {
					break
				}
				fmt.Fprintln(os.Stderr, "send failed:", err)
			}
			r.flush(s)
		}
		if !s.State().Closed() {
			// Stdin ended first.
			if err := lc.EndSession(ctx); err != nil {
				d.logger.Warn("session not ended cleanly", zap.Error(err))
			}
		}

		fmt.Println("\nSession", s.State())
		select {
		case <-ended:
		case <-ctx.Done():
			return ctx.Err()
		}
		return printFeedback(ctx, lc, s.ID())
	},
}

var feedbackCmd = &cobra.Command{
	Use:   "feedback <session-id>",
	Short: "Show the feedback for a finished chat session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.requireLogin(); err != nil {
			return err
		}
		lc := chat.NewLifecycle(d.client, chat.Options{Logger: d.logger})
		defer lc.Close()
		return printFeedback(cmd.Context(), lc, learning.ID(args[0]))
	},
}

func printFeedback(ctx context.Context, lc *chat.Lifecycle, id learning.ID) error {
	fb, err := lc.Feedback(ctx, id)
	if err != nil {
		if api.IsUnauthorized(err) {
			return fmt.Errorf("%w; run `kotoba login` again", err)
		}
		return err
	}
	fmt.Println()
	for _, line := range feedback.Render(fb, feedbackWidth) {
		fmt.Println(line)
	}
	return nil
}

// transcript prints messages once they have finished streaming.
type transcript struct {
	printed int
}

func (t *transcript) flush(s *chat.Session) {
	msgs := s.Messages()
	for t.printed < len(msgs) {
		m := msgs[t.printed]
		if m.Streaming {
			return
		}
		t.printed++
		if m.Role == chat.RoleUser {
			continue
		}
		prefix := "tutor"
		if m.HasAudio() {
			prefix += " ♪"
		}
		fmt.Printf("%s: %s\n\n", prefix, m.Content)
	}
}

func init() {
	chatCmd.Flags().String("topic", "", "Conversation topic or category ID (default: onboarding category)")
	chatCmd.Flags().String("detail", "", "Optional topic detail, e.g. a sub-category")
}
