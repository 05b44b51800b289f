package cmd

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/quiz"
	"github.com/kotoba-app/kotoba/internal/store"
)

var todayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's sentences and their progress",
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		if d.account.LoggedIn() {
			if _, err := d.sync.PullTodaySentences(cmd.Context()); err != nil {
				d.logger.Warn("using cached sentences", zap.Error(err))
				fmt.Println("(offline: showing cached sentences)")
			} else if _, err := d.sync.PullProgressSnapshot(cmd.Context()); err != nil {
				d.logger.Warn("progress snapshot failed", zap.Error(err))
			}
		}

		sentences := d.progress.Sentences()
		if len(sentences) == 0 {
			if !d.account.LoggedIn() {
				return errors.New("no cached sentences; run `kotoba login` first")
			}
			fmt.Println("No sentences for today.")
			return nil
		}

		sum := d.progress.Summary()
		fmt.Printf("Today  %d/%d memorized\n", sum.Memorized, sum.Total)
		fmt.Println(strings.Repeat("─", 60))
		for i, s := range sentences {
			p := d.progress.Get(s.ID)
			fmt.Printf("%d. %s %s  %s\n", i+1, statusGlyph(p), s.Japanese, stepMarks(p))
			fmt.Printf("   %s\n", s.Meaning)
		}
		return nil
	},
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List past daily sentence sets",
	RunE: func(cmd *cobra.Command, args []string) error {
		page, _ := cmd.Flags().GetInt("page")
		perPage, _ := cmd.Flags().GetInt("per-page")

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()
		if err := d.requireLogin(); err != nil {
			return err
		}

		h, err := d.sync.PullHistory(cmd.Context(), page, perPage)
		if err != nil {
			return err
		}
		if len(h.Sets) == 0 {
			fmt.Println("No history yet.")
			return nil
		}
		for _, set := range h.Sets {
			fmt.Printf("%s  (%d sentences)\n", orDash(set.Date), len(set.Sentences))
			for _, s := range set.Sentences {
				mark := " "
				if s.Memorized {
					mark = "✿"
				}
				fmt.Printf("  %s %s  %s\n", mark, s.Japanese, s.Meaning)
			}
		}
		if h.Total > 0 {
			fmt.Printf("\npage %d, %d sets total\n", max(h.Page, 1), h.Total)
		}
		return nil
	},
}

var studyCmd = &cobra.Command{
	Use:   "study <sentence>",
	Short: "Show a sentence and mark learning steps",
	Long: `Show a sentence and mark learning steps.

The sentence is its number in ` + "`kotoba today`" + ` or its ID.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps, _ := cmd.Flags().GetStringSlice("step")
		undo, _ := cmd.Flags().GetBool("undo")

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		s, err := lookupSentence(d, args[0])
		if err != nil {
			return err
		}
		for _, name := range steps {
			step, err := learning.ParseStep(name)
			if err != nil {
				return err
			}
			if d.progress.Get(s.ID).Memorized() {
				fmt.Println("Already memorized; steps stay complete.")
				break
			}
			d.progress.SetStep(s.ID, step, !undo)
		}

		printSentence(s, d.progress.Get(s.ID))
		return nil
	},
}

var quizCmd = &cobra.Command{
	Use:   "quiz <sentence>",
	Short: "Answer a sentence's quiz and memorize it",
	Long: `Answer a sentence's quiz and memorize it.

Without answers the questions are printed. Pass --fill with the chosen option
and --order with fragment numbers, e.g. --order 3,1,2. When every quiz part
is correct the sentence is submitted and marked memorized.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fill, _ := cmd.Flags().GetString("fill")
		order, _ := cmd.Flags().GetString("order")

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		s, err := lookupSentence(d, args[0])
		if err != nil {
			return err
		}
		q := s.Quiz
		if !q.HasAny() {
			return quiz.ErrNoQuiz
		}
		if fill == "" && order == "" {
			printQuiz(q)
			return nil
		}

		opts := quiz.AttemptOptions{}
		if d.account.LoggedIn() {
			opts.Submitter = d.sync
		}
		attempt := quiz.NewAttempt(s, d.progress, opts)
		defer attempt.Close()

		if fb := q.FillBlank; fb != nil && fill != "" {
			if n, err := strconv.Atoi(fill); err == nil && n >= 1 && n <= len(fb.Options) {
				fill = fb.Options[n-1]
			}
			ok, err := attempt.AnswerFillBlank(fill)
			if err != nil {
				return err
			}
			fmt.Println("fill in the blank:", verdict(ok))
		}
		if o := q.Ordering; o != nil && order != "" {
			picks, err := parseOrder(order, len(o.Fragments))
			if err != nil {
				return err
			}
			ok, err := attempt.AnswerOrdering(quiz.FragmentsAt(o, picks))
			if err != nil {
				return err
			}
			fmt.Println("ordering:", verdict(ok))
		}

		p, err := attempt.Memorize(cmd.Context())
		var se *quiz.SubmitError
		switch {
		case errors.Is(err, quiz.ErrAlreadyMemorized):
			fmt.Println("Already memorized.")
			return nil
		case errors.Is(err, quiz.ErrQuizIncomplete):
			fmt.Println("Not memorized yet: answer every quiz part correctly.")
			return nil
		case errors.As(err, &se):
			return fmt.Errorf("quiz was not registered: %w", se.Err)
		case err != nil:
			return err
		}
		fmt.Printf("%s %s memorized\n", statusGlyph(p), s.Japanese)
		return nil
	},
}

var progressCmd = &cobra.Command{
	Use:   "progress",
	Short: "Summarize progress and failed syncs",
	RunE: func(cmd *cobra.Command, args []string) error {
		failures, _ := cmd.Flags().GetBool("failures")
		limit, _ := cmd.Flags().GetInt("limit")

		d, err := openDeps(cmd)
		if err != nil {
			return err
		}
		defer d.Close()

		sum := d.progress.Summary()
		fmt.Printf("Daily set:    %s\n", orDash(d.progress.DailySetID().String()))
		fmt.Printf("Memorized:    %d/%d\n", sum.Memorized, sum.Total)
		fmt.Printf("In progress:  %d\n", sum.InProgress)
		if p := d.account.Profile(); p != nil {
			if cat, ok := lookupCategoryLabel(p.Category); ok {
				fmt.Printf("Interests:    %s (%s)\n", cat, strings.Join(p.SubCategories, ", "))
			}
			fmt.Printf("Level:        %s\n", orDash(p.Level))
		}

		if !failures {
			return nil
		}
		recs, err := d.store.EventRepo().QuerySyncFailures(cmd.Context(), store.QueryOpts{Limit: limit})
		if err != nil {
			return fmt.Errorf("query sync failures: %w", err)
		}
		fmt.Println()
		if len(recs) == 0 {
			fmt.Println("No failed syncs.")
			return nil
		}
		fmt.Printf("%-5s  %-19s  %-14s  %-12s  %-4s  %s\n", "ID", "Timestamp", "Operation", "Sentence", "HTTP", "Error")
		fmt.Println(strings.Repeat("─", 90))
		for _, r := range recs {
			status := "-"
			if r.StatusCode > 0 {
				status = strconv.Itoa(r.StatusCode)
			}
			fmt.Printf("%-5d  %-19s  %-14s  %-12s  %-4s  %s\n",
				r.ID,
				r.Timestamp.Local().Format(timeLayout),
				r.Operation,
				r.SentenceID,
				status,
				r.ErrorMessage,
			)
		}
		return nil
	},
}

// lookupSentence resolves a 1-based position in today's list or an ID.
func lookupSentence(d *deps, arg string) (learning.Sentence, error) {
	sentences := d.progress.Sentences()
	if n, err := strconv.Atoi(arg); err == nil && n >= 1 && n <= len(sentences) {
		return sentences[n-1], nil
	}
	if s, ok := d.progress.Sentence(learning.ID(arg)); ok {
		return s, nil
	}
	if len(sentences) == 0 {
		return learning.Sentence{}, errors.New("no cached sentences; run `kotoba today` first")
	}
	return learning.Sentence{}, fmt.Errorf("sentence %q not in today's set", arg)
}

// parseOrder reads comma separated 1-based fragment numbers.
func parseOrder(s string, n int) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil || i < 1 || i > n {
			return nil, fmt.Errorf("invalid fragment %q: want 1..%d", f, n)
		}
		out = append(out, i-1)
	}
	return out, nil
}

func printSentence(s learning.Sentence, p learning.SentenceProgress) {
	fmt.Printf("%s %s\n", statusGlyph(p), s.Japanese)
	if s.Reading != "" {
		fmt.Println("  ", s.Reading)
	}
	if s.Romaji != "" {
		fmt.Println("  ", s.Romaji)
	}
	fmt.Println("  ", s.Meaning)
	if len(s.Words) > 0 {
		fmt.Println("\nWords")
		for _, w := range s.Words {
			if w.Reading != "" {
				fmt.Printf("  %s (%s)  %s\n", w.Term, w.Reading, w.Meaning)
			} else {
				fmt.Printf("  %s  %s\n", w.Term, w.Meaning)
			}
		}
	}
	if len(s.Grammar) > 0 {
		fmt.Println("\nGrammar")
		for _, g := range s.Grammar {
			if g.Pattern != "" {
				fmt.Printf("  %s: %s\n", g.Pattern, g.Description)
			} else {
				fmt.Printf("  %s\n", g.Description)
			}
		}
	}
	if len(s.Examples) > 0 {
		fmt.Println("\nExamples")
		for _, e := range s.Examples {
			fmt.Printf("  %s  %s\n", e.Japanese, e.Meaning)
		}
	}
	fmt.Println("\nSteps ", stepMarks(p))
}

func printQuiz(q learning.Quiz) {
	if fb := q.FillBlank; fb != nil {
		fmt.Println("Fill in the blank:", fb.Question)
		for i, o := range fb.Options {
			fmt.Printf("  %d) %s\n", i+1, o)
		}
	}
	if o := q.Ordering; o != nil {
		if q.FillBlank != nil {
			fmt.Println()
		}
		fmt.Println("Put the fragments in order:", o.Question)
		for i, f := range o.Fragments {
			fmt.Printf("  %d) %s\n", i+1, f)
		}
	}
}

func statusGlyph(p learning.SentenceProgress) string {
	switch p.Status {
	case learning.StatusMemorized:
		return "✿"
	case learning.StatusInProgress:
		return "◐"
	}
	return "○"
}

func stepMarks(p learning.SentenceProgress) string {
	parts := make([]string, 0, len(learning.Steps))
	for _, s := range learning.Steps {
		mark := "·"
		if p.Step(s) {
			mark = "✓"
		}
		parts = append(parts, mark+string(s))
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func verdict(ok bool) string {
	if ok {
		return "correct"
	}
	return "incorrect"
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func lookupCategoryLabel(id string) (string, bool) {
	cat, ok := account.LookupCategory(id)
	return cat.Label, ok
}

func init() {
	historyCmd.Flags().Int("page", 1, "Page number")
	historyCmd.Flags().Int("per-page", 10, "Sets per page")

	studyCmd.Flags().StringSlice("step", nil, "Step to mark: understand, speak, check (repeatable)")
	studyCmd.Flags().Bool("undo", false, "Clear the given steps instead of setting them")

	quizCmd.Flags().String("fill", "", "Fill-in-the-blank answer (option text or number)")
	quizCmd.Flags().String("order", "", "Fragment numbers in order, comma separated")

	progressCmd.Flags().Bool("failures", false, "List progress pushes that did not reach the server")
	progressCmd.Flags().Int("limit", 20, "Maximum failures to list")
}
