package quiz

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/quiz"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/ui/components"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const submitTimeout = 20 * time.Second

type part int

const (
	partFillBlank part = iota
	partOrdering
)

// attemptChangedMsg fires when a wrong answer's mark resets.
type attemptChangedMsg struct{}

type memorizedMsg struct {
	Err error
}

// QuizScreen runs the fill-blank and ordering quizzes of one sentence and
// lets the learner memorize it once both are solved.
type QuizScreen struct {
	svc      *screen.Services
	sentence learning.Sentence
	attempt  *quiz.Attempt
	notifier *components.Notifier

	focus      part
	choice     components.MultiChoice
	picks      []int
	submitting bool
	message    string
	failed     bool
}

var _ screen.Screen = (*QuizScreen)(nil)
var _ screen.KeyHintProvider = (*QuizScreen)(nil)

// New creates a QuizScreen for sentence.
func New(svc *screen.Services, sentence learning.Sentence) *QuizScreen {
	n := components.NewNotifier()
	opts := quiz.AttemptOptions{
		RetryDelay: svc.QuizRetryDelay,
		OnChange:   n.Notify,
	}
	if svc.Sync != nil && svc.Account.LoggedIn() {
		opts.Submitter = svc.Sync
	}
	q := &QuizScreen{
		svc:      svc,
		sentence: sentence,
		attempt:  quiz.NewAttempt(sentence, svc.Progress, opts),
		notifier: n,
	}
	if fb := sentence.Quiz.FillBlank; fb != nil {
		q.choice = components.NewMultiChoice(fb.Question, fb.Options)
	} else {
		q.focus = partOrdering
	}
	return q
}

func (q *QuizScreen) Init() tea.Cmd {
	return q.notifier.Wait(attemptChangedMsg{})
}

func (q *QuizScreen) Title() string {
	return "퀴즈"
}

func (q *QuizScreen) KeyHints() []layout.KeyHint {
	hints := []layout.KeyHint{{Key: "Tab", Description: "Switch"}}
	if q.focus == partOrdering {
		hints = append(hints,
			layout.KeyHint{Key: "1-9", Description: "Pick"},
			layout.KeyHint{Key: "⌫", Description: "Undo"})
	}
	return append(hints,
		layout.KeyHint{Key: "Enter", Description: "Answer"},
		layout.KeyHint{Key: "M", Description: "암기 완료"},
		layout.KeyHint{Key: "Esc", Description: "Back"})
}

// Close stops the attempt's reset timers.
func (q *QuizScreen) Close() {
	q.attempt.Close()
	q.notifier.Close()
}

func (q *QuizScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case attemptChangedMsg:
		st := q.attempt.State()
		if st.FillBlank == quiz.MarkIdle && q.choice.Submitted {
			q.choice.Reset()
		}
		if st.Ordering == quiz.MarkIdle && len(st.OrderSubmitted) == 0 && len(q.picks) == len(q.fragments()) {
			q.picks = nil
		}
		return q, q.notifier.Wait(attemptChangedMsg{})

	case memorizedMsg:
		q.submitting = false
		q.failed = msg.Err != nil
		switch {
		case msg.Err == nil:
			q.message = "✿ 암기 완료!"
		case errors.Is(msg.Err, quiz.ErrAlreadyMemorized):
			q.failed = false
			q.message = "이미 암기한 문장입니다"
		case errors.Is(msg.Err, quiz.ErrQuizIncomplete):
			q.message = "모든 퀴즈를 먼저 맞혀 주세요"
		default:
			var se *quiz.SubmitError
			if errors.As(msg.Err, &se) {
				q.svc.Logger.Warn("quiz submit failed",
					zap.String("sentence_id", se.SentenceID.String()), zap.Error(se.Err))
			}
			q.message = "제출에 실패했습니다. 다시 시도해 주세요"
		}
		return q, nil

	case tea.KeyPressMsg:
		return q.handleKey(msg)
	}
	return q, nil
}

func (q *QuizScreen) handleKey(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	key := msg.String()
	switch key {
	case "esc":
		return q, func() tea.Msg { return router.PopScreenMsg{} }
	case "tab":
		q.switchFocus()
		return q, nil
	case "m":
		if q.submitting {
			return q, nil
		}
		q.submitting = true
		q.message = "제출 중..."
		attempt := q.attempt
		return q, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
			defer cancel()
			_, err := attempt.Memorize(ctx)
			return memorizedMsg{Err: err}
		}
	}

	if q.focus == partFillBlank {
		return q.updateFillBlank(msg)
	}
	return q.updateOrdering(key)
}

func (q *QuizScreen) switchFocus() {
	has := q.sentence.Quiz
	if q.focus == partFillBlank && has.Ordering != nil {
		q.focus = partOrdering
	} else if q.focus == partOrdering && has.FillBlank != nil {
		q.focus = partFillBlank
	}
}

func (q *QuizScreen) updateFillBlank(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	if q.attempt.State().FillBlank != quiz.MarkIdle {
		return q, nil
	}
	var cmd tea.Cmd
	q.choice, cmd = q.choice.Update(msg)
	if chosen, ok := q.choice.Chosen(); ok {
		correct, err := q.attempt.AnswerFillBlank(chosen)
		if err != nil {
			q.svc.Logger.Error("fill-blank answer", zap.Error(err))
		}
		if correct && q.sentence.Quiz.Ordering != nil && q.attempt.State().Ordering != quiz.MarkCorrect {
			q.focus = partOrdering
		}
	}
	return q, cmd
}

func (q *QuizScreen) updateOrdering(key string) (screen.Screen, tea.Cmd) {
	st := q.attempt.State()
	if st.Ordering != quiz.MarkIdle {
		return q, nil
	}
	frags := q.fragments()
	switch key {
	case "backspace":
		if len(q.picks) > 0 {
			q.picks = q.picks[:len(q.picks)-1]
		}
	case "enter":
		if len(q.picks) != len(frags) {
			return q, nil
		}
		o := q.sentence.Quiz.Ordering
		if _, err := q.attempt.AnswerOrdering(quiz.FragmentsAt(o, q.picks)); err != nil {
			q.svc.Logger.Error("ordering answer", zap.Error(err))
		}
		if q.attempt.State().Ordering == quiz.MarkIncorrect {
			// Cleared again once the mark resets.
			return q, nil
		}
	default:
		n, err := strconv.Atoi(key)
		if err != nil || n < 1 || n > len(frags) || slices.Contains(q.picks, n-1) {
			return q, nil
		}
		q.picks = append(q.picks, n-1)
	}
	return q, nil
}

func (q *QuizScreen) fragments() []string {
	if o := q.sentence.Quiz.Ordering; o != nil {
		return o.Fragments
	}
	return nil
}

func (q *QuizScreen) View(width, height int) string {
	cw := min(max(width-6, 30), 72)
	st := q.attempt.State()

	out := []string{theme.Japanese.Render(q.sentence.Meaning), ""}

	if q.sentence.Quiz.FillBlank != nil {
		var verdict *bool
		switch st.FillBlank {
		case quiz.MarkCorrect:
			v := true
			verdict = &v
		case quiz.MarkIncorrect:
			v := false
			verdict = &v
		}
		body := heading("빈칸 채우기", q.focus == partFillBlank, st.FillBlank) + "\n\n" + q.choice.View(verdict)
		out = append(out, theme.Card.Width(cw).Render(strings.TrimRight(body, "\n")))
	}

	if o := q.sentence.Quiz.Ordering; o != nil {
		out = append(out, theme.Card.Width(cw).Render(
			heading("순서 맞추기", q.focus == partOrdering, st.Ordering)+"\n\n"+q.orderingBody(o, st)))
	}

	if q.attempt.Ready() && !q.svc.Progress.Get(q.sentence.ID).Memorized() {
		out = append(out, "", lipgloss.NewStyle().Foreground(theme.Accent).Bold(true).
			Render("모든 퀴즈 정답! M 을 눌러 암기 완료"))
	}
	if q.message != "" {
		style := theme.Hint
		if q.failed {
			style = theme.Incorrect
		}
		out = append(out, "", style.Render(q.message))
	}

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Top,
		lipgloss.JoinVertical(lipgloss.Center, out...))
}

func (q *QuizScreen) orderingBody(o *learning.Ordering, st quiz.AttemptState) string {
	var b strings.Builder
	if o.Question != "" {
		b.WriteString(o.Question + "\n\n")
	}
	for i, f := range o.Fragments {
		style := theme.Unselected
		if slices.Contains(q.picks, i) {
			style = lipgloss.NewStyle().Foreground(theme.TextDim).Strikethrough(true)
		}
		b.WriteString(style.Render(fmt.Sprintf("[%d] %s", i+1, f)) + "  ")
	}
	b.WriteString("\n\n")

	answer := st.OrderSubmitted
	if len(answer) == 0 {
		answer = quiz.FragmentsAt(o, q.picks)
	}
	line := "▸ " + strings.Join(answer, " ")
	switch st.Ordering {
	case quiz.MarkCorrect:
		b.WriteString(theme.Correct.Render(line))
	case quiz.MarkIncorrect:
		b.WriteString(theme.Incorrect.Render(line))
	default:
		b.WriteString(theme.Japanese.Render(line))
	}
	return b.String()
}

func heading(label string, focused bool, mark quiz.Mark) string {
	style := lipgloss.NewStyle().Foreground(theme.TextDim)
	if focused {
		style = lipgloss.NewStyle().Foreground(theme.Primary).Bold(true)
	}
	switch mark {
	case quiz.MarkCorrect:
		label += " ✓"
	case quiz.MarkIncorrect:
		label += " ✗"
	}
	return style.Render(label)
}
