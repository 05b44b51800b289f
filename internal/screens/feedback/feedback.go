package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/ui/components"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const fetchTimeout = 30 * time.Second

type loadedMsg struct {
	Feedback *api.Feedback
	Err      error
}

// FeedbackScreen shows the evaluation of a finished chat session.
type FeedbackScreen struct {
	svc       *screen.Services
	sessionID learning.ID
	feedback  *api.Feedback
	err       error
	offset    int
}

var _ screen.Screen = (*FeedbackScreen)(nil)
var _ screen.KeyHintProvider = (*FeedbackScreen)(nil)

// New creates a FeedbackScreen for sessionID.
func New(svc *screen.Services, sessionID learning.ID) *FeedbackScreen {
	return &FeedbackScreen{svc: svc, sessionID: sessionID}
}

func (f *FeedbackScreen) Init() tea.Cmd {
	return f.fetch()
}

func (f *FeedbackScreen) fetch() tea.Cmd {
	client, id := f.svc.Client, f.sessionID
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), fetchTimeout)
		defer cancel()
		fb, err := client.Feedback(ctx, id)
		return loadedMsg{Feedback: fb, Err: err}
	}
}

func (f *FeedbackScreen) Title() string {
	return "회화 피드백"
}

func (f *FeedbackScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "↑↓", Description: "Scroll"},
		{Key: "R", Description: "Retry"},
		{Key: "Esc", Description: "Home"},
	}
}

func (f *FeedbackScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		f.feedback, f.err = msg.Feedback, msg.Err
		if msg.Err != nil {
			f.svc.Logger.Warn("feedback unavailable",
				zap.String("session_id", f.sessionID.String()), zap.Error(msg.Err))
		}
		return f, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "esc", "enter":
			return f, func() tea.Msg { return router.PopScreenMsg{} }
		case "r":
			if f.err != nil {
				f.err = nil
				return f, f.fetch()
			}
		case "up", "k":
			if f.offset > 0 {
				f.offset--
			}
		case "down", "j":
			f.offset++
		}
	}
	return f, nil
}

func (f *FeedbackScreen) View(width, height int) string {
	switch {
	case f.err != nil:
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			theme.Incorrect.Render("피드백을 불러오지 못했습니다. R 로 다시 시도하세요."))
	case f.feedback == nil:
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			theme.Hint.Render("대화를 평가하는 중..."))
	}

	cw := min(max(width-6, 30), 72)
	lines := Render(f.feedback, cw)
	if f.offset > len(lines)-1 {
		f.offset = max(len(lines)-1, 0)
	}
	lines = lines[f.offset:]
	if len(lines) > height {
		lines = lines[:height]
	}
	return lipgloss.PlaceHorizontal(width, lipgloss.Center, strings.Join(lines, "\n"))
}

// Render lays out a feedback report as lines of at most width cells.
func Render(fb *api.Feedback, width int) []string {
	var lines []string
	add := func(s string) { lines = append(lines, strings.Split(s, "\n")...) }

	add(theme.Title.Render(fmt.Sprintf("종합 점수 %d", fb.Scores.Total)))
	add("")
	meterWidth := max(width-4, 20)
	for _, sc := range []struct {
		label string
		value int
	}{
		{"문법", fb.Scores.Grammar},
		{"발음", fb.Scores.Pronunciation},
		{"유창성", fb.Scores.Fluency},
	} {
		add(components.ScoreMeter(sc.label, sc.value, meterWidth).View())
	}

	if len(fb.Summaries) > 0 {
		add("")
		for _, n := range fb.Summaries {
			mark := theme.Correct.Render("＋")
			if n.Type == "improvement" {
				mark = lipgloss.NewStyle().Foreground(theme.Accent).Render("△")
			}
			add(mark + " " + lipgloss.NewStyle().Width(width-3).Render(n.Text))
		}
	}

	if len(fb.Usage) > 0 {
		add("")
		add(lipgloss.NewStyle().Foreground(theme.Secondary).Bold(true).Render("오늘의 문장 활용"))
		for _, u := range fb.Usage {
			add(fmt.Sprintf("%s %s", usageGlyph(u.Status), theme.Japanese.Render(u.Japanese)))
		}
	}

	if len(fb.Highlights) > 0 {
		add("")
		for _, h := range fb.Highlights {
			body := []string{
				lipgloss.NewStyle().Foreground(theme.Primary).Bold(true).Render(h.Title),
				theme.Japanese.Render(h.Japanese),
			}
			if h.Meaning != "" {
				body = append(body, theme.Hint.Render(h.Meaning))
			}
			if h.Comment != "" {
				body = append(body, theme.Body.Render(h.Comment))
			}
			add(theme.Card.Width(width).Render(strings.Join(body, "\n")))
		}
	}

	if fb.Text != "" {
		add("")
		add(theme.Body.Width(width).Render(fb.Text))
	}
	return lines
}

func usageGlyph(status string) string {
	switch status {
	case "used_in_conversation":
		return theme.Correct.Render("●")
	case "practice_only":
		return lipgloss.NewStyle().Foreground(theme.Accent).Render("◐")
	}
	return lipgloss.NewStyle().Foreground(theme.TextDim).Render("○")
}
