package today

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/screens/sentence"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const loadTimeout = 15 * time.Second

type loadedMsg struct {
	Err error
}

// TodayScreen lists today's sentences with their progress.
type TodayScreen struct {
	svc      *screen.Services
	selected int
	loading  bool
	errMsg   string
}

var _ screen.Screen = (*TodayScreen)(nil)
var _ screen.KeyHintProvider = (*TodayScreen)(nil)

// New creates a TodayScreen.
func New(svc *screen.Services) *TodayScreen {
	return &TodayScreen{svc: svc}
}

func (s *TodayScreen) Init() tea.Cmd {
	return s.refresh()
}

// refresh pulls today's set and the server's progress. Cached sentences
// stay on screen when the backend is unreachable.
func (s *TodayScreen) refresh() tea.Cmd {
	if !s.svc.Account.LoggedIn() {
		if len(s.svc.Progress.Sentences()) == 0 {
			s.errMsg = "로그인이 필요합니다. kotoba login 을 실행하세요."
		}
		return nil
	}
	s.loading = true
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loadTimeout)
		defer cancel()
		if _, err := s.svc.Sync.PullTodaySentences(ctx); err != nil {
			return loadedMsg{Err: err}
		}
		if _, err := s.svc.Sync.PullProgressSnapshot(ctx); err != nil {
			s.svc.Logger.Warn("progress snapshot unavailable", zap.Error(err))
		}
		return loadedMsg{}
	}
}

func (s *TodayScreen) Title() string {
	return "오늘의 문장"
}

func (s *TodayScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "Enter", Description: "Study"},
		{Key: "↑↓", Description: "Navigate"},
		{Key: "R", Description: "Reload"},
		{Key: "Esc", Description: "Back"},
	}
}

func (s *TodayScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case loadedMsg:
		s.loading = false
		s.errMsg = ""
		if msg.Err != nil {
			s.errMsg = msg.Err.Error()
		}
		return s, nil

	case tea.KeyPressMsg:
		sentences := s.svc.Progress.Sentences()
		switch msg.String() {
		case "esc":
			return s, func() tea.Msg { return router.PopScreenMsg{} }
		case "up", "k":
			if s.selected > 0 {
				s.selected--
			}
		case "down", "j":
			if s.selected < len(sentences)-1 {
				s.selected++
			}
		case "r":
			return s, s.refresh()
		case "enter":
			if s.selected < len(sentences) {
				next := sentence.New(s.svc, sentences[s.selected].ID)
				return s, func() tea.Msg { return router.PushScreenMsg{Screen: next} }
			}
		}
	}
	return s, nil
}

func (s *TodayScreen) View(width, height int) string {
	sentences := s.svc.Progress.Sentences()
	center := lipgloss.NewStyle().Width(width).Align(lipgloss.Center)

	var b strings.Builder
	b.WriteString("\n")
	if s.loading {
		b.WriteString(center.Foreground(theme.TextDim).Render("불러오는 중..."))
		b.WriteString("\n")
	}
	if s.errMsg != "" {
		b.WriteString(center.Foreground(theme.Error).Render(s.errMsg))
		b.WriteString("\n")
	}
	if len(sentences) == 0 {
		if !s.loading {
			b.WriteString(center.Foreground(theme.TextDim).Italic(true).Render("오늘의 문장이 없습니다"))
		}
		return b.String()
	}

	sum := s.svc.Progress.Summary()
	b.WriteString(center.Foreground(theme.Accent).Render(
		fmt.Sprintf("%d / %d 암기 완료", sum.Memorized, sum.Total)))
	b.WriteString("\n\n")

	for i, sen := range sentences {
		p := s.svc.Progress.Get(sen.ID)
		line := fmt.Sprintf("%s  %s  %s", statusGlyph(p), sen.Japanese, stepDots(p))
		style := theme.Unselected
		if i == s.selected {
			line = "▸ " + line
			style = theme.Selected
		} else {
			line = "  " + line
		}
		b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, style.Render(line)))
		b.WriteString("\n")
		if i == s.selected && sen.Meaning != "" {
			b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, theme.Hint.Render(sen.Meaning)))
			b.WriteString("\n")
		}
	}
	return b.String()
}

func statusGlyph(p learning.SentenceProgress) string {
	switch p.Status {
	case learning.StatusMemorized:
		return lipgloss.NewStyle().Foreground(theme.Accent).Render("✿")
	case learning.StatusInProgress:
		return lipgloss.NewStyle().Foreground(theme.Secondary).Render("◐")
	}
	return lipgloss.NewStyle().Foreground(theme.TextDim).Render("○")
}

// stepDots shows understand, speak and check in order.
func stepDots(p learning.SentenceProgress) string {
	var b strings.Builder
	for _, step := range learning.Steps {
		if p.Step(step) {
			b.WriteString(lipgloss.NewStyle().Foreground(theme.Success).Render("●"))
		} else {
			b.WriteString(lipgloss.NewStyle().Foreground(theme.Border).Render("●"))
		}
	}
	return b.String()
}
