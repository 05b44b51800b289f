package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const perPage = 10

type historyLoadedMsg struct {
	Page api.HistoryPage
	Err  error
}

// HistoryScreen lists past daily sets, one page at a time.
type HistoryScreen struct {
	svc      *screen.Services
	page     int
	result   api.HistoryPage
	selected int
	expanded map[int]bool
	loaded   bool
	errMsg   string
}

var _ screen.Screen = (*HistoryScreen)(nil)
var _ screen.KeyHintProvider = (*HistoryScreen)(nil)

// New creates a new HistoryScreen.
func New(svc *screen.Services) *HistoryScreen {
	return &HistoryScreen{
		svc:      svc,
		page:     1,
		expanded: make(map[int]bool),
	}
}

func (s *HistoryScreen) Init() tea.Cmd {
	return s.load(s.page)
}

func (s *HistoryScreen) load(page int) tea.Cmd {
	if !s.svc.Account.LoggedIn() {
		s.loaded = true
		s.errMsg = "로그인이 필요합니다"
		return nil
	}
	s.loaded = false
	sync := s.svc.Sync
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		p, err := sync.PullHistory(ctx, page, perPage)
		return historyLoadedMsg{Page: p, Err: err}
	}
}

func (s *HistoryScreen) Title() string {
	return "지난 문장"
}

func (s *HistoryScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "Enter", Description: "Details"},
		{Key: "↑↓", Description: "Navigate"},
		{Key: "←→", Description: "Page"},
		{Key: "Esc", Description: "Back"},
	}
}

func (s *HistoryScreen) lastPage() int {
	if s.result.Total <= 0 {
		return 1
	}
	return (s.result.Total + perPage - 1) / perPage
}

func (s *HistoryScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case historyLoadedMsg:
		if msg.Err != nil {
			s.errMsg = msg.Err.Error()
		} else {
			s.errMsg = ""
			s.result = msg.Page
			if msg.Page.Page > 0 {
				s.page = msg.Page.Page
			}
			s.selected = 0
			s.expanded = make(map[int]bool)
		}
		s.loaded = true
		return s, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "esc":
			return s, func() tea.Msg { return router.PopScreenMsg{} }
		case "up", "k":
			if s.selected > 0 {
				s.selected--
			}
		case "down", "j":
			if s.selected < len(s.result.Sets)-1 {
				s.selected++
			}
		case "left", "h":
			if s.page > 1 {
				return s, s.load(s.page - 1)
			}
		case "right", "l":
			if s.page < s.lastPage() {
				return s, s.load(s.page + 1)
			}
		case "enter":
			s.expanded[s.selected] = !s.expanded[s.selected]
		}
	}
	return s, nil
}

func (s *HistoryScreen) View(width, height int) string {
	if s.errMsg != "" {
		return lipgloss.NewStyle().
			Width(width).Align(lipgloss.Center).Foreground(theme.Error).
			Render(fmt.Sprintf("\n\nError: %s", s.errMsg))
	}
	if !s.loaded {
		return lipgloss.NewStyle().
			Width(width).Align(lipgloss.Center).Foreground(theme.TextDim).
			Render("\n\n  불러오는 중...")
	}
	if len(s.result.Sets) == 0 {
		return lipgloss.NewStyle().
			Width(width).Align(lipgloss.Center).Foreground(theme.TextDim).Italic(true).
			Render("\n\n  아직 지난 문장이 없습니다")
	}

	var b strings.Builder
	b.WriteString("\n")

	for i, set := range s.result.Sets {
		memorized := 0
		for _, sen := range set.Sentences {
			if sen.Memorized {
				memorized++
			}
		}

		prefix := "  "
		if i == s.selected {
			prefix = "▸ "
		}
		date := set.Date
		if date == "" {
			date = set.ID.String()
		}
		line := fmt.Sprintf("%s%s  %d문장  %d 암기", prefix, date, len(set.Sentences), memorized)

		style := lipgloss.NewStyle().Foreground(theme.Text)
		if i == s.selected {
			style = style.Foreground(theme.Primary).Bold(true)
		}
		b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center, style.Render(line)))
		b.WriteString("\n")

		if s.expanded[i] {
			for _, sen := range set.Sentences {
				mark := lipgloss.NewStyle().Foreground(theme.TextDim).Render("○")
				if sen.Memorized {
					mark = lipgloss.NewStyle().Foreground(theme.Accent).Render("✿")
				}
				b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center,
					fmt.Sprintf("    %s %s  %s", mark, theme.Japanese.Render(sen.Japanese), theme.Hint.Render(sen.Meaning))))
				b.WriteString("\n")
			}
		}
	}

	b.WriteString("\n")
	b.WriteString(lipgloss.PlaceHorizontal(width, lipgloss.Center,
		theme.Hint.Render(fmt.Sprintf("%d / %d 페이지", s.page, s.lastPage()))))
	return b.String()
}
