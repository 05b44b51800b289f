package home

import (
	"fmt"
	"strings"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	chatscreen "github.com/kotoba-app/kotoba/internal/screens/chat"
	"github.com/kotoba-app/kotoba/internal/screens/history"
	"github.com/kotoba-app/kotoba/internal/screens/onboarding"
	"github.com/kotoba-app/kotoba/internal/screens/today"
	"github.com/kotoba-app/kotoba/internal/ui/components"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const title = `╦╔═╔═╗╔╦╗╔═╗╔╗ ╔═╗
╠╩╗║ ║ ║ ║ ║╠╩╗╠═╣
╩ ╩╚═╝ ╩ ╚═╝╚═╝╩ ╩`

// HomeScreen is the main menu.
type HomeScreen struct {
	svc  *screen.Services
	menu components.Menu
}

var _ screen.Screen = (*HomeScreen)(nil)

// New creates a new HomeScreen.
func New(svc *screen.Services) *HomeScreen {
	push := func(build func() screen.Screen) func() tea.Cmd {
		return func() tea.Cmd {
			return func() tea.Msg { return router.PushScreenMsg{Screen: build()} }
		}
	}
	items := []components.MenuItem{
		{Label: "오늘의 문장", Action: push(func() screen.Screen { return today.New(svc) })},
		{Label: "실전 회화", Action: push(func() screen.Screen { return chatscreen.New(svc) })},
		{Label: "지난 문장", Action: push(func() screen.Screen { return history.New(svc) })},
		{Label: "관심사 다시 설정", Action: push(func() screen.Screen { return onboarding.New(svc, nil) })},
		{Label: "종료", Action: func() tea.Cmd { return tea.Quit }},
	}
	return &HomeScreen{svc: svc, menu: components.NewMenu(items)}
}

func (h *HomeScreen) Init() tea.Cmd {
	return nil
}

func (h *HomeScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	var cmd tea.Cmd
	h.menu, cmd = h.menu.Update(msg)
	return h, cmd
}

func (h *HomeScreen) View(width, height int) string {
	cw := min(max(width-6, 20), 60)

	var sections []string
	sections = append(sections, lipgloss.NewStyle().Foreground(theme.Primary).Bold(true).Render(title))

	sum := h.svc.Progress.Summary()
	if sum.Total > 0 {
		sections = append(sections, components.MemorizedMeter(sum.Memorized, sum.Total, cw-4).View())
		sections = append(sections, theme.Hint.Render(
			fmt.Sprintf("%d개 학습 중 · %d/%d 암기 완료", sum.InProgress, sum.Memorized, sum.Total)))
	} else {
		sections = append(sections, theme.Hint.Render("오늘의 문장을 불러오세요"))
	}

	if p := h.svc.Account.Profile(); p != nil {
		if c, ok := account.LookupCategory(p.Category); ok {
			sections = append(sections, theme.Hint.Render("관심사: "+c.Label))
		}
	}

	sections = append(sections, theme.Card.Width(cw).Render(strings.TrimRight(h.menu.View(), "\n")))

	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, strings.Join(sections, "\n\n")))
}

func (h *HomeScreen) Title() string {
	return "Home"
}
