package onboarding

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/ui/components"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const saveTimeout = 15 * time.Second

type step int

const (
	stepCategory step = iota
	stepSubs
	stepLevel
	stepPurposes
	stepSaving
)

// CompleteFunc records the finished profile.
type CompleteFunc func(ctx context.Context, p account.Profile) error

type (
	savedMsg struct {
		Err error
	}

	categoryPickedMsg struct{ ID string }
	levelPickedMsg    struct{ ID string }
)

// OnboardingScreen collects the interest category, sub-categories, level
// and purposes.
type OnboardingScreen struct {
	complete CompleteFunc
	next     func() screen.Screen

	step    step
	profile account.Profile
	menu    components.Menu
	errMsg  string
}

var _ screen.Screen = (*OnboardingScreen)(nil)
var _ screen.KeyHintProvider = (*OnboardingScreen)(nil)

// New creates an OnboardingScreen. When next is nil the screen pops itself
// once the profile is saved.
func New(svc *screen.Services, next func() screen.Screen) *OnboardingScreen {
	return newScreen(svc.Account.CompleteOnboarding, next)
}

func newScreen(complete CompleteFunc, next func() screen.Screen) *OnboardingScreen {
	o := &OnboardingScreen{complete: complete, next: next}
	o.enter(stepCategory)
	return o
}

func (o *OnboardingScreen) Init() tea.Cmd {
	return nil
}

func (o *OnboardingScreen) Title() string {
	return "관심사 설정"
}

func (o *OnboardingScreen) KeyHints() []layout.KeyHint {
	hints := []layout.KeyHint{{Key: "↑↓", Description: "Navigate"}}
	if o.menu.Multi {
		hints = append(hints, layout.KeyHint{Key: "Space", Description: "Toggle"})
	}
	return append(hints,
		layout.KeyHint{Key: "Enter", Description: "Next"},
		layout.KeyHint{Key: "Esc", Description: "Back"})
}

// enter builds the menu for s. Single-choice items advance through a
// picked message; multi-choice menus advance in handleKey.
func (o *OnboardingScreen) enter(s step) {
	o.step = s
	o.errMsg = ""
	var items []components.MenuItem
	multi := false
	switch s {
	case stepCategory:
		for _, c := range account.Categories {
			items = append(items, components.MenuItem{Label: c.Label, Action: o.pickCategory(c.ID)})
		}
	case stepSubs:
		cat, _ := account.LookupCategory(o.profile.Category)
		for _, sub := range cat.Subs {
			items = append(items, components.MenuItem{Label: sub.Label})
		}
		multi = true
	case stepLevel:
		for _, l := range account.Levels {
			items = append(items, components.MenuItem{
				Label:  fmt.Sprintf("%s (%s)", l.Label, l.Desc),
				Action: o.pickLevel(l.ID),
			})
		}
	case stepPurposes:
		for _, p := range account.Purposes {
			items = append(items, components.MenuItem{Label: p.Label})
		}
		multi = true
	}
	o.menu = components.NewMenu(items)
	o.menu.Multi = multi
}

func (o *OnboardingScreen) pickCategory(id string) func() tea.Cmd {
	return func() tea.Cmd {
		return func() tea.Msg { return categoryPickedMsg{ID: id} }
	}
}

func (o *OnboardingScreen) pickLevel(id string) func() tea.Cmd {
	return func() tea.Cmd {
		return func() tea.Msg { return levelPickedMsg{ID: id} }
	}
}

func (o *OnboardingScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case categoryPickedMsg:
		o.profile.Category = msg.ID
		o.profile.SubCategories = nil
		o.enter(stepSubs)
		return o, nil

	case levelPickedMsg:
		o.profile.Level = msg.ID
		o.enter(stepPurposes)
		return o, nil

	case savedMsg:
		if msg.Err != nil {
			o.step = stepPurposes
			o.errMsg = "저장하지 못했습니다: " + msg.Err.Error()
			return o, nil
		}
		if o.next == nil {
			return o, func() tea.Msg { return router.PopScreenMsg{} }
		}
		next := o.next()
		return o, func() tea.Msg { return router.ReplaceScreenMsg{Screen: next} }

	case tea.KeyPressMsg:
		return o.handleKey(msg)
	}
	return o, nil
}

func (o *OnboardingScreen) handleKey(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	if o.step == stepSaving {
		return o, nil
	}
	switch msg.String() {
	case "esc":
		if o.step == stepCategory {
			if o.next == nil {
				return o, func() tea.Msg { return router.PopScreenMsg{} }
			}
			return o, nil
		}
		o.back()
		return o, nil
	case "enter":
		switch o.step {
		case stepSubs:
			picked := o.menu.CheckedLabels()
			if len(picked) == 0 {
				o.errMsg = "하나 이상 골라 주세요"
				return o, nil
			}
			o.profile.SubCategories = picked
			o.enter(stepLevel)
			return o, nil
		case stepPurposes:
			picked := o.menu.CheckedLabels()
			if len(picked) == 0 {
				o.errMsg = "하나 이상 골라 주세요"
				return o, nil
			}
			o.profile.Purposes = picked
			return o, o.save()
		}
	}

	var cmd tea.Cmd
	o.menu, cmd = o.menu.Update(msg)
	return o, cmd
}

func (o *OnboardingScreen) back() {
	switch o.step {
	case stepSubs:
		o.enter(stepCategory)
	case stepLevel:
		o.enter(stepSubs)
	case stepPurposes:
		o.enter(stepLevel)
	}
}

func (o *OnboardingScreen) save() tea.Cmd {
	o.step = stepSaving
	p, complete := o.profile, o.complete
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
		defer cancel()
		return savedMsg{Err: complete(ctx, p)}
	}
}

func (o *OnboardingScreen) View(width, height int) string {
	cw := min(max(width-6, 30), 64)

	var question string
	switch o.step {
	case stepCategory:
		question = "어떤 덕질을 하고 있나요?"
	case stepSubs:
		question = "좋아하는 분야를 모두 골라 주세요"
	case stepLevel:
		question = "지금 일본어 실력은 어느 정도인가요?"
	case stepPurposes:
		question = "일본어를 배우는 이유는?"
	case stepSaving:
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			theme.Hint.Render("저장하는 중..."))
	}

	dots := make([]string, 4)
	for i := range dots {
		if step(i) <= o.step {
			dots[i] = lipgloss.NewStyle().Foreground(theme.Primary).Render("●")
		} else {
			dots[i] = lipgloss.NewStyle().Foreground(theme.Border).Render("●")
		}
	}

	sections := []string{
		strings.Join(dots, " "),
		"",
		theme.Title.Render(question),
		"",
		theme.Card.Width(cw).Render(strings.TrimRight(o.menu.View(), "\n")),
	}
	if o.errMsg != "" {
		sections = append(sections, "", theme.Incorrect.Render(o.errMsg))
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, sections...))
}
