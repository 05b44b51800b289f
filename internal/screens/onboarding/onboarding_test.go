package onboarding

import (
	"context"
	"testing"

	tea "charm.land/bubbletea/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
)

type stubScreen struct{}

func (s *stubScreen) Init() tea.Cmd                           { return nil }
func (s *stubScreen) Update(tea.Msg) (screen.Screen, tea.Cmd) { return s, nil }
func (s *stubScreen) View(int, int) string                    { return "home" }
func (s *stubScreen) Title() string                           { return "Home" }

// drive feeds a key and any messages its command produces back into o.
func drive(t *testing.T, o *OnboardingScreen, key tea.KeyPressMsg) tea.Msg {
	t.Helper()
	_, cmd := o.Update(key)
	var last tea.Msg
	for cmd != nil {
		last = cmd()
		switch last.(type) {
		case router.PopScreenMsg, router.ReplaceScreenMsg:
			return last
		}
		_, cmd = o.Update(last)
	}
	return last
}

var (
	enter = tea.KeyPressMsg{Code: tea.KeyEnter}
	down  = tea.KeyPressMsg{Code: tea.KeyDown}
	space = tea.KeyPressMsg{Code: tea.KeySpace, Text: " "}
	esc   = tea.KeyPressMsg{Code: tea.KeyEscape}
)

func TestFullFlowSavesProfile(t *testing.T) {
	var saved account.Profile
	o := newScreen(func(_ context.Context, p account.Profile) error {
		saved = p
		return nil
	}, func() screen.Screen { return &stubScreen{} })

	// Second category, first sub-category, third level, first two purposes.
	drive(t, o, down)
	drive(t, o, enter)
	require.Equal(t, stepSubs, o.step)

	drive(t, o, enter)
	assert.NotEmpty(t, o.errMsg, "an empty selection must not advance")
	assert.Equal(t, stepSubs, o.step)

	drive(t, o, space)
	drive(t, o, enter)
	require.Equal(t, stepLevel, o.step)

	drive(t, o, down)
	drive(t, o, down)
	drive(t, o, enter)
	require.Equal(t, stepPurposes, o.step)

	drive(t, o, space)
	drive(t, o, down)
	drive(t, o, space)
	msg := drive(t, o, enter)

	_, ok := msg.(router.ReplaceScreenMsg)
	require.True(t, ok, "expected ReplaceScreenMsg, got %T", msg)

	game := account.Categories[1]
	assert.Equal(t, game.ID, saved.Category)
	assert.Equal(t, []string{game.Subs[0].Label}, saved.SubCategories)
	assert.Equal(t, "lv2", saved.Level)
	assert.Equal(t, []string{account.Purposes[0].Label, account.Purposes[1].Label}, saved.Purposes)

	level, interests, purposes := saved.Codes()
	assert.Equal(t, 2, level)
	assert.Equal(t, []int{201}, interests)
	assert.Equal(t, []int{1, 2}, purposes)
}

func TestBackStepsAndPopWithoutNext(t *testing.T) {
	o := newScreen(func(context.Context, account.Profile) error { return nil }, nil)

	drive(t, o, enter)
	require.Equal(t, stepSubs, o.step)
	drive(t, o, esc)
	assert.Equal(t, stepCategory, o.step)

	msg := drive(t, o, esc)
	_, ok := msg.(router.PopScreenMsg)
	assert.True(t, ok, "esc on the first step pops when there is no next screen")
}
