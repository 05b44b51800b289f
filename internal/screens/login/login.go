package login

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/ui/components"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const loginTimeout = 20 * time.Second

// LoginFunc signs the learner in.
type LoginFunc func(ctx context.Context, email, password string) error

type loginDoneMsg struct {
	Err error
}

// LoginScreen asks for an email and password, then replaces itself with
// the screen produced by next.
type LoginScreen struct {
	login        LoginFunc
	next         func() screen.Screen
	email        components.TextInput
	password     components.TextInput
	focus        int
	pending      bool
	errMsg       string
	transitioned bool
}

var _ screen.Screen = (*LoginScreen)(nil)
var _ screen.KeyHintProvider = (*LoginScreen)(nil)

// New creates a LoginScreen backed by the account in svc.
func New(svc *screen.Services, next func() screen.Screen) *LoginScreen {
	return newScreen(svc.Account.Login, next)
}

func newScreen(login LoginFunc, next func() screen.Screen) *LoginScreen {
	return &LoginScreen{
		login:    login,
		next:     next,
		email:    components.NewTextInput("이메일", "you@example.com", false, 0),
		password: components.NewTextInput("비밀번호", "", true, 0),
	}
}

func (l *LoginScreen) Title() string {
	return ""
}

func (l *LoginScreen) KeyHints() []layout.KeyHint {
	return []layout.KeyHint{
		{Key: "Tab", Description: "Next field"},
		{Key: "Enter", Description: "Log in"},
	}
}

func (l *LoginScreen) Init() tea.Cmd {
	return l.email.Focus()
}

func (l *LoginScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case loginDoneMsg:
		l.pending = false
		if msg.Err != nil {
			l.errMsg = describe(msg.Err)
			return l, nil
		}
		return l, l.transition()

	case tea.KeyPressMsg:
		if l.pending {
			return l, nil
		}
		switch msg.String() {
		case "tab", "down", "up", "shift+tab":
			return l, l.toggleFocus()
		case "enter":
			if l.focus == 0 {
				return l, l.toggleFocus()
			}
			return l, l.submit()
		}
	}

	var cmd tea.Cmd
	if l.focus == 0 {
		l.email, cmd = l.email.Update(msg)
	} else {
		l.password, cmd = l.password.Update(msg)
	}
	return l, cmd
}

func (l *LoginScreen) toggleFocus() tea.Cmd {
	if l.focus == 0 {
		l.focus = 1
		l.email.Blur()
		return l.password.Focus()
	}
	l.focus = 0
	l.password.Blur()
	return l.email.Focus()
}

func (l *LoginScreen) submit() tea.Cmd {
	email, password := strings.TrimSpace(l.email.Value()), l.password.Value()
	if email == "" || password == "" {
		l.errMsg = "이메일과 비밀번호를 입력해 주세요"
		return nil
	}
	l.pending = true
	l.errMsg = ""
	login := l.login
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), loginTimeout)
		defer cancel()
		return loginDoneMsg{Err: login(ctx, email, password)}
	}
}

func (l *LoginScreen) transition() tea.Cmd {
	if l.transitioned {
		return nil
	}
	l.transitioned = true
	next := l.next()
	return func() tea.Msg {
		return router.ReplaceScreenMsg{Screen: next}
	}
}

func describe(err error) string {
	var se *api.StatusError
	switch {
	case errors.Is(err, account.ErrMissingCredentials):
		return "이메일과 비밀번호를 입력해 주세요"
	case api.IsUnauthorized(err):
		return "이메일 또는 비밀번호가 올바르지 않습니다"
	case errors.As(err, &se):
		return "로그인 실패: " + se.Error()
	}
	return "서버에 연결할 수 없습니다"
}

func (l *LoginScreen) View(width, height int) string {
	cw := min(max(width-6, 30), 56)
	form := strings.Join([]string{l.email.View(), "", l.password.View()}, "\n")

	sections := []string{
		RenderBanner(width),
		"",
		lipgloss.NewStyle().Foreground(theme.Text).Bold(true).Render("하루 다섯 문장, 덕질하며 배우는 일본어"),
		"",
		theme.Card.Width(cw).Render(form),
	}
	switch {
	case l.pending:
		sections = append(sections, "", theme.Hint.Render("로그인 중..."))
	case l.errMsg != "":
		sections = append(sections, "", theme.Incorrect.Render(l.errMsg))
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
		lipgloss.JoinVertical(lipgloss.Center, sections...))
}
