package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/account"
	"github.com/kotoba-app/kotoba/internal/chat"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	"github.com/kotoba-app/kotoba/internal/screens/feedback"
	"github.com/kotoba-app/kotoba/internal/ui/components"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const (
	createTimeout = 20 * time.Second
	endTimeout    = 10 * time.Second
	maxMessageLen = 200
)

type phase int

const (
	phaseCategory phase = iota
	phaseDetail
	phaseCreating
	phaseChat
)

type (
	// sessionChangedMsg fires when the session's transcript or state moves.
	sessionChangedMsg struct{}

	navigateMsg struct {
		SessionID learning.ID
	}

	createdMsg struct {
		Session *chat.Session
		Err     error
	}

	sendDoneMsg struct {
		Err error
	}
)

// ChatScreen runs a conversation practice session: topic selection, the
// streamed transcript and the hand-off to feedback.
type ChatScreen struct {
	svc       *screen.Services
	lifecycle *chat.Lifecycle
	session   *chat.Session
	notifier  *components.Notifier
	nav       chan learning.ID
	closed    chan struct{}

	phase    phase
	category account.Category
	topics   components.Menu
	details  components.Menu
	input    components.TextInput
	notice   string
}

var _ screen.Screen = (*ChatScreen)(nil)
var _ screen.KeyHintProvider = (*ChatScreen)(nil)

// New creates a ChatScreen starting at topic selection.
func New(svc *screen.Services) *ChatScreen {
	c := &ChatScreen{
		svc:      svc,
		notifier: components.NewNotifier(),
		nav:      make(chan learning.ID, 1),
		closed:   make(chan struct{}),
		input:    components.NewTextInput("", "일본어로 말해 보세요", false, maxMessageLen),
	}
	c.lifecycle = chat.NewLifecycle(svc.Client, chat.Options{
		Player:        svc.Player,
		Observer:      c.notifier.Notify,
		Navigator:     c.navigate,
		RedirectDelay: svc.RedirectDelay,
		Logger:        svc.Logger,
	})

	items := make([]components.MenuItem, len(account.Categories))
	for i, cat := range account.Categories {
		items[i] = components.MenuItem{Label: cat.Label, Action: c.pickCategory(cat)}
	}
	c.topics = components.NewMenu(items)
	return c
}

// navigate runs on the session's goroutine and must not block.
func (c *ChatScreen) navigate(id learning.ID) {
	select {
	case c.nav <- id:
	default:
	}
}

func (c *ChatScreen) waitNavigate() tea.Cmd {
	return func() tea.Msg {
		select {
		case id := <-c.nav:
			return navigateMsg{SessionID: id}
		case <-c.closed:
			return nil
		}
	}
}

func (c *ChatScreen) pickCategory(cat account.Category) func() tea.Cmd {
	return func() tea.Cmd {
		c.category = cat
		items := []components.MenuItem{{Label: "자유 주제", Action: c.create("")}}
		for _, sub := range cat.Subs {
			items = append(items, components.MenuItem{Label: sub.Label, Action: c.create(sub.Label)})
		}
		c.details = components.NewMenu(items)
		c.phase = phaseDetail
		return nil
	}
}

func (c *ChatScreen) create(detail string) func() tea.Cmd {
	return func() tea.Cmd {
		c.phase = phaseCreating
		c.notice = ""
		topic := c.category.Label
		lc := c.lifecycle
		return func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), createTimeout)
			defer cancel()
			s, err := lc.CreateSession(ctx, topic, detail)
			return createdMsg{Session: s, Err: err}
		}
	}
}

func (c *ChatScreen) Init() tea.Cmd {
	if !c.svc.Account.LoggedIn() {
		c.notice = "로그인이 필요합니다. kotoba login 을 실행하세요."
	}
	return tea.Batch(c.notifier.Wait(sessionChangedMsg{}), c.waitNavigate())
}

func (c *ChatScreen) Title() string {
	if c.session != nil {
		return "실전 회화 · " + c.session.Info().Topic
	}
	return "실전 회화"
}

func (c *ChatScreen) KeyHints() []layout.KeyHint {
	if c.phase != phaseChat {
		return []layout.KeyHint{
			{Key: "Enter", Description: "Select"},
			{Key: "↑↓", Description: "Navigate"},
			{Key: "Esc", Description: "Back"},
		}
	}
	return []layout.KeyHint{
		{Key: "Enter", Description: "Send"},
		{Key: "Esc", Description: "Stop reply"},
		{Key: "Ctrl+P", Description: "Audio"},
		{Key: "Ctrl+E", Description: "End"},
	}
}

// Close releases the session without contacting the backend.
func (c *ChatScreen) Close() {
	select {
	case <-c.closed:
		return
	default:
		close(c.closed)
	}
	c.lifecycle.Close()
	c.notifier.Close()
}

func (c *ChatScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case sessionChangedMsg:
		return c, c.notifier.Wait(sessionChangedMsg{})

	case navigateMsg:
		next := feedback.New(c.svc, msg.SessionID)
		return c, func() tea.Msg { return router.ReplaceScreenMsg{Screen: next} }

	case createdMsg:
		if msg.Err != nil {
			c.phase = phaseDetail
			c.notice = "대화를 시작하지 못했습니다"
			c.svc.Logger.Warn("chat session not created", zap.Error(msg.Err))
			return c, nil
		}
		c.session = msg.Session
		c.phase = phaseChat
		return c, c.input.Focus()

	case sendDoneMsg:
		switch {
		case msg.Err == nil:
			c.notice = ""
		case errors.Is(msg.Err, chat.ErrSendInFlight):
			c.notice = "답변을 기다리는 중입니다"
		case errors.Is(msg.Err, chat.ErrSessionClosed):
			c.notice = "대화가 종료되었습니다"
		default:
			c.notice = "메시지를 보내지 못했습니다"
			c.svc.Logger.Warn("chat turn failed", zap.Error(msg.Err))
		}
		return c, nil

	case tea.KeyPressMsg:
		return c.handleKey(msg)
	}

	if c.phase == phaseChat {
		var cmd tea.Cmd
		c.input, cmd = c.input.Update(msg)
		return c, cmd
	}
	return c, nil
}

func (c *ChatScreen) handleKey(msg tea.KeyPressMsg) (screen.Screen, tea.Cmd) {
	var cmd tea.Cmd
	switch c.phase {
	case phaseCategory:
		if msg.String() == "esc" {
			return c, func() tea.Msg { return router.PopScreenMsg{} }
		}
		c.topics, cmd = c.topics.Update(msg)
		return c, cmd
	case phaseDetail:
		if msg.String() == "esc" {
			c.phase = phaseCategory
			return c, nil
		}
		c.details, cmd = c.details.Update(msg)
		return c, cmd
	case phaseCreating:
		return c, nil
	}

	s := c.session
	switch msg.String() {
	case "esc":
		if s.Streaming() {
			s.Cancel()
			return c, nil
		}
		if s.State().Closed() {
			return c, func() tea.Msg { return router.PopScreenMsg{} }
		}
		return c, nil
	case "ctrl+e":
		lc := c.lifecycle
		return c, func() tea.Msg {
			ctx, cancel := context.WithTimeout(context.Background(), endTimeout)
			defer cancel()
			// Navigation to feedback happens either way.
			_ = lc.EndSession(ctx)
			return nil
		}
	case "ctrl+p":
		if id := lastAudio(s.Messages()); id != "" {
			s.ToggleAudio(id)
		}
		return c, nil
	case "enter":
		text := strings.TrimSpace(c.input.Value())
		if text == "" {
			return c, nil
		}
		if s.Streaming() {
			c.notice = "답변을 기다리는 중입니다"
			return c, nil
		}
		c.input.Reset()
		return c, func() tea.Msg {
			return sendDoneMsg{Err: s.SendTurn(context.Background(), text)}
		}
	}

	c.input, cmd = c.input.Update(msg)
	return c, cmd
}

func lastAudio(msgs []chat.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == chat.RoleAssistant && msgs[i].HasAudio() {
			return msgs[i].ID
		}
	}
	return ""
}

func (c *ChatScreen) View(width, height int) string {
	cw := min(max(width-6, 30), 72)
	switch c.phase {
	case phaseCategory, phaseDetail:
		title := "대화 주제를 골라 주세요"
		menu := c.topics
		if c.phase == phaseDetail {
			title = c.category.Label
			menu = c.details
		}
		out := []string{theme.Title.Render(title), "",
			theme.Card.Width(cw).Render(strings.TrimRight(menu.View(), "\n"))}
		if c.notice != "" {
			out = append(out, "", theme.Incorrect.Render(c.notice))
		}
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			lipgloss.JoinVertical(lipgloss.Center, out...))
	case phaseCreating:
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			theme.Hint.Render("대화를 준비하는 중..."))
	}

	s := c.session
	cur, limit := s.Turns()
	status := fmt.Sprintf("턴 %d / %d", cur, limit)
	switch s.State() {
	case chat.StateCompleted:
		status += " · 대화 완료! 곧 피드백으로 이동합니다"
	case chat.StateEnded:
		status += " · 대화 종료"
	}

	// Input and status take five lines; the transcript keeps the tail
	// that fits.
	transcript := c.transcript(cw)
	if room := height - 5; room > 0 && len(transcript) > room {
		transcript = transcript[len(transcript)-room:]
	}

	out := []string{strings.Join(transcript, "\n"), "", theme.Hint.Render(status)}
	if c.notice != "" {
		out = append(out, theme.Incorrect.Render(c.notice))
	}
	if !s.State().Closed() {
		out = append(out, c.input.View())
	}
	return lipgloss.NewStyle().Padding(0, 2).Render(strings.Join(out, "\n"))
}

func (c *ChatScreen) transcript(width int) []string {
	playing := ""
	if c.svc.Player != nil {
		playing = c.svc.Player.Playing()
	}
	bubbleWidth := width * 3 / 4

	var lines []string
	for _, m := range c.session.Messages() {
		text := m.Content
		if m.Streaming {
			text += "▍"
		}
		if m.HasAudio() {
			if m.ID == playing {
				text = "♪ " + text
			} else {
				text = "♫ " + text
			}
		}
		var bubble string
		if m.Role == chat.RoleUser {
			bubble = lipgloss.PlaceHorizontal(width, lipgloss.Right,
				theme.UserBubble.Width(fit(text, bubbleWidth)).Render(text))
		} else {
			style := theme.AssistantBubble
			if m.Failed {
				style = style.Foreground(theme.Error)
			}
			bubble = style.Width(fit(text, bubbleWidth)).Render(text)
		}
		lines = append(lines, strings.Split(bubble, "\n")...)
		lines = append(lines, "")
	}
	return lines
}

// fit returns the bubble width for text, wrapping at limit. Bubbles pad
// one cell on each side.
func fit(text string, limit int) int {
	return min(lipgloss.Width(text)+2, limit)
}
