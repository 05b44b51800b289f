package sentence

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	"charm.land/lipgloss/v2"
	"go.uber.org/zap"

	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/playback"
	"github.com/kotoba-app/kotoba/internal/router"
	"github.com/kotoba-app/kotoba/internal/screen"
	quizscreen "github.com/kotoba-app/kotoba/internal/screens/quiz"
	"github.com/kotoba-app/kotoba/internal/ui/layout"
	"github.com/kotoba-app/kotoba/internal/ui/theme"
)

const synthesizeTimeout = 20 * time.Second

type clipMsg struct {
	Clip playback.Clip
	Err  error
}

// SentenceScreen shows one sentence with its glosses and step toggles.
type SentenceScreen struct {
	svc    *screen.Services
	id     learning.ID
	clip   *playback.Clip
	status string
}

var _ screen.Screen = (*SentenceScreen)(nil)
var _ screen.KeyHintProvider = (*SentenceScreen)(nil)

// New creates a SentenceScreen for the sentence with the given ID.
func New(svc *screen.Services, id learning.ID) *SentenceScreen {
	return &SentenceScreen{svc: svc, id: id}
}

func (s *SentenceScreen) Init() tea.Cmd {
	return nil
}

func (s *SentenceScreen) Title() string {
	return "문장 학습"
}

func (s *SentenceScreen) KeyHints() []layout.KeyHint {
	hints := []layout.KeyHint{
		{Key: "U", Description: "이해"},
		{Key: "S", Description: "발화"},
		{Key: "C", Description: "확인"},
		{Key: "Q", Description: "Quiz"},
	}
	if s.svc.Speech != nil {
		hints = append(hints, layout.KeyHint{Key: "P", Description: "Listen"})
	}
	return append(hints, layout.KeyHint{Key: "Esc", Description: "Back"})
}

// Close stops pronunciation playback when the screen leaves the stack.
func (s *SentenceScreen) Close() {
	if s.svc.Player != nil {
		s.svc.Player.Stop()
	}
}

func (s *SentenceScreen) Update(msg tea.Msg) (screen.Screen, tea.Cmd) {
	switch msg := msg.(type) {
	case clipMsg:
		if msg.Err != nil {
			s.status = "음성을 불러오지 못했습니다"
			s.svc.Logger.Warn("pronunciation unavailable",
				zap.String("sentence_id", s.id.String()), zap.Error(msg.Err))
			return s, nil
		}
		s.status = ""
		s.clip = &msg.Clip
		s.svc.Player.Play(s.id.String(), msg.Clip)
		return s, nil

	case tea.KeyPressMsg:
		switch msg.String() {
		case "esc":
			return s, func() tea.Msg { return router.PopScreenMsg{} }
		case "u":
			s.toggle(learning.StepUnderstand)
		case "s":
			s.toggle(learning.StepSpeak)
		case "c":
			s.toggle(learning.StepCheck)
		case "q":
			sen, ok := s.svc.Progress.Sentence(s.id)
			if !ok || !sen.Quiz.HasAny() {
				s.status = "이 문장에는 퀴즈가 없습니다"
				return s, nil
			}
			next := quizscreen.New(s.svc, sen)
			return s, func() tea.Msg { return router.PushScreenMsg{Screen: next} }
		case "p":
			return s, s.listen()
		}
	}
	return s, nil
}

func (s *SentenceScreen) toggle(step learning.Step) {
	p := s.svc.Progress.Get(s.id)
	if p.Memorized() {
		return
	}
	s.svc.Progress.SetStep(s.id, step, !p.Step(step))
}

// listen toggles playback, synthesizing the clip on first use.
func (s *SentenceScreen) listen() tea.Cmd {
	if s.svc.Speech == nil || s.svc.Player == nil {
		return nil
	}
	if s.clip != nil {
		s.svc.Player.Toggle(s.id.String(), *s.clip)
		return nil
	}
	sen, ok := s.svc.Progress.Sentence(s.id)
	if !ok {
		return nil
	}
	s.status = "음성 생성 중..."
	speech := s.svc.Speech
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), synthesizeTimeout)
		defer cancel()
		clip, err := speech.Synthesize(ctx, sen.Japanese)
		return clipMsg{Clip: clip, Err: err}
	}
}

func (s *SentenceScreen) View(width, height int) string {
	sen, ok := s.svc.Progress.Sentence(s.id)
	if !ok {
		return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Center,
			theme.Hint.Render("문장을 찾을 수 없습니다"))
	}
	p := s.svc.Progress.Get(s.id)
	cw := min(max(width-6, 30), 72)

	var lines []string
	lines = append(lines, theme.Japanese.Render(sen.Japanese))
	if sen.Reading != "" {
		lines = append(lines, theme.Hint.Render(sen.Reading))
	}
	if sen.Romaji != "" {
		lines = append(lines, theme.Hint.Render(sen.Romaji))
	}
	lines = append(lines, "", theme.Body.Render(sen.Meaning))

	if len(sen.Words) > 0 {
		lines = append(lines, "", section("단어"))
		for _, w := range sen.Words {
			term := w.Term
			if w.Reading != "" {
				term += " (" + w.Reading + ")"
			}
			lines = append(lines, fmt.Sprintf("  %s  %s", theme.Japanese.Render(term), w.Meaning))
		}
	}
	if len(sen.Grammar) > 0 {
		lines = append(lines, "", section("문법"))
		for _, g := range sen.Grammar {
			if g.Pattern != "" {
				lines = append(lines, "  "+theme.Japanese.Render(g.Pattern))
			}
			lines = append(lines, "  "+g.Description)
		}
	}
	if len(sen.Examples) > 0 {
		lines = append(lines, "", section("예문"))
		for _, e := range sen.Examples {
			lines = append(lines, "  "+theme.Japanese.Render(e.Japanese))
			if e.Meaning != "" {
				lines = append(lines, "  "+theme.Hint.Render(e.Meaning))
			}
		}
	}

	card := theme.Card.Width(cw).Render(strings.Join(lines, "\n"))

	steps := []string{
		stepBox("이해", p.Understand),
		stepBox("발화", p.Speak),
		stepBox("확인", p.Check),
	}
	stepRow := strings.Join(steps, "   ")
	if p.Memorized() {
		stepRow += "   " + lipgloss.NewStyle().Foreground(theme.Accent).Bold(true).Render("✿ 암기 완료")
	}

	out := []string{card, "", stepRow}
	if s.status != "" {
		out = append(out, "", theme.Hint.Render(s.status))
	}
	if playing := s.svc.Player; playing != nil && playing.Playing() == s.id.String() {
		out = append(out, theme.Hint.Render("♪ 재생 중"))
	}
	return lipgloss.Place(width, height, lipgloss.Center, lipgloss.Top,
		lipgloss.JoinVertical(lipgloss.Center, out...))
}

func section(label string) string {
	return lipgloss.NewStyle().Foreground(theme.Secondary).Bold(true).Render(label)
}

func stepBox(label string, done bool) string {
	if done {
		return theme.Correct.Render("[✓] " + label)
	}
	return lipgloss.NewStyle().Foreground(theme.TextDim).Render("[ ] " + label)
}
