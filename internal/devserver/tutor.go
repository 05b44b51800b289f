package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/llm"
)

// Turn is one line of a conversation transcript.
type Turn struct {
	Role llm.Role
	Text string
}

// Conversation is what the tutor sees when it speaks or grades.
type Conversation struct {
	Topic       string
	Detail      string
	Level       int
	CurrentTurn int
	MaxTurn     int
	Turns       []Turn
	Sentences   []learning.Sentence
}

// Evaluation is the graded part of the feedback.
type Evaluation struct {
	Scores     api.Scores
	Summaries  []api.FeedbackNote
	Highlights []api.Highlight
	Text       string
}

// Tutor produces assistant turns and end-of-session grades.
type Tutor interface {
	Reply(ctx context.Context, c Conversation) (string, error)
	Evaluate(ctx context.Context, c Conversation) (*Evaluation, error)
}

// ScriptedTutor replays the bundled sample conversation.
type ScriptedTutor struct {
	seed *Seed
}

func NewScriptedTutor(seed *Seed) *ScriptedTutor {
	return &ScriptedTutor{seed: seed}
}

// Reply returns the next scripted line, wrapping around at the end.
func (t *ScriptedTutor) Reply(_ context.Context, c Conversation) (string, error) {
	n := 0
	for _, turn := range c.Turns {
		if turn.Role == llm.RoleAssistant {
			n++
		}
	}
	return t.seed.Script[n%len(t.seed.Script)].Japanese, nil
}

// Evaluate returns the sample grades.
func (t *ScriptedTutor) Evaluate(context.Context, Conversation) (*Evaluation, error) {
	fb := t.seed.Feedback
	return &Evaluation{
		Scores:     fb.Scores,
		Summaries:  fb.Summaries,
		Highlights: fb.Highlights,
		Text:       fb.Text,
	}, nil
}

// LLMTutor asks a language model for replies and grades.
type LLMTutor struct {
	provider llm.Provider
}

func NewLLMTutor(p llm.Provider) *LLMTutor {
	return &LLMTutor{provider: p}
}

const (
	replyMaxTokens    = 300
	feedbackMaxTokens = 1024
)

func (t *LLMTutor) Reply(ctx context.Context, c Conversation) (string, error) {
	ctx = llm.WithPurpose(ctx, llm.PurposeChatReply)

	msgs := make([]llm.Message, 0, len(c.Turns)+1)
	for _, turn := range c.Turns {
		msgs = append(msgs, llm.Message{Role: turn.Role, Content: turn.Text})
	}
	// Providers require the conversation to open with a user message.
	if len(msgs) == 0 || msgs[0].Role != llm.RoleUser {
		msgs = append([]llm.Message{{Role: llm.RoleUser, Content: "はじめましょう。"}}, msgs...)
	}

	resp, err := t.provider.Generate(ctx, llm.Request{
		System:      buildReplySystemPrompt(c),
		Messages:    msgs,
		MaxTokens:   replyMaxTokens,
		Temperature: 0.7,
	})
	if err != nil {
		return "", fmt.Errorf("tutor reply: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("tutor reply: empty response")
	}
	return text, nil
}

type feedbackOutput struct {
	Total         int    `json:"total"`
	Grammar       int    `json:"grammar"`
	Pronunciation int    `json:"pronunciation"`
	Fluency       int    `json:"fluency"`
	Positive      string `json:"positive"`
	Improvement   string `json:"improvement"`
	BestSentence  string `json:"best_sentence"`
	Comment       string `json:"comment"`
}

func (t *LLMTutor) Evaluate(ctx context.Context, c Conversation) (*Evaluation, error) {
	ctx = llm.WithPurpose(ctx, llm.PurposeFeedback)

	resp, err := t.provider.Generate(ctx, llm.Request{
		System:      feedbackSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildFeedbackUserMessage(c)}},
		Schema:      FeedbackSchema,
		MaxTokens:   feedbackMaxTokens,
		Temperature: 0.2,
	})
	if err != nil {
		return nil, fmt.Errorf("tutor feedback: %w", err)
	}

	var out feedbackOutput
	if err := json.Unmarshal(resp.Content, &out); err != nil {
		return nil, fmt.Errorf("parse feedback response: %w", err)
	}

	ev := &Evaluation{
		Scores: api.Scores{
			Total:         out.Total,
			Grammar:       out.Grammar,
			Pronunciation: out.Pronunciation,
			Fluency:       out.Fluency,
		},
		Summaries: []api.FeedbackNote{
			{ID: "1", Text: out.Positive, Type: "positive"},
			{ID: "2", Text: out.Improvement, Type: "improvement"},
		},
		Text: out.Comment,
	}
	if out.BestSentence != "" {
		ev.Highlights = []api.Highlight{{
			ID: "h1", Type: "best_sentence", Title: "오늘의 베스트 문장",
			Japanese: out.BestSentence, Comment: out.Comment,
		}}
	}
	return ev, nil
}

// FeedbackSchema is the structured grade the model must return.
var FeedbackSchema = &llm.Schema{
	Name:        "session-feedback",
	Description: "Scores and short remarks for a finished Japanese conversation practice",
	Definition: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"total":         scoreProperty("Overall score"),
			"grammar":       scoreProperty("Grammatical accuracy"),
			"pronunciation": scoreProperty("Estimated pronunciation from the transcript"),
			"fluency":       scoreProperty("Naturalness and flow"),
			"positive": map[string]any{
				"type":        "string",
				"description": "One sentence in Korean praising what went well",
			},
			"improvement": map[string]any{
				"type":        "string",
				"description": "One sentence in Korean on what to practice next",
			},
			"best_sentence": map[string]any{
				"type":        "string",
				"description": "The learner's best Japanese sentence, verbatim",
			},
			"comment": map[string]any{
				"type":        "string",
				"description": "Two to three sentences of overall feedback in Korean",
			},
		},
		"required":             []any{"total", "grammar", "pronunciation", "fluency", "positive", "improvement", "best_sentence", "comment"},
		"additionalProperties": false,
	},
}

func scoreProperty(desc string) map[string]any {
	return map[string]any{"type": "integer", "minimum": 0, "maximum": 100, "description": desc}
}

const feedbackSystemPrompt = `You grade Japanese conversation practice for Korean-speaking learners. Be encouraging and specific. Write remarks in Korean.`

func buildReplySystemPrompt(c Conversation) string {
	var b strings.Builder
	b.WriteString("あなたは韓国語を話す日本語学習者の会話パートナーです。")
	b.WriteString("やさしい日本語で、一度に一つか二つの短い文で話し、最後に質問をしてください。\n")
	fmt.Fprintf(&b, "Topic: %s\n", c.Topic)
	if c.Detail != "" {
		fmt.Fprintf(&b, "Situation: %s\n", c.Detail)
	}
	fmt.Fprintf(&b, "Learner level: %d of 5\n", c.Level)
	fmt.Fprintf(&b, "Turn: %d of %d\n", c.CurrentTurn, c.MaxTurn)
	if c.MaxTurn > 0 && c.CurrentTurn >= c.MaxTurn {
		b.WriteString("This is the last turn. Close the conversation warmly without a question.\n")
	}
	if len(c.Sentences) > 0 {
		b.WriteString("\nGive the learner chances to use today's sentences:\n")
		for _, s := range c.Sentences {
			fmt.Fprintf(&b, "- %s (%s)\n", s.Japanese, s.Meaning)
		}
	}
	return b.String()
}

func buildFeedbackUserMessage(c Conversation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", c.Topic)
	fmt.Fprintf(&b, "Learner level: %d of 5\n", c.Level)

	b.WriteString("\nToday's sentences:\n")
	for _, s := range c.Sentences {
		fmt.Fprintf(&b, "- %s\n", s.Japanese)
	}

	b.WriteString("\nTranscript:\n")
	if len(c.Turns) == 0 {
		b.WriteString("(empty)\n")
	}
	for _, t := range c.Turns {
		speaker := "Tutor"
		if t.Role == llm.RoleUser {
			speaker = "Learner"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, t.Text)
	}
	return b.String()
}
