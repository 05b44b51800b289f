package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"

	"github.com/kotoba-app/kotoba/internal/learning"
)

// ChatSession is a conversation practice session.
type ChatSession struct {
	ID          learning.ID `json:"id"`
	Topic       string      `json:"topic"`
	TopicDetail string      `json:"topic_detail,omitempty"`
	CurrentTurn int         `json:"current_turn"`
	MaxTurn     int         `json:"max_turn"`
	Status      string      `json:"status,omitempty"`
}

func (s *ChatSession) UnmarshalJSON(b []byte) error {
	type plain ChatSession
	var w struct {
		plain
		SessionID learning.ID `json:"session_id"`
	}
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	*s = ChatSession(w.plain)
	if s.ID == "" {
		s.ID = w.SessionID
	}
	return nil
}

type createSessionBody struct {
	Topic       string `json:"topic"`
	TopicDetail string `json:"topic_detail"`
}

// CreateChatSession opens a session on a topic.
func (c *Client) CreateChatSession(ctx context.Context, topic, detail string) (*ChatSession, error) {
	var out ChatSession
	err := c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/chat/session",
		body:   createSessionBody{Topic: topic, TopicDetail: detail},
		auth:   true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

type messageBody struct {
	Message string `json:"message"`
}

// StreamChatMessage sends one user turn and returns the event stream. The
// caller must close it; cancelling ctx aborts the read.
func (c *Client) StreamChatMessage(ctx context.Context, sessionID learning.ID, message string) (io.ReadCloser, error) {
	resp, err := c.open(ctx, request{
		method: http.MethodPost,
		path:   "/api/chat/sessions/" + url.PathEscape(sessionID.String()) + "/message/stream",
		body:   messageBody{Message: message},
		auth:   true,
		accept: "text/event-stream",
	})
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// EndChatSession closes a session on the backend.
func (c *Client) EndChatSession(ctx context.Context, sessionID learning.ID) error {
	return c.do(ctx, request{
		method: http.MethodPost,
		path:   "/api/chat/session/" + url.PathEscape(sessionID.String()) + "/end",
		auth:   true,
	}, nil)
}

// Scores are the aggregate ratings of a finished session, 0 to 100.
type Scores struct {
	Total         int `json:"total"`
	Grammar       int `json:"grammar"`
	Pronunciation int `json:"pronunciation"`
	Fluency       int `json:"fluency"`
}

// FeedbackNote is one remark, "positive" or "improvement".
type FeedbackNote struct {
	ID   learning.ID `json:"id"`
	Text string      `json:"text"`
	Type string      `json:"type"`
}

// SentenceUsage reports how a daily sentence figured in the conversation.
type SentenceUsage struct {
	ID       learning.ID `json:"id"`
	Japanese string      `json:"jp"`
	Meaning  string      `json:"kr"`
	Status   string      `json:"status"` // used_in_conversation, practice_only, not_used
}

// Highlight is a notable line from the conversation.
type Highlight struct {
	ID       learning.ID `json:"id"`
	Type     string      `json:"type"` // best_sentence, need_practice, fun_moment
	Title    string      `json:"title"`
	Japanese string      `json:"jp"`
	Meaning  string      `json:"kr"`
	Comment  string      `json:"comment"`
}

// Feedback is the evaluation of a finished session.
type Feedback struct {
	SessionID  learning.ID     `json:"session_id"`
	Scores     Scores          `json:"scores"`
	Summaries  []FeedbackNote  `json:"summaries"`
	Usage      []SentenceUsage `json:"sentence_usage,omitempty"`
	Highlights []Highlight     `json:"highlights,omitempty"`
	Text       string          `json:"feedback,omitempty"`
}

// Feedback fetches the evaluation of a session.
func (c *Client) Feedback(ctx context.Context, sessionID learning.ID) (*Feedback, error) {
	var out Feedback
	err := c.do(ctx, request{
		method: http.MethodGet,
		path:   "/api/feedback/" + url.PathEscape(sessionID.String()),
		auth:   true,
	}, &out)
	if err != nil {
		return nil, err
	}
	return &out, nil
}
