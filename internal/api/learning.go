package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/kotoba-app/kotoba/internal/learning"
)

// TodaySentences fetches today's daily set. The sentence list may arrive
// as data.sentences, data.history.sentences, a top-level sentences member,
// or a bare array.
func (c *Client) TodaySentences(ctx context.Context) (learning.DailySet, error) {
	var raw json.RawMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/sentences/today", auth: true}, &raw); err != nil {
		return learning.DailySet{}, err
	}
	set, err := decodeDailySet(raw)
	if err != nil {
		return learning.DailySet{}, fmt.Errorf("decode today's sentences: %w", err)
	}
	return set, nil
}

type dailySetWire struct {
	DailySetID learning.ID         `json:"daily_set_id"`
	ID         learning.ID         `json:"id"`
	Date       string              `json:"date"`
	Sentences  []learning.Sentence `json:"sentences"`
	History    *struct {
		DailySetID learning.ID         `json:"daily_set_id"`
		Sentences  []learning.Sentence `json:"sentences"`
	} `json:"history"`
}

func decodeDailySet(raw json.RawMessage) (learning.DailySet, error) {
	if len(raw) > 0 && raw[0] == '[' {
		var sentences []learning.Sentence
		if err := json.Unmarshal(raw, &sentences); err != nil {
			return learning.DailySet{}, err
		}
		return learning.DailySet{Sentences: sentences}, nil
	}

	var w dailySetWire
	if err := json.Unmarshal(raw, &w); err != nil {
		return learning.DailySet{}, err
	}
	set := learning.DailySet{
		ID:        w.DailySetID,
		Date:      w.Date,
		Sentences: w.Sentences,
	}
	if set.ID == "" {
		set.ID = w.ID
	}
	if set.Sentences == nil && w.History != nil {
		set.Sentences = w.History.Sentences
		if set.ID == "" {
			set.ID = w.History.DailySetID
		}
	}
	return set, nil
}

// HistoryPage is one page of past daily sets.
type HistoryPage struct {
	Page    int                 `json:"page"`
	PerPage int                 `json:"per_page"`
	Total   int                 `json:"total"`
	Sets    []learning.DailySet `json:"history"`
}

// History fetches past daily sets, newest first.
func (c *Client) History(ctx context.Context, page, perPage int) (HistoryPage, error) {
	q := url.Values{}
	if page > 0 {
		q.Set("page", strconv.Itoa(page))
	}
	if perPage > 0 {
		q.Set("per_page", strconv.Itoa(perPage))
	}
	var out HistoryPage
	err := c.do(ctx, request{method: http.MethodGet, path: "/api/sentences/history", query: q, auth: true}, &out)
	return out, err
}

// PushProgress writes a partial progress update.
func (c *Client) PushProgress(ctx context.Context, u learning.ProgressUpdate) error {
	return c.do(ctx, request{method: http.MethodPost, path: "/api/learning/progress", body: u, auth: true}, nil)
}

// ProgressSnapshot fetches the server's progress for a daily set.
func (c *Client) ProgressSnapshot(ctx context.Context, dailySetID learning.ID) ([]learning.ProgressRecord, error) {
	q := url.Values{}
	if dailySetID != "" {
		q.Set("daily_set_id", dailySetID.String())
	}
	var raw json.RawMessage
	if err := c.do(ctx, request{method: http.MethodGet, path: "/api/learning/today", query: q, auth: true}, &raw); err != nil {
		return nil, err
	}

	if len(raw) > 0 && raw[0] == '[' {
		var records []learning.ProgressRecord
		err := json.Unmarshal(raw, &records)
		return records, err
	}
	var w struct {
		Progress []learning.ProgressRecord `json:"progress"`
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return nil, fmt.Errorf("decode progress snapshot: %w", err)
	}
	return w.Progress, nil
}

// SubmitQuiz sends a quiz answer and returns the backend's verdict.
func (c *Client) SubmitQuiz(ctx context.Context, s learning.QuizSubmission) (*learning.QuizResult, error) {
	var out learning.QuizResult
	if err := c.do(ctx, request{method: http.MethodPost, path: "/api/learning/quiz", body: s, auth: true}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
