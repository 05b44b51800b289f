package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba/internal/learning"
)

func newTestClient(t *testing.T, token string, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Options{BaseURL: server.URL, Tokens: StaticToken(token), Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsRelativeURL(t *testing.T) {
	_, err := New(Options{BaseURL: "/api"})
	assert.Error(t, err)
}

func TestProtectedCallWithoutCredential(t *testing.T) {
	var hits atomic.Int32
	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	})

	_, err := c.TodaySentences(context.Background())
	assert.ErrorIs(t, err, ErrNoCredential)
	assert.True(t, IsUnauthorized(err))
	assert.Zero(t, hits.Load(), "no request may be sent without a token")
}

func TestTodaySentences_Shapes(t *testing.T) {
	sentence := map[string]any{"id": 7, "jp": "推しのライブに行きたいです。", "kr": "최애의 라이브에 가고 싶습니다."}
	tests := []struct {
		name   string
		body   any
		wantID learning.ID
	}{
		{"data.sentences", map[string]any{"data": map[string]any{"daily_set_id": 12, "sentences": []any{sentence}}}, "12"},
		{"data.history.sentences", map[string]any{"data": map[string]any{"history": map[string]any{"daily_set_id": "d-1", "sentences": []any{sentence}}}}, "d-1"},
		{"top-level sentences", map[string]any{"id": "d-2", "sentences": []any{sentence}}, "d-2"},
		{"bare array", []any{sentence}, ""},
		{"enveloped array", map[string]any{"data": []any{sentence}}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/sentences/today", r.URL.Path)
				assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
				writeJSON(w, http.StatusOK, tt.body)
			})

			set, err := c.TodaySentences(context.Background())
			require.NoError(t, err)
			require.Len(t, set.Sentences, 1)
			assert.Equal(t, learning.ID("7"), set.Sentences[0].ID)
			assert.Equal(t, "推しのライブに行きたいです。", set.Sentences[0].Japanese)
			assert.Equal(t, tt.wantID, set.ID)
		})
	}
}

func TestStatusError(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"error": map[string]any{"message": "token expired"}})
	})

	_, err := c.Me(context.Background())
	var se *StatusError
	require.True(t, errors.As(err, &se), "got %T", err)
	assert.Equal(t, http.StatusUnauthorized, se.StatusCode)
	assert.Equal(t, "token expired", se.Message)
	assert.Equal(t, "/api/user/me", se.Path)
	assert.True(t, IsUnauthorized(err))
	assert.False(t, se.Temporary())
}

func TestLogin_TokenFields(t *testing.T) {
	tests := []struct {
		name string
		body any
		want string
	}{
		{"access token", map[string]any{"data": map[string]any{"access_token": "a", "refresh_token": "r"}}, "a"},
		{"refresh only", map[string]any{"data": map[string]any{"refresh_token": "r"}}, "r"},
		{"bare", map[string]any{"token": "t"}, "t"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
				assert.Empty(t, r.Header.Get("Authorization"))
				var cred Credentials
				require.NoError(t, json.NewDecoder(r.Body).Decode(&cred))
				assert.Equal(t, "a@b.c", cred.Email)
				writeJSON(w, http.StatusOK, tt.body)
			})
			tok, err := c.Login(context.Background(), Credentials{Email: "a@b.c", Password: "pw"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, tok)
		})
	}

	c := newTestClient(t, "", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{}})
	})
	_, err := c.Login(context.Background(), Credentials{})
	assert.ErrorIs(t, err, ErrNoToken)
}

func TestPushProgress_SendsOnlySetFlags(t *testing.T) {
	var body map[string]any
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/learning/progress", r.URL.Path)
		json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"ok": true}})
	})

	u := learning.StepUpdate("12", learning.StepCheck, true)
	u.DailySetID = "3"
	require.NoError(t, c.PushProgress(context.Background(), u))
	assert.Equal(t, map[string]any{"sentence_id": float64(12), "daily_set_id": float64(3), "confirm": true}, body)
}

func TestProgressSnapshot(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "d-9", r.URL.Query().Get("daily_set_id"))
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"progress": []any{
			map[string]any{"sentence_id": "s1", "understand": true},
			map[string]any{"sentence_id": "s2", "memorized": true},
		}}})
	})

	records, err := c.ProgressSnapshot(context.Background(), "d-9")
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, learning.StatusInProgress, records[0].Progress().Status)
	assert.True(t, records[1].Progress().AllSteps())
}

func TestSubmitQuiz(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		var s learning.QuizSubmission
		require.NoError(t, json.NewDecoder(r.Body).Decode(&s))
		assert.Equal(t, []int{2, 0, 1}, s.OrderingAnswer)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{"all_correct": true, "memorized": true}})
	})

	res, err := c.SubmitQuiz(context.Background(), learning.QuizSubmission{SentenceID: "s1", OrderingAnswer: []int{2, 0, 1}})
	require.NoError(t, err)
	assert.True(t, res.AllCorrect)
	assert.True(t, res.Memorized)
}

func TestCreateChatSession_SessionIDAlias(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, "anime", body["topic"])
		assert.Equal(t, "推し活", body["topic_detail"])
		writeJSON(w, http.StatusCreated, map[string]any{"data": map[string]any{
			"session_id": 41, "topic": "anime", "current_turn": 0, "max_turn": 5,
		}})
	})

	s, err := c.CreateChatSession(context.Background(), "anime", "推し活")
	require.NoError(t, err)
	assert.Equal(t, learning.ID("41"), s.ID)
	assert.Equal(t, 5, s.MaxTurn)
}

func TestStreamChatMessage(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat/sessions/41/message/stream", r.URL.Path)
		assert.Equal(t, "text/event-stream", r.Header.Get("Accept"))
		w.Header().Set("Content-Type", "text/event-stream")
		io.WriteString(w, "data: {\"type\":\"content\",\"content\":\"はい\"}\n\ndata: [DONE]\n\n")
	})

	body, err := c.StreamChatMessage(context.Background(), "41", "こんにちは")
	require.NoError(t, err)
	defer body.Close()
	raw, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(raw), "data: [DONE]\n\n"))
}

func TestStreamChatMessage_ErrorStatus(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]any{"message": "session ended"})
	})
	_, err := c.StreamChatMessage(context.Background(), "41", "x")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "session ended", se.Message)
}

func TestFeedback(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/feedback/41", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"session_id": 41,
			"scores":     map[string]any{"total": 85, "grammar": 90, "pronunciation": 80, "fluency": 85},
			"summaries":  []any{map[string]any{"id": 1, "text": "자연스러웠어요", "type": "positive"}},
		}})
	})

	fb, err := c.Feedback(context.Background(), "41")
	require.NoError(t, err)
	assert.Equal(t, Scores{Total: 85, Grammar: 90, Pronunciation: 80, Fluency: 85}, fb.Scores)
	require.Len(t, fb.Summaries, 1)
	assert.Equal(t, "positive", fb.Summaries[0].Type)
}

func TestTimeoutAppliesToPlainCalls(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	c, err := New(Options{BaseURL: server.URL, Tokens: StaticToken("tok"), Timeout: 20 * time.Millisecond})
	require.NoError(t, err)
	_, err = c.Me(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestHistory(t *testing.T) {
	c := newTestClient(t, "tok", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "5", r.URL.Query().Get("per_page"))
		writeJSON(w, http.StatusOK, map[string]any{"data": map[string]any{
			"page": 2, "per_page": 5, "total": 6,
			"history": []any{map[string]any{"daily_set_id": 1, "date": "2026-10-16", "sentences": []any{}}},
		}})
	})

	page, err := c.History(context.Background(), 2, 5)
	require.NoError(t, err)
	assert.Equal(t, 6, page.Total)
	require.Len(t, page.Sets, 1)
	assert.Equal(t, "2026-10-16", page.Sets[0].Date)
}
