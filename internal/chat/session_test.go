package chat

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kotoba-app/kotoba/internal/api"
	"github.com/kotoba-app/kotoba/internal/learning"
	"github.com/kotoba-app/kotoba/internal/playback"
	"github.com/kotoba-app/kotoba/internal/sse"
)

// fakeStreamer serves scripted bodies, or a live pipe when script is nil.
type fakeStreamer struct {
	mu     sync.Mutex
	calls  []string
	script string
	err    error
	pipes  chan *io.PipeWriter
}

func newLiveStreamer() *fakeStreamer {
	return &fakeStreamer{pipes: make(chan *io.PipeWriter, 4)}
}

func (f *fakeStreamer) StreamChatMessage(ctx context.Context, _ learning.ID, msg string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.calls = append(f.calls, msg)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.pipes == nil {
		return io.NopCloser(strings.NewReader(f.script)), nil
	}
	pr, pw := io.Pipe()
	go func() {
		<-ctx.Done()
		pr.CloseWithError(ctx.Err())
	}()
	f.pipes <- pw
	return pr, nil
}

func (f *fakeStreamer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeStreamer) nextPipe(t *testing.T) *io.PipeWriter {
	t.Helper()
	select {
	case pw := <-f.pipes:
		return pw
	case <-time.After(2 * time.Second):
		t.Fatal("stream was never opened")
		return nil
	}
}

func newTestSession(st Streamer, opts Options) *Session {
	opts.Streamer = st
	return NewSession(api.ChatSession{ID: "sess-1", Topic: "카페", MaxTurn: 5}, opts)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 2*time.Second, 5*time.Millisecond)
}

func TestSendTurn_StreamsReply(t *testing.T) {
	st := &fakeStreamer{script: strings.Join([]string{
		`data: {"type":"turn_info","current_turn":1,"max_turn":5}`,
		`data: {"type":"content","content":"いらっしゃい"}`,
		`data: {"type":"content","content":"ませ。"}`,
		`data: {"type":"done","turn_summary":"{\"current_turn\":2,\"max_turn\":5,\"is_completed\":false}"}`,
		`data: [DONE]`,
	}, "\n") + "\n"}
	s := newTestSession(st, Options{})

	require.NoError(t, s.SendTurn(context.Background(), "コーヒーをください"))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, RoleUser, msgs[0].Role)
	assert.Equal(t, "コーヒーをください", msgs[0].Content)
	assert.Equal(t, RoleAssistant, msgs[1].Role)
	assert.Equal(t, "いらっしゃいませ。", msgs[1].Content)
	assert.False(t, msgs[1].Streaming)

	cur, limit := s.Turns()
	assert.Equal(t, 2, cur)
	assert.Equal(t, 5, limit)
	assert.Equal(t, StateActive, s.State())
	assert.False(t, s.Streaming())
}

func TestSendTurn_EmptyTextOpensWithoutUserMessage(t *testing.T) {
	st := &fakeStreamer{script: "data: {\"type\":\"content\",\"content\":\"こんにちは\"}\n"}
	s := newTestSession(st, Options{})

	require.NoError(t, s.SendTurn(context.Background(), ""))

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleAssistant, msgs[0].Role)
	assert.Equal(t, []string{""}, st.calls)
}

func TestSendTurn_LiteralAndUnknownPayloads(t *testing.T) {
	st := &fakeStreamer{script: "data: はい\ndata: {\"type\":\"thinking\",\"x\":1}\ndata: [DONE]"}
	s := newTestSession(st, Options{})

	require.NoError(t, s.SendTurn(context.Background(), "a"))
	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, `はい{"type":"thinking","x":1}`, msgs[1].Content)
}

func TestSendTurn_TurnInfoIsClamped(t *testing.T) {
	st := &fakeStreamer{script: "data: {\"type\":\"turn_info\",\"current_turn\":9,\"max_turn\":3}\ndata: {\"type\":\"content\",\"content\":\"x\"}\n"}
	s := newTestSession(st, Options{})

	require.NoError(t, s.SendTurn(context.Background(), "a"))
	cur, limit := s.Turns()
	assert.Equal(t, 3, cur)
	assert.Equal(t, 3, limit)
}

func TestSendTurn_SingleInFlight(t *testing.T) {
	st := newLiveStreamer()
	s := newTestSession(st, Options{})

	errc := make(chan error, 1)
	go func() { errc <- s.SendTurn(context.Background(), "一つ目") }()
	pw := st.nextPipe(t)

	err := s.SendTurn(context.Background(), "二つ目")
	assert.ErrorIs(t, err, ErrSendInFlight)
	assert.Equal(t, 1, st.callCount())

	_, _ = io.WriteString(pw, "data: {\"type\":\"content\",\"content\":\"はい\"}\n")
	require.NoError(t, pw.Close())
	require.NoError(t, <-errc)

	msgs := s.Messages()
	require.Len(t, msgs, 2, "the rejected turn adds no messages")
	assert.Equal(t, "一つ目", msgs[0].Content)
	assert.Equal(t, "はい", msgs[1].Content)
}

func TestCancel_IsSilent(t *testing.T) {
	st := newLiveStreamer()
	var notified atomic.Int32
	s := newTestSession(st, Options{Observer: func() { notified.Add(1) }})

	errc := make(chan error, 1)
	go func() { errc <- s.SendTurn(context.Background(), "もしもし") }()
	pw := st.nextPipe(t)

	_, _ = io.WriteString(pw, "data: {\"type\":\"content\",\"content\":\"途中\"}\n")
	waitFor(t, func() bool {
		msgs := s.Messages()
		return len(msgs) == 2 && msgs[1].Content == "途中"
	})

	s.Cancel()
	require.NoError(t, <-errc)

	before := s.Messages()
	require.Len(t, before, 2)
	assert.Equal(t, "途中", before[1].Content)
	assert.False(t, before[1].Streaming)
	assert.False(t, before[1].Failed)
	assert.False(t, s.Streaming())

	// Late bytes from the aborted stream change nothing.
	_, _ = io.WriteString(pw, "data: {\"type\":\"content\",\"content\":\"遅い\"}\n")
	assert.Equal(t, before, s.Messages())
}

func TestCancel_RemovesEmptyPlaceholder(t *testing.T) {
	st := newLiveStreamer()
	s := newTestSession(st, Options{})

	errc := make(chan error, 1)
	go func() { errc <- s.SendTurn(context.Background(), "もしもし") }()
	st.nextPipe(t)

	s.Cancel()
	require.NoError(t, <-errc)

	msgs := s.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, RoleUser, msgs[0].Role)
}

func TestSendTurn_ContextCancelIsSilent(t *testing.T) {
	st := newLiveStreamer()
	s := newTestSession(st, Options{})
	ctx, cancel := context.WithCancel(context.Background())

	errc := make(chan error, 1)
	go func() { errc <- s.SendTurn(ctx, "もしもし") }()
	st.nextPipe(t)
	cancel()

	require.NoError(t, <-errc)
	for _, m := range s.Messages() {
		assert.NotEqual(t, FailureNotice, m.Content)
	}
}

func TestSendTurn_FailureNotice(t *testing.T) {
	st := &fakeStreamer{err: &api.StatusError{Method: "POST", Path: "/x", StatusCode: 500, Message: "boom"}}
	s := newTestSession(st, Options{})

	err := s.SendTurn(context.Background(), "こんにちは")
	require.Error(t, err)
	var se *api.StatusError
	assert.True(t, errors.As(err, &se))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, FailureNotice, msgs[1].Content)
	assert.True(t, msgs[1].Failed)
	assert.False(t, msgs[1].Streaming)

	// A failed turn frees the session for a retry.
	st.err = nil
	st.script = "data: {\"type\":\"content\",\"content\":\"ok\"}\n"
	require.NoError(t, s.SendTurn(context.Background(), "もう一度"))
}

func TestCompletion_NavigatesExactlyOnce(t *testing.T) {
	st := &fakeStreamer{script: strings.Join([]string{
		`data: {"type":"content","content":"またね"}`,
		`data: {"type":"done","turn_summary":{"current_turn":5,"max_turn":5,"is_completed":true}}`,
		`data: {"type":"session_end"}`,
		`data: {"type":"session_end"}`,
	}, "\n")}

	var navs atomic.Int32
	got := make(chan learning.ID, 4)
	s := newTestSession(st, Options{
		RedirectDelay: 20 * time.Millisecond,
		Navigator: func(id learning.ID) {
			navs.Add(1)
			got <- id
		},
	})

	require.NoError(t, s.SendTurn(context.Background(), "さようなら"))
	assert.Equal(t, StateCompleted, s.State())

	select {
	case id := <-got:
		assert.Equal(t, learning.ID("sess-1"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("navigator never called")
	}

	s.End()
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, navs.Load())
	assert.Equal(t, StateCompleted, s.State())

	assert.ErrorIs(t, s.SendTurn(context.Background(), "まだ"), ErrSessionClosed)
}

func TestCompletion_OnlyTheFinalDoneCompletes(t *testing.T) {
	st := &fakeStreamer{script: strings.Join([]string{
		`data: {"type":"turn_info","current_turn":1,"max_turn":2}`,
		`data: {"type":"content","content":"いいですね"}`,
		`data: {"type":"done","turn_summary":{"current_turn":1,"max_turn":2,"is_completed":false}}`,
	}, "\n")}

	var navs atomic.Int32
	got := make(chan learning.ID, 4)
	s := newTestSession(st, Options{
		RedirectDelay: 20 * time.Millisecond,
		Navigator: func(id learning.ID) {
			navs.Add(1)
			got <- id
		},
	})

	require.NoError(t, s.SendTurn(context.Background(), "コーヒーをください"))
	assert.Equal(t, StateActive, s.State())
	cur, limit := s.Turns()
	assert.Equal(t, 1, cur)
	assert.Equal(t, 2, limit)
	time.Sleep(50 * time.Millisecond)
	assert.Zero(t, navs.Load())

	st.mu.Lock()
	st.script = strings.Join([]string{
		`data: {"type":"turn_info","current_turn":2,"max_turn":2}`,
		`data: {"type":"content","content":"ありがとうございました"}`,
		`data: {"type":"done","turn_summary":{"current_turn":2,"max_turn":2,"is_completed":true}}`,
	}, "\n")
	st.mu.Unlock()

	require.NoError(t, s.SendTurn(context.Background(), "ごちそうさまでした"))
	assert.Equal(t, StateCompleted, s.State())

	select {
	case id := <-got:
		assert.Equal(t, learning.ID("sess-1"), id)
	case <-time.After(2 * time.Second):
		t.Fatal("navigator never called")
	}
	time.Sleep(50 * time.Millisecond)
	assert.EqualValues(t, 1, navs.Load())
	assert.Equal(t, 2, st.callCount())
}

func TestEnd_NavigatesImmediately(t *testing.T) {
	got := make(chan learning.ID, 2)
	s := newTestSession(&fakeStreamer{}, Options{
		RedirectDelay: time.Hour,
		Navigator:     func(id learning.ID) { got <- id },
	})

	s.End()
	s.End()

	select {
	case <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("navigator never called")
	}
	select {
	case <-got:
		t.Fatal("navigator called twice")
	case <-time.After(30 * time.Millisecond):
	}
	assert.Equal(t, StateEnded, s.State())
}

func TestClose_StopsPendingRedirect(t *testing.T) {
	st := &fakeStreamer{script: "data: {\"type\":\"session_end\"}\n"}
	var navs atomic.Int32
	s := newTestSession(st, Options{
		RedirectDelay: 30 * time.Millisecond,
		Navigator:     func(learning.ID) { navs.Add(1) },
	})

	require.NoError(t, s.SendTurn(context.Background(), "a"))
	s.Close()
	time.Sleep(80 * time.Millisecond)
	assert.Zero(t, navs.Load())
}

// clipRecorder is a playback output that records clips and plays until
// stopped.
type clipRecorder struct {
	clips chan playback.Clip
}

func (r *clipRecorder) Play(ctx context.Context, clip playback.Clip) error {
	r.clips <- clip
	<-ctx.Done()
	return ctx.Err()
}

func TestAudioEvent_StoresAndPlays(t *testing.T) {
	audio := []byte{0xff, 0xf3, 0x01, 0x02}
	st := &fakeStreamer{script: strings.Join([]string{
		`data: {"type":"content","content":"どうぞ"}`,
		`data: {"type":"audio","audio":"` + base64.StdEncoding.EncodeToString(audio) + `","mime":"audio/mpeg"}`,
	}, "\n")}
	rec := &clipRecorder{clips: make(chan playback.Clip, 4)}
	player := playback.New(rec, nil)
	defer player.Close()
	s := newTestSession(st, Options{Player: player})

	require.NoError(t, s.SendTurn(context.Background(), "a"))

	msgs := s.Messages()
	require.Len(t, msgs, 2)
	reply := msgs[1]
	require.True(t, reply.HasAudio())
	assert.Equal(t, audio, reply.Audio.Data)
	assert.Equal(t, "audio/mpeg", reply.Audio.MIME)

	select {
	case c := <-rec.clips:
		assert.Equal(t, audio, c.Data)
	case <-time.After(2 * time.Second):
		t.Fatal("clip never played")
	}
	waitFor(t, func() bool { return player.Playing() == reply.ID })

	assert.False(t, s.ToggleAudio(reply.ID), "toggling the playing clip stops it")
	assert.Equal(t, "", player.Playing())
	assert.True(t, s.ToggleAudio(reply.ID))
	assert.False(t, s.ToggleAudio(msgs[0].ID), "user messages carry no audio")
}

func TestAudioPayload_Variants(t *testing.T) {
	raw := []byte("mp3!")
	tests := []struct {
		name    string
		payload audioPayload
		mime    string
	}{
		{"std", audioPayload{Audio: base64.StdEncoding.EncodeToString(raw), MIME: "audio/mpeg"}, "audio/mpeg"},
		{"raw url", audioPayload{Data: base64.RawURLEncoding.EncodeToString(raw), Format: "mp3"}, "audio/mp3"},
		{"data url", audioPayload{Audio: "data:audio/wav;base64," + base64.StdEncoding.EncodeToString(raw)}, "audio/wav"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, mime, ok := tt.payload.clip()
			require.True(t, ok)
			assert.Equal(t, raw, data)
			assert.Equal(t, tt.mime, mime)
		})
	}
	_, _, ok := audioPayload{}.clip()
	assert.False(t, ok)
}

func TestParseDone(t *testing.T) {
	tests := []struct {
		name      string
		data      string
		cur, max  int
		completed bool
	}{
		{"object", `{"type":"done","turn_summary":{"current_turn":3,"max_turn":5,"is_completed":false}}`, 3, 5, false},
		{"string", `{"type":"done","turn_summary":"{\"current_turn\":5,\"max_turn\":5,\"is_completed\":true}"}`, 5, 5, true},
		{"top level", `{"type":"done","current_turn":2,"max_turn":4}`, 2, 4, false},
		{"summary wins", `{"type":"done","current_turn":1,"turn_summary":{"current_turn":2}}`, 2, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseDone(sse.Event{Type: EventDone, Data: tt.data})
			require.NotNil(t, got.CurrentTurn)
			assert.Equal(t, tt.cur, *got.CurrentTurn)
			if tt.max > 0 {
				require.NotNil(t, got.MaxTurn)
				assert.Equal(t, tt.max, *got.MaxTurn)
			}
			assert.Equal(t, tt.completed, got.IsCompleted != nil && *got.IsCompleted)
		})
	}
}
