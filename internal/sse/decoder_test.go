package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecoder_SplitAtEveryOffset(t *testing.T) {
	input := []byte("data: {\"type\":\"content\",\"content\":\"hi\"}\n")
	for i := 0; i <= len(input); i++ {
		var d Decoder
		events := append(d.Feed(input[:i]), d.Feed(input[i:])...)
		require.Len(t, events, 1, "split at %d", i)
		assert.Equal(t, "content", events[0].Type)

		var payload struct {
			Content string `json:"content"`
		}
		require.NoError(t, events[0].Decode(&payload))
		assert.Equal(t, "hi", payload.Content)
		assert.Zero(t, d.Pending())
	}
}

func TestDecoder_ChunkingDoesNotChangeEvents(t *testing.T) {
	input := []byte(strings.Join([]string{
		`data: {"type":"turn_info","current_turn":1,"max_turn":2}`,
		``,
		`data: {"type":"content","content":"こんにちは"}`,
		`: keep-alive`,
		`data: not json`,
		`event: message`,
		"data: {\"type\":\"content\",\"content\":\"！\"}\r",
		`data: [DONE]`,
		``,
	}, "\n"))

	var whole Decoder
	want := whole.Feed(input)
	require.Len(t, want, 5)

	for size := 1; size < 9; size++ {
		var d Decoder
		var got []Event
		for start := 0; start < len(input); start += size {
			end := start + size
			if end > len(input) {
				end = len(input)
			}
			got = append(got, d.Feed(input[start:end])...)
		}
		assert.Equal(t, want, got, "chunk size %d", size)
	}
}

func TestDecoder_Classification(t *testing.T) {
	var d Decoder
	events := d.Feed([]byte("data: [DONE]\ndata: plain text\ndata: {\"foo\":1}\ndata:{\"type\":\"done\"}\n"))
	require.Len(t, events, 4)

	assert.True(t, events[0].Done)
	assert.True(t, events[1].Literal)
	assert.Equal(t, "plain text", events[1].Data)
	assert.True(t, events[2].Literal, "JSON without type is literal")
	assert.Equal(t, "done", events[3].Type)
}

func TestDecoder_Flush(t *testing.T) {
	var d Decoder
	assert.Empty(t, d.Feed([]byte(`data: {"type":"session_end"}`)))
	events := d.Flush()
	require.Len(t, events, 1)
	assert.Equal(t, "session_end", events[0].Type)
	assert.Empty(t, d.Flush())
}

type chunkReader struct {
	chunks []string
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if r.chunks[0] == "" {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestStream_MultiByteSplitAcrossReads(t *testing.T) {
	line := "data: {\"type\":\"content\",\"content\":\"面白い\"}\n"
	cut := strings.Index(line, "白") + 1 // inside the UTF-8 sequence
	r := &chunkReader{chunks: []string{line[:cut], line[cut:]}}

	var got []string
	err := Stream(context.Background(), r, func(ev Event) error {
		var p struct {
			Content string `json:"content"`
		}
		require.NoError(t, ev.Decode(&p))
		got = append(got, p.Content)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"面白い"}, got)
}

func TestStream_StopAndHandlerError(t *testing.T) {
	body := "data: a\ndata: b\ndata: c\n"

	var seen []string
	err := Stream(context.Background(), strings.NewReader(body), func(ev Event) error {
		seen = append(seen, ev.Data)
		if ev.Data == "b" {
			return ErrStop
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)

	boom := errors.New("boom")
	err = Stream(context.Background(), strings.NewReader(body), func(Event) error { return boom })
	assert.ErrorIs(t, err, boom)
}

func TestStream_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Stream(ctx, strings.NewReader("data: a\n"), func(Event) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
