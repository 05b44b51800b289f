package tts

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"
)

func TestSynthesize_BuildsJapaneseRequest(t *testing.T) {
	var got *texttospeechpb.SynthesizeSpeechRequest
	s := newSynthesizer(Config{SpeakingRate: 0.9}, func(_ context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		got = req
		return &texttospeechpb.SynthesizeSpeechResponse{AudioContent: []byte("ID3")}, nil
	}, nil)

	clip, err := s.Synthesize(context.Background(), "  いらっしゃいませ  ")
	require.NoError(t, err)
	assert.Equal(t, []byte("ID3"), clip.Data)
	assert.Equal(t, "audio/mpeg", clip.MIME)

	require.NotNil(t, got)
	assert.Equal(t, "いらっしゃいませ", got.GetInput().GetText())
	assert.Equal(t, "ja-JP", got.GetVoice().GetLanguageCode())
	assert.Equal(t, DefaultVoice, got.GetVoice().GetName())
	assert.Equal(t, texttospeechpb.AudioEncoding_MP3, got.GetAudioConfig().GetAudioEncoding())
	assert.InDelta(t, 0.9, got.GetAudioConfig().GetSpeakingRate(), 1e-9)
	assert.NoError(t, s.Close())
}

func TestSynthesize_Errors(t *testing.T) {
	calls := 0
	s := newSynthesizer(Config{}, func(context.Context, *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("quota exceeded")
		}
		return &texttospeechpb.SynthesizeSpeechResponse{}, nil
	}, nil)

	_, err := s.Synthesize(context.Background(), " ")
	assert.ErrorIs(t, err, ErrEmptyText)
	assert.Zero(t, calls)

	_, err = s.Synthesize(context.Background(), "はい")
	assert.ErrorContains(t, err, "quota exceeded")

	_, err = s.Synthesize(context.Background(), "はい")
	assert.ErrorContains(t, err, "empty audio")
}
