// Package tts turns the tutor's Japanese replies into speech with Google
// Cloud Text-to-Speech.
package tts

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	texttospeechpb "google.golang.org/genproto/googleapis/cloud/texttospeech/v1"

	"github.com/kotoba-app/kotoba/internal/playback"
)

const (
	DefaultLanguage = "ja-JP"
	DefaultVoice    = "ja-JP-Neural2-B"
	mimeMP3         = "audio/mpeg"
)

// ErrEmptyText is returned when there is nothing to speak.
var ErrEmptyText = errors.New("tts: empty text")

// Config selects the voice and credentials.
type Config struct {
	Voice           string  `mapstructure:"voice"`
	LanguageCode    string  `mapstructure:"language_code"`
	SpeakingRate    float64 `mapstructure:"speaking_rate"`
	CredentialsFile string  `mapstructure:"credentials_file"`
}

type synthesizeFunc func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error)

// Synthesizer renders text to MP3 clips.
type Synthesizer struct {
	cfg        Config
	synthesize synthesizeFunc
	closer     io.Closer
	logger     *zap.Logger
}

// New dials the Text-to-Speech API. Without a credentials file the client
// uses application default credentials.
func New(ctx context.Context, cfg Config, logger *zap.Logger) (*Synthesizer, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create tts client: %w", err)
	}
	s := newSynthesizer(cfg, func(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest) (*texttospeechpb.SynthesizeSpeechResponse, error) {
		return client.SynthesizeSpeech(ctx, req)
	}, logger)
	s.closer = client
	return s, nil
}

func newSynthesizer(cfg Config, fn synthesizeFunc, logger *zap.Logger) *Synthesizer {
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = DefaultLanguage
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Synthesizer{cfg: cfg, synthesize: fn, logger: logger}
}

// Synthesize speaks text with the configured voice.
func (s *Synthesizer) Synthesize(ctx context.Context, text string) (playback.Clip, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return playback.Clip{}, ErrEmptyText
	}

	resp, err := s.synthesize(ctx, s.request(text))
	if err != nil {
		return playback.Clip{}, fmt.Errorf("synthesize speech: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return playback.Clip{}, fmt.Errorf("synthesize speech: empty audio")
	}
	s.logger.Debug("speech synthesized",
		zap.String("voice", s.cfg.Voice),
		zap.Int("chars", len([]rune(text))),
		zap.Int("bytes", len(resp.GetAudioContent())),
	)
	return playback.Clip{Data: resp.GetAudioContent(), MIME: mimeMP3}, nil
}

func (s *Synthesizer) request(text string) *texttospeechpb.SynthesizeSpeechRequest {
	return &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: s.cfg.LanguageCode,
			Name:         s.cfg.Voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  s.cfg.SpeakingRate,
		},
	}
}

// Close releases the API connection.
func (s *Synthesizer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
