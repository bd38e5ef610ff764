package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/loqalabs/loqa-sign/internal/config"
	openai "github.com/sashabaranov/go-openai"
)

type openAIRecognizer struct {
	client  *openai.Client
	model   string
	lang    string
	timeout time.Duration
}

// NewOpenAIRecognizer transcribes through an OpenAI-compatible
// /audio/transcriptions endpoint.
func NewOpenAIRecognizer(cfg config.STTConfig) (Recognizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai stt requires an api key")
	}
	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &openAIRecognizer{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   model,
		lang:    cfg.Language,
		timeout: timeoutOf(cfg),
	}, nil
}

func (r *openAIRecognizer) Transcribe(ctx context.Context, pcm []byte, sampleRate int, channels int) (TranscriptResult, error) {
	path, cleanup, err := writeTempWav(pcm, sampleRate, channels)
	if err != nil {
		return TranscriptResult{}, err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	resp, err := r.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    r.model,
		FilePath: path,
		Language: r.lang,
		Format:   openai.AudioResponseFormatJSON,
	})
	if err != nil {
		return TranscriptResult{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return TranscriptResult{}, ErrNoSpeech
	}
	return TranscriptResult{Text: text, Confidence: 1}, nil
}
