// Package transcribe turns recorded audio into note text.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// transcribeTimeout bounds a single upload and transcription.
const transcribeTimeout = 5 * time.Minute

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error)
}

// Config configures a Whisper transcriber.
type Config struct {
	APIKey   string // empty = OPENAI_API_KEY
	BaseURL  string // optional OpenAI-compatible endpoint
	Model    string // default whisper-1
	Language string // ISO-639-1 hint, e.g. "ko"
}

// Whisper transcribes through an OpenAI-compatible audio API.
type Whisper struct {
	client   *openai.Client
	model    string
	language string
}

// NewWhisper creates a Whisper transcriber.
func NewWhisper(cfg Config) (*Whisper, error) {
	key := cfg.APIKey
	if key == "" {
		key = os.Getenv("OPENAI_API_KEY")
	}
	if key == "" {
		return nil, fmt.Errorf("transcription requires OPENAI_API_KEY env var")
	}
	oc := openai.DefaultConfig(key)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &Whisper{
		client:   openai.NewClientWithConfig(oc),
		model:    model,
		language: cfg.Language,
	}, nil
}

// Transcribe uploads audio and returns the recognized text. filename is
// only used to tell the API the audio format.
func (w *Whisper) Transcribe(ctx context.Context, audio io.Reader, filename string) (string, error) {
	if filename == "" {
		filename = "audio.webm"
	}
	ctx, cancel := context.WithTimeout(ctx, transcribeTimeout)
	defer cancel()

	resp, err := w.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    w.model,
		FilePath: filepath.Base(filename),
		Reader:   audio,
		Language: w.language,
	})
	if err != nil {
		return "", fmt.Errorf("transcribing %s: %w", filepath.Base(filename), err)
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "", fmt.Errorf("transcribing %s: no speech recognized", filepath.Base(filename))
	}
	return text, nil
}

// TranscribeFile opens path and transcribes it.
func TranscribeFile(ctx context.Context, t Transcriber, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening audio: %w", err)
	}
	defer f.Close()
	return t.Transcribe(ctx, f, path)
}
