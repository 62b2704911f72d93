package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWhisperRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewWhisper(Config{})
	assert.Error(t, err)
}

func TestWhisperTranscribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/audio/transcriptions"), r.URL.Path)
		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "ko", r.FormValue("language"))

		f, hdr, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.Equal(t, "memo.m4a", hdr.Filename)
		assert.Equal(t, "fake-audio", string(body))

		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":" 삼성전자 김철수 팀장 미팅 "}`))
	}))
	defer server.Close()

	wh, err := NewWhisper(Config{APIKey: "k", BaseURL: server.URL, Language: "ko"})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "memo.m4a")
	require.NoError(t, os.WriteFile(path, []byte("fake-audio"), 0o600))

	text, err := TranscribeFile(context.Background(), wh, path)
	require.NoError(t, err)
	assert.Equal(t, "삼성전자 김철수 팀장 미팅", text)
}

func TestWhisperEmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text":"   "}`))
	}))
	defer server.Close()

	wh, err := NewWhisper(Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)
	_, err = wh.Transcribe(context.Background(), strings.NewReader("x"), "a.wav")
	assert.ErrorContains(t, err, "no speech")
}

func TestTranscribeFileMissing(t *testing.T) {
	wh, err := NewWhisper(Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = TranscribeFile(context.Background(), wh, filepath.Join(t.TempDir(), "nope.wav"))
	assert.ErrorContains(t, err, "opening audio")
}
