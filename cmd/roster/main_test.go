package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hurttlocker/roster/internal/config"
	"github.com/hurttlocker/roster/internal/contacts"
	"github.com/hurttlocker/roster/internal/extract"
	"github.com/hurttlocker/roster/internal/transcribe"
)

type fakeExtractor map[string]*extract.Extraction

func (f fakeExtractor) Extract(_ context.Context, text string) (*extract.Extraction, error) {
	ext, ok := f[text]
	if !ok {
		return nil, errors.New("provider timeout")
	}
	out := *ext
	return &out, nil
}

type fakeTranscriber string

func (f fakeTranscriber) Transcribe(context.Context, io.Reader, string) (string, error) {
	return string(f), nil
}

type cli struct {
	t         *testing.T
	dbPath    string
	cfgPath   string
	extractor fakeExtractor
}

func newCLI(t *testing.T) *cli {
	dir := t.TempDir()
	t.Setenv("ROSTER_DB", "")
	t.Setenv("ROSTER_LLM", "")
	return &cli{
		t:         t,
		dbPath:    filepath.Join(dir, "roster.db"),
		cfgPath:   filepath.Join(dir, "config.yaml"),
		extractor: fakeExtractor{},
	}
}

// run executes one CLI invocation against the test database.
func (c *cli) run(stdin string, args ...string) (string, error) {
	c.t.Helper()
	var out, errOut bytes.Buffer
	a := newApp(strings.NewReader(stdin), &out, &errOut)
	a.newExtractor = func(config.ResolvedConfig, *zerolog.Logger) (extract.Extractor, error) {
		return c.extractor, nil
	}
	a.newTranscriber = func(config.ResolvedConfig) (transcribe.Transcriber, error) {
		return fakeTranscriber("삼성전자 김철수 팀장 통화"), nil
	}
	full := append([]string{"--db", c.dbPath, "--config", c.cfgPath, "--log-level", "error"}, args...)
	err := a.execute(context.Background(), full)
	return out.String(), err
}

func (c *cli) mustRun(stdin string, args ...string) string {
	c.t.Helper()
	out, err := c.run(stdin, args...)
	require.NoError(c.t, err, out)
	return out
}

func TestVersionCommand(t *testing.T) {
	c := newCLI(t)
	assert.Contains(t, c.mustRun("", "version"), "roster "+version)
}

func TestClientsAddListMatch(t *testing.T) {
	c := newCLI(t)

	assert.Contains(t, c.mustRun("", "clients", "add", "(주)삼성전자"), "Created client 1")
	assert.Contains(t, c.mustRun("", "clients", "add", "(주)삼성전자 "), "already exists 1")
	assert.Contains(t, c.mustRun("", "clients", "list"), "(주)삼성전자")

	out := c.mustRun("", "clients", "match", "삼성전자")
	assert.Contains(t, out, "(주)삼성전자")
	assert.Contains(t, out, "57%")

	out = c.mustRun("", "clients", "match", "Globex")
	assert.Contains(t, out, "No client matches")

	out = c.mustRun("", "--suggest-floor", "0.6", "clients", "match", "삼성전자")
	assert.Contains(t, out, "No client matches above 0.60")
}

func TestNoteAddConfirmsCloseMatch(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "clients", "add", "(주)삼성전자")

	out := c.mustRun("y\n", "note", "add", "--client", "삼성전자", "견적", "요청")
	assert.Contains(t, out, `Did you mean "(주)삼성전자"`)
	assert.Contains(t, out, "Note #1 attached to (주)삼성전자 (id 1)")

	out = c.mustRun("", "note", "add", "--client", "삼성전자", "--decide", "reject", "두번째")
	assert.Contains(t, out, "attached to new client 삼성전자 (id 2)")

	// Now an exact client exists, so no question is asked.
	out = c.mustRun("", "note", "add", "--client", "삼성전자 ", "세번째")
	assert.NotContains(t, out, "Did you mean")
	assert.Contains(t, out, "Note #3 attached to 삼성전자 (id 2)")
}

func TestNoteAddRepromptsOnBadAnswer(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "clients", "add", "(주)삼성전자")

	out := c.mustRun("maybe\nn\n", "note", "add", "--client", "삼성전자", "memo")
	assert.Contains(t, out, "Please answer y or n.")
	assert.Contains(t, out, "attached to new client")
}

func TestNoteAddWithoutAnswerSavesNothing(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "clients", "add", "(주)삼성전자")

	_, err := c.run("", "note", "add", "--client", "삼성전자", "memo")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--decide")

	var out struct {
		Records []json.RawMessage `json:"records"`
	}
	require.NoError(t, json.Unmarshal([]byte(c.mustRun("", "--json", "clients", "show", "1")), &out))
	assert.Empty(t, out.Records)
}

func TestNoteAddUnattachedThenAnalyze(t *testing.T) {
	c := newCLI(t)
	c.extractor["삼성전자들 방문, 김철수 팀장 010-1234-5678"] = &extract.Extraction{
		ClientName: "삼성전자",
		Summary:    "첫 방문",
		Contacts:   []contacts.ExternalContact{{Name: "김철수", Role: "팀장", Phone: "010-1234-5678"}},
	}

	out := c.mustRun("", "note", "add", "--client", "삼성전자들", "삼성전자들 방문, 김철수 팀장 010-1234-5678")
	assert.Contains(t, out, "Note #1 saved without a client")

	c.mustRun("", "clients", "add", "(주)삼성전자")
	out = c.mustRun("yes\n", "note", "analyze", "1")
	assert.Contains(t, out, `Is "삼성전자" the client "(주)삼성전자"`)
	assert.Contains(t, out, "Note #1 attached to (주)삼성전자")
	assert.Contains(t, out, "Contacts: 1 added")

	out = c.mustRun("", "contacts", "list", "1")
	assert.Contains(t, out, "* 김철수  팀장  010-1234-5678")
}

func TestNoteAddAudioAndAnalyze(t *testing.T) {
	c := newCLI(t)
	c.extractor["삼성전자 김철수 팀장 통화"] = &extract.Extraction{ClientName: "삼성전자"}

	audio := filepath.Join(t.TempDir(), "memo.m4a")
	require.NoError(t, os.WriteFile(audio, []byte("RIFF"), 0o600))

	out := c.mustRun("", "note", "add", "--audio", audio, "--analyze", "--decide", "accept")
	assert.Contains(t, out, "Note #1 saved without a client")
	assert.Contains(t, out, "Note #1 attached to new client 삼성전자")
}

func TestNoteAnalyzeAll(t *testing.T) {
	c := newCLI(t)
	c.extractor["good"] = &extract.Extraction{Summary: "fine"}
	c.mustRun("", "note", "add", "good")
	c.mustRun("", "note", "add", "bad")

	out, err := c.run("", "note", "analyze", "--all")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 notes failed")
	assert.Contains(t, out, "analysis failed")
	assert.Contains(t, out, "Summary: fine")

	_, err = c.run("", "note", "analyze")
	assert.ErrorContains(t, err, "record id or --all")
}

func TestStatsCounts(t *testing.T) {
	c := newCLI(t)
	c.mustRun("", "clients", "add", "Acme")
	c.mustRun("", "note", "add", "orphan note")

	out := c.mustRun("", "stats", "--vacuum")
	assert.Contains(t, out, "Clients:     1")
	assert.Contains(t, out, "Notes:       1 (1 without client, 1 not analyzed)")
}

func TestContactsListUnknownClient(t *testing.T) {
	c := newCLI(t)
	_, err := c.run("", "contacts", "list", "9")
	assert.Error(t, err)
}

func TestConfigRedactsKeys(t *testing.T) {
	c := newCLI(t)
	t.Setenv("OPENAI_API_KEY", "sk-test-1234567890")

	out := c.mustRun("", "--json", "config")
	assert.NotContains(t, out, "sk-test-1234567890")
	assert.Contains(t, out, "sk-t...7890")
	assert.Contains(t, out, `"suggest_floor": 0.55`)
}
