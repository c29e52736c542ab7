package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL)
	assert.Equal(t, "gemma3n", cfg.Ollama.Model)
	assert.Equal(t, 30*time.Second, cfg.Ollama.StartupTimeout)
	assert.Equal(t, time.Second, cfg.Ollama.PollInterval)
	assert.Equal(t, 10*time.Second, cfg.Ollama.ShutdownGrace)
	assert.Equal(t, 800.0, cfg.Audio.BeepHz)
	assert.Equal(t, -20.0, cfg.Audio.BeepGainDB)
	assert.Equal(t, 400.0, cfg.Audio.FallbackHz)
	assert.Equal(t, -15.0, cfg.Audio.FallbackGainDB)
	require.NoError(t, cfg.Validate())
}

func TestLoadFileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "guardian.yaml")
	yml := `
ollama:
  model: llama3.2
  startup_timeout: 45s
audio:
  beep_hz: 1000
server:
  addr: 127.0.0.1:9000
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o644))

	t.Setenv("GUARDIAN_OLLAMA_MODEL", "gemma3n:e4b")
	t.Setenv("GUARDIAN_OLLAMA_POLL_INTERVAL", "250ms")
	t.Setenv("GUARDIAN_SERVER_ALLOWED_ORIGINS", "http://a, http://b,")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "gemma3n:e4b", cfg.Ollama.Model, "env wins over file")
	assert.Equal(t, 45*time.Second, cfg.Ollama.StartupTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.Ollama.PollInterval)
	assert.Equal(t, 1000.0, cfg.Audio.BeepHz)
	assert.Equal(t, "127.0.0.1:9000", cfg.Server.Addr)
	assert.Equal(t, []string{"http://a", "http://b"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "http://localhost:11434", cfg.Ollama.BaseURL, "untouched default")
}

func TestInvalidEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("GUARDIAN_OLLAMA_CHAT_TIMEOUT", "soon")
	t.Setenv("GUARDIAN_TRANSCRIBER_THREADS", "many")
	t.Setenv("GUARDIAN_LOG_FORMAT", "xml")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 120*time.Second, cfg.Ollama.ChatTimeout)
	assert.Equal(t, 2, cfg.Transcriber.NumThreads)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestValidateRejectsZeroTempo(t *testing.T) {
	cfg := Default()
	cfg.Audio.Tempo = 0
	assert.Error(t, cfg.Validate())
}
