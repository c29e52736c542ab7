package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONWritesFields(t *testing.T) {
	var buf bytes.Buffer
	log := New(Options{Level: "debug", Format: "json", Service: "guardian", Writer: &buf})

	log.Warn().Str("text", "John Smith").Msg("locator miss")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "warn", rec["level"])
	assert.Equal(t, "guardian", rec["service"])
	assert.Equal(t, "locator miss", rec["message"])
	assert.Equal(t, "John Smith", rec["text"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zerolog.WarnLevel, parseLevel("warning"))
	assert.Equal(t, zerolog.Disabled, parseLevel("off"))
	assert.Equal(t, zerolog.InfoLevel, parseLevel("nonsense"))
}

func TestFromEnv(t *testing.T) {
	t.Setenv("GUARDIAN_LOG_LEVEL", "ERROR")
	t.Setenv("GUARDIAN_LOG_FORMAT", "json")
	opt := FromEnv()
	assert.Equal(t, "error", opt.Level)
	assert.Equal(t, "json", opt.Format)
	assert.Equal(t, "guardian", opt.Service)
}

func TestContextLoggerIsUsable(t *testing.T) {
	ctx := WithRequest(context.Background(), "req-1")
	assert.NotNil(t, C(ctx))
	assert.NotNil(t, C(context.Background()))
	assert.NotNil(t, Named("supervisor"))
}
