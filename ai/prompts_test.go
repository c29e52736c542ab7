package ai

import (
	"testing"

	"guardian/redact"

	"github.com/stretchr/testify/assert"
)

func TestFormatTranscript(t *testing.T) {
	words := []redact.TimedWord{
		{Text: " Hello", Start: 0.0, End: 0.4},
		{Text: "Alice", Start: 1.64, End: 2.0},
		{Text: "later", Start: 3723.5, End: 3724},
	}
	want := "[ 00:00:00.000 ] Hello\n[ 00:00:01.640 ] Alice\n[ 01:02:03.500 ] later"
	assert.Equal(t, want, FormatTranscript(words))
	assert.Equal(t, "", FormatTranscript(nil))
}

func TestBuildPagePromptEmbedsText(t *testing.T) {
	quick := BuildPagePrompt("Jane Roe, 12 Elm St", ProfileQuick)
	deep := BuildPagePrompt("Jane Roe, 12 Elm St", ProfileDeep)

	assert.Contains(t, quick, "Jane Roe, 12 Elm St")
	assert.Contains(t, deep, "Jane Roe, 12 Elm St")
	assert.Contains(t, deep, "HIPAA")
	assert.NotEqual(t, quick, deep)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile("DEEP")
	assert.NoError(t, err)
	assert.Equal(t, ProfileDeep, p)

	p, err = ParseProfile("")
	assert.NoError(t, err)
	assert.Equal(t, ProfileQuick, p)

	_, err = ParseProfile("thorough")
	assert.Error(t, err)
}
