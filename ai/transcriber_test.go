package ai

import (
	"testing"

	"guardian/redact"

	"github.com/stretchr/testify/assert"
)

func TestTokensToWords(t *testing.T) {
	tokens := []string{"▁MY", "▁NA", "ME", "▁IS", " AL", "ICE"}
	stamps := []float32{0.0, 0.4, 0.5, 0.9, 1.2, 1.3}

	got := tokensToWords(tokens, stamps, 2.0)
	want := []redact.TimedWord{
		{Text: "MY", Start: 0.0, End: float64(float32(0.4))},
		{Text: "NAME", Start: float64(float32(0.4)), End: float64(float32(0.9))},
		{Text: "IS", Start: float64(float32(0.9)), End: float64(float32(1.2))},
		{Text: "ALICE", Start: float64(float32(1.2)), End: 2.0},
	}
	assert.Equal(t, want, got)
}

func TestTokensToWordsFirstTokenWithoutBoundary(t *testing.T) {
	got := tokensToWords([]string{"hel", "lo"}, []float32{0.1, 0.2}, 1.0)
	assert.Equal(t, []redact.TimedWord{{Text: "hello", Start: float64(float32(0.1)), End: 1.0}}, got)
	assert.Empty(t, tokensToWords(nil, nil, 1.0))
}
