package ai

import (
	"image"
	"image/color"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeUltraFaceThresholdAndNMS(t *testing.T) {
	// три рамки: две почти совпадают, одна ниже порога
	scores := []float32{
		0.1, 0.9,
		0.2, 0.8,
		0.6, 0.4,
	}
	boxes := []float32{
		0.10, 0.10, 0.30, 0.30,
		0.11, 0.11, 0.31, 0.31,
		0.50, 0.50, 0.70, 0.70,
	}

	got := decodeUltraFace(scores, boxes, 0.7, 0.3)
	require.Len(t, got, 1)
	assert.InDelta(t, 0.9, got[0].Score, 1e-6)
	assert.InDelta(t, 0.10, got[0].X0, 1e-6)
}

func TestDecodeUltraFaceKeepsDisjoint(t *testing.T) {
	scores := []float32{0, 0.95, 0, 0.9}
	boxes := []float32{
		-0.1, 0.0, 0.2, 0.2,
		0.6, 0.6, 1.2, 0.9,
	}
	got := decodeUltraFace(scores, boxes, 0.5, 0.3)
	require.Len(t, got, 2)
	assert.Equal(t, 0.0, got[0].X0, "clamped to image")
	assert.Equal(t, 1.0, got[1].X1, "clamped to image")
}

func TestImageToCHW(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 2))
	for y := 0; y < 2; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{R: 255, G: 127, B: 0, A: 255})
		}
	}
	out := imageToCHW(img, 2, 1)
	require.Len(t, out, 6)
	assert.InDelta(t, 1.0, out[0], 1e-6)
	assert.InDelta(t, 0.0, out[2], 1e-6)
	assert.InDelta(t, -127.0/128, out[4], 1e-6)
}

func TestUltraFaceDetectorWithModel(t *testing.T) {
	modelPath := os.Getenv("GUARDIAN_TEST_FACE_MODEL")
	if modelPath == "" {
		t.Skipf("GUARDIAN_TEST_FACE_MODEL not set")
	}
	cfg := DefaultUltraFaceConfig()
	cfg.ModelPath = modelPath
	det, err := NewUltraFaceDetector(cfg)
	if err != nil {
		t.Skipf("face detector unavailable: %v", err)
	}
	defer det.Close()

	faces, err := det.DetectFaces(image.NewRGBA(image.Rect(0, 0, 320, 240)))
	require.NoError(t, err)
	assert.Empty(t, faces, "blank image has no faces")
}
