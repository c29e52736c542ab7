package audio

import (
	"bytes"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	perr "guardian/internal/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWAVRoundTrip(t *testing.T) {
	buf := NewBuffer(16000, 2, 4)
	buf.Channels[0] = []float64{0, 0.5, -0.5, 1}
	buf.Channels[1] = []float64{0.25, -0.25, 0, -1}

	var out bytes.Buffer
	require.NoError(t, EncodeWAV(&out, buf))
	assert.Equal(t, 44+4*2*2, out.Len())

	got, err := DecodeWAV(&out)
	require.NoError(t, err)
	assert.Equal(t, 16000, got.SampleRate)
	require.Len(t, got.Channels, 2)
	for c := range buf.Channels {
		for i := range buf.Channels[c] {
			assert.InDelta(t, buf.Channels[c][i], got.Channels[c][i], 1.0/16384)
		}
	}
}

func TestDecodeWAVSkipsUnknownChunks(t *testing.T) {
	var wav bytes.Buffer
	require.NoError(t, EncodeWAV(&wav, NewBuffer(8000, 1, 2)))
	raw := wav.Bytes()

	// LIST-чанк между fmt и data
	patched := append([]byte{}, raw[:36]...)
	patched = append(patched, 'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0)
	patched = append(patched, raw[36:]...)

	got, err := DecodeWAV(bytes.NewReader(patched))
	require.NoError(t, err)
	assert.Equal(t, 2, got.Frames())
}

func TestDecodeWAVStreamingSize(t *testing.T) {
	var wav bytes.Buffer
	buf := NewBuffer(8000, 1, 3)
	buf.Channels[0] = []float64{0.5, -0.5, 0.25}
	require.NoError(t, EncodeWAV(&wav, buf))
	raw := wav.Bytes()

	// размер data неизвестен при записи потока
	binary.LittleEndian.PutUint32(raw[40:44], 0xFFFFFFFF)
	binary.LittleEndian.PutUint32(raw[4:8], 0xFFFFFFFF)

	got, err := DecodeWAV(bytes.NewReader(raw))
	require.NoError(t, err)
	require.Equal(t, 3, got.Frames())
	assert.InDelta(t, -0.5, got.Channels[0][1], 1.0/16384)
}

func TestDecodeWAVRejectsGarbage(t *testing.T) {
	_, err := DecodeWAV(bytes.NewReader([]byte("RIFX0000WAVE")))
	assert.Error(t, err)
}

func TestEncodeDecodeFiles(t *testing.T) {
	dir := t.TempDir()
	buf := NewBuffer(8000, 1, 800)
	copy(buf.Channels[0], sine(800, 440, 8000))

	path := filepath.Join(dir, "out.wav")
	require.NoError(t, Encode(path, buf))
	got, err := Decode(path)
	require.NoError(t, err)
	assert.InDelta(t, 0.1, got.Duration(), 1e-9)

	err = Encode(filepath.Join(dir, "out.ogg"), buf)
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))

	require.NoError(t, os.WriteFile(filepath.Join(dir, "x.flac"), []byte("x"), 0o644))
	_, err = Decode(filepath.Join(dir, "x.flac"))
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))

	_, err = Decode(filepath.Join(dir, "missing.wav"))
	assert.True(t, perr.IsCode(err, perr.ErrorCodeIOFailure))
}

func TestEncodeMP3(t *testing.T) {
	buf := NewBuffer(44100, 2, 3000)
	var out bytes.Buffer
	require.NoError(t, EncodeMP3(&out, buf))
	assert.NotZero(t, out.Len())

	assert.Error(t, EncodeMP3(&out, NewBuffer(44100, 3, 10)))
}

func TestEncodeMP3UnsupportedRates(t *testing.T) {
	dir := t.TempDir()
	for _, rate := range []int{96000, 88200, 44000, 6000} {
		path := filepath.Join(dir, "out.mp3")
		require.NotPanics(t, func() {
			require.NoError(t, Encode(path, NewBuffer(rate, 1, rate/2)))
		}, "rate %d", rate)
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.NotZero(t, info.Size())
	}

	assert.Equal(t, 48000, MP3SampleRate(96000))
	assert.Equal(t, 44100, MP3SampleRate(44000))
	assert.Equal(t, 8000, MP3SampleRate(6000))
	assert.Equal(t, 16000, MP3SampleRate(16000))
}

func TestEncodeMP3RejectsBeforeCreatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.mp3")
	err := Encode(path, NewBuffer(44100, 3, 10))
	assert.True(t, perr.IsCode(err, perr.ErrorCodeInvalidArgument))
	assert.NoFileExists(t, path)
}

func TestBufferReplaceAndMono(t *testing.T) {
	buf := NewBuffer(10, 2, 4)
	buf.Channels[0] = []float64{1, 1, 1, 1}
	buf.Channels[1] = []float64{0, 0, 0, 0}

	assert.Equal(t, []float32{0.5, 0.5, 0.5, 0.5}, buf.Mono())
	require.NoError(t, buf.Replace(1, 3, [][]float64{{9}, {8}}))
	assert.Equal(t, []float64{1, 9, 1}, buf.Channels[0])
	assert.Equal(t, []float64{0, 8, 0}, buf.Channels[1])

	assert.Error(t, buf.Replace(2, 1, [][]float64{{}, {}}))
	assert.Error(t, buf.Replace(0, 1, [][]float64{{1}}))
	assert.Equal(t, 3, buf.FrameAt(100))
	assert.Equal(t, 0, buf.FrameAt(-1))
}
