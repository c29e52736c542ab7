package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	perr "guardian/internal/errors"
	"guardian/internal/logger"

	"github.com/braheezy/shine-mp3/pkg/mp3"
)

// Encode пишет буфер в MP3 или WAV по расширению выходного файла
func Encode(path string, buf *Buffer) error {
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".mp3" && ext != ".wav" {
		return perr.InvalidArgf("unsupported output format %q", ext)
	}

	if ext == ".mp3" {
		if err := checkMP3(buf); err != nil {
			return perr.Wrap(err, perr.ErrorCodeInvalidArgument, "mp3 output")
		}
	}

	f, err := os.Create(path)
	if err != nil {
		return perr.IOf(err, "create %s", path)
	}
	w := bufio.NewWriter(f)

	if ext == ".mp3" {
		err = EncodeMP3(w, buf)
	} else {
		err = EncodeWAV(w, buf)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return perr.IOf(err, "encode %s", path)
	}

	logger.Named("audio").Debug().Str("path", path).Float64("duration", buf.Duration()).Msg("audio encoded")
	return nil
}

// interleave16 чередует каналы и переводит в signed 16-bit с ограничением
func interleave16(buf *Buffer) []int16 {
	ch := len(buf.Channels)
	out := make([]int16, buf.Frames()*ch)
	for c, samples := range buf.Channels {
		for i, s := range samples {
			s = max(-1, min(1, s))
			out[i*ch+c] = int16(s * 32767)
		}
	}
	return out
}

// mp3Rates частоты, которые принимает shine, по возрастанию
var mp3Rates = []int{8000, 11025, 12000, 16000, 22050, 24000, 32000, 44100, 48000}

// MP3SampleRate ближайшая сверху частота MP3; всё выше 48 кГц идёт в 48 кГц
func MP3SampleRate(rate int) int {
	for _, r := range mp3Rates {
		if rate <= r {
			return r
		}
	}
	return mp3Rates[len(mp3Rates)-1]
}

func checkMP3(buf *Buffer) error {
	if ch := len(buf.Channels); ch < 1 || ch > 2 {
		return fmt.Errorf("mp3 supports 1 or 2 channels, got %d", ch)
	}
	if buf.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", buf.SampleRate)
	}
	return nil
}

// EncodeMP3 shine кодирует блоками по 1152 сэмпла на канал, хвост добивается нулями.
// Частота, которую shine не поддерживает, сначала передискретизируется.
func EncodeMP3(w io.Writer, buf *Buffer) error {
	if err := checkMP3(buf); err != nil {
		return err
	}
	ch := len(buf.Channels)
	if rate := MP3SampleRate(buf.SampleRate); rate != buf.SampleRate {
		logger.Named("audio").Debug().Int("from", buf.SampleRate).Int("to", rate).Msg("resampling for mp3")
		buf = buf.Resample(rate)
	}

	pcm := interleave16(buf)
	block := 1152 * ch
	for len(pcm)%block != 0 {
		pcm = append(pcm, 0)
	}

	ew := &errWriter{w: w}
	enc := mp3.NewEncoder(buf.SampleRate, ch)
	enc.Write(ew, pcm)
	return ew.err
}

// errWriter запоминает первую ошибку записи
type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

// EncodeWAV пишет PCM 16 бит
func EncodeWAV(w io.Writer, buf *Buffer) error {
	ch := len(buf.Channels)
	const bitsPerSample = 16
	byteRate := buf.SampleRate * ch * bitsPerSample / 8
	blockAlign := ch * bitsPerSample / 8
	dataSize := uint32(buf.Frames() * blockAlign)

	header := []any{
		[4]byte{'R', 'I', 'F', 'F'},
		uint32(36 + dataSize),
		[4]byte{'W', 'A', 'V', 'E'},
		[4]byte{'f', 'm', 't', ' '},
		uint32(16),
		uint16(wavFormatPCM),
		uint16(ch),
		uint32(buf.SampleRate),
		uint32(byteRate),
		uint16(blockAlign),
		uint16(bitsPerSample),
		[4]byte{'d', 'a', 't', 'a'},
		dataSize,
	}
	for _, v := range header {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return binary.Write(w, binary.LittleEndian, interleave16(buf))
}
