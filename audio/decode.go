package audio

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	perr "guardian/internal/errors"
	"guardian/internal/logger"

	"github.com/hajimehoshi/go-mp3"
)

// Decode читает MP3 или WAV по расширению файла
func Decode(path string) (*Buffer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, perr.IOf(err, "open audio %s", path)
	}
	defer f.Close()

	var buf *Buffer
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".mp3":
		buf, err = DecodeMP3(f)
	case ".wav":
		buf, err = DecodeWAV(bufio.NewReader(f))
	default:
		return nil, perr.InvalidArgf("unsupported audio format %q", ext)
	}
	if err != nil {
		return nil, perr.IOf(err, "decode %s", path)
	}

	logger.Named("audio").Debug().Str("path", path).Int("rate", buf.SampleRate).
		Int("channels", len(buf.Channels)).Float64("duration", buf.Duration()).Msg("audio decoded")
	return buf, nil
}

// DecodeMP3 go-mp3 всегда отдаёт signed 16-bit стерео
func DecodeMP3(r io.Reader) (*Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create MP3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(dec)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read PCM data: %w", err)
	}

	frames := len(pcm) / 4
	buf := NewBuffer(dec.SampleRate(), 2, frames)
	left, right := buf.Channels[0], buf.Channels[1]
	for i := 0; i < frames; i++ {
		left[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*4:]))) / 32768.0
		right[i] = float64(int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))) / 32768.0
	}
	return buf, nil
}

const (
	wavFormatPCM        = 1
	wavFormatFloat      = 3
	wavFormatExtensible = 0xFFFE
)

type wavFormat struct {
	AudioFormat   uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16
}

// maxFmtChunk fmt с расширениями занимает не больше нескольких десятков байт
const maxFmtChunk = 1024

// DecodeWAV разбирает RIFF/WAVE: PCM 8/16/24/32 бит и float 32 бит
func DecodeWAV(r io.Reader) (*Buffer, error) {
	var hdr [12]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("read RIFF header: %w", err)
	}
	if string(hdr[0:4]) != "RIFF" || string(hdr[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE file")
	}

	var format *wavFormat
	for {
		var id [4]byte
		var size uint32
		if _, err := io.ReadFull(r, id[:]); err != nil {
			return nil, fmt.Errorf("data chunk not found: %w", err)
		}
		if err := binary.Read(r, binary.LittleEndian, &size); err != nil {
			return nil, err
		}

		switch string(id[:]) {
		case "fmt ":
			if size > maxFmtChunk {
				return nil, fmt.Errorf("fmt chunk too large: %d", size)
			}
			chunk := make([]byte, size+size%2)
			if _, err := io.ReadFull(r, chunk); err != nil {
				return nil, err
			}
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short: %d", size)
			}
			f := wavFormat{
				AudioFormat:   binary.LittleEndian.Uint16(chunk[0:]),
				Channels:      binary.LittleEndian.Uint16(chunk[2:]),
				SampleRate:    binary.LittleEndian.Uint32(chunk[4:]),
				ByteRate:      binary.LittleEndian.Uint32(chunk[8:]),
				BlockAlign:    binary.LittleEndian.Uint16(chunk[12:]),
				BitsPerSample: binary.LittleEndian.Uint16(chunk[14:]),
			}
			// WAVE_FORMAT_EXTENSIBLE: настоящий формат в первых байтах SubFormat GUID
			if f.AudioFormat == wavFormatExtensible && size >= 26 {
				f.AudioFormat = binary.LittleEndian.Uint16(chunk[24:])
			}
			format = &f
		case "data":
			if format == nil {
				return nil, fmt.Errorf("data chunk before fmt chunk")
			}
			// потоковые WAV пишут размер 0xFFFFFFFF: читаем сколько есть
			data, err := io.ReadAll(io.LimitReader(r, int64(size)))
			if err != nil {
				return nil, err
			}
			return decodePCM(format, data)
		default:
			if _, err := io.CopyN(io.Discard, r, int64(size+size%2)); err != nil {
				return nil, err
			}
		}
	}
}

func decodePCM(f *wavFormat, data []byte) (*Buffer, error) {
	ch := int(f.Channels)
	width := int(f.BitsPerSample) / 8
	if ch == 0 || width == 0 {
		return nil, fmt.Errorf("invalid wav format: %d channels, %d bits", ch, f.BitsPerSample)
	}

	var sample func(b []byte) float64
	switch {
	case f.AudioFormat == wavFormatPCM && width == 1:
		sample = func(b []byte) float64 { return (float64(b[0]) - 128) / 128 }
	case f.AudioFormat == wavFormatPCM && width == 2:
		sample = func(b []byte) float64 { return float64(int16(binary.LittleEndian.Uint16(b))) / 32768 }
	case f.AudioFormat == wavFormatPCM && width == 3:
		sample = func(b []byte) float64 {
			v := int32(uint32(b[0])<<8|uint32(b[1])<<16|uint32(b[2])<<24) >> 8
			return float64(v) / 8388608
		}
	case f.AudioFormat == wavFormatPCM && width == 4:
		sample = func(b []byte) float64 { return float64(int32(binary.LittleEndian.Uint32(b))) / 2147483648 }
	case f.AudioFormat == wavFormatFloat && width == 4:
		sample = func(b []byte) float64 { return float64(math.Float32frombits(binary.LittleEndian.Uint32(b))) }
	default:
		return nil, fmt.Errorf("unsupported wav encoding: format %d, %d bits", f.AudioFormat, f.BitsPerSample)
	}

	block := ch * width
	frames := len(data) / block
	buf := NewBuffer(int(f.SampleRate), ch, frames)
	for i := 0; i < frames; i++ {
		for c := 0; c < ch; c++ {
			off := i*block + c*width
			buf.Channels[c][i] = sample(data[off : off+width])
		}
	}
	return buf, nil
}
