// ABOUTME: Canonical 44-byte PCM WAV header
// ABOUTME: Marshals and validates RIFF, fmt and data chunk headers
package wavcodec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
)

const (
	// HeaderSize is the length of a canonical PCM WAV header
	HeaderSize = 44

	// MaxDataSize is the largest payload whose RIFF size still fits in 32 bits
	MaxDataSize = math.MaxUint32 - 36

	fmtChunkSize = 16
	formatPCM    = 1
)

// Header describes a canonical PCM WAV file
type Header struct {
	Format   audio.Format
	DataSize uint32
}

// riffHeader mirrors the on-disk layout
type riffHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // 36 + data size
	WaveID        [4]byte // "WAVE"
	FmtID         [4]byte // "fmt "
	FmtSize       uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	DataID        [4]byte // "data"
	DataSize      uint32
}

// NewHeader builds the header for n payload bytes
func NewHeader(format audio.Format, n int64) (Header, error) {
	if err := format.Validate(); err != nil {
		return Header{}, err
	}
	if n < 0 || n > MaxDataSize {
		return Header{}, fmt.Errorf("%w: %d bytes", audio.ErrPayloadTooLarge, n)
	}
	return Header{Format: format, DataSize: uint32(n)}, nil
}

// RIFFSize is the value of the RIFF chunk size field
func (h Header) RIFFSize() uint32 {
	return 36 + h.DataSize
}

// MarshalBinary returns the 44 header bytes
func (h Header) MarshalBinary() ([]byte, error) {
	raw := riffHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     h.RIFFSize(),
		WaveID:        [4]byte{'W', 'A', 'V', 'E'},
		FmtID:         [4]byte{'f', 'm', 't', ' '},
		FmtSize:       fmtChunkSize,
		AudioFormat:   formatPCM,
		NumChannels:   h.Format.Channels,
		SampleRate:    h.Format.SampleRate,
		ByteRate:      h.Format.ByteRate(),
		BlockAlign:    h.Format.BlockAlign(),
		BitsPerSample: h.Format.BitDepth,
		DataID:        [4]byte{'d', 'a', 't', 'a'},
		DataSize:      h.DataSize,
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize))
	if err := binary.Write(buf, binary.LittleEndian, raw); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteTo writes the header to w
func (h Header) WriteTo(w io.Writer) (int64, error) {
	b, err := h.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(b)
	return int64(n), err
}

// ParseHeader validates the first 44 bytes of b
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("%w: need at least %d bytes, got %d", audio.ErrMalformedContainer, HeaderSize, len(b))
	}

	var raw riffHeader
	if err := binary.Read(bytes.NewReader(b[:HeaderSize]), binary.LittleEndian, &raw); err != nil {
		return Header{}, fmt.Errorf("%w: %v", audio.ErrMalformedContainer, err)
	}

	if string(raw.ChunkID[:]) != "RIFF" {
		return Header{}, fmt.Errorf("%w: missing RIFF marker", audio.ErrMalformedContainer)
	}
	if string(raw.WaveID[:]) != "WAVE" {
		return Header{}, fmt.Errorf("%w: missing WAVE marker", audio.ErrMalformedContainer)
	}
	if string(raw.FmtID[:]) != "fmt " {
		return Header{}, fmt.Errorf("%w: missing fmt chunk", audio.ErrMalformedContainer)
	}
	if raw.FmtSize != fmtChunkSize {
		return Header{}, fmt.Errorf("%w: fmt chunk size %d (expected %d)", audio.ErrMalformedContainer, raw.FmtSize, fmtChunkSize)
	}
	if raw.AudioFormat != formatPCM {
		return Header{}, fmt.Errorf("%w: audio format %d (only PCM is supported)", audio.ErrMalformedContainer, raw.AudioFormat)
	}
	if string(raw.DataID[:]) != "data" {
		return Header{}, fmt.Errorf("%w: missing data chunk", audio.ErrMalformedContainer)
	}

	format := audio.Format{
		SampleRate: raw.SampleRate,
		Channels:   raw.NumChannels,
		BitDepth:   raw.BitsPerSample,
	}
	if err := format.Validate(); err != nil {
		return Header{}, fmt.Errorf("%w: %v", audio.ErrMalformedContainer, err)
	}
	if raw.ByteRate != format.ByteRate() {
		return Header{}, fmt.Errorf("%w: byte rate %d (expected %d)", audio.ErrMalformedContainer, raw.ByteRate, format.ByteRate())
	}
	if raw.BlockAlign != format.BlockAlign() {
		return Header{}, fmt.Errorf("%w: block align %d (expected %d)", audio.ErrMalformedContainer, raw.BlockAlign, format.BlockAlign())
	}
	if raw.DataSize > MaxDataSize || raw.ChunkSize != 36+raw.DataSize {
		return Header{}, fmt.Errorf("%w: RIFF size %d inconsistent with data size %d", audio.ErrMalformedContainer, raw.ChunkSize, raw.DataSize)
	}

	return Header{Format: format, DataSize: raw.DataSize}, nil
}

// ReadHeader consumes exactly HeaderSize bytes from r
func ReadHeader(r io.Reader) (Header, error) {
	b := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, b)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Header{}, fmt.Errorf("%w: need at least %d bytes, got %d", audio.ErrMalformedContainer, HeaderSize, n)
		}
		return Header{}, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return ParseHeader(b)
}

// IsWAV reports whether b starts with the RIFF/WAVE markers
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}
