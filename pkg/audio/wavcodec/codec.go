// ABOUTME: PCM to WAV encoder and WAV to PCM decoder
// ABOUTME: Buffered and streaming conversions over the canonical header
package wavcodec

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
)

// Encode reads src to the end and returns header + payload
func Encode(src io.Reader, format audio.Format) ([]byte, error) {
	payload, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCM source: %w", err)
	}

	header, err := NewHeader(format, int64(len(payload)))
	if err != nil {
		return nil, err
	}

	out := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(payload)))
	if _, err := header.WriteTo(out); err != nil {
		return nil, err
	}
	out.Write(payload)

	return out.Bytes(), nil
}

// EncodeTo writes a header for size payload bytes, then copies exactly size bytes from src
func EncodeTo(w io.Writer, src io.Reader, format audio.Format, size int64) error {
	header, err := NewHeader(format, size)
	if err != nil {
		return err
	}

	if _, err := header.WriteTo(w); err != nil {
		return fmt.Errorf("failed to write WAV header: %w", err)
	}

	n, err := io.Copy(w, io.LimitReader(src, size))
	if err != nil {
		return fmt.Errorf("failed to copy PCM payload: %w", err)
	}
	if n != size {
		return fmt.Errorf("PCM source ended after %d of %d bytes", n, size)
	}
	return nil
}

// ConvertFile wraps the raw PCM file at pcmPath into a WAV file at wavPath.
// The WAV file is created or truncated; the PCM file is left untouched.
func ConvertFile(pcmPath, wavPath string, format audio.Format) (int64, error) {
	in, err := os.Open(pcmPath)
	if err != nil {
		return 0, fmt.Errorf("failed to open PCM file: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, fmt.Errorf("failed to stat PCM file: %w", err)
	}
	size := info.Size()

	// Validate before touching the destination
	if _, err := NewHeader(format, size); err != nil {
		return 0, err
	}

	if err := os.MkdirAll(filepath.Dir(wavPath), 0o755); err != nil {
		return 0, fmt.Errorf("failed to create WAV directory: %w", err)
	}
	out, err := os.Create(wavPath)
	if err != nil {
		return 0, fmt.Errorf("failed to create WAV file: %w", err)
	}

	if err := EncodeTo(out, in, format, size); err != nil {
		out.Close()
		return 0, err
	}
	if err := out.Close(); err != nil {
		return 0, fmt.Errorf("failed to close WAV file: %w", err)
	}

	log.Printf("Converted %s -> %s (%d bytes PCM, %s)", pcmPath, wavPath, size, format)

	return HeaderSize + size, nil
}

// Decode parses a WAV stream and returns its format and raw payload
func Decode(r io.Reader) (audio.Format, []byte, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return audio.Format{}, nil, err
	}

	// The header's data size is untrusted; grow with what the reader actually holds
	payload, err := io.ReadAll(io.LimitReader(r, int64(header.DataSize)))
	if err != nil {
		return audio.Format{}, nil, fmt.Errorf("failed to read WAV payload: %w", err)
	}
	if int64(len(payload)) < int64(header.DataSize) {
		return audio.Format{}, nil, fmt.Errorf("%w: data size %d but only %d bytes available",
			audio.ErrMalformedContainer, header.DataSize, len(payload))
	}

	return header.Format, payload, nil
}

// DecodeBytes is Decode over an in-memory file; the payload aliases b
func DecodeBytes(b []byte) (audio.Format, []byte, error) {
	header, err := ParseHeader(b)
	if err != nil {
		return audio.Format{}, nil, err
	}

	available := len(b) - HeaderSize
	if int64(header.DataSize) > int64(available) {
		return audio.Format{}, nil, fmt.Errorf("%w: data size %d but only %d bytes available",
			audio.ErrMalformedContainer, header.DataSize, available)
	}

	return header.Format, b[HeaderSize : HeaderSize+int(header.DataSize)], nil
}
