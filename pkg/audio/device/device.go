// ABOUTME: Audio device interface definition
// ABOUTME: Common interface for capture and playback backends
package device

import (
	"fmt"
	"strings"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
)

// DefaultLatency is the chunk duration used to size device buffers
const DefaultLatency = 40 * time.Millisecond

// Mode selects how a handle moves audio
type Mode int

const (
	// ModeCapture reads from an input device
	ModeCapture Mode = iota
	// ModeStream writes chunks to an output device while it plays
	ModeStream
	// ModeStatic writes one complete payload before playback starts
	ModeStatic
)

func (m Mode) String() string {
	switch m {
	case ModeCapture:
		return "capture"
	case ModeStream:
		return "stream"
	case ModeStatic:
		return "static"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// Handle is an open device, exclusively owned by one session
type Handle interface {
	// Read fills p with captured audio (capture mode, blocks)
	Read(p []byte) (int, error)

	// Write queues audio for playback (stream and static modes, may block)
	Write(p []byte) (int, error)

	// Play starts capture or playback
	Play() error

	// Stop halts capture or playback
	Stop() error

	// Release frees the underlying device; the handle is unusable afterwards
	Release() error
}

// Drainer is implemented by handles that can wait for queued audio to finish playing
type Drainer interface {
	Drain() error
}

// Device opens handles for a backend
type Device interface {
	// Name returns the backend name
	Name() string

	// MinBufferSize returns the chunk size in bytes for format in mode
	MinBufferSize(format audio.Format, mode Mode) (int, error)

	// Open opens a handle sized to bufferSize bytes
	Open(format audio.Format, mode Mode, bufferSize int) (Handle, error)

	// Close releases backend-wide resources
	Close() error
}

// New creates the named backend
func New(name string, latency time.Duration) (Device, error) {
	if latency <= 0 {
		latency = DefaultLatency
	}

	switch strings.ToLower(name) {
	case "", "malgo":
		return NewMalgo(latency), nil
	case "oto":
		return NewOto(latency), nil
	case "portaudio":
		return NewPortAudio(latency), nil
	default:
		return nil, fmt.Errorf("unknown device backend: %s (supported: malgo, oto, portaudio)", name)
	}
}

// MinBufferSize returns the bytes needed to hold latency worth of audio, at least one frame
func MinBufferSize(format audio.Format, latency time.Duration) int {
	size := format.BytesForDuration(latency)
	if block := int(format.BlockAlign()); size < block {
		size = block
	}
	return size
}

// checkOpen validates the arguments shared by every backend's Open
func checkOpen(format audio.Format, bufferSize int) error {
	if err := format.Validate(); err != nil {
		return fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	if bufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive, got %d", audio.ErrDeviceUnavailable, bufferSize)
	}
	return nil
}
