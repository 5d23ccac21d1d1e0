//go:build portaudio

// ABOUTME: PortAudio capture and playback backend
// ABOUTME: Cross-platform blocking audio I/O using PortAudio
package device

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/gordonklaus/portaudio"
)

// PortAudio backend using blocking streams
type PortAudio struct {
	latency time.Duration
}

// NewPortAudio creates a new PortAudio backend
func NewPortAudio(latency time.Duration) Device {
	return &PortAudio{latency: latency}
}

// Name returns the backend name
func (p *PortAudio) Name() string { return "portaudio" }

// MinBufferSize returns latency worth of audio in bytes
func (p *PortAudio) MinBufferSize(format audio.Format, mode Mode) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	return MinBufferSize(format, p.latency), nil
}

// Open initializes PortAudio and opens a default stream
func (p *PortAudio) Open(format audio.Format, mode Mode, bufferSize int) (Handle, error) {
	if err := checkOpen(format, bufferSize); err != nil {
		return nil, err
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: failed to initialize portaudio: %v", audio.ErrDeviceUnavailable, err)
	}

	// Blocking streams move one period per call
	period := MinBufferSize(format, p.latency)
	if mode == ModeCapture {
		period = bufferSize
	}
	frames := period / int(format.BlockAlign())
	samples := frames * int(format.Channels)

	h := &portAudioHandle{
		mode:    mode,
		format:  format,
		silence: audio.Silence(format.BitDepth),
		period:  frames * int(format.BlockAlign()),
		done:    make(chan struct{}),
	}
	if mode == ModeStatic {
		h.payload = make([]byte, 0, bufferSize)
	}

	var buf interface{}
	if format.BitDepth == 8 {
		h.buf8 = make([]uint8, samples)
		buf = h.buf8
	} else {
		h.buf16 = make([]int16, samples)
		buf = h.buf16
	}

	numIn, numOut := 0, int(format.Channels)
	if mode == ModeCapture {
		numIn, numOut = int(format.Channels), 0
	}

	stream, err := portaudio.OpenDefaultStream(numIn, numOut, float64(format.SampleRate), frames, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("%w: failed to open stream: %v", audio.ErrDeviceUnavailable, err)
	}
	h.stream = stream

	log.Printf("Audio device opened: %s %s, buffer %d bytes (portaudio)", mode, format, bufferSize)

	return h, nil
}

// Close is a no-op; each handle terminates its own PortAudio reference
func (p *PortAudio) Close() error {
	return nil
}

type portAudioHandle struct {
	mode    Mode
	format  audio.Format
	silence byte
	period  int
	stream  *portaudio.Stream
	buf8    []uint8
	buf16   []int16

	payload  []byte
	done     chan struct{}
	started  bool
	stopped  bool
	released bool
	mu       sync.Mutex
}

// Read blocks for one period and copies it into p
func (h *portAudioHandle) Read(p []byte) (int, error) {
	if h.mode != ModeCapture {
		return 0, fmt.Errorf("%w: read on %s device", audio.ErrTransient, h.mode)
	}
	if err := h.stream.Read(); err != nil {
		return 0, fmt.Errorf("%w: stream read: %v", audio.ErrTransient, err)
	}
	if h.buf8 != nil {
		return copy(p, h.buf8), nil
	}
	return audio.Int16ToBytes(p, h.buf16), nil
}

// Write plays p one period at a time (stream) or buffers it (static)
func (h *portAudioHandle) Write(p []byte) (int, error) {
	switch h.mode {
	case ModeStream:
		return h.writePeriods(p)
	case ModeStatic:
		h.mu.Lock()
		defer h.mu.Unlock()
		free := cap(h.payload) - len(h.payload)
		n := len(p)
		if n > free {
			n = free
		}
		h.payload = append(h.payload, p[:n]...)
		if n < len(p) {
			return n, fmt.Errorf("%w: static buffer full after %d of %d bytes", audio.ErrTransient, n, len(p))
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: write on %s device", audio.ErrTransient, h.mode)
	}
}

func (h *portAudioHandle) writePeriods(p []byte) (int, error) {
	written := 0
	for written < len(p) {
		end := written + h.period
		if end > len(p) {
			end = len(p)
		}
		h.fill(p[written:end])
		if err := h.stream.Write(); err != nil {
			return written, fmt.Errorf("%w: stream write: %v", audio.ErrTransient, err)
		}
		written = end
	}
	return written, nil
}

// fill unpacks chunk into the stream buffer, padding a short chunk with silence
func (h *portAudioHandle) fill(chunk []byte) {
	if h.buf8 != nil {
		n := copy(h.buf8, chunk)
		for i := n; i < len(h.buf8); i++ {
			h.buf8[i] = h.silence
		}
		return
	}
	n := audio.BytesToInt16(h.buf16, chunk)
	for i := n; i < len(h.buf16); i++ {
		h.buf16[i] = 0
	}
}

// Play starts the stream; static payloads are written from a background goroutine
func (h *portAudioHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return fmt.Errorf("%w: device released", audio.ErrDeviceUnavailable)
	}
	if err := h.stream.Start(); err != nil {
		return fmt.Errorf("%w: failed to start stream: %v", audio.ErrDeviceUnavailable, err)
	}
	if h.mode == ModeStatic && !h.started {
		h.started = true
		payload := h.payload
		go func() {
			defer close(h.done)
			if _, err := h.writePeriods(payload); err != nil {
				log.Printf("Static playback write error: %v", err)
			}
		}()
	}
	return nil
}

// Drain waits for a static payload to be fully written
func (h *portAudioHandle) Drain() error {
	h.mu.Lock()
	started := h.started
	h.mu.Unlock()

	if started {
		<-h.done
	}
	return nil
}

func (h *portAudioHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released || h.stopped {
		return nil
	}
	h.stopped = true
	if err := h.stream.Stop(); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}
	return nil
}

func (h *portAudioHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	err := h.stream.Close()
	portaudio.Terminate()
	if err != nil {
		return fmt.Errorf("failed to close stream: %w", err)
	}
	return nil
}
