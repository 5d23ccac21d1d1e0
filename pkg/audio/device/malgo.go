// ABOUTME: Malgo-based capture and playback backend
// ABOUTME: Bridges miniaudio callbacks to blocking Read/Write through a byte ring buffer
package device

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/gen2brain/malgo"
)

// ringChunks is how many device buffers the stream and capture rings hold
const ringChunks = 4

// Malgo backend using malgo/miniaudio library
type Malgo struct {
	latency  time.Duration
	malgoCtx *malgo.AllocatedContext
	mu       sync.Mutex
}

// NewMalgo creates a new Malgo backend
func NewMalgo(latency time.Duration) *Malgo {
	return &Malgo{latency: latency}
}

// Name returns the backend name
func (m *Malgo) Name() string { return "malgo" }

// MinBufferSize returns latency worth of audio in bytes
func (m *Malgo) MinBufferSize(format audio.Format, mode Mode) (int, error) {
	if err := format.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	return MinBufferSize(format, m.latency), nil
}

// Open initializes a capture or playback device with the specified format
func (m *Malgo) Open(format audio.Format, mode Mode, bufferSize int) (Handle, error) {
	if err := checkOpen(format, bufferSize); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Create malgo context if needed
	if m.malgoCtx == nil {
		ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: failed to initialize malgo context: %v", audio.ErrDeviceUnavailable, err)
		}
		m.malgoCtx = ctx
	}

	sampleFormat := malgo.FormatS16
	if format.BitDepth == 8 {
		sampleFormat = malgo.FormatU8
	}

	h := &malgoHandle{
		mode:    mode,
		format:  format,
		silence: audio.Silence(format.BitDepth),
	}

	var deviceConfig malgo.DeviceConfig
	switch mode {
	case ModeCapture:
		h.ring = NewRingBuffer(bufferSize * ringChunks)
		deviceConfig = malgo.DefaultDeviceConfig(malgo.Capture)
		deviceConfig.Capture.Format = sampleFormat
		deviceConfig.Capture.Channels = uint32(format.Channels)
	case ModeStream:
		h.ring = NewRingBuffer(bufferSize * ringChunks)
		deviceConfig = malgo.DefaultDeviceConfig(malgo.Playback)
		deviceConfig.Playback.Format = sampleFormat
		deviceConfig.Playback.Channels = uint32(format.Channels)
	case ModeStatic:
		// The whole payload must fit before playback starts
		h.ring = NewRingBuffer(bufferSize)
		deviceConfig = malgo.DefaultDeviceConfig(malgo.Playback)
		deviceConfig.Playback.Format = sampleFormat
		deviceConfig.Playback.Channels = uint32(format.Channels)
	default:
		return nil, fmt.Errorf("%w: unsupported mode %s", audio.ErrDeviceUnavailable, mode)
	}
	deviceConfig.SampleRate = format.SampleRate
	deviceConfig.PeriodSizeInFrames = uint32(MinBufferSize(format, m.latency) / int(format.BlockAlign()))
	deviceConfig.Alsa.NoMMap = 1

	deviceCallbacks := malgo.DeviceCallbacks{
		Data: h.dataCallback,
	}

	device, err := malgo.InitDevice(m.malgoCtx.Context, deviceConfig, deviceCallbacks)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to initialize %s device: %v", audio.ErrDeviceUnavailable, mode, err)
	}
	h.device = device

	log.Printf("Audio device opened: %s %s, buffer %d bytes (malgo/%s)",
		mode, format, bufferSize, formatName(sampleFormat))

	return h, nil
}

// Close releases the malgo context
func (m *Malgo) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.malgoCtx != nil {
		if err := m.malgoCtx.Uninit(); err != nil {
			log.Printf("Warning: malgo context uninit error: %v", err)
		}
		m.malgoCtx.Free()
		m.malgoCtx = nil
	}
	return nil
}

type malgoHandle struct {
	mode     Mode
	format   audio.Format
	silence  byte
	device   *malgo.Device
	ring     *RingBuffer
	released bool
	mu       sync.Mutex
}

// dataCallback is called by malgo on its audio thread and must not block
func (h *malgoHandle) dataCallback(pOutput, pInput []byte, frameCount uint32) {
	if h.mode == ModeCapture {
		// Overruns drop the newest audio rather than stall the device
		h.ring.Write(pInput)
		return
	}
	h.ring.ReadFill(pOutput, h.silence)
}

// Read blocks until p is filled with captured audio
func (h *malgoHandle) Read(p []byte) (int, error) {
	if h.mode != ModeCapture {
		return 0, fmt.Errorf("%w: read on %s device", audio.ErrTransient, h.mode)
	}
	n, err := h.ring.WaitRead(p)
	if err != nil {
		return n, fmt.Errorf("%w: capture read: %v", audio.ErrTransient, err)
	}
	return n, nil
}

// Write queues audio for playback
func (h *malgoHandle) Write(p []byte) (int, error) {
	switch h.mode {
	case ModeStream:
		n, err := h.ring.WaitWrite(p)
		if err != nil {
			return n, fmt.Errorf("%w: stream write: %v", audio.ErrTransient, err)
		}
		return n, nil
	case ModeStatic:
		n := h.ring.Write(p)
		if n < len(p) {
			return n, fmt.Errorf("%w: static buffer full after %d of %d bytes", audio.ErrTransient, n, len(p))
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%w: write on %s device", audio.ErrTransient, h.mode)
	}
}

// Play starts the device
func (h *malgoHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return fmt.Errorf("%w: device released", audio.ErrDeviceUnavailable)
	}
	if err := h.device.Start(); err != nil {
		return fmt.Errorf("%w: failed to start device: %v", audio.ErrDeviceUnavailable, err)
	}
	return nil
}

// Drain blocks until the callback has consumed every queued byte
func (h *malgoHandle) Drain() error {
	if h.mode == ModeCapture {
		return nil
	}
	h.ring.WaitEmpty()
	return nil
}

// Stop halts the device and wakes any blocked Read, Write or Drain
func (h *malgoHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	if err := h.device.Stop(); err != nil {
		log.Printf("Warning: device stop error: %v", err)
	}
	// Nothing will drain or fill the ring once the device is stopped
	h.ring.Close()
	return nil
}

// Release uninitializes the device and wakes any blocked Read/Write
func (h *malgoHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.ring.Close()
	h.device.Uninit()
	h.released = true
	return nil
}

// formatName returns human-readable format name
func formatName(format malgo.FormatType) string {
	switch format {
	case malgo.FormatU8:
		return "U8"
	case malgo.FormatS16:
		return "S16"
	default:
		return fmt.Sprintf("Unknown(%d)", format)
	}
}
