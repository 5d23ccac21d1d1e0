// ABOUTME: Oto-based playback backend
// ABOUTME: Streams PCM through a pipe or plays a whole payload with the oto library
package device

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/ebitengine/oto/v3"
)

// drainPoll is how often Drain checks whether an oto player is still playing
const drainPoll = 10 * time.Millisecond

// oto only allows one context per process, so it is shared by every Oto backend
var (
	otoMu        sync.Mutex
	otoCtx       *oto.Context
	otoFormat    audio.Format
	otoSuspended bool
)

// Oto backend using oto library (playback only)
type Oto struct {
	latency time.Duration
}

// NewOto creates a new Oto backend
func NewOto(latency time.Duration) *Oto {
	return &Oto{latency: latency}
}

// Name returns the backend name
func (o *Oto) Name() string { return "oto" }

// MinBufferSize returns latency worth of audio in bytes
func (o *Oto) MinBufferSize(format audio.Format, mode Mode) (int, error) {
	if mode == ModeCapture {
		return 0, fmt.Errorf("%w: oto does not support capture", audio.ErrDeviceUnavailable)
	}
	if err := format.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", audio.ErrDeviceUnavailable, err)
	}
	return MinBufferSize(format, o.latency), nil
}

// Open creates a player for the format
func (o *Oto) Open(format audio.Format, mode Mode, bufferSize int) (Handle, error) {
	if mode == ModeCapture {
		return nil, fmt.Errorf("%w: oto does not support capture", audio.ErrDeviceUnavailable)
	}
	if err := checkOpen(format, bufferSize); err != nil {
		return nil, err
	}

	ctx, err := o.context(format)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeStream:
		// Persistent player that reads from the pipe
		pr, pw := io.Pipe()
		return &otoStreamHandle{
			player:     ctx.NewPlayer(pr),
			pipeReader: pr,
			pipeWriter: pw,
		}, nil
	case ModeStatic:
		return &otoStaticHandle{
			ctx:  ctx,
			data: make([]byte, 0, bufferSize),
		}, nil
	default:
		return nil, fmt.Errorf("%w: unsupported mode %s", audio.ErrDeviceUnavailable, mode)
	}
}

// context returns the process-wide oto context, creating it on first use
func (o *Oto) context(format audio.Format) (*oto.Context, error) {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil {
		// oto cannot be reinitialized with another format
		if otoFormat != format {
			return nil, fmt.Errorf("%w: oto already initialized for %s, cannot open %s",
				audio.ErrDeviceUnavailable, otoFormat, format)
		}
		if otoSuspended {
			if err := otoCtx.Resume(); err != nil {
				return nil, fmt.Errorf("%w: failed to resume oto context: %v", audio.ErrDeviceUnavailable, err)
			}
			otoSuspended = false
		}
		return otoCtx, nil
	}

	sampleFormat := oto.FormatSignedInt16LE
	if format.BitDepth == 8 {
		sampleFormat = oto.FormatUnsignedInt8
	}

	op := &oto.NewContextOptions{
		SampleRate:   int(format.SampleRate),
		ChannelCount: int(format.Channels),
		Format:       sampleFormat,
		BufferSize:   o.latency,
	}

	ctx, readyChan, err := oto.NewContext(op)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create oto context: %v", audio.ErrDeviceUnavailable, err)
	}

	<-readyChan

	otoCtx = ctx
	otoFormat = format

	log.Printf("Audio output initialized: %dHz, %d channels (oto)", format.SampleRate, format.Channels)

	return otoCtx, nil
}

// Close suspends the shared context; the next Open resumes it
func (o *Oto) Close() error {
	otoMu.Lock()
	defer otoMu.Unlock()

	if otoCtx != nil && !otoSuspended {
		if err := otoCtx.Suspend(); err != nil {
			return fmt.Errorf("failed to suspend oto context: %w", err)
		}
		otoSuspended = true
	}
	return nil
}

type otoStreamHandle struct {
	player     *oto.Player
	pipeReader *io.PipeReader
	pipeWriter *io.PipeWriter
	mu         sync.Mutex
	released   bool
}

func (h *otoStreamHandle) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("%w: read on playback device", audio.ErrTransient)
}

// Write feeds the pipe and blocks until the player has consumed p
func (h *otoStreamHandle) Write(p []byte) (int, error) {
	n, err := h.pipeWriter.Write(p)
	if err != nil {
		return n, fmt.Errorf("%w: pipe write failed: %v", audio.ErrTransient, err)
	}
	return n, nil
}

func (h *otoStreamHandle) Play() error {
	h.player.Play()
	return nil
}

// Drain closes the pipe so the player sees EOF, then waits for it to finish
func (h *otoStreamHandle) Drain() error {
	h.pipeWriter.Close()
	for h.player.IsPlaying() {
		time.Sleep(drainPoll)
	}
	return nil
}

func (h *otoStreamHandle) Stop() error {
	h.player.Pause()
	return nil
}

func (h *otoStreamHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	h.pipeWriter.Close()
	err := h.player.Close()
	h.pipeReader.Close()
	if err != nil {
		return fmt.Errorf("failed to close player: %w", err)
	}
	return nil
}

type otoStaticHandle struct {
	ctx      *oto.Context
	data     []byte
	player   *oto.Player
	mu       sync.Mutex
	released bool
}

func (h *otoStaticHandle) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("%w: read on playback device", audio.ErrTransient)
}

// Write copies p into the fixed-size static buffer
func (h *otoStaticHandle) Write(p []byte) (int, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	free := cap(h.data) - len(h.data)
	n := len(p)
	if n > free {
		n = free
	}
	h.data = append(h.data, p[:n]...)
	if n < len(p) {
		return n, fmt.Errorf("%w: static buffer full after %d of %d bytes", audio.ErrTransient, n, len(p))
	}
	return n, nil
}

// Play hands the buffered payload to a new player
func (h *otoStaticHandle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return fmt.Errorf("%w: device released", audio.ErrDeviceUnavailable)
	}
	if h.player == nil {
		h.player = h.ctx.NewPlayer(bytes.NewReader(h.data))
	}
	h.player.Play()
	return nil
}

// Drain waits until the player has played the whole payload
func (h *otoStaticHandle) Drain() error {
	h.mu.Lock()
	player := h.player
	h.mu.Unlock()

	if player == nil {
		return nil
	}
	for player.IsPlaying() {
		time.Sleep(drainPoll)
	}
	return nil
}

func (h *otoStaticHandle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.player != nil {
		h.player.Pause()
	}
	return nil
}

func (h *otoStaticHandle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.released {
		return nil
	}
	h.released = true
	if h.player != nil {
		if err := h.player.Close(); err != nil {
			return fmt.Errorf("failed to close player: %w", err)
		}
	}
	h.data = nil
	return nil
}
