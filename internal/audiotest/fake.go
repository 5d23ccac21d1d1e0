// ABOUTME: Scriptable fake audio device for tests
// ABOUTME: Records opens, reads, writes and lifecycle calls without touching hardware
package audiotest

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/device"
)

// Device is a device.Device whose behaviour is set by its fields
type Device struct {
	// BufferSize is returned by MinBufferSize (default 4096)
	BufferSize int

	// QueryErr and OpenErr make MinBufferSize and Open fail
	QueryErr error
	OpenErr  error

	// Reads scripts capture reads in order; a nil entry is a transient error.
	// Once exhausted, Read waits IdleDelay and returns a transient error.
	Reads     [][]byte
	IdleDelay time.Duration

	// WriteDelay is how long each Write blocks
	WriteDelay time.Duration

	// BlockDrain makes Drain wait until Stop is called
	BlockDrain bool

	// NoDrain hides Drain so handles do not implement device.Drainer
	NoDrain bool

	// FailWrites makes the listed write calls (0-based) return a transient error
	FailWrites map[int]bool

	mu      sync.Mutex
	opens   int
	handles []*Handle
	closed  bool
}

// Name returns "fake"
func (d *Device) Name() string { return "fake" }

// MinBufferSize returns BufferSize
func (d *Device) MinBufferSize(format audio.Format, mode device.Mode) (int, error) {
	if d.QueryErr != nil {
		return 0, d.QueryErr
	}
	if d.BufferSize == 0 {
		return 4096, nil
	}
	return d.BufferSize, nil
}

// Open records the call and returns a new Handle
func (d *Device) Open(format audio.Format, mode device.Mode, bufferSize int) (device.Handle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens++
	if d.OpenErr != nil {
		return nil, d.OpenErr
	}

	h := &Handle{
		dev:        d,
		Format:     format,
		Mode:       mode,
		BufferSize: bufferSize,
	}
	d.handles = append(d.handles, h)
	if d.NoDrain {
		return plainHandle{h}, nil
	}
	return h, nil
}

// Close marks the device closed
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

// Opens returns how many times Open was called
func (d *Device) Opens() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.opens
}

// Closed reports whether Close was called
func (d *Device) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// Handle returns the i-th opened handle
func (d *Device) Handle(i int) *Handle {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i < 0 || i >= len(d.handles) {
		return nil
	}
	return d.handles[i]
}

// Handle is a fake device.Handle
type Handle struct {
	dev        *Device
	Format     audio.Format
	Mode       device.Mode
	BufferSize int

	mu       sync.Mutex
	reads    int
	writes   int
	written  bytes.Buffer
	played   int
	stopped  int
	released int
	drained  int
	stopCh   chan struct{}
}

func (h *Handle) Read(p []byte) (int, error) {
	h.mu.Lock()
	if h.released > 0 {
		h.mu.Unlock()
		return 0, fmt.Errorf("%w: released", audio.ErrTransient)
	}
	i := h.reads
	h.reads++
	h.mu.Unlock()

	if i < len(h.dev.Reads) {
		chunk := h.dev.Reads[i]
		if chunk == nil {
			return 0, fmt.Errorf("%w: scripted read failure", audio.ErrTransient)
		}
		return copy(p, chunk), nil
	}

	delay := h.dev.IdleDelay
	if delay == 0 {
		delay = time.Millisecond
	}
	time.Sleep(delay)
	return 0, fmt.Errorf("%w: no more scripted reads", audio.ErrTransient)
}

func (h *Handle) Write(p []byte) (int, error) {
	h.mu.Lock()
	if h.released > 0 {
		h.mu.Unlock()
		return 0, io.ErrClosedPipe
	}
	i := h.writes
	h.writes++
	h.mu.Unlock()

	if h.dev.WriteDelay > 0 {
		time.Sleep(h.dev.WriteDelay)
	}
	if h.dev.FailWrites[i] {
		return 0, fmt.Errorf("%w: scripted write failure", audio.ErrTransient)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.written.Write(p)
	return len(p), nil
}

func (h *Handle) Play() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.played++
	return nil
}

func (h *Handle) Drain() error {
	h.mu.Lock()
	h.drained++
	if h.stopCh == nil {
		h.stopCh = make(chan struct{})
	}
	stopCh := h.stopCh
	h.mu.Unlock()

	if !h.dev.BlockDrain {
		return nil
	}
	<-stopCh
	return nil
}

func (h *Handle) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopped++
	if h.stopCh == nil {
		h.stopCh = make(chan struct{})
	}
	if h.stopped == 1 {
		close(h.stopCh)
	}
	return nil
}

func (h *Handle) Release() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.released++
	return nil
}

// plainHandle exposes only the device.Handle methods
type plainHandle struct{ h *Handle }

func (p plainHandle) Read(b []byte) (int, error)  { return p.h.Read(b) }
func (p plainHandle) Write(b []byte) (int, error) { return p.h.Write(b) }
func (p plainHandle) Play() error                 { return p.h.Play() }
func (p plainHandle) Stop() error                 { return p.h.Stop() }
func (p plainHandle) Release() error              { return p.h.Release() }

// Written returns a copy of every byte successfully written
func (h *Handle) Written() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]byte(nil), h.written.Bytes()...)
}

// Writes returns how many times Write was entered
func (h *Handle) Writes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.writes
}

// Reads returns how many times Read was called
func (h *Handle) Reads() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reads
}

// Played returns how many times Play was called
func (h *Handle) Played() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.played
}

// Stopped returns how many times Stop was called
func (h *Handle) Stopped() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stopped
}

// Released returns how many times Release was called
func (h *Handle) Released() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.released
}

// Drained returns how many times Drain was called
func (h *Handle) Drained() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.drained
}

// Sink is an in-memory io.WriteCloser
type Sink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	closed int
}

func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed > 0 {
		return 0, io.ErrClosedPipe
	}
	return s.buf.Write(p)
}

func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

// Bytes returns a copy of everything written
func (s *Sink) Bytes() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.buf.Bytes()...)
}

// Closed returns how many times Close was called
func (s *Sink) Closed() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// WaitFor polls cond until it holds or timeout elapses
func WaitFor(timeout time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return cond()
}
