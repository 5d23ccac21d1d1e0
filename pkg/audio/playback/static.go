// ABOUTME: Static playback session
// ABOUTME: Loads a complete WAV payload into the device and plays it in one go
package playback

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/device"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/wavcodec"
	"github.com/google/uuid"
)

// StaticOptions configures a static session
type StaticOptions struct {
	// OnDone is called once after the device is released.
	// completed is true when the payload finished playing on its own.
	OnDone func(completed bool, err error)
}

// StaticSession plays one in-memory payload
type StaticSession struct {
	id      string
	format  audio.Format
	handle  device.Handle
	size    int
	opts    StaticOptions
	started chan struct{}
	begun   time.Time

	stopping  atomic.Bool
	completed atomic.Bool
	done      chan struct{}
	stopOnce  sync.Once
	err       error
}

// StartStatic reads the whole WAV source, loads its payload into dev and starts playback.
// requested is the format the caller expects; the container's own format is used.
func StartStatic(dev device.Device, requested audio.Format, wavSrc io.Reader, opts StaticOptions) (*StaticSession, error) {
	data, err := io.ReadAll(wavSrc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", audio.ErrEmptyOrUnreadablePayload, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty source", audio.ErrEmptyOrUnreadablePayload)
	}

	format, payload, err := wavcodec.DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: no audio data", audio.ErrEmptyOrUnreadablePayload)
	}
	if requested != (audio.Format{}) && requested != format {
		log.Printf("WAV format %s differs from configured %s, using %s", format, requested, format)
	}

	handle, err := dev.Open(format, device.ModeStatic, len(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}

	n, err := handle.Write(payload)
	if err == nil && n < len(payload) {
		err = io.ErrShortWrite
	}
	if err != nil {
		handle.Release()
		return nil, fmt.Errorf("failed to load payload: %w", err)
	}

	if err := handle.Play(); err != nil {
		handle.Release()
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	s := &StaticSession{
		id:      uuid.New().String(),
		format:  format,
		handle:  handle,
		size:    len(payload),
		opts:    opts,
		started: make(chan struct{}),
		begun:   time.Now(),
		done:    make(chan struct{}),
	}
	close(s.started)

	log.Printf("Static playback started: %s, %d bytes, %v (session %s)",
		format, len(payload), format.Duration(int64(len(payload))).Round(time.Millisecond), s.id)

	if d, ok := handle.(device.Drainer); ok {
		go s.wait(d)
	}

	return s, nil
}

// wait tears the session down once the device has played everything
func (s *StaticSession) wait(d device.Drainer) {
	if err := d.Drain(); err != nil && !errors.Is(err, io.ErrClosedPipe) {
		log.Printf("Warning: drain error: %v", err)
	}
	if !s.stopping.Load() {
		s.completed.Store(true)
	}
	s.teardown()
}

func (s *StaticSession) teardown() {
	s.stopOnce.Do(func() {
		if err := s.handle.Stop(); err != nil {
			log.Printf("Warning: playback device stop error: %v", err)
		}
		if err := s.handle.Release(); err != nil {
			s.err = fmt.Errorf("failed to release playback device: %w", err)
		}

		reason := "stopped"
		if s.completed.Load() {
			reason = "completed"
		}
		log.Printf("Static playback %s after %v (session %s)", reason, time.Since(s.begun).Round(time.Millisecond), s.id)

		if s.opts.OnDone != nil {
			s.opts.OnDone(s.completed.Load(), s.err)
		}
		close(s.done)
	})
}

// Stop halts playback and releases the device. Safe to call more than once.
func (s *StaticSession) Stop() error {
	s.stopping.Store(true)
	s.teardown()
	return s.err
}

// Started is closed once the payload is loaded and playback has begun
func (s *StaticSession) Started() <-chan struct{} { return s.started }

// Done is closed once the device is released
func (s *StaticSession) Done() <-chan struct{} { return s.done }

// Completed reports whether the payload played to the end without Stop
func (s *StaticSession) Completed() bool { return s.completed.Load() }

// ID returns the session id
func (s *StaticSession) ID() string { return s.id }

// Format returns the format read from the container
func (s *StaticSession) Format() audio.Format { return s.format }

// Size returns the payload length in bytes
func (s *StaticSession) Size() int { return s.size }
