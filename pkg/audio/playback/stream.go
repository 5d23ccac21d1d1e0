// ABOUTME: Streaming playback session
// ABOUTME: Copies a PCM source to an output device chunk by chunk until EOF or cancel
package playback

import (
	"errors"
	"fmt"
	"io"
	"log"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/device"
	"github.com/google/uuid"
)

// Stats counts what a playback session has done
type Stats struct {
	Chunks  int64 // chunks accepted by the device
	Bytes   int64 // bytes accepted by the device
	Skipped int64 // failed reads or writes
}

// StreamOptions configures a stream session
type StreamOptions struct {
	// OnChunk is called from the playback goroutine after each chunk is written
	OnChunk func(n int)

	// OnDone is called once after the device is released.
	// err is nil for natural completion and cancellation.
	OnDone func(stats Stats, err error)
}

// StreamSession plays one source
type StreamSession struct {
	id     string
	format audio.Format
	handle device.Handle
	src    io.ReadCloser
	buf    []byte
	opts   StreamOptions

	cancelled atomic.Bool
	draining  atomic.Bool
	completed atomic.Bool
	chunks    atomic.Int64
	bytes     atomic.Int64
	skipped   atomic.Int64
	started   time.Time
	done      chan struct{}
	err       error
}

// StartStream opens dev for streaming, starts playback and copies src to it on a new goroutine.
// The session owns src and closes it on teardown, or immediately if StartStream fails.
func StartStream(dev device.Device, format audio.Format, src io.ReadCloser, opts StreamOptions) (*StreamSession, error) {
	if err := format.Validate(); err != nil {
		src.Close()
		return nil, err
	}

	size, err := dev.MinBufferSize(format, device.ModeStream)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to query buffer size: %w", err)
	}

	handle, err := dev.Open(format, device.ModeStream, size)
	if err != nil {
		src.Close()
		return nil, fmt.Errorf("failed to open playback device: %w", err)
	}

	// Playback runs before the first write so the device drains as we feed it
	if err := handle.Play(); err != nil {
		handle.Release()
		src.Close()
		return nil, fmt.Errorf("failed to start playback: %w", err)
	}

	s := &StreamSession{
		id:      uuid.New().String(),
		format:  format,
		handle:  handle,
		src:     src,
		buf:     make([]byte, size),
		opts:    opts,
		started: time.Now(),
		done:    make(chan struct{}),
	}

	log.Printf("Stream playback started: %s, chunk %d bytes (session %s)", format, size, s.id)

	go s.run()

	return s, nil
}

func (s *StreamSession) run() {
	exhausted := false
	for !s.cancelled.Load() {
		n, err := s.src.Read(s.buf)
		if n > 0 {
			if _, werr := s.handle.Write(s.buf[:n]); werr != nil {
				s.skipped.Add(1)
			} else {
				s.chunks.Add(1)
				s.bytes.Add(int64(n))
				if s.opts.OnChunk != nil {
					s.opts.OnChunk(n)
				}
			}
		}
		if errors.Is(err, io.EOF) {
			exhausted = true
			break
		}
		if err != nil {
			s.skipped.Add(1)
		}
	}

	if exhausted {
		if d, ok := s.handle.(device.Drainer); ok {
			s.draining.Store(true)
			if !s.cancelled.Load() {
				if err := d.Drain(); err != nil {
					log.Printf("Warning: drain error: %v", err)
				}
			}
		}
		s.completed.Store(!s.cancelled.Load())
	}

	s.teardown()
}

// teardown runs once, on the playback goroutine, after the loop has exited
func (s *StreamSession) teardown() {
	defer close(s.done)

	if err := s.handle.Stop(); err != nil {
		log.Printf("Warning: playback device stop error: %v", err)
	}
	if err := s.handle.Release(); err != nil {
		s.err = fmt.Errorf("failed to release playback device: %w", err)
	}
	if err := s.src.Close(); err != nil {
		log.Printf("Warning: stream source close error: %v", err)
	}

	stats := s.Stats()
	reason := "cancelled"
	if s.completed.Load() {
		reason = "completed"
	}
	log.Printf("Stream playback %s: %d chunks, %d bytes, %d skipped in %v (session %s)",
		reason, stats.Chunks, stats.Bytes, stats.Skipped, time.Since(s.started).Round(time.Millisecond), s.id)

	if s.opts.OnDone != nil {
		s.opts.OnDone(stats, s.err)
	}
}

// Cancel stops playback after the in-flight chunk and waits for teardown.
// Safe to call more than once and after natural completion.
func (s *StreamSession) Cancel() error {
	s.cancelled.Store(true)
	if s.draining.Load() {
		// Wake a blocked drain
		s.handle.Stop()
	}
	<-s.done
	return s.err
}

// Done is closed once the device is released
func (s *StreamSession) Done() <-chan struct{} { return s.done }

// Err returns the teardown error; valid after Done is closed
func (s *StreamSession) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Completed reports whether the source played to the end without cancellation
func (s *StreamSession) Completed() bool { return s.completed.Load() }

// ID returns the session id
func (s *StreamSession) ID() string { return s.id }

// Format returns the format being played
func (s *StreamSession) Format() audio.Format { return s.format }

// Stats returns counters; safe to call while running
func (s *StreamSession) Stats() Stats {
	return Stats{
		Chunks:  s.chunks.Load(),
		Bytes:   s.bytes.Load(),
		Skipped: s.skipped.Load(),
	}
}
