// ABOUTME: PCM capture session
// ABOUTME: Reads fixed-size chunks from an input device and appends them to a sink
package capture

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/device"
	"github.com/google/uuid"
)

// WritePolicy selects how much of each chunk reaches the sink
type WritePolicy int

const (
	// WriteFullBuffer appends the whole buffer after every successful read,
	// even a short one, so stale bytes can follow a short read.
	WriteFullBuffer WritePolicy = iota
	// WriteBytesRead appends only the bytes the device returned
	WriteBytesRead
)

func (p WritePolicy) String() string {
	if p == WriteBytesRead {
		return "read"
	}
	return "full"
}

// ParseWritePolicy accepts "full" or "read"
func ParseWritePolicy(s string) (WritePolicy, error) {
	switch s {
	case "", "full":
		return WriteFullBuffer, nil
	case "read":
		return WriteBytesRead, nil
	default:
		return 0, fmt.Errorf("unknown write policy: %s (supported: full, read)", s)
	}
}

// Options configures a capture session
type Options struct {
	Policy WritePolicy

	// OnChunk is called from the capture goroutine after each chunk reaches the sink
	OnChunk func(n int)

	// OnSkip is called from the capture goroutine when a read fails
	OnSkip func(err error)
}

// Stats counts what a session has done
type Stats struct {
	Chunks  int64 // chunks written to the sink
	Bytes   int64 // bytes written to the sink
	Skipped int64 // iterations skipped on read or write failure
}

// Session is one running capture
type Session struct {
	id     string
	format audio.Format
	handle device.Handle
	sink   io.WriteCloser
	buf    []byte
	opts   Options

	running  atomic.Bool
	chunks   atomic.Int64
	bytes    atomic.Int64
	skipped  atomic.Int64
	started  time.Time
	done     chan struct{}
	stopOnce sync.Once
	stopErr  error
}

// Start opens dev for capture and appends audio to sink on a new goroutine until Stop.
// The session owns sink and closes it on Stop, or immediately if Start fails.
func Start(dev device.Device, format audio.Format, sink io.WriteCloser, opts Options) (*Session, error) {
	if err := format.Validate(); err != nil {
		sink.Close()
		return nil, err
	}

	size, err := dev.MinBufferSize(format, device.ModeCapture)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to query buffer size: %w", err)
	}

	handle, err := dev.Open(format, device.ModeCapture, size)
	if err != nil {
		sink.Close()
		return nil, fmt.Errorf("failed to open capture device: %w", err)
	}

	if err := handle.Play(); err != nil {
		handle.Release()
		sink.Close()
		return nil, fmt.Errorf("failed to start recording: %w", err)
	}

	s := &Session{
		id:      uuid.New().String(),
		format:  format,
		handle:  handle,
		sink:    sink,
		buf:     make([]byte, size),
		opts:    opts,
		started: time.Now(),
		done:    make(chan struct{}),
	}
	s.running.Store(true)

	log.Printf("Recording started: %s, chunk %d bytes, policy %s (session %s)", format, size, opts.Policy, s.id)

	go s.run()

	return s, nil
}

// run is the capture loop; it exits after the iteration in which running is cleared
func (s *Session) run() {
	defer close(s.done)

	loggedWriteErr := false
	for s.running.Load() {
		n, err := s.handle.Read(s.buf)
		if err != nil {
			s.skipped.Add(1)
			if s.opts.OnSkip != nil {
				s.opts.OnSkip(err)
			}
			continue
		}

		chunk := s.buf
		if s.opts.Policy == WriteBytesRead {
			chunk = s.buf[:n]
		}
		if len(chunk) == 0 {
			continue
		}

		if _, err := s.sink.Write(chunk); err != nil {
			s.skipped.Add(1)
			if !loggedWriteErr {
				log.Printf("Capture sink write error: %v", err)
				loggedWriteErr = true
			}
			continue
		}

		s.chunks.Add(1)
		s.bytes.Add(int64(len(chunk)))
		if s.opts.OnChunk != nil {
			s.opts.OnChunk(len(chunk))
		}
	}
}

// Stop ends capture after the in-flight read, releases the device and closes the sink.
// Safe to call more than once; later calls return the first result.
func (s *Session) Stop() error {
	s.stopOnce.Do(func() {
		s.running.Store(false)
		<-s.done

		if err := s.handle.Stop(); err != nil {
			log.Printf("Warning: capture device stop error: %v", err)
		}
		if err := s.handle.Release(); err != nil {
			log.Printf("Warning: capture device release error: %v", err)
		}
		if err := s.sink.Close(); err != nil {
			s.stopErr = fmt.Errorf("failed to close capture sink: %w", err)
		}

		stats := s.Stats()
		log.Printf("Recording stopped: %d chunks, %d bytes, %d skipped in %v (session %s)",
			stats.Chunks, stats.Bytes, stats.Skipped, time.Since(s.started).Round(time.Millisecond), s.id)
	})
	return s.stopErr
}

// ID returns the session id
func (s *Session) ID() string { return s.id }

// Format returns the format being captured
func (s *Session) Format() audio.Format { return s.format }

// ChunkSize returns the device buffer size used for every read
func (s *Session) ChunkSize() int { return len(s.buf) }

// Stats returns counters; safe to call while running
func (s *Session) Stats() Stats {
	return Stats{
		Chunks:  s.chunks.Load(),
		Bytes:   s.bytes.Load(),
		Skipped: s.skipped.Load(),
	}
}

// CreateFile creates or truncates path, creating parent directories
func CreateFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create recording directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create recording file: %w", err)
	}
	return f, nil
}
