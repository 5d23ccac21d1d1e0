// ABOUTME: Controller coordinating recording, conversion and playback
// ABOUTME: Allows one device session at a time and reports state changes
package deck

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/capture"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/device"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/playback"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/wavcodec"
)

// ErrClosed is returned by operations on a closed controller
var ErrClosed = errors.New("controller is closed")

// Config holds controller configuration
type Config struct {
	// Device opens capture and playback handles
	Device device.Device

	// Format is used for recording, conversion and raw PCM playback (default: 44100Hz mono 16-bit)
	Format audio.Format

	// WritePolicy controls how capture chunks reach the file
	WritePolicy capture.WritePolicy

	// Metrics receives session events (optional)
	Metrics Metrics

	// OnStateChange is called when the controller state changes
	OnStateChange func(State)

	// OnError is called for errors raised after a session has started
	OnError func(error)

	// OnSessionEnd is called once a session has released the device
	OnSessionEnd func(SessionReport)
}

// Controller owns at most one session at a time
type Controller struct {
	config  Config
	metrics Metrics

	// op serializes control operations; mu guards the fields below and is
	// also taken by session goroutines reporting completion
	op sync.Mutex
	mu sync.Mutex

	state   State
	gen     uint64 // bumped per session so stale completions are ignored
	path    string
	started time.Time
	rec     *capture.Session
	stream  *playback.StreamSession
	static  *playback.StaticSession
	closed  bool
}

// New creates a controller with the given configuration
func New(config Config) (*Controller, error) {
	if config.Device == nil {
		return nil, fmt.Errorf("no audio device configured")
	}
	if config.Format == (audio.Format{}) {
		config.Format = audio.DefaultFormat
	}
	if err := config.Format.Validate(); err != nil {
		return nil, err
	}

	m := config.Metrics
	if m == nil {
		m = nopMetrics{}
	}

	return &Controller{
		config:  config,
		metrics: m,
		state:   Idle,
	}, nil
}

// State returns the current state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Format returns the configured PCM format
func (c *Controller) Format() audio.Format {
	return c.config.Format
}

// begin moves Idle to next and returns the new session generation
func (c *Controller) begin(next State, path string) (uint64, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return 0, ErrClosed
	}
	if c.state != Idle {
		current := c.state
		c.mu.Unlock()
		return 0, fmt.Errorf("%w: cannot start %s while %s", audio.ErrInvalidStateTransition, next, current)
	}
	c.state = next
	c.gen++
	c.path = path
	c.started = time.Now()
	gen := c.gen
	c.mu.Unlock()

	// Counted before the session goroutine can finish and report its end
	c.metrics.RecordSessionStarted(next.kind())
	c.notifyStateChange(next)
	return gen, nil
}

// abort returns to Idle after a failed start
func (c *Controller) abort(gen uint64, kind State, err error) error {
	c.mu.Lock()
	if c.gen == gen {
		c.state = Idle
	}
	c.mu.Unlock()

	c.metrics.RecordStartFailure(kind.kind())
	log.Printf("Failed to start %s: %v", kind, err)
	c.notifyStateChange(Idle)
	return err
}

// StartRecord captures raw PCM into path, replacing any existing file
func (c *Controller) StartRecord(path string) error {
	c.op.Lock()
	defer c.op.Unlock()

	gen, err := c.begin(Recording, path)
	if err != nil {
		return err
	}

	sink, err := capture.CreateFile(path)
	if err != nil {
		return c.abort(gen, Recording, err)
	}

	sess, err := capture.Start(c.config.Device, c.config.Format, sink, capture.Options{
		Policy:  c.config.WritePolicy,
		OnChunk: c.metrics.AddCaptured,
	})
	if err != nil {
		return c.abort(gen, Recording, err)
	}

	c.mu.Lock()
	c.rec = sess
	c.mu.Unlock()

	log.Printf("Recording to %s", path)
	return nil
}

// StopRecord ends the current recording; a no-op unless recording
func (c *Controller) StopRecord() error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.stopRecord()
}

func (c *Controller) stopRecord() error {
	c.mu.Lock()
	if c.state != Recording || c.rec == nil {
		c.mu.Unlock()
		return nil
	}
	sess, path, started := c.rec, c.path, c.started
	c.mu.Unlock()

	err := sess.Stop()
	stats := sess.Stats()

	c.mu.Lock()
	c.state = Idle
	c.rec = nil
	c.mu.Unlock()

	c.metrics.AddSkipped(Recording.kind(), stats.Skipped)
	c.finish(SessionReport{
		Kind:     Recording,
		ID:       sess.ID(),
		Path:     path,
		Format:   sess.Format(),
		Bytes:    stats.Bytes,
		Skipped:  stats.Skipped,
		Duration: time.Since(started),
		Err:      err,
	})
	return err
}

// ConvertPcmToWav wraps the raw PCM at pcmPath in a WAV container at wavPath
// using the configured format. It returns the size of the WAV file.
func (c *Controller) ConvertPcmToWav(pcmPath, wavPath string) (int64, error) {
	n, err := wavcodec.ConvertFile(pcmPath, wavPath, c.config.Format)
	c.metrics.RecordConversion(n, err)
	if err != nil {
		return 0, fmt.Errorf("failed to convert %s: %w", pcmPath, err)
	}
	return n, nil
}

// StartStreamPlay plays path chunk by chunk. A WAV file is played using its
// own header; anything else is treated as raw PCM in the configured format.
func (c *Controller) StartStreamPlay(path string) error {
	c.op.Lock()
	defer c.op.Unlock()

	gen, err := c.begin(PlayingStream, path)
	if err != nil {
		return err
	}

	src, format, err := c.openStream(path)
	if err != nil {
		return c.abort(gen, PlayingStream, err)
	}

	sess, err := playback.StartStream(c.config.Device, format, src, playback.StreamOptions{
		OnChunk: func(n int) { c.metrics.AddPlayed(PlayingStream.kind(), n) },
		OnDone: func(stats playback.Stats, err error) {
			c.streamDone(gen, stats, err)
		},
	})
	if err != nil {
		return c.abort(gen, PlayingStream, err)
	}

	c.mu.Lock()
	if c.gen == gen && c.state == PlayingStream {
		c.stream = sess
	}
	c.mu.Unlock()

	return nil
}

// openStream opens path and positions it at the first audio byte
func (c *Controller) openStream(path string) (io.ReadCloser, audio.Format, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, audio.Format{}, fmt.Errorf("%w: %v", audio.ErrEmptyOrUnreadablePayload, err)
	}

	head := make([]byte, wavcodec.HeaderSize)
	n, err := io.ReadFull(f, head)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		f.Close()
		return nil, audio.Format{}, fmt.Errorf("%w: %v", audio.ErrEmptyOrUnreadablePayload, err)
	}

	if wavcodec.IsWAV(head[:n]) {
		header, err := wavcodec.ParseHeader(head[:n])
		if err != nil {
			f.Close()
			return nil, audio.Format{}, err
		}
		log.Printf("Streaming WAV %s: %s, %d bytes", path, header.Format, header.DataSize)
		return readCloser{io.LimitReader(f, int64(header.DataSize)), f}, header.Format, nil
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, audio.Format{}, fmt.Errorf("failed to rewind %s: %w", path, err)
	}
	log.Printf("Streaming raw PCM %s as %s", path, c.config.Format)
	return f, c.config.Format, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// streamDone handles a stream session ending on its own goroutine
func (c *Controller) streamDone(gen uint64, stats playback.Stats, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state != PlayingStream {
		c.mu.Unlock()
		return
	}
	sess, path, started := c.stream, c.path, c.started
	c.state = Idle
	c.stream = nil
	c.mu.Unlock()

	report := SessionReport{
		Kind:      PlayingStream,
		Path:      path,
		Format:    c.config.Format,
		Bytes:     stats.Bytes,
		Skipped:   stats.Skipped,
		Duration:  time.Since(started),
		Completed: true,
		Err:       err,
	}
	if sess != nil {
		report.ID = sess.ID()
		report.Format = sess.Format()
	}

	c.metrics.AddSkipped(PlayingStream.kind(), stats.Skipped)
	if err != nil {
		c.notifyError(err)
	}
	c.finish(report)
}

// StartStaticPlay loads the WAV file at path into memory and plays it
func (c *Controller) StartStaticPlay(path string) error {
	c.op.Lock()
	defer c.op.Unlock()

	gen, err := c.begin(PlayingStatic, path)
	if err != nil {
		return err
	}

	f, err := os.Open(path)
	if err != nil {
		return c.abort(gen, PlayingStatic, fmt.Errorf("%w: %v", audio.ErrEmptyOrUnreadablePayload, err))
	}
	defer f.Close()

	sess, err := playback.StartStatic(c.config.Device, c.config.Format, f, playback.StaticOptions{
		OnDone: func(completed bool, err error) {
			if completed {
				c.staticDone(gen, err)
			}
		},
	})
	if err != nil {
		return c.abort(gen, PlayingStatic, err)
	}

	c.mu.Lock()
	if c.gen == gen && c.state == PlayingStatic {
		c.static = sess
	}
	c.mu.Unlock()

	c.metrics.AddPlayed(PlayingStatic.kind(), sess.Size())
	return nil
}

// staticDone handles a static session that played to the end
func (c *Controller) staticDone(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen || c.state != PlayingStatic {
		c.mu.Unlock()
		return
	}
	sess, path, started := c.static, c.path, c.started
	c.state = Idle
	c.static = nil
	c.mu.Unlock()

	report := SessionReport{
		Kind:      PlayingStatic,
		Path:      path,
		Duration:  time.Since(started),
		Completed: true,
		Err:       err,
	}
	if sess != nil {
		report.ID = sess.ID()
		report.Format = sess.Format()
		report.Bytes = int64(sess.Size())
	}

	if err != nil {
		c.notifyError(err)
	}
	c.finish(report)
}

// StopPlay ends stream or static playback; a no-op otherwise
func (c *Controller) StopPlay() error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.stopPlay()
}

func (c *Controller) stopPlay() error {
	c.mu.Lock()
	state, path, started := c.state, c.path, c.started
	stream, static := c.stream, c.static
	if (state != PlayingStream || stream == nil) && (state != PlayingStatic || static == nil) {
		c.mu.Unlock()
		return nil
	}
	// Bump the generation so the session's own completion is ignored
	c.gen++
	c.state = Idle
	c.stream = nil
	c.static = nil
	c.mu.Unlock()

	report := SessionReport{
		Kind:     state,
		Path:     path,
		Duration: time.Since(started),
	}

	var err error
	switch state {
	case PlayingStream:
		err = stream.Cancel()
		stats := stream.Stats()
		report.ID = stream.ID()
		report.Format = stream.Format()
		report.Bytes = stats.Bytes
		report.Skipped = stats.Skipped
		report.Completed = stream.Completed()
		c.metrics.AddSkipped(PlayingStream.kind(), stats.Skipped)
	case PlayingStatic:
		err = static.Stop()
		report.ID = static.ID()
		report.Format = static.Format()
		report.Bytes = int64(static.Size())
		report.Completed = static.Completed()
	}
	report.Err = err

	c.finish(report)
	return err
}

// Stop ends whatever session is running. Once it returns the device has been
// released and the state is Idle.
func (c *Controller) Stop() error {
	c.op.Lock()
	defer c.op.Unlock()
	return c.stop()
}

func (c *Controller) stop() error {
	switch c.State() {
	case Recording:
		return c.stopRecord()
	case PlayingStream, PlayingStatic:
		return c.stopPlay()
	default:
		return nil
	}
}

// Close stops any session and closes the device
func (c *Controller) Close() error {
	c.op.Lock()
	defer c.op.Unlock()

	err := c.stop()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.mu.Unlock()

	if cerr := c.config.Device.Close(); cerr != nil && err == nil {
		err = fmt.Errorf("failed to close device: %w", cerr)
	}
	return err
}

// finish records a released session and notifies listeners
func (c *Controller) finish(report SessionReport) {
	reason := "stopped"
	if report.Completed {
		reason = "completed"
	}
	if report.Err != nil {
		reason = "error"
	}

	c.metrics.RecordSessionEnded(report.Kind.kind(), reason, report.Duration)
	log.Printf("Session %s %s: %s, %d bytes (%s)", report.Kind, reason, report.Path, report.Bytes, report.ID)

	c.notifyStateChange(Idle)
	if c.config.OnSessionEnd != nil {
		c.config.OnSessionEnd(report)
	}
}

// notifyStateChange calls the OnStateChange callback if set
func (c *Controller) notifyStateChange(s State) {
	if c.config.OnStateChange != nil {
		c.config.OnStateChange(s)
	}
}

// notifyError calls the OnError callback if set
func (c *Controller) notifyError(err error) {
	if c.config.OnError != nil {
		c.config.OnError(err)
	} else {
		log.Printf("Controller error: %v", err)
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordSessionStarted(string)                      {}
func (nopMetrics) RecordStartFailure(string)                        {}
func (nopMetrics) RecordSessionEnded(string, string, time.Duration) {}
func (nopMetrics) AddCaptured(int)                                  {}
func (nopMetrics) AddPlayed(string, int)                            {}
func (nopMetrics) AddSkipped(string, int64)                         {}
func (nopMetrics) RecordConversion(int64, error)                    {}
