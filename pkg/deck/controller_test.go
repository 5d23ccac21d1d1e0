// ABOUTME: Tests for the Controller
// ABOUTME: Drives record, convert and playback against a fake device
package deck

import (
	"bytes"
	"errors"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/internal/audiotest"
	"github.com/Resonate-Protocol/pcmdeck/internal/metrics"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/playback"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/wavcodec"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

var speechFormat = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// recorder collects controller callbacks
type recorder struct {
	mu      sync.Mutex
	states  []State
	reports []SessionReport
	errs    []error
}

func (r *recorder) config(dev *audiotest.Device) Config {
	return Config{
		Device:        dev,
		Format:        speechFormat,
		OnStateChange: func(s State) { r.mu.Lock(); r.states = append(r.states, s); r.mu.Unlock() },
		OnError:       func(err error) { r.mu.Lock(); r.errs = append(r.errs, err); r.mu.Unlock() },
		OnSessionEnd:  func(rep SessionReport) { r.mu.Lock(); r.reports = append(r.reports, rep); r.mu.Unlock() },
	}
}

func (r *recorder) Reports() []SessionReport {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]SessionReport(nil), r.reports...)
}

func newController(t *testing.T, cfg Config) *Controller {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func waitForState(t *testing.T, c *Controller, s State) {
	t.Helper()
	if !audiotest.WaitFor(2*time.Second, func() bool { return c.State() == s }) {
		t.Fatalf("timed out waiting for state %s, still %s", s, c.State())
	}
}

func TestNew(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected error without a device")
	}

	c, err := New(Config{Device: &audiotest.Device{}})
	if err != nil {
		t.Fatalf("Failed to create controller: %v", err)
	}
	if c.Format() != audio.DefaultFormat {
		t.Errorf("Expected default format %s, got %s", audio.DefaultFormat, c.Format())
	}
	if c.State() != Idle {
		t.Errorf("Expected initial state idle, got %s", c.State())
	}

	_, err = New(Config{Device: &audiotest.Device{}, Format: audio.Format{SampleRate: 8000, Channels: 1, BitDepth: 12}})
	if !errors.Is(err, audio.ErrUnsupportedFormat) {
		t.Errorf("Expected unsupported format, got %v", err)
	}
}

func TestRecordConvertPlay(t *testing.T) {
	chunk := func(b byte) []byte { return bytes.Repeat([]byte{b}, 4096) }
	dev := &audiotest.Device{
		BufferSize: 4096,
		Reads:      [][]byte{chunk(1), chunk(2), chunk(3)},
	}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	rec := &recorder{}
	cfg := rec.config(dev)
	cfg.Metrics = m
	c := newController(t, cfg)

	dir := t.TempDir()
	pcmPath := filepath.Join(dir, "recorded_audio.pcm")
	wavPath := filepath.Join(dir, "recorded_audio.wav")

	if err := c.StartRecord(pcmPath); err != nil {
		t.Fatalf("StartRecord failed: %v", err)
	}
	if c.State() != Recording {
		t.Fatalf("Expected recording, got %s", c.State())
	}

	if !audiotest.WaitFor(2*time.Second, func() bool {
		return testutil.ToFloat64(m.BytesCaptured) == 12288
	}) {
		t.Fatal("Timed out waiting for three chunks")
	}
	if err := c.StopRecord(); err != nil {
		t.Fatalf("StopRecord failed: %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected idle after StopRecord, got %s", c.State())
	}

	info, err := os.Stat(pcmPath)
	if err != nil {
		t.Fatal(err)
	}
	if info.Size() != 12288 {
		t.Fatalf("Expected 12288 PCM bytes, got %d", info.Size())
	}

	n, err := c.ConvertPcmToWav(pcmPath, wavPath)
	if err != nil {
		t.Fatalf("ConvertPcmToWav failed: %v", err)
	}
	if n != 12332 {
		t.Errorf("Expected 12332 WAV bytes, got %d", n)
	}

	if err := c.StartStaticPlay(wavPath); err != nil {
		t.Fatalf("StartStaticPlay failed: %v", err)
	}
	waitForState(t, c, Idle)

	h := dev.Handle(1)
	if h == nil {
		t.Fatal("Expected a playback handle")
	}
	pcm, _ := os.ReadFile(pcmPath)
	if !bytes.Equal(h.Written(), pcm) {
		t.Error("Static playback did not receive the recorded PCM")
	}

	if !audiotest.WaitFor(time.Second, func() bool { return len(rec.Reports()) == 2 }) {
		t.Fatalf("Expected 2 session reports, got %d", len(rec.Reports()))
	}
	reports := rec.Reports()
	if reports[0].Kind != Recording || reports[0].Bytes != 12288 {
		t.Errorf("Unexpected record report %+v", reports[0])
	}
	if reports[1].Kind != PlayingStatic || !reports[1].Completed || reports[1].Bytes != 12288 {
		t.Errorf("Unexpected static report %+v", reports[1])
	}

	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.Conversions); got != 1 {
		t.Errorf("Expected 1 conversion, got %v", got)
	}
	if got := testutil.ToFloat64(m.SessionsEnded.WithLabelValues("static", "completed")); got != 1 {
		t.Errorf("Expected 1 completed static session, got %v", got)
	}
}

func TestSingleActiveSession(t *testing.T) {
	dev := &audiotest.Device{BufferSize: 64}
	c := newController(t, (&recorder{}).config(dev))

	dir := t.TempDir()
	wavPath := filepath.Join(dir, "a.wav")
	wav, _ := wavcodec.Encode(bytes.NewReader(make([]byte, 64)), speechFormat)
	writeFile(t, wavPath, wav)

	if err := c.StartRecord(filepath.Join(dir, "a.pcm")); err != nil {
		t.Fatalf("StartRecord failed: %v", err)
	}

	attempts := []struct {
		name string
		fn   func() error
	}{
		{"record", func() error { return c.StartRecord(filepath.Join(dir, "b.pcm")) }},
		{"stream", func() error { return c.StartStreamPlay(wavPath) }},
		{"static", func() error { return c.StartStaticPlay(wavPath) }},
	}

	for _, tt := range attempts {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.fn()
			if !errors.Is(err, audio.ErrInvalidStateTransition) {
				t.Errorf("Expected invalid state transition, got %v", err)
			}
			if c.State() != Recording {
				t.Errorf("Expected recording to continue, got %s", c.State())
			}
		})
	}

	if dev.Opens() != 1 {
		t.Errorf("Expected one device open, got %d", dev.Opens())
	}
	if _, err := os.Stat(filepath.Join(dir, "b.pcm")); !os.IsNotExist(err) {
		t.Error("Rejected StartRecord touched its file")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	dev := &audiotest.Device{BufferSize: 64}
	c := newController(t, (&recorder{}).config(dev))

	if err := c.Stop(); err != nil {
		t.Errorf("Stop from idle failed: %v", err)
	}

	if err := c.StartRecord(filepath.Join(t.TempDir(), "a.pcm")); err != nil {
		t.Fatalf("StartRecord failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := c.Stop(); err != nil {
			t.Errorf("Stop %d failed: %v", i, err)
		}
	}

	if c.State() != Idle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if got := dev.Handle(0).Released(); got != 1 {
		t.Errorf("Expected one release, got %d", got)
	}
}

func TestStopOnlyActsOnOwnKind(t *testing.T) {
	dev := &audiotest.Device{BlockDrain: true}
	c := newController(t, (&recorder{}).config(dev))

	wavPath := filepath.Join(t.TempDir(), "a.wav")
	wav, _ := wavcodec.Encode(bytes.NewReader(make([]byte, 64)), speechFormat)
	writeFile(t, wavPath, wav)

	if err := c.StartStaticPlay(wavPath); err != nil {
		t.Fatalf("StartStaticPlay failed: %v", err)
	}
	if err := c.StopRecord(); err != nil {
		t.Errorf("StopRecord failed: %v", err)
	}
	if c.State() != PlayingStatic {
		t.Fatalf("StopRecord ended playback, state %s", c.State())
	}

	if err := c.StopPlay(); err != nil {
		t.Errorf("StopPlay failed: %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if got := dev.Handle(0).Released(); got != 1 {
		t.Errorf("Expected one release, got %d", got)
	}
}

func TestStreamPlayRawPCM(t *testing.T) {
	dev := &audiotest.Device{BufferSize: 1000}
	rec := &recorder{}
	c := newController(t, rec.config(dev))

	payload := bytes.Repeat([]byte{7, 8}, 1500)
	path := filepath.Join(t.TempDir(), "a.pcm")
	writeFile(t, path, payload)

	if err := c.StartStreamPlay(path); err != nil {
		t.Fatalf("StartStreamPlay failed: %v", err)
	}
	waitForState(t, c, Idle)

	h := dev.Handle(0)
	if h.Format != speechFormat {
		t.Errorf("Expected configured format %s, got %s", speechFormat, h.Format)
	}
	if !bytes.Equal(h.Written(), payload) {
		t.Error("Stream playback did not deliver the file")
	}

	if !audiotest.WaitFor(time.Second, func() bool { return len(rec.Reports()) == 1 }) {
		t.Fatal("Expected a session report")
	}
	r := rec.Reports()[0]
	if r.Kind != PlayingStream || !r.Completed || r.Bytes != 3000 {
		t.Errorf("Unexpected report %+v", r)
	}
}

// eventMetrics records session events in call order
type eventMetrics struct {
	nopMetrics
	mu     sync.Mutex
	events []string
}

func (m *eventMetrics) add(e string) {
	m.mu.Lock()
	m.events = append(m.events, e)
	m.mu.Unlock()
}

func (m *eventMetrics) RecordSessionStarted(kind string) { m.add("started " + kind) }
func (m *eventMetrics) RecordStartFailure(kind string)   { m.add("failed " + kind) }
func (m *eventMetrics) RecordSessionEnded(kind, reason string, _ time.Duration) {
	m.add("ended " + kind)
}

func (m *eventMetrics) Events() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.events...)
}

func TestSessionStartCountedBeforeEnd(t *testing.T) {
	dir := t.TempDir()
	emptyPCM := filepath.Join(dir, "empty.pcm")
	writeFile(t, emptyPCM, nil)
	wavPath := filepath.Join(dir, "a.wav")
	wav, _ := wavcodec.Encode(bytes.NewReader(make([]byte, 64)), speechFormat)
	writeFile(t, wavPath, wav)

	tests := []struct {
		name  string
		kind  string
		start func(c *Controller) error
	}{
		{"empty stream", "stream", func(c *Controller) error { return c.StartStreamPlay(emptyPCM) }},
		{"static", "static", func(c *Controller) error { return c.StartStaticPlay(wavPath) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &eventMetrics{}
			cfg := (&recorder{}).config(&audiotest.Device{})
			cfg.Metrics = m
			c := newController(t, cfg)

			if err := tt.start(c); err != nil {
				t.Fatalf("start failed: %v", err)
			}
			waitForState(t, c, Idle)

			expected := []string{"started " + tt.kind, "ended " + tt.kind}
			if !audiotest.WaitFor(time.Second, func() bool { return len(m.Events()) == 2 }) {
				t.Fatalf("Expected %v, got %v", expected, m.Events())
			}
			got := m.Events()
			if got[0] != expected[0] || got[1] != expected[1] {
				t.Errorf("Expected %v, got %v", expected, got)
			}
		})
	}
}

func TestFailedStartLeavesNoActiveSession(t *testing.T) {
	m := metrics.New(prometheus.NewRegistry())
	cfg := (&recorder{}).config(&audiotest.Device{})
	cfg.Metrics = m
	c := newController(t, cfg)

	if err := c.StartStreamPlay(filepath.Join(t.TempDir(), "missing.pcm")); err == nil {
		t.Fatal("Expected StartStreamPlay to fail")
	}
	if got := testutil.ToFloat64(m.ActiveSessions); got != 0 {
		t.Errorf("Expected 0 active sessions, got %v", got)
	}
	if got := testutil.ToFloat64(m.StartFailures.WithLabelValues("stream")); got != 1 {
		t.Errorf("Expected 1 start failure, got %v", got)
	}
}

func TestStreamPlayWAVUsesHeader(t *testing.T) {
	dev := &audiotest.Device{BufferSize: 512}
	c := newController(t, (&recorder{}).config(dev))

	stereo := audio.Format{SampleRate: 22050, Channels: 2, BitDepth: 16}
	payload := bytes.Repeat([]byte{1, 2, 3, 4}, 300)
	wav, _ := wavcodec.Encode(bytes.NewReader(payload), stereo)
	path := filepath.Join(t.TempDir(), "a.wav")
	writeFile(t, path, append(wav, 0xEE, 0xEE))

	if err := c.StartStreamPlay(path); err != nil {
		t.Fatalf("StartStreamPlay failed: %v", err)
	}
	waitForState(t, c, Idle)

	h := dev.Handle(0)
	if h.Format != stereo {
		t.Errorf("Expected header format %s, got %s", stereo, h.Format)
	}
	if !bytes.Equal(h.Written(), payload) {
		t.Errorf("Expected payload only, got %d bytes", len(h.Written()))
	}
}

func TestPlaybackRejectsBadFiles(t *testing.T) {
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty.wav")
	writeFile(t, empty, nil)

	corrupt := filepath.Join(dir, "corrupt.wav")
	wav, _ := wavcodec.Encode(bytes.NewReader(make([]byte, 64)), speechFormat)
	wav[20] = 3 // non-PCM format tag
	writeFile(t, corrupt, wav)

	tests := []struct {
		name     string
		start    func(c *Controller) error
		expected error
	}{
		{"static empty", func(c *Controller) error { return c.StartStaticPlay(empty) }, audio.ErrEmptyOrUnreadablePayload},
		{"static missing", func(c *Controller) error { return c.StartStaticPlay(filepath.Join(dir, "missing.wav")) }, audio.ErrEmptyOrUnreadablePayload},
		{"static corrupt", func(c *Controller) error { return c.StartStaticPlay(corrupt) }, audio.ErrMalformedContainer},
		{"stream missing", func(c *Controller) error { return c.StartStreamPlay(filepath.Join(dir, "missing.pcm")) }, audio.ErrEmptyOrUnreadablePayload},
		{"stream corrupt", func(c *Controller) error { return c.StartStreamPlay(corrupt) }, audio.ErrMalformedContainer},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dev := &audiotest.Device{}
			c := newController(t, (&recorder{}).config(dev))

			err := tt.start(c)
			if !errors.Is(err, tt.expected) {
				t.Errorf("Expected %v, got %v", tt.expected, err)
			}
			if dev.Opens() != 0 {
				t.Errorf("Expected device never opened, got %d opens", dev.Opens())
			}
			if c.State() != Idle {
				t.Errorf("Expected idle after failed start, got %s", c.State())
			}
		})
	}
}

func TestRecordDeviceUnavailable(t *testing.T) {
	dev := &audiotest.Device{OpenErr: audio.ErrDeviceUnavailable}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	cfg := (&recorder{}).config(dev)
	cfg.Metrics = m
	c := newController(t, cfg)

	err := c.StartRecord(filepath.Join(t.TempDir(), "a.pcm"))
	if !errors.Is(err, audio.ErrDeviceUnavailable) {
		t.Errorf("Expected device unavailable, got %v", err)
	}
	if c.State() != Idle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if got := testutil.ToFloat64(m.StartFailures.WithLabelValues("record")); got != 1 {
		t.Errorf("Expected 1 start failure, got %v", got)
	}
}

func TestStaleCompletionIgnored(t *testing.T) {
	dev := &audiotest.Device{BlockDrain: true}
	c := newController(t, (&recorder{}).config(dev))

	wavPath := filepath.Join(t.TempDir(), "a.wav")
	wav, _ := wavcodec.Encode(bytes.NewReader(make([]byte, 64)), speechFormat)
	writeFile(t, wavPath, wav)

	if err := c.StartStaticPlay(wavPath); err != nil {
		t.Fatalf("StartStaticPlay failed: %v", err)
	}

	// A completion from an earlier generation must not end the current session
	c.staticDone(0, nil)
	c.streamDone(0, playback.Stats{}, nil)

	if c.State() != PlayingStatic {
		t.Errorf("Stale completion changed state to %s", c.State())
	}
}

func TestConvertLogsOnce(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Writer()
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(prev) })

	c := newController(t, (&recorder{}).config(&audiotest.Device{}))

	dir := t.TempDir()
	pcmPath := filepath.Join(dir, "a.pcm")
	writeFile(t, pcmPath, make([]byte, 128))

	if _, err := c.ConvertPcmToWav(pcmPath, filepath.Join(dir, "a.wav")); err != nil {
		t.Fatalf("ConvertPcmToWav failed: %v", err)
	}
	if n := strings.Count(buf.String(), "Converted "); n != 1 {
		t.Errorf("Expected one conversion log line, got %d:\n%s", n, buf.String())
	}
}

func TestConvertMissingSource(t *testing.T) {
	c := newController(t, (&recorder{}).config(&audiotest.Device{}))
	dir := t.TempDir()

	if _, err := c.ConvertPcmToWav(filepath.Join(dir, "missing.pcm"), filepath.Join(dir, "out.wav")); err == nil {
		t.Error("Expected error converting a missing file")
	}
}

func TestClose(t *testing.T) {
	dev := &audiotest.Device{BufferSize: 64}
	c, err := New((&recorder{}).config(dev))
	if err != nil {
		t.Fatal(err)
	}

	if err := c.StartRecord(filepath.Join(t.TempDir(), "a.pcm")); err != nil {
		t.Fatalf("StartRecord failed: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !dev.Closed() {
		t.Error("Expected device closed")
	}
	if dev.Handle(0).Released() != 1 {
		t.Error("Expected recording released on Close")
	}
	if err := c.StartRecord(filepath.Join(t.TempDir(), "b.pcm")); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("Second Close failed: %v", err)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state    State
		expected string
	}{
		{Idle, "idle"},
		{Recording, "recording"},
		{PlayingStream, "playing-stream"},
		{PlayingStatic, "playing-static"},
		{State(9), "State(9)"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, got)
		}
	}
}
