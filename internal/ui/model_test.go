// ABOUTME: Tests for TUI model and state management
// ABOUTME: Tests key actions, controller messages and rendering
package ui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/deck"
	tea "github.com/charmbracelet/bubbletea"
)

var testPaths = Paths{PCM: "/tmp/rec/recorded_audio.pcm", WAV: "/tmp/rec/recorded_audio.wav"}

var speechFormat = audio.Format{SampleRate: 16000, Channels: 1, BitDepth: 16}

// fakeDeck records the calls made by the model
type fakeDeck struct {
	mu    sync.Mutex
	state deck.State
	calls []string
	err   error
}

func (f *fakeDeck) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeDeck) State() deck.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

func (f *fakeDeck) StartRecord(path string) error     { return f.record("record " + path) }
func (f *fakeDeck) StopRecord() error                 { return f.record("stop-record") }
func (f *fakeDeck) StartStreamPlay(path string) error { return f.record("stream " + path) }
func (f *fakeDeck) StartStaticPlay(path string) error { return f.record("static " + path) }
func (f *fakeDeck) StopPlay() error                   { return f.record("stop-play") }
func (f *fakeDeck) Stop() error                       { return f.record("stop") }

func (f *fakeDeck) ConvertPcmToWav(pcmPath, wavPath string) (int64, error) {
	if err := f.record("convert " + pcmPath + " " + wavPath); err != nil {
		return 0, err
	}
	return 12332, nil
}

func (f *fakeDeck) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

// press sends a key and feeds the action result back into the model
func press(t *testing.T, m Model, k string) Model {
	t.Helper()
	next, cmd := m.Update(key(k))
	if cmd == nil {
		t.Fatalf("expected a command for key %q", k)
	}
	next, _ = next.Update(cmd())
	return next.(Model)
}

func TestNewModel(t *testing.T) {
	d := &fakeDeck{state: deck.Recording}
	model := NewModel(d, testPaths, speechFormat)

	if model.state != deck.Recording {
		t.Errorf("expected state from deck, got %s", model.state)
	}
	if model.message != "" {
		t.Errorf("expected empty message, got %q", model.message)
	}

	model = NewModel(nil, testPaths, speechFormat)
	if model.state != deck.Idle {
		t.Errorf("expected idle without a deck, got %s", model.state)
	}
}

func TestKeyActions(t *testing.T) {
	tests := []struct {
		name     string
		state    deck.State
		key      string
		expected string
		message  string
	}{
		{"start record", deck.Idle, "r", "record " + testPaths.PCM, "Recording..."},
		{"stop record", deck.Recording, "r", "stop-record", "Recording saved to recorded_audio.pcm"},
		{"start stream", deck.Idle, "p", "stream " + testPaths.PCM, "Playing recorded_audio.pcm"},
		{"stop stream", deck.PlayingStream, "p", "stop-play", "Playback stopped"},
		{"convert", deck.Idle, "c", "convert " + testPaths.PCM + " " + testPaths.WAV, "PCM converted to WAV (12332 bytes)"},
		{"start static", deck.Idle, "w", "static " + testPaths.WAV, "Playing recorded_audio.wav"},
		{"stop static", deck.PlayingStatic, "w", "stop-play", "Playback stopped"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &fakeDeck{state: tt.state}
			model := press(t, NewModel(d, testPaths, speechFormat), tt.key)

			calls := d.Calls()
			if len(calls) != 1 || calls[0] != tt.expected {
				t.Errorf("expected call %q, got %v", tt.expected, calls)
			}
			if model.message != tt.message {
				t.Errorf("expected message %q, got %q", tt.message, model.message)
			}
			if model.isError {
				t.Error("expected no error flag")
			}
		})
	}
}

func TestPlayWhileRecordingIsRejected(t *testing.T) {
	d := &fakeDeck{state: deck.Recording, err: audio.ErrInvalidStateTransition}

	model := press(t, NewModel(d, testPaths, speechFormat), "w")

	if !model.isError {
		t.Error("expected error flag")
	}
	if model.message != "Busy: stop the current session first" {
		t.Errorf("unexpected message %q", model.message)
	}
}

func TestErrorDescriptions(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{audio.ErrDeviceUnavailable, "Audio device unavailable"},
		{audio.ErrEmptyOrUnreadablePayload, "Nothing to play"},
		{audio.ErrMalformedContainer, "Not a valid WAV file"},
		{errors.New("disk full"), "disk full"},
	}

	for _, tt := range tests {
		if got := describe(tt.err); got != tt.expected {
			t.Errorf("describe(%v) = %q, expected %q", tt.err, got, tt.expected)
		}
	}
}

func TestUnknownKeyIgnored(t *testing.T) {
	d := &fakeDeck{}
	_, cmd := NewModel(d, testPaths, speechFormat).Update(key("x"))
	if cmd != nil {
		t.Error("expected no command for unknown key")
	}
	if len(d.Calls()) != 0 {
		t.Errorf("expected no calls, got %v", d.Calls())
	}
}

func TestQuitWithoutDeck(t *testing.T) {
	_, cmd := NewModel(nil, testPaths, speechFormat).Update(tea.KeyMsg{Type: tea.KeyCtrlC})
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected QuitMsg")
	}
}

func TestQuitStopsDeck(t *testing.T) {
	d := &fakeDeck{state: deck.Recording}
	_, cmd := NewModel(d, testPaths, speechFormat).Update(key("q"))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
}

func TestStateMsg(t *testing.T) {
	model := NewModel(&fakeDeck{}, testPaths, speechFormat)

	next, _ := model.Update(StateMsg{State: deck.PlayingStatic})
	model = next.(Model)

	if model.state != deck.PlayingStatic {
		t.Errorf("expected playing-static, got %s", model.state)
	}
}

func TestSessionEndMsg(t *testing.T) {
	model := NewModel(&fakeDeck{}, testPaths, speechFormat)

	next, _ := model.Update(SessionEndMsg{Report: deck.SessionReport{
		Kind:      deck.PlayingStatic,
		Path:      testPaths.WAV,
		Bytes:     12288,
		Completed: true,
	}})
	model = next.(Model)

	if model.message != "Finished playing recorded_audio.wav" {
		t.Errorf("unexpected message %q", model.message)
	}
	if model.lastKind != deck.PlayingStatic || model.lastBytes != 12288 {
		t.Errorf("unexpected last session %s/%d", model.lastKind, model.lastBytes)
	}

	next, _ = model.Update(SessionEndMsg{Report: deck.SessionReport{
		Kind: deck.PlayingStream,
		Err:  audio.ErrDeviceUnavailable,
	}})
	model = next.(Model)
	if !model.isError || model.message != "Audio device unavailable" {
		t.Errorf("expected error message, got %q", model.message)
	}
}

func TestErrorMsg(t *testing.T) {
	model := NewModel(&fakeDeck{}, testPaths, speechFormat)

	next, _ := model.Update(ErrorMsg{Err: errors.New("underrun")})
	model = next.(Model)

	if !model.isError || model.message != "underrun" {
		t.Errorf("expected error message, got %q", model.message)
	}
}

func TestView(t *testing.T) {
	model := NewModel(&fakeDeck{state: deck.Recording}, testPaths, speechFormat)

	if model.View() != "Loading..." {
		t.Errorf("expected loading view before size is known, got %q", model.View())
	}

	next, _ := model.Update(tea.WindowSizeMsg{Width: 80, Height: 24})
	view := next.(Model).View()

	for _, want := range []string{"State:  recording", "Format: 16000Hz mono 16-bit", "[r] Stop record", "[w] Play WAV", "Ready"} {
		if !strings.Contains(view, want) {
			t.Errorf("expected view to contain %q", want)
		}
	}

	lines := strings.Split(strings.TrimRight(view, "\n"), "\n")
	width := utf8.RuneCountInString(lines[0])
	for i, l := range lines {
		if n := utf8.RuneCountInString(l); n != width {
			t.Errorf("line %d has width %d, expected %d: %q", i, n, width, l)
		}
	}
}

func TestTruncateFunction(t *testing.T) {
	tests := []struct {
		input    string
		maxLen   int
		expected string
	}{
		{"short", 10, "short"},
		{"exactly ten c", 14, "exactly ten c"},
		{"this is longer than allowed", 10, "this is..."},
		{"this is longer than allowed", 15, "this is long..."},
		{"", 10, ""},
		{"abcd", 4, "abcd"},
		{"abcde", 4, "a..."},
		{"récordings/é.wav", 8, "récor..."},
		{"録音録音録音", 5, "録音..."},
	}

	for _, tt := range tests {
		result := truncate(tt.input, tt.maxLen)
		if result != tt.expected {
			t.Errorf("truncate(%q, %d) = %q, expected %q",
				tt.input, tt.maxLen, result, tt.expected)
		}
	}
}

func TestTruncateKeepsValidUTF8(t *testing.T) {
	path := strings.Repeat("ü", 80)
	got := truncate(path, innerWidth)
	if !utf8.ValidString(got) {
		t.Errorf("truncate produced invalid UTF-8: %q", got)
	}
	if n := utf8.RuneCountInString(got); n != innerWidth {
		t.Errorf("expected %d runes, got %d", innerWidth, n)
	}
}
