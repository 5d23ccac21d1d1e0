// ABOUTME: Bubbletea model for the deck TUI
// ABOUTME: Maps the record, play, convert and play-WAV buttons onto keys
package ui

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/deck"
	tea "github.com/charmbracelet/bubbletea"
)

const innerWidth = 52

// Deck is the controller surface the TUI drives
type Deck interface {
	State() deck.State
	StartRecord(path string) error
	StopRecord() error
	ConvertPcmToWav(pcmPath, wavPath string) (int64, error)
	StartStreamPlay(path string) error
	StartStaticPlay(path string) error
	StopPlay() error
	Stop() error
}

// Paths names the working files
type Paths struct {
	PCM string
	WAV string
}

// Model represents the TUI state
type Model struct {
	deck   Deck
	paths  Paths
	format audio.Format

	// Status
	state   deck.State
	message string
	isError bool

	// Last finished session
	lastKind  deck.State
	lastBytes int64

	// Dimensions
	width  int
	height int
}

// StateMsg reports a controller state change
type StateMsg struct {
	State deck.State
}

// SessionEndMsg reports a session that released the device
type SessionEndMsg struct {
	Report deck.SessionReport
}

// ErrorMsg reports an asynchronous controller error
type ErrorMsg struct {
	Err error
}

// resultMsg carries the outcome of a key action
type resultMsg struct {
	text string
	err  error
}

// Init initializes the model
func (m Model) Init() tea.Cmd {
	return nil
}

// Update handles messages
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
	case StateMsg:
		m.state = msg.State
	case SessionEndMsg:
		m.applyReport(msg.Report)
	case ErrorMsg:
		m.setMessage("", msg.Err)
	case resultMsg:
		m.setMessage(msg.text, msg.err)
		if m.deck != nil {
			m.state = m.deck.State()
		}
	}

	return m, nil
}

// View renders the TUI
func (m Model) View() string {
	if m.width == 0 {
		return "Loading..."
	}

	s := ""
	s += m.renderHeader()
	s += m.renderFiles()
	s += m.renderButtons()
	s += m.renderStatus()

	return s
}

// renderHeader renders state and format
func (m Model) renderHeader() string {
	return "┌─ pcmdeck " + strings.Repeat("─", innerWidth-8) + "┐\n" +
		line(fmt.Sprintf("State:  %s", m.state)) +
		line(fmt.Sprintf("Format: %dHz %s %d-bit", m.format.SampleRate, audio.ChannelName(m.format.Channels), m.format.BitDepth)) +
		divider()
}

// renderFiles renders the working file names
func (m Model) renderFiles() string {
	return line(fmt.Sprintf("PCM: %s", m.paths.PCM)) +
		line(fmt.Sprintf("WAV: %s", m.paths.WAV)) +
		divider()
}

// renderButtons renders the four actions with labels for the current state
func (m Model) renderButtons() string {
	record := "Start record"
	if m.state == deck.Recording {
		record = "Stop record"
	}
	play := "Play PCM"
	if m.state == deck.PlayingStream {
		play = "Stop play"
	}
	wav := "Play WAV"
	if m.state == deck.PlayingStatic {
		wav = "Stop play"
	}

	return line("[r] "+record) +
		line("[p] "+play) +
		line("[c] Convert PCM to WAV") +
		line("[w] "+wav) +
		divider()
}

// renderStatus renders the last message and help
func (m Model) renderStatus() string {
	msg := m.message
	if msg == "" {
		msg = "Ready"
	}
	if m.isError {
		msg = "✗ " + msg
	}

	last := ""
	if m.lastKind != deck.Idle {
		last = fmt.Sprintf("Last: %s, %d bytes", m.lastKind, m.lastBytes)
	}

	return line(msg) +
		line(last) +
		line("q:Quit") +
		"└" + strings.Repeat("─", innerWidth+2) + "┘\n"
}

// handleKey handles keyboard input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.deck == nil {
		if msg.String() == "q" || msg.String() == "ctrl+c" {
			return m, tea.Quit
		}
		return m, nil
	}

	d := m.deck
	state := d.State()

	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Sequence(action(func() (string, error) {
			return "Stopped", d.Stop()
		}), tea.Quit)

	case "r":
		if state == deck.Recording {
			return m, action(func() (string, error) {
				return "Recording saved to " + filepath.Base(m.paths.PCM), d.StopRecord()
			})
		}
		return m, action(func() (string, error) {
			return "Recording...", d.StartRecord(m.paths.PCM)
		})

	case "p":
		if state == deck.PlayingStream {
			return m, action(func() (string, error) { return "Playback stopped", d.StopPlay() })
		}
		return m, action(func() (string, error) {
			return "Playing " + filepath.Base(m.paths.PCM), d.StartStreamPlay(m.paths.PCM)
		})

	case "c":
		return m, action(func() (string, error) {
			n, err := d.ConvertPcmToWav(m.paths.PCM, m.paths.WAV)
			return fmt.Sprintf("PCM converted to WAV (%d bytes)", n), err
		})

	case "w":
		if state == deck.PlayingStatic {
			return m, action(func() (string, error) { return "Playback stopped", d.StopPlay() })
		}
		return m, action(func() (string, error) {
			return "Playing " + filepath.Base(m.paths.WAV), d.StartStaticPlay(m.paths.WAV)
		})
	}

	return m, nil
}

// action runs fn off the update loop and reports its result
func action(fn func() (string, error)) tea.Cmd {
	return func() tea.Msg {
		text, err := fn()
		return resultMsg{text: text, err: err}
	}
}

func (m *Model) setMessage(text string, err error) {
	if err != nil {
		m.message = describe(err)
		m.isError = true
		return
	}
	m.message = text
	m.isError = false
}

// applyReport updates the status line from a finished session
func (m *Model) applyReport(r deck.SessionReport) {
	m.lastKind = r.Kind
	m.lastBytes = r.Bytes
	if r.Err != nil {
		m.setMessage("", r.Err)
		return
	}
	if r.Completed {
		m.setMessage(fmt.Sprintf("Finished playing %s", filepath.Base(r.Path)), nil)
	}
}

// describe turns controller errors into short status text
func describe(err error) string {
	switch {
	case errors.Is(err, audio.ErrInvalidStateTransition):
		return "Busy: stop the current session first"
	case errors.Is(err, audio.ErrDeviceUnavailable):
		return "Audio device unavailable"
	case errors.Is(err, audio.ErrEmptyOrUnreadablePayload):
		return "Nothing to play"
	case errors.Is(err, audio.ErrMalformedContainer):
		return "Not a valid WAV file"
	default:
		return err.Error()
	}
}

// Utility functions
func line(s string) string {
	return fmt.Sprintf("│ %-*s │\n", innerWidth, truncate(s, innerWidth))
}

func divider() string {
	return "├" + strings.Repeat("─", innerWidth+2) + "┤\n"
}

// truncate shortens s to length runes, marking the cut with "..."
func truncate(s string, length int) string {
	runes := []rune(s)
	if len(runes) <= length {
		return s
	}
	return string(runes[:length-3]) + "..."
}
