// ABOUTME: TUI initialization and control
// ABOUTME: Wraps the bubbletea program and forwards controller callbacks to it
package ui

import (
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/deck"
	tea "github.com/charmbracelet/bubbletea"
)

// NewModel creates a new TUI model
func NewModel(d Deck, paths Paths, format audio.Format) Model {
	m := Model{
		deck:   d,
		paths:  paths,
		format: format,
		state:  deck.Idle,
	}
	if d != nil {
		m.state = d.State()
	}
	return m
}

// Program runs the TUI and accepts controller events
type Program struct {
	*tea.Program
}

// Run creates the TUI program; call Program.Run to start it
func Run(d Deck, paths Paths, format audio.Format) *Program {
	return &Program{tea.NewProgram(NewModel(d, paths, format), tea.WithAltScreen())}
}

// OnStateChange forwards a controller state change
func (p *Program) OnStateChange(s deck.State) {
	p.send(StateMsg{State: s})
}

// OnSessionEnd forwards a finished session
func (p *Program) OnSessionEnd(r deck.SessionReport) {
	p.send(SessionEndMsg{Report: r})
}

// OnError forwards an asynchronous controller error
func (p *Program) OnError(err error) {
	p.send(ErrorMsg{Err: err})
}

func (p *Program) send(msg tea.Msg) {
	if p == nil || p.Program == nil {
		return
	}
	p.Send(msg)
}
