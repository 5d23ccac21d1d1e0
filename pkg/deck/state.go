// ABOUTME: Controller state and session reports
// ABOUTME: Names the four controller states and describes finished sessions
package deck

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
)

// State is what the controller is currently doing
type State int

const (
	Idle State = iota
	Recording
	PlayingStream
	PlayingStatic
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case PlayingStream:
		return "playing-stream"
	case PlayingStatic:
		return "playing-static"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// kind is the metrics label for sessions run in state s
func (s State) kind() string {
	switch s {
	case Recording:
		return "record"
	case PlayingStream:
		return "stream"
	case PlayingStatic:
		return "static"
	default:
		return "none"
	}
}

// SessionReport describes a session that has released the device
type SessionReport struct {
	Kind      State
	ID        string
	Path      string
	Format    audio.Format
	Bytes     int64
	Skipped   int64
	Duration  time.Duration
	Completed bool  // played to the end rather than stopped
	Err       error // teardown error, if any
}

// Metrics receives session and conversion events; *metrics.Metrics implements it.
// Every RecordSessionStarted is followed by one RecordStartFailure or RecordSessionEnded.
type Metrics interface {
	RecordSessionStarted(kind string)
	RecordStartFailure(kind string)
	RecordSessionEnded(kind, reason string, duration time.Duration)
	AddCaptured(n int)
	AddPlayed(kind string, n int)
	AddSkipped(kind string, n int64)
	RecordConversion(written int64, err error)
}
