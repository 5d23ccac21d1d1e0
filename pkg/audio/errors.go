// ABOUTME: Error kinds shared by capture, playback and the WAV codec
// ABOUTME: Sentinels are wrapped with context and matched with errors.Is
package audio

import "errors"

var (
	// ErrDeviceUnavailable means a device could not be queried or opened
	ErrDeviceUnavailable = errors.New("audio device unavailable")
	// ErrTransient is a per-iteration device hiccup; loops skip and continue
	ErrTransient = errors.New("transient device error")
	// ErrMalformedContainer means a WAV header failed validation
	ErrMalformedContainer = errors.New("malformed WAV container")
	// ErrEmptyOrUnreadablePayload means a static payload was empty or could not be read
	ErrEmptyOrUnreadablePayload = errors.New("empty or unreadable payload")
	// ErrInvalidStateTransition means a session was requested while another is active
	ErrInvalidStateTransition = errors.New("invalid state transition")
	// ErrUnsupportedFormat means a Format cannot be represented
	ErrUnsupportedFormat = errors.New("unsupported audio format")
	// ErrPayloadTooLarge means a payload does not fit the 32-bit WAV size fields
	ErrPayloadTooLarge = errors.New("payload too large for WAV")
)
