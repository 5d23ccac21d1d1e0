// ABOUTME: Audio type definitions
// ABOUTME: Defines the PCM format descriptor and derived sizes
package audio

import (
	"fmt"
	"time"
)

// Format describes a raw PCM stream
type Format struct {
	SampleRate uint32 // Hz
	Channels   uint16 // 1 (mono) or 2 (stereo)
	BitDepth   uint16 // 8 (unsigned) or 16 (signed, little-endian)
}

// DefaultFormat is 44.1kHz mono 16-bit
var DefaultFormat = Format{
	SampleRate: 44100,
	Channels:   1,
	BitDepth:   16,
}

// Validate reports whether the format can be captured, played and stored in a WAV header
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("%w: sample rate must be positive", ErrUnsupportedFormat)
	}
	if f.Channels != 1 && f.Channels != 2 {
		return fmt.Errorf("%w: channels %d (supported: 1, 2)", ErrUnsupportedFormat, f.Channels)
	}
	if f.BitDepth != 8 && f.BitDepth != 16 {
		return fmt.Errorf("%w: bit depth %d (supported: 8, 16)", ErrUnsupportedFormat, f.BitDepth)
	}
	return nil
}

// BlockAlign returns the size in bytes of one frame (one sample for every channel)
func (f Format) BlockAlign() uint16 {
	return f.Channels * f.BitDepth / 8
}

// ByteRate returns the number of bytes per second of audio
func (f Format) ByteRate() uint32 {
	return f.SampleRate * uint32(f.Channels) * uint32(f.BitDepth) / 8
}

// BytesForDuration returns the byte length of d rounded up to a whole frame
func (f Format) BytesForDuration(d time.Duration) int {
	block := int64(f.BlockAlign())
	if block == 0 || d <= 0 {
		return 0
	}
	frames := (int64(f.SampleRate)*d.Nanoseconds() + int64(time.Second) - 1) / int64(time.Second)
	return int(frames * block)
}

// Duration returns the playback time of n bytes of audio
func (f Format) Duration(n int64) time.Duration {
	rate := int64(f.ByteRate())
	if rate == 0 {
		return 0
	}
	return time.Duration(n * int64(time.Second) / rate)
}

func (f Format) String() string {
	return fmt.Sprintf("%dHz/%s/%d-bit", f.SampleRate, ChannelName(f.Channels), f.BitDepth)
}

// ChannelName returns a human-readable channel layout
func ChannelName(channels uint16) string {
	if channels == 1 {
		return "mono"
	}
	return "stereo"
}
