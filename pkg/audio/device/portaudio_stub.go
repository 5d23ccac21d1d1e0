//go:build !portaudio

// ABOUTME: PortAudio stub when library not available
// ABOUTME: Provides compile-time placeholder when PortAudio not installed
package device

import (
	"fmt"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
)

// PortAudio backend (stub)
type PortAudio struct{}

// NewPortAudio creates a new PortAudio backend
func NewPortAudio(latency time.Duration) Device {
	return &PortAudio{}
}

// Name returns the backend name
func (p *PortAudio) Name() string { return "portaudio" }

// MinBufferSize reports that PortAudio is not compiled in
func (p *PortAudio) MinBufferSize(format audio.Format, mode Mode) (int, error) {
	return 0, fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", audio.ErrDeviceUnavailable)
}

// Open reports that PortAudio is not compiled in
func (p *PortAudio) Open(format audio.Format, mode Mode, bufferSize int) (Handle, error) {
	return nil, fmt.Errorf("%w: PortAudio support not enabled (build with -tags portaudio)", audio.ErrDeviceUnavailable)
}

// Close releases resources
func (p *PortAudio) Close() error {
	return nil
}
