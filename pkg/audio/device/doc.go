// ABOUTME: Audio device package for capturing and playing PCM
// ABOUTME: Provides Device/Handle interfaces and malgo, oto and PortAudio backends
// Package device provides blocking, byte-oriented access to audio hardware.
//
// A Device answers two questions for a Format: how large a chunk should be
// (MinBufferSize) and how to open a Handle in a given Mode. Handles expose
// Read for capture and Write for playback, plus Play/Stop/Release for the
// session lifecycle.
//
// Backends:
//   - malgo (default): capture and playback through miniaudio
//   - oto: playback only
//   - portaudio: blocking I/O, requires building with -tags portaudio
//
// Example:
//
//	dev, err := device.New("malgo", device.DefaultLatency)
//	size, err := dev.MinBufferSize(format, device.ModeCapture)
//	h, err := dev.Open(format, device.ModeCapture, size)
//	err = h.Play()
//	n, err := h.Read(buf)
package device
