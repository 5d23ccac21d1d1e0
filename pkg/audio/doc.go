// ABOUTME: Audio fundamentals package providing core types and utilities
// ABOUTME: Defines the PCM Format descriptor, error kinds and sample conversions
// Package audio provides the fundamental types shared by capture, playback and
// the WAV codec.
//
// This package defines:
//   - Format: Describes a PCM stream (sample rate, channels, bit depth)
//   - Error kinds: sentinel errors matched with errors.Is
//
// It also provides utilities for converting between packed little-endian
// PCM bytes and native sample slices:
//   - bytes ↔ int16 (16-bit signed)
//   - bytes ↔ uint8 (8-bit unsigned)
//
// Example:
//
//	format := audio.Format{
//	    SampleRate: 16000,
//	    Channels:   1,
//	    BitDepth:   16,
//	}
//	if err := format.Validate(); err != nil {
//	    return err
//	}
//	chunk := format.BytesForDuration(20 * time.Millisecond)
package audio
