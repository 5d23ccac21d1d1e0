// ABOUTME: Independent WAV inspection using go-audio/wav
// ABOUTME: Cross-checks files we write against a third-party reader
package wavcodec

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Info summarizes a WAV file as seen by go-audio/wav
type Info struct {
	Format   audio.Format
	DataSize int64
	Duration time.Duration
}

// Inspect reads r with go-audio/wav and checks that it agrees with our own header parse
func Inspect(r io.ReadSeeker) (Info, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return Info{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Info{}, fmt.Errorf("failed to rewind WAV file: %w", err)
	}

	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Info{}, fmt.Errorf("%w: rejected by go-audio/wav", audio.ErrMalformedContainer)
	}
	if err := d.FwdToPCM(); err != nil {
		return Info{}, fmt.Errorf("%w: %v", audio.ErrMalformedContainer, err)
	}

	format := audio.Format{
		SampleRate: d.SampleRate,
		Channels:   d.NumChans,
		BitDepth:   d.BitDepth,
	}
	if format != header.Format {
		return Info{}, fmt.Errorf("%w: go-audio/wav reports %s, header says %s",
			audio.ErrMalformedContainer, format, header.Format)
	}
	if d.WavAudioFormat != formatPCM {
		return Info{}, fmt.Errorf("%w: audio format %d (only PCM is supported)", audio.ErrMalformedContainer, d.WavAudioFormat)
	}

	size := d.PCMLen()
	if size != int64(header.DataSize) {
		return Info{}, fmt.Errorf("%w: go-audio/wav reports %d data bytes, header says %d",
			audio.ErrMalformedContainer, size, header.DataSize)
	}

	return Info{
		Format:   format,
		DataSize: size,
		Duration: format.Duration(size),
	}, nil
}

// Levels holds sample levels relative to full scale (0 to 1)
type Levels struct {
	Peak    float64
	RMS     float64
	Samples int64
}

// PeakDBFS returns the peak in dBFS; silence is -Inf
func (l Levels) PeakDBFS() float64 {
	return 20 * math.Log10(l.Peak)
}

// RMSDBFS returns the RMS level in dBFS; silence is -Inf
func (l Levels) RMSDBFS() float64 {
	return 20 * math.Log10(l.RMS)
}

// MeasureLevels decodes the samples in r with go-audio/wav and measures their levels
func MeasureLevels(r io.ReadSeeker) (Levels, error) {
	header, err := ReadHeader(r)
	if err != nil {
		return Levels{}, err
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return Levels{}, fmt.Errorf("failed to rewind WAV file: %w", err)
	}

	d := wav.NewDecoder(r)
	if !d.IsValidFile() {
		return Levels{}, fmt.Errorf("%w: rejected by go-audio/wav", audio.ErrMalformedContainer)
	}
	if err := d.FwdToPCM(); err != nil {
		return Levels{}, fmt.Errorf("%w: %v", audio.ErrMalformedContainer, err)
	}

	fullScale := 32768.0
	offset := 0.0
	if header.Format.BitDepth == 8 {
		// 8-bit samples are unsigned around 128
		fullScale = 128
		offset = 128
	}

	buf := &goaudio.IntBuffer{
		Data:   make([]int, 4096),
		Format: d.Format(),
	}

	// The decoder reads to EOF, so stop at the end of the data chunk
	remaining := int64(header.DataSize) / int64(header.Format.BitDepth/8)

	var levels Levels
	var sumSquares float64
	for remaining > 0 {
		n, err := d.PCMBuffer(buf)
		if err != nil {
			return Levels{}, fmt.Errorf("failed to decode samples: %w", err)
		}
		if n == 0 {
			break
		}
		if int64(n) > remaining {
			n = int(remaining)
		}
		for _, s := range buf.Data[:n] {
			v := math.Abs((float64(s) - offset) / fullScale)
			if v > levels.Peak {
				levels.Peak = v
			}
			sumSquares += v * v
		}
		levels.Samples += int64(n)
		remaining -= int64(n)
	}

	if levels.Samples > 0 {
		levels.RMS = math.Sqrt(sumSquares / float64(levels.Samples))
	}
	return levels, nil
}
