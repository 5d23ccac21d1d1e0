// ABOUTME: YAML configuration for pcmdeck
// ABOUTME: Loads, defaults and validates the audio, device, capture, files and metrics sections
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/Resonate-Protocol/pcmdeck/pkg/audio"
	"github.com/Resonate-Protocol/pcmdeck/pkg/audio/capture"
	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration
type Config struct {
	Audio   AudioConfig   `yaml:"audio"`
	Device  DeviceConfig  `yaml:"device"`
	Capture CaptureConfig `yaml:"capture"`
	Files   FilesConfig   `yaml:"files"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// AudioConfig is the PCM format used for recording and raw playback
type AudioConfig struct {
	SampleRate int `yaml:"sample_rate"`
	Channels   int `yaml:"channels"`
	BitDepth   int `yaml:"bit_depth"`
}

// DeviceConfig selects the audio backend
type DeviceConfig struct {
	Backend   string `yaml:"backend"`    // malgo, oto or portaudio
	LatencyMs int    `yaml:"latency_ms"` // chunk duration used to size device buffers
}

// CaptureConfig controls how recordings are written
type CaptureConfig struct {
	WritePolicy string `yaml:"write_policy"` // full or read
}

// FilesConfig names the working files
type FilesConfig struct {
	Dir     string `yaml:"dir"`
	PCMName string `yaml:"pcm_name"`
	WAVName string `yaml:"wav_name"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
}

// Default returns the configuration used when no file is given
func Default() *Config {
	return &Config{
		Audio: AudioConfig{
			SampleRate: int(audio.DefaultFormat.SampleRate),
			Channels:   int(audio.DefaultFormat.Channels),
			BitDepth:   int(audio.DefaultFormat.BitDepth),
		},
		Device: DeviceConfig{
			Backend:   "malgo",
			LatencyMs: 40,
		},
		Capture: CaptureConfig{
			WritePolicy: "full",
		},
		Files: FilesConfig{
			Dir:     "recordings",
			PCMName: "recorded_audio.pcm",
			WAVName: "recorded_audio.wav",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Address: ":9464",
		},
	}
}

// Load reads and parses the configuration file over the defaults.
// An empty path returns the defaults.
func Load(path string) (*Config, error) {
	config := Default()
	if path == "" {
		return config, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate validates every section
func (c *Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Device.Validate(); err != nil {
		return fmt.Errorf("device config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Files.Validate(); err != nil {
		return fmt.Errorf("files config: %w", err)
	}

	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config: %w", err)
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 1000 || a.SampleRate > 192000 {
		return fmt.Errorf("sample_rate must be between 1000 and 192000 Hz, got %d", a.SampleRate)
	}

	if a.Channels != 1 && a.Channels != 2 {
		return fmt.Errorf("channels must be 1 (mono) or 2 (stereo), got %d", a.Channels)
	}

	if a.BitDepth != 8 && a.BitDepth != 16 {
		return fmt.Errorf("bit_depth must be 8 or 16, got %d", a.BitDepth)
	}

	return nil
}

// Validate validates device configuration
func (d *DeviceConfig) Validate() error {
	validBackends := map[string]bool{"malgo": true, "oto": true, "portaudio": true}
	if !validBackends[strings.ToLower(d.Backend)] {
		return fmt.Errorf("backend must be one of [malgo, oto, portaudio], got '%s'", d.Backend)
	}

	if d.LatencyMs < 1 || d.LatencyMs > 1000 {
		return fmt.Errorf("latency_ms must be between 1 and 1000, got %d", d.LatencyMs)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	_, err := capture.ParseWritePolicy(c.WritePolicy)
	return err
}

// Validate validates files configuration
func (f *FilesConfig) Validate() error {
	if f.Dir == "" {
		return fmt.Errorf("dir cannot be empty")
	}

	if f.PCMName == "" || f.WAVName == "" {
		return fmt.Errorf("pcm_name and wav_name cannot be empty")
	}

	if f.PCMName == f.WAVName {
		return fmt.Errorf("pcm_name and wav_name must differ, both are '%s'", f.PCMName)
	}

	return nil
}

// Validate validates metrics configuration
func (m *MetricsConfig) Validate() error {
	if m.Enabled && m.Address == "" {
		return fmt.Errorf("address cannot be empty when metrics are enabled")
	}

	return nil
}

// Format returns the configured PCM format
func (a *AudioConfig) Format() audio.Format {
	return audio.Format{
		SampleRate: uint32(a.SampleRate),
		Channels:   uint16(a.Channels),
		BitDepth:   uint16(a.BitDepth),
	}
}

// Latency returns the configured device latency as a time.Duration
func (d *DeviceConfig) Latency() time.Duration {
	return time.Duration(d.LatencyMs) * time.Millisecond
}

// Policy returns the parsed write policy
func (c *CaptureConfig) Policy() capture.WritePolicy {
	p, _ := capture.ParseWritePolicy(c.WritePolicy)
	return p
}

// PCMPath returns the path of the raw recording
func (f *FilesConfig) PCMPath() string {
	return filepath.Join(f.Dir, f.PCMName)
}

// WAVPath returns the path of the converted recording
func (f *FilesConfig) WAVPath() string {
	return filepath.Join(f.Dir, f.WAVName)
}
