// Package audioio provides cross-platform audio capture and playback.
//
// Backends:
//   - alsa: pipes PCM through arecord/aplay on Linux
//   - coreaudio: pipes PCM through sox rec/play on macOS
//   - mock: synthetic or scripted audio for tests
//
// On top of a Source, Capture applies echo gating and fans audio out to
// recorders; Player streams assistant speech to a Sink.
package audioio

import (
	"fmt"
	"time"
)

// Backend represents the audio backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA uses the alsa-utils arecord/aplay commands.
	BackendALSA Backend = "alsa"
	// BackendCoreAudio uses the sox rec/play commands.
	BackendCoreAudio Backend = "coreaudio"
	// BackendMock uses a mock implementation for testing.
	BackendMock Backend = "mock"
)

// Config holds audio configuration.
type Config struct {
	// Backend specifies which audio backend to use.
	// Default: "auto" (selects best available for platform)
	Backend Backend `toml:"backend" json:"backend"`

	// SampleRate is the audio sample rate in Hz.
	// Default: 24000 (required by OpenAI Realtime)
	SampleRate int `toml:"sample_rate" json:"sample_rate"`

	// Channels is the number of audio channels.
	// Default: 1 (mono)
	Channels int `toml:"channels" json:"channels"`

	// BufferDuration is the size of audio buffers.
	// Default: 20ms (480 samples at 24kHz)
	BufferDuration time.Duration `toml:"buffer_duration" json:"buffer_duration"`

	// Device is the ALSA device name ("hw:0,0", "plughw:1,0").
	// Empty uses the system default. Ignored by sox and mock.
	Device string `toml:"device" json:"device"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     24000, // OpenAI Realtime requirement
		Channels:       1,     // Mono
		BufferDuration: 20 * time.Millisecond,
		Device:         "", // Use system default
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	return nil
}

// BufferSize returns the number of samples per buffer.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes returns the size of a buffer in bytes (assuming int16 samples).
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2 // 2 bytes per int16 sample
}

