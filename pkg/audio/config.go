// Package audio provides microphone capture, loudspeaker routing, and the
// opus-encoded outbound track for a voice session.
//
// Capture backends:
//   - ALSA (Linux) - production capture
//   - Mock - CI/testing without hardware
package audio

import (
	"errors"
	"fmt"
	"runtime"
	"time"
)

// Backend represents the capture backend type.
type Backend string

const (
	// BackendAuto automatically selects the best available backend.
	BackendAuto Backend = "auto"
	// BackendALSA uses Linux ALSA capture.
	BackendALSA Backend = "alsa"
	// BackendMock uses a synthetic source for testing.
	BackendMock Backend = "mock"
)

// ErrCaptureBusy indicates the microphone is already held by a session.
// Capture is exclusive: at most one consumer at a time.
var ErrCaptureBusy = errors.New("audio: capture device already in use")

// Config holds capture configuration.
type Config struct {
	// Backend selects the capture backend. Default: auto.
	Backend Backend

	// SampleRate is the capture sample rate in Hz.
	// Default: 48000 (opus track clock rate).
	SampleRate int

	// Channels is the number of channels. Default: 1 (mono).
	Channels int

	// FrameDuration is the size of one capture frame. Default: 20ms.
	FrameDuration time.Duration

	// Device is the platform-specific device identifier
	// (e.g. ALSA "hw:0,0"); empty means system default.
	Device string
}

// DefaultConfig returns a Config matching the outbound opus track.
func DefaultConfig() Config {
	return Config{
		Backend:       BackendAuto,
		SampleRate:    48000,
		Channels:      1,
		FrameDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("audio: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("audio: channels must be positive, got %d", c.Channels)
	}
	if c.FrameDuration <= 0 {
		return fmt.Errorf("audio: frame_duration must be positive, got %v", c.FrameDuration)
	}
	return nil
}

// FrameSize returns the number of samples per channel in one frame.
func (c *Config) FrameSize() int {
	return int(float64(c.SampleRate) * c.FrameDuration.Seconds())
}

func detectBackend() Backend {
	if runtime.GOOS == "linux" {
		return BackendALSA
	}
	return BackendMock
}
