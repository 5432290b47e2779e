package audio

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// Source captures audio from a microphone. Capture is exclusive: Start
// fails with ErrCaptureBusy while another consumer holds the device.
type Source interface {
	// Start begins capture. Chunks become available on Chunks().
	Start(ctx context.Context) error

	// Stop halts capture. Safe to call more than once.
	Stop() error

	// Chunks returns the capture stream. The channel is closed on Stop.
	Chunks() <-chan Chunk

	// Name returns the backend name (e.g. "alsa", "mock").
	Name() string

	// Close releases the device. The source cannot be restarted after.
	io.Closer
}

// NewSource creates an audio source for the configured backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto {
		backend = detectBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"frame_ms", cfg.FrameDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendALSA:
		return newALSASource(cfg, logger)
	default:
		return nil, fmt.Errorf("audio: unsupported backend: %s", backend)
	}
}
