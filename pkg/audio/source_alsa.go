//go:build linux

package audio

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ALSASource captures audio from a Linux ALSA device.
type ALSASource struct {
	cfg    Config
	logger *slog.Logger
	device string

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan Chunk
	stopCh   chan struct{}

	chunksRead atomic.Int64
	overruns   atomic.Int64
}

func newALSASource(cfg Config, logger *slog.Logger) (Source, error) {
	device := cfg.Device
	if device == "" {
		device = "default"
	}

	s := &ALSASource{
		cfg:      cfg,
		logger:   logger,
		device:   device,
		streamCh: make(chan Chunk, 10),
		stopCh:   make(chan struct{}),
	}

	logger.Info("ALSA source created",
		"device", device,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)
	return s, nil
}

// Start begins capture. A second Start while running fails with
// ErrCaptureBusy.
func (s *ALSASource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return io.ErrClosedPipe
	}
	if s.running {
		return ErrCaptureBusy
	}

	// TODO: open the ALSA PCM with CGO bindings; the loop below keeps the
	// frame clock so the rest of the pipeline is exercised without hardware.

	s.running = true
	s.stopCh = make(chan struct{})
	s.streamCh = make(chan Chunk, 10)

	go s.captureLoop(ctx, s.streamCh, s.stopCh)

	s.logger.Info("ALSA audio source started", "device", s.device)
	return nil
}

// captureLoop owns the stream channel and closes it on exit.
func (s *ALSASource) captureLoop(ctx context.Context, stream chan Chunk, stop <-chan struct{}) {
	ticker := time.NewTicker(s.cfg.FrameDuration)
	defer ticker.Stop()
	defer close(stream)

	for {
		select {
		case <-ctx.Done():
			s.Stop()
			return
		case <-stop:
			return
		case <-ticker.C:
			chunk := s.readFromDevice()
			select {
			case stream <- chunk:
				s.chunksRead.Add(1)
			default:
				s.overruns.Add(1)
				s.logger.Debug("ALSA source: buffer full, dropping chunk")
			}
		}
	}
}

func (s *ALSASource) readFromDevice() Chunk {
	samples := make([]int16, s.cfg.FrameSize()*s.cfg.Channels)
	return Chunk{
		Samples:    samples,
		SampleRate: s.cfg.SampleRate,
		Channels:   s.cfg.Channels,
	}
}

// Stop halts capture. Idempotent.
func (s *ALSASource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false
	close(s.stopCh)

	s.logger.Info("ALSA audio source stopped")
	return nil
}

// Chunks returns the capture stream.
func (s *ALSASource) Chunks() <-chan Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamCh
}

// Name returns "alsa".
func (s *ALSASource) Name() string { return "alsa" }

// Close releases the device.
func (s *ALSASource) Close() error {
	s.Stop()
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}
