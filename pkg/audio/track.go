package audio

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/pion/webrtc/v3"
	"github.com/pion/webrtc/v3/pkg/media"
	"gopkg.in/hraban/opus.v2"
)

const maxOpusPacket = 4000

// TrackWriter pumps capture chunks through an opus encoder into a local
// WebRTC track. When disabled (microphone muted) it keeps the frame clock
// alive with silence instead of mic audio; it never touches the transport
// or the event channel.
type TrackWriter struct {
	cfg    Config
	logger *slog.Logger

	track   *webrtc.TrackLocalStaticSample
	encoder *opus.Encoder
	src     Source

	enabled atomic.Bool

	mu      sync.Mutex
	started bool
	stopped bool
	done    chan struct{}
}

// NewTrackWriter creates the (single) outbound audio track fed by src.
func NewTrackWriter(src Source, cfg Config, logger *slog.Logger) (*TrackWriter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: uint32(cfg.SampleRate),
			Channels:  uint16(cfg.Channels),
		},
		"audio", "voicelink-mic",
	)
	if err != nil {
		return nil, fmt.Errorf("audio: create local track: %w", err)
	}

	encoder, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("audio: create opus encoder: %w", err)
	}

	w := &TrackWriter{
		cfg:     cfg,
		logger:  logger,
		track:   track,
		encoder: encoder,
		src:     src,
		done:    make(chan struct{}),
	}
	w.enabled.Store(true)
	return w, nil
}

// Track returns the local track to attach to the peer connection.
func (w *TrackWriter) Track() *webrtc.TrackLocalStaticSample {
	return w.track
}

// Start launches the encode/write pump. It returns once the pump is running.
func (w *TrackWriter) Start(ctx context.Context) {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.pump(ctx)
}

func (w *TrackWriter) pump(ctx context.Context) {
	defer close(w.done)

	silence := make([]int16, w.cfg.FrameSize()*w.cfg.Channels)
	packet := make([]byte, maxOpusPacket)

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-w.src.Chunks():
			if !ok {
				return
			}

			pcm := chunk.Samples
			if !w.enabled.Load() {
				pcm = silence
			}

			n, err := w.encoder.Encode(pcm, packet)
			if err != nil {
				w.logger.Warn("opus encode failed", "err", err)
				continue
			}

			sample := media.Sample{
				Data:     append([]byte(nil), packet[:n]...),
				Duration: w.cfg.FrameDuration,
			}
			if err := w.track.WriteSample(sample); err != nil {
				w.logger.Debug("track write failed", "err", err)
			}
		}
	}
}

// SetEnabled flips the track's enabled flag. Reversible.
func (w *TrackWriter) SetEnabled(enabled bool) {
	w.enabled.Store(enabled)
}

// Enabled reports whether mic audio flows to the track.
func (w *TrackWriter) Enabled() bool {
	return w.enabled.Load()
}

// Stop halts the pump by stopping the source stream. Idempotent; the pump
// exits once the capture channel drains.
func (w *TrackWriter) Stop() {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	w.stopped = true
	started := w.started
	w.mu.Unlock()

	w.src.Stop()
	if started {
		<-w.done
	}
}
