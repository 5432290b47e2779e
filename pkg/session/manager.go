package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink/voicelink/internal/httpc"
	"github.com/voicelink/voicelink/pkg/audio"
	"github.com/voicelink/voicelink/pkg/protocol"
	"github.com/voicelink/voicelink/pkg/transport"
)

// DefaultSTUNServer is the public discovery relay used for address
// resolution when the config names none.
const DefaultSTUNServer = "stun:stun.l.google.com:19302"

const eventChannelLabel = "oai-events"

// Config holds everything the manager needs to negotiate sessions.
type Config struct {
	// APIKey is the bearer credential for the negotiation endpoint.
	APIKey string

	// Endpoint is the SDP negotiation URL.
	Endpoint string

	// Model is sent as the model query parameter.
	Model string

	// Voice is the assistant voice identity.
	Voice string

	// Server VAD tuning. Zero values fall back to protocol defaults.
	VADThreshold       float64
	VADPrefixPadding   time.Duration
	VADSilenceDuration time.Duration

	// STUNServers overrides the default discovery relay.
	STUNServers []string

	// Audio is the capture configuration.
	Audio audio.Config

	// HTTPClient overrides the shared client for the SDP exchange.
	HTTPClient *http.Client

	// Online is the network-reachability oracle. Nil means assume online.
	Online func() bool
}

// Manager owns the single active session slot. A new Start supersedes:
// it closes any pre-existing session before negotiating (last writer wins).
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	current *Session

	// seams for tests
	dial      func(ctx context.Context, s *Session) error
	newSource func() (audio.Source, error)
}

// NewManager creates a Manager. Only one session exists per manager at any
// instant; concurrent multi-session operation is not supported.
func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = "https://api.openai.com/v1/realtime"
	}
	if cfg.STUNServers == nil {
		cfg.STUNServers = []string{DefaultSTUNServer}
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio = audio.DefaultConfig()
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = httpc.Client
	}

	m := &Manager{cfg: cfg, logger: logger}
	m.dial = m.negotiate
	m.newSource = func() (audio.Source, error) {
		return audio.NewSource(m.cfg.Audio, m.logger)
	}
	return m
}

// Current returns the active session, or nil.
func (m *Manager) Current() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Start negotiates a new session. Preconditions (credential configured,
// network reachable) fail synchronously before any resource is touched,
// with exactly one error callback. A mid-handshake failure releases every
// resource acquired so far, fires exactly one error callback, and returns
// the typed error; there is no automatic retry.
//
// There is no mid-handshake cancellation: a Close issued while negotiation
// is in flight takes effect only after negotiation settles.
func (m *Manager) Start(ctx context.Context, cb Callbacks, systemPrompt string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.APIKey == "" {
		if cb.OnError != nil {
			cb.OnError(ErrMissingAPIKey.Error())
		}
		return nil, ErrMissingAPIKey
	}
	if m.cfg.Online != nil && !m.cfg.Online() {
		if cb.OnError != nil {
			cb.OnError(ErrOffline.Error())
		}
		return nil, ErrOffline
	}

	// Supersede: the slot holds at most one session.
	if prev := m.current; prev != nil {
		m.logger.Info("superseding active session", "id", prev.ID())
		prev.detach()
		prev.Close()
		m.current = nil
	}

	sessionCfg := protocol.DefaultSessionConfig(m.cfg.Voice, systemPrompt)
	if m.cfg.VADThreshold > 0 {
		sessionCfg.TurnDetection.Threshold = m.cfg.VADThreshold
	}
	if m.cfg.VADPrefixPadding > 0 {
		sessionCfg.TurnDetection.PrefixPaddingMS = int(m.cfg.VADPrefixPadding.Milliseconds())
	}
	if m.cfg.VADSilenceDuration > 0 {
		sessionCfg.TurnDetection.SilenceDurationMS = int(m.cfg.VADSilenceDuration.Milliseconds())
	}

	s := newSession(cb, audio.NewRoute(m.logger), sessionCfg, m.logger)
	s.setConnectionState(StateConnecting)

	if err := m.dial(ctx, s); err != nil {
		s.failNegotiation(err)
		return nil, err
	}

	s.mu.Lock()
	s.onClosed = m.clearSlot
	s.mu.Unlock()
	m.current = s

	m.logger.Info("session started", "id", s.ID())
	return s, nil
}

// Close tears down the active session, if any. Safe to call with none.
func (m *Manager) Close() error {
	m.mu.Lock()
	prev := m.current
	m.current = nil
	m.mu.Unlock()

	if prev == nil {
		return nil
	}
	prev.detach()
	return prev.Close()
}

func (m *Manager) clearSlot(s *Session) {
	m.mu.Lock()
	if m.current == s {
		m.current = nil
	}
	m.mu.Unlock()
}

// negotiate performs the handshake. Resources attach to the session as each
// step succeeds so a failure at any step releases exactly what was acquired.
func (m *Manager) negotiate(ctx context.Context, s *Session) error {
	// 1. Exclusive microphone capture, audio only.
	capture, err := m.newSource()
	if err != nil {
		return &NegotiationError{Step: "capture", Cause: err}
	}
	s.mu.Lock()
	s.capture = capture
	s.mu.Unlock()
	if err := capture.Start(ctx); err != nil {
		return &NegotiationError{Step: "capture", Cause: err}
	}

	// 2. Peer transport with the public discovery relay.
	webrtcCfg := webrtc.Configuration{}
	if len(m.cfg.STUNServers) > 0 {
		webrtcCfg.ICEServers = []webrtc.ICEServer{{URLs: m.cfg.STUNServers}}
	}
	pc, err := webrtc.NewPeerConnection(webrtcCfg)
	if err != nil {
		return &NegotiationError{Step: "transport", Cause: err}
	}
	s.mu.Lock()
	s.pc = pc
	s.mu.Unlock()
	pc.OnConnectionStateChange(s.handlePeerState)

	// 3. The one outbound audio track.
	writer, err := audio.NewTrackWriter(capture, m.cfg.Audio, m.logger)
	if err != nil {
		return &NegotiationError{Step: "track", Cause: err}
	}
	if _, err := pc.AddTrack(writer.Track()); err != nil {
		return &NegotiationError{Step: "track", Cause: err}
	}
	s.mu.Lock()
	s.tracks = []micTrack{writer}
	s.mu.Unlock()

	// 4. Inbound track observer; playback is transport-routed, no decode.
	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.handleRemoteTrack(track)
	})

	// 5. Event channel before the offer, so its lifecycle is observable
	// independently of ICE state.
	dc, err := pc.CreateDataChannel(eventChannelLabel, nil)
	if err != nil {
		return &NegotiationError{Step: "channel", Cause: err}
	}
	s.bindChannel(transport.NewDataChannel(dc))

	// 6. Local description: audio receive, no video.
	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return &NegotiationError{Step: "offer", Cause: err}
	}
	gathered := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(offer); err != nil {
		return &NegotiationError{Step: "offer", Cause: err}
	}
	<-gathered

	// 7. SDP exchange with the remote negotiation endpoint.
	answer, err := m.postOffer(ctx, pc.LocalDescription().SDP)
	if err != nil {
		return err
	}

	// 8. Apply the remote description.
	remote := webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: answer}
	if err := pc.SetRemoteDescription(remote); err != nil {
		return &NegotiationError{Step: "answer", Cause: err}
	}

	// Loudspeaker routing holds for the session's duration.
	s.route.EngageSpeaker()
	writer.Start(ctx)

	return nil
}

// postOffer exchanges the local SDP for the remote answer.
func (m *Manager) postOffer(ctx context.Context, sdp string) (string, error) {
	endpoint := fmt.Sprintf("%s?model=%s", m.cfg.Endpoint, url.QueryEscape(m.cfg.Model))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(sdp))
	if err != nil {
		return "", &NegotiationError{Step: "signaling", Cause: err}
	}
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)
	req.Header.Set("Content-Type", "application/sdp")

	resp, err := m.cfg.HTTPClient.Do(req)
	if err != nil {
		return "", &NegotiationError{Step: "signaling", Cause: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &NegotiationError{Step: "signaling", Cause: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &NegotiationError{
			Step:   "signaling",
			Status: resp.StatusCode,
			Body:   strings.TrimSpace(string(body)),
		}
	}
	return string(body), nil
}
