// Package session negotiates and operates a duplex audio+event connection
// to a realtime conversational endpoint. A Manager owns at most one live
// Session; everything the session acquires (microphone, peer transport,
// event channel, loudspeaker routing) is released exactly once on every
// exit path.
package session

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/voicelink/voicelink/pkg/audio"
	"github.com/voicelink/voicelink/pkg/protocol"
	"github.com/voicelink/voicelink/pkg/transport"
)

// micTrack is the mute surface of a local audio track.
type micTrack interface {
	SetEnabled(enabled bool)
	Enabled() bool
	Stop()
}

// peerConn is the slice of the peer transport the session tears down.
type peerConn interface {
	Close() error
}

// RemoteStats are diagnostic counters for the inbound audio track.
type RemoteStats struct {
	Packets int64
	Bytes   int64
}

// Session is a live voice conversation. It is created by Manager.Start and
// destroyed only by Close. A transport failure marks the connection state
// Error but deliberately leaves resources allocated so the host decides
// whether to retry.
type Session struct {
	id     string
	logger *slog.Logger

	mu          sync.Mutex
	cb          Callbacks
	capture     audio.Source
	tracks      []micTrack
	pc          peerConn
	remoteTrack *webrtc.TrackRemote // diagnostic only
	remoteStats RemoteStats
	channel     transport.EventChannel
	route       *audio.Route
	sessionCfg  protocol.SessionConfig
	connState   ConnectionState
	voice       VoiceActivity
	closed      bool
	onClosed    func(*Session)
}

func newSession(cb Callbacks, route *audio.Route, cfg protocol.SessionConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.NewString()
	return &Session{
		id:         id,
		logger:     logger.With("session", id[:8]),
		cb:         cb,
		route:      route,
		sessionCfg: cfg,
		connState:  StateDisconnected,
		voice:      VoiceIdle,
	}
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// ConnectionState returns the current transport state.
func (s *Session) ConnectionState() ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connState
}

// VoiceActivity returns the current turn-taking state.
func (s *Session) VoiceActivity() VoiceActivity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.voice
}

// RemoteTrackStats returns diagnostic counters for the inbound audio track.
func (s *Session) RemoteTrackStats() RemoteStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteStats
}

// SendTextMessage injects a synthetic user turn and requests a response.
// The wire protocol requires two messages; callers see one call. When the
// event channel is not open it logs and returns ErrChannelClosed without
// writing; there is no queueing, gate on Connected state.
func (s *Session) SendTextMessage(text string) error {
	ch := s.eventChannel()
	if ch == nil || !ch.IsOpen() {
		s.logger.Warn("send text dropped: event channel not open")
		return transport.ErrChannelClosed
	}

	item, err := protocol.MarshalUserText(text)
	if err != nil {
		return err
	}
	if err := ch.Send(item); err != nil {
		return err
	}

	create, err := protocol.MarshalResponseCreate()
	if err != nil {
		return err
	}
	return ch.Send(create)
}

// InterruptResponse sends one cancel message for barge-in. It is safe with
// nothing in flight (the remote treats it as a no-op) and does not alter
// the voice activity state itself.
func (s *Session) InterruptResponse() error {
	ch := s.eventChannel()
	if ch == nil {
		return transport.ErrChannelClosed
	}
	cancel, err := protocol.MarshalResponseCancel()
	if err != nil {
		return err
	}
	return ch.Send(cancel)
}

// SetMicrophoneMuted toggles the enabled flag on every local audio track.
// Reversible; it touches neither the event channel nor the transport.
func (s *Session) SetMicrophoneMuted(muted bool) {
	s.mu.Lock()
	tracks := s.tracks
	s.mu.Unlock()
	for _, tr := range tracks {
		tr.SetEnabled(!muted)
	}
}

// MicrophoneMuted reports whether the local tracks are muted.
func (s *Session) MicrophoneMuted() bool {
	s.mu.Lock()
	tracks := s.tracks
	s.mu.Unlock()
	for _, tr := range tracks {
		if !tr.Enabled() {
			return true
		}
	}
	return false
}

// Close is the only path that releases the session's resources: it stops
// local tracks and capture, closes the event channel and the peer
// transport, restores audio routing, and detaches from the manager slot.
// Idempotent; no callback fires after it returns.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	s.teardown(true)
	return nil
}

// teardown releases every acquired resource exactly once. When
// fireDisconnect is set the Disconnected transition is delivered before
// callbacks are sealed; the negotiation-failure path keeps the Error state
// instead.
func (s *Session) teardown(fireDisconnect bool) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	prevState := s.connState
	if fireDisconnect {
		s.connState = StateDisconnected
	}
	cb := s.cb
	tracks := s.tracks
	capture := s.capture
	channel := s.channel
	pc := s.pc
	route := s.route
	onClosed := s.onClosed
	s.mu.Unlock()

	for _, tr := range tracks {
		tr.Stop()
	}
	if capture != nil {
		capture.Stop()
		capture.Close()
	}
	if channel != nil {
		channel.Close()
	}
	if pc != nil {
		pc.Close()
	}
	if route != nil {
		route.Restore()
	}

	if fireDisconnect && prevState != StateDisconnected && cb.OnConnectionStateChange != nil {
		cb.OnConnectionStateChange(StateDisconnected)
	}
	if onClosed != nil {
		onClosed(s)
	}
	s.logger.Info("session closed")
}

// failNegotiation surfaces a handshake failure: Error state, exactly one
// error callback, full release of whatever was acquired.
func (s *Session) failNegotiation(err error) {
	s.setConnectionState(StateError)
	s.fireError(err.Error())
	s.teardown(false)
}

// detach clears the manager-slot hook, for supersede.
func (s *Session) detach() {
	s.mu.Lock()
	s.onClosed = nil
	s.mu.Unlock()
}

func (s *Session) eventChannel() transport.EventChannel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.channel
}

// bindChannel attaches the event channel and its protocol handlers. Done
// before the offer so the channel lifecycle is observable independently of
// ICE state.
func (s *Session) bindChannel(ch transport.EventChannel) {
	s.mu.Lock()
	s.channel = ch
	s.mu.Unlock()

	ch.OnOpen(s.handleChannelOpen)
	ch.OnMessage(s.handleMessage)
	ch.OnClose(func() {
		s.logger.Debug("event channel closed")
	})
}

// handleChannelOpen sends the one configuration message the protocol
// expects as soon as the channel opens.
func (s *Session) handleChannelOpen() {
	s.mu.Lock()
	cfg := s.sessionCfg
	ch := s.channel
	closed := s.closed
	s.mu.Unlock()
	if closed || ch == nil {
		return
	}

	data, err := protocol.MarshalSessionUpdate(cfg)
	if err != nil {
		s.logger.Error("marshal session config", "err", err)
		return
	}
	if err := ch.Send(data); err != nil {
		s.logger.Error("send session config", "err", err)
		return
	}
	s.logger.Info("session configured", "voice", cfg.Voice)
}

// handleMessage classifies one inbound protocol event and applies the
// required reaction. Malformed payloads and unrecognized types are logged
// and dropped; they never fault the channel or either state machine.
func (s *Session) handleMessage(data []byte) {
	ev, err := protocol.ParseServerEvent(data)
	if err != nil {
		s.logger.Warn("dropping malformed event", "err", err)
		return
	}

	switch ev.Type {
	case protocol.TypeSessionCreated, protocol.TypeSessionUpdated:
		s.logger.Debug("session acknowledged", "type", ev.Type)

	case protocol.TypeSpeechStarted:
		s.setVoiceActivity(VoiceListening)

	case protocol.TypeSpeechStopped:
		s.setVoiceActivity(VoiceProcessing)

	case protocol.TypeTranscriptionCompleted:
		if cb, ok := s.callbacks(); ok && cb.OnTranscript != nil {
			cb.OnTranscript(ev.Transcript, true)
		}

	case protocol.TypeResponseTextDelta:
		if cb, ok := s.callbacks(); ok && cb.OnAssistantResponse != nil {
			cb.OnAssistantResponse(ev.Delta)
		}

	case protocol.TypeResponseTextDone:
		// Informational; the final transcript already streamed as deltas.

	case protocol.TypeResponseAudioDelta:
		// Idempotent on repeated deltas within one response.
		s.setVoiceActivity(VoiceSpeaking)

	case protocol.TypeResponseAudioDone, protocol.TypeResponseDone:
		s.setVoiceActivity(VoiceIdle)

	case protocol.TypeError:
		// Server-reported, non-fatal to the connection itself.
		s.logger.Warn("server error event", "detail", ev.Error.String())
		s.fireError(ev.Error.String())

	default:
		// Forward-compatibility policy: unknown types never fault the
		// session.
		s.logger.Debug("ignoring unrecognized event", "type", ev.Type)
	}
}

// handlePeerState maps transport connectivity onto the connection state
// machine. Failure marks the state Error and fires one error callback, but
// does not release resources: retry is the host's decision.
func (s *Session) handlePeerState(state webrtc.PeerConnectionState) {
	s.logger.Info("peer connection state", "state", state.String())

	switch state {
	case webrtc.PeerConnectionStateConnected:
		s.setConnectionState(StateConnected)
	case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateDisconnected:
		if s.ConnectionState() == StateError {
			return
		}
		s.setConnectionState(StateError)
		s.fireError("transport failure: " + state.String())
	}
}

// handleRemoteTrack records the inbound track handle and drains its RTP
// packets for diagnostics. No manual decode: the transport routes audio to
// the output device once loudspeaker routing is engaged.
func (s *Session) handleRemoteTrack(track *webrtc.TrackRemote) {
	s.mu.Lock()
	s.remoteTrack = track
	s.mu.Unlock()

	s.logger.Info("remote track",
		"kind", track.Kind().String(),
		"codec", track.Codec().MimeType,
	)

	if track.Kind() == webrtc.RTPCodecTypeAudio {
		go s.drainRemote(track)
	}
}

func (s *Session) drainRemote(track *webrtc.TrackRemote) {
	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			s.logger.Debug("remote track drain ended", "err", err)
			return
		}
		s.observeRTP(pkt)
	}
}

func (s *Session) observeRTP(pkt *rtp.Packet) {
	s.mu.Lock()
	s.remoteStats.Packets++
	s.remoteStats.Bytes += int64(len(pkt.Payload))
	n := s.remoteStats.Packets
	s.mu.Unlock()

	if n%500 == 0 {
		s.logger.Debug("remote audio flowing",
			"packets", n,
			"seq", pkt.SequenceNumber,
		)
	}
}

func (s *Session) setConnectionState(state ConnectionState) {
	s.mu.Lock()
	if s.closed || s.connState == state {
		s.mu.Unlock()
		return
	}
	s.connState = state
	fn := s.cb.OnConnectionStateChange
	s.mu.Unlock()

	s.logger.Info("connection state", "state", state.String())
	if fn != nil {
		fn(state)
	}
}

func (s *Session) setVoiceActivity(activity VoiceActivity) {
	s.mu.Lock()
	if s.closed || s.voice == activity {
		s.mu.Unlock()
		return
	}
	s.voice = activity
	fn := s.cb.OnVoiceActivityChange
	s.mu.Unlock()

	s.logger.Debug("voice activity", "state", activity.String())
	if fn != nil {
		fn(activity)
	}
}

func (s *Session) fireError(msg string) {
	s.mu.Lock()
	fn := s.cb.OnError
	closed := s.closed
	s.mu.Unlock()
	if !closed && fn != nil {
		fn(msg)
	}
}

// callbacks returns the callback set while the session is live.
func (s *Session) callbacks() (Callbacks, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cb, !s.closed
}
