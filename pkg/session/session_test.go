package session

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3"

	"github.com/voicelink/voicelink/pkg/audio"
	"github.com/voicelink/voicelink/pkg/protocol"
	"github.com/voicelink/voicelink/pkg/transport"
)

// fakeChannel is an in-memory EventChannel for driving the session.
type fakeChannel struct {
	mu        sync.Mutex
	open      bool
	sent      [][]byte
	closes    int
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
}

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrChannelClosed
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

func (c *fakeChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeChannel) OnOpen(fn func())           { c.mu.Lock(); c.onOpen = fn; c.mu.Unlock() }
func (c *fakeChannel) OnClose(fn func())          { c.mu.Lock(); c.onClose = fn; c.mu.Unlock() }
func (c *fakeChannel) OnMessage(fn func([]byte))  { c.mu.Lock(); c.onMessage = fn; c.mu.Unlock() }

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	c.open = false
	c.closes++
	c.mu.Unlock()
	return nil
}

// fireOpen simulates the channel opening.
func (c *fakeChannel) fireOpen() {
	c.mu.Lock()
	c.open = true
	fn := c.onOpen
	c.mu.Unlock()
	if fn != nil {
		fn()
	}
}

// deliver simulates one inbound wire message.
func (c *fakeChannel) deliver(raw string) {
	c.mu.Lock()
	fn := c.onMessage
	c.mu.Unlock()
	if fn != nil {
		fn([]byte(raw))
	}
}

func (c *fakeChannel) sentTypes(t *testing.T) []string {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	types := make([]string, 0, len(c.sent))
	for _, data := range c.sent {
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("sent message is not JSON: %v", err)
		}
		types = append(types, msg.Type)
	}
	return types
}

type fakeTrack struct {
	mu      sync.Mutex
	enabled bool
	stops   int
}

func (f *fakeTrack) SetEnabled(enabled bool) {
	f.mu.Lock()
	f.enabled = enabled
	f.mu.Unlock()
}

func (f *fakeTrack) Enabled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled
}

func (f *fakeTrack) Stop() {
	f.mu.Lock()
	f.stops++
	f.mu.Unlock()
}

func (f *fakeTrack) stopCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stops
}

type fakePeer struct {
	mu     sync.Mutex
	closes int
}

func (f *fakePeer) Close() error {
	f.mu.Lock()
	f.closes++
	f.mu.Unlock()
	return nil
}

func (f *fakePeer) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

// recorder collects every callback the session fires.
type recorder struct {
	mu         sync.Mutex
	connStates []ConnectionState
	voice      []VoiceActivity
	transcript []string
	responses  []string
	errors     []string
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnConnectionStateChange: func(s ConnectionState) {
			r.mu.Lock()
			r.connStates = append(r.connStates, s)
			r.mu.Unlock()
		},
		OnVoiceActivityChange: func(v VoiceActivity) {
			r.mu.Lock()
			r.voice = append(r.voice, v)
			r.mu.Unlock()
		},
		OnTranscript: func(text string, isFinal bool) {
			r.mu.Lock()
			r.transcript = append(r.transcript, text)
			r.mu.Unlock()
		},
		OnAssistantResponse: func(delta string) {
			r.mu.Lock()
			r.responses = append(r.responses, delta)
			r.mu.Unlock()
		},
		OnError: func(msg string) {
			r.mu.Lock()
			r.errors = append(r.errors, msg)
			r.mu.Unlock()
		},
	}
}

type testFixture struct {
	session *Session
	channel *fakeChannel
	track   *fakeTrack
	peer    *fakePeer
	capture *audio.MockSource
	rec     *recorder
}

func newTestSession(t *testing.T) *testFixture {
	t.Helper()

	cfg := audio.DefaultConfig()
	cfg.Backend = audio.BackendMock
	capture := audio.NewMockSource(cfg, nil)
	if err := capture.Start(context.Background()); err != nil {
		t.Fatalf("start capture: %v", err)
	}

	rec := &recorder{}
	s := newSession(rec.callbacks(), audio.NewRoute(nil), protocol.DefaultSessionConfig("", ""), nil)

	ch := &fakeChannel{open: true}
	s.bindChannel(ch)

	track := &fakeTrack{enabled: true}
	peer := &fakePeer{}

	s.mu.Lock()
	s.capture = capture
	s.tracks = []micTrack{track}
	s.pc = peer
	s.mu.Unlock()
	s.route.EngageSpeaker()

	t.Cleanup(func() { s.Close() })

	return &testFixture{session: s, channel: ch, track: track, peer: peer, capture: capture, rec: rec}
}

func TestVoiceActivityMachine(t *testing.T) {
	t.Run("speech start then stop", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"input_audio_buffer.speech_started"}`)
		f.channel.deliver(`{"type":"input_audio_buffer.speech_stopped"}`)

		want := []VoiceActivity{VoiceListening, VoiceProcessing}
		if len(f.rec.voice) != len(want) {
			t.Fatalf("transitions = %v, want %v", f.rec.voice, want)
		}
		for i := range want {
			if f.rec.voice[i] != want[i] {
				t.Errorf("transition %d = %v, want %v", i, f.rec.voice[i], want[i])
			}
		}
	})

	t.Run("audio delta is idempotent", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"response.audio.delta","delta":"AAAA"}`)
		f.channel.deliver(`{"type":"response.audio.delta","delta":"BBBB"}`)
		f.channel.deliver(`{"type":"response.audio.delta","delta":"CCCC"}`)

		if got := f.session.VoiceActivity(); got != VoiceSpeaking {
			t.Errorf("activity = %v, want speaking", got)
		}
		if len(f.rec.voice) != 1 {
			t.Errorf("transitions = %v, want one Speaking entry", f.rec.voice)
		}
	})

	t.Run("response done returns to idle", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"response.audio.delta","delta":"AAAA"}`)
		f.channel.deliver(`{"type":"response.done"}`)

		if got := f.session.VoiceActivity(); got != VoiceIdle {
			t.Errorf("activity = %v, want idle", got)
		}
	})
}

func TestInboundEventReactions(t *testing.T) {
	t.Run("transcription completed", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"conversation.item.input_audio_transcription.completed","transcript":"book a table"}`)

		if len(f.rec.transcript) != 1 || f.rec.transcript[0] != "book a table" {
			t.Errorf("transcripts = %v", f.rec.transcript)
		}
	})

	t.Run("assistant text delta", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"response.audio_transcript.delta","delta":"Sure, "}`)
		f.channel.deliver(`{"type":"response.audio_transcript.delta","delta":"booking now."}`)

		if len(f.rec.responses) != 2 {
			t.Fatalf("responses = %v", f.rec.responses)
		}
	})

	t.Run("server error does not touch connection state", func(t *testing.T) {
		f := newTestSession(t)
		before := f.session.ConnectionState()

		f.channel.deliver(`{"type":"error","error":{"message":"rate limited"}}`)

		if len(f.rec.errors) != 1 {
			t.Fatalf("errors = %v, want exactly one", f.rec.errors)
		}
		if got := f.session.ConnectionState(); got != before {
			t.Errorf("connection state changed to %v", got)
		}
	})

	t.Run("session ack is informational", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"session.created"}`)
		f.channel.deliver(`{"type":"session.updated"}`)

		if len(f.rec.voice) != 0 || len(f.rec.connStates) != 0 || len(f.rec.errors) != 0 {
			t.Error("session acks should not fire callbacks")
		}
	})

	t.Run("malformed payload is swallowed", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`this is not json`)
		f.channel.deliver(`{"delta":"missing type"}`)

		if len(f.rec.voice) != 0 || len(f.rec.errors) != 0 {
			t.Error("malformed payloads must not fire callbacks")
		}
		if got := f.session.VoiceActivity(); got != VoiceIdle {
			t.Errorf("activity = %v, want idle", got)
		}
		if got := f.session.ConnectionState(); got != StateDisconnected {
			t.Errorf("connection state = %v, want disconnected", got)
		}
	})

	t.Run("unrecognized type is ignored", func(t *testing.T) {
		f := newTestSession(t)

		f.channel.deliver(`{"type":"rate_limits.updated"}`)

		if len(f.rec.voice) != 0 || len(f.rec.errors) != 0 {
			t.Error("unknown types must never fault the session")
		}
	})
}

func TestChannelOpenSendsConfiguration(t *testing.T) {
	f := newTestSession(t)
	f.channel.fireOpen()

	types := f.channel.sentTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeSessionUpdate {
		t.Fatalf("sent = %v, want one session.update", types)
	}

	var msg struct {
		Session protocol.SessionConfig `json:"session"`
	}
	if err := json.Unmarshal(f.channel.sent[0], &msg); err != nil {
		t.Fatalf("config message: %v", err)
	}
	if msg.Session.Instructions != protocol.DefaultInstructions {
		t.Error("expected default persona instructions")
	}
	if msg.Session.TurnDetection == nil || msg.Session.TurnDetection.Type != protocol.DefaultTurnDetectionType {
		t.Error("expected server VAD turn detection")
	}
}

func TestSendTextMessage(t *testing.T) {
	t.Run("sends item then response request", func(t *testing.T) {
		f := newTestSession(t)

		if err := f.session.SendTextMessage("hello"); err != nil {
			t.Fatalf("send failed: %v", err)
		}

		types := f.channel.sentTypes(t)
		want := []string{protocol.TypeConversationItemCreate, protocol.TypeResponseCreate}
		if len(types) != 2 || types[0] != want[0] || types[1] != want[1] {
			t.Errorf("sent = %v, want %v", types, want)
		}
	})

	t.Run("channel not open", func(t *testing.T) {
		f := newTestSession(t)
		f.channel.mu.Lock()
		f.channel.open = false
		f.channel.mu.Unlock()

		if err := f.session.SendTextMessage("hello"); err != transport.ErrChannelClosed {
			t.Errorf("err = %v, want ErrChannelClosed", err)
		}
		if len(f.channel.sentTypes(t)) != 0 {
			t.Error("no write should happen on a closed channel")
		}
	})
}

func TestInterruptResponse(t *testing.T) {
	f := newTestSession(t)

	if err := f.session.InterruptResponse(); err != nil {
		t.Fatalf("interrupt failed: %v", err)
	}

	types := f.channel.sentTypes(t)
	if len(types) != 1 || types[0] != protocol.TypeResponseCancel {
		t.Errorf("sent = %v, want one response.cancel", types)
	}
	if got := f.session.VoiceActivity(); got != VoiceIdle {
		t.Errorf("interrupt must not alter voice activity, got %v", got)
	}
}

func TestSetMicrophoneMuted(t *testing.T) {
	f := newTestSession(t)

	f.session.SetMicrophoneMuted(true)
	if f.track.Enabled() {
		t.Error("track should be disabled while muted")
	}
	if !f.session.MicrophoneMuted() {
		t.Error("session should report muted")
	}

	f.session.SetMicrophoneMuted(false)
	if !f.track.Enabled() {
		t.Error("track should be re-enabled")
	}

	// Neither call may touch the channel or the transport.
	if len(f.channel.sentTypes(t)) != 0 {
		t.Error("mute wrote to the event channel")
	}
	if f.peer.closeCount() != 0 || f.channel.closes != 0 {
		t.Error("mute touched the transport")
	}
}

func TestClose(t *testing.T) {
	t.Run("releases everything once", func(t *testing.T) {
		f := newTestSession(t)

		if err := f.session.Close(); err != nil {
			t.Fatalf("close failed: %v", err)
		}

		if f.capture.Running() {
			t.Error("capture still running after close")
		}
		if !f.capture.Closed() {
			t.Error("capture not released")
		}
		if f.channel.closes != 1 {
			t.Errorf("channel closes = %d, want 1", f.channel.closes)
		}
		if f.peer.closeCount() != 1 {
			t.Errorf("peer closes = %d, want 1", f.peer.closeCount())
		}
		if f.track.stopCount() != 1 {
			t.Errorf("track stops = %d, want 1", f.track.stopCount())
		}
		if f.session.route.Engaged() {
			t.Error("audio routing not restored")
		}
		if got := f.session.ConnectionState(); got != StateDisconnected {
			t.Errorf("state = %v, want disconnected", got)
		}
	})

	t.Run("idempotent", func(t *testing.T) {
		f := newTestSession(t)

		if err := f.session.Close(); err != nil {
			t.Fatalf("first close: %v", err)
		}
		if err := f.session.Close(); err != nil {
			t.Fatalf("second close: %v", err)
		}

		if f.channel.closes != 1 || f.peer.closeCount() != 1 || f.track.stopCount() != 1 {
			t.Error("second close repeated teardown side effects")
		}
	})

	t.Run("no callbacks after close", func(t *testing.T) {
		f := newTestSession(t)
		f.session.Close()

		before := len(f.rec.voice) + len(f.rec.errors) + len(f.rec.transcript)

		f.channel.deliver(`{"type":"input_audio_buffer.speech_started"}`)
		f.channel.deliver(`{"type":"error","error":{"message":"late"}}`)
		f.session.handlePeerState(webrtc.PeerConnectionStateFailed)

		after := len(f.rec.voice) + len(f.rec.errors) + len(f.rec.transcript)
		if after != before {
			t.Error("callbacks fired after close completed")
		}
	})
}

func TestTransportFailureIsSticky(t *testing.T) {
	f := newTestSession(t)

	f.session.handlePeerState(webrtc.PeerConnectionStateConnecting)
	f.session.handlePeerState(webrtc.PeerConnectionStateConnected)
	f.session.handlePeerState(webrtc.PeerConnectionStateFailed)
	// A second failure report must not duplicate the callback.
	f.session.handlePeerState(webrtc.PeerConnectionStateDisconnected)

	want := []ConnectionState{StateConnected, StateError}
	if len(f.rec.connStates) != len(want) {
		t.Fatalf("states = %v, want %v", f.rec.connStates, want)
	}
	for i := range want {
		if f.rec.connStates[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, f.rec.connStates[i], want[i])
		}
	}
	if len(f.rec.errors) != 1 {
		t.Fatalf("errors = %v, want exactly one", f.rec.errors)
	}

	// No auto-close: the microphone stays allocated until an explicit
	// Close decides the retry question.
	if !f.capture.Running() {
		t.Error("capture was released on transport failure")
	}
	if f.peer.closeCount() != 0 {
		t.Error("peer connection was closed on transport failure")
	}
	if got := f.session.ConnectionState(); got != StateError {
		t.Errorf("state = %v, want sticky error", got)
	}
}

func TestRemoteStatsAccumulate(t *testing.T) {
	f := newTestSession(t)

	// Simulate drained RTP without a live track.
	for i := 0; i < 3; i++ {
		f.session.observeRTP(&rtp.Packet{Payload: make([]byte, 100)})
	}

	stats := f.session.RemoteTrackStats()
	if stats.Packets != 3 || stats.Bytes != 300 {
		t.Errorf("stats = %+v", stats)
	}
}
