package session

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink/voicelink/pkg/audio"
)

func testManagerConfig() Config {
	return Config{
		APIKey:      "sk-test",
		STUNServers: []string{},
		Audio:       audio.Config{Backend: audio.BackendMock, SampleRate: 48000, Channels: 1, FrameDuration: audio.DefaultConfig().FrameDuration},
	}
}

// stubDial wires the fakes into the session the way negotiate would.
func stubDial(ch *fakeChannel, track *fakeTrack, peer *fakePeer) func(context.Context, *Session) error {
	return func(ctx context.Context, s *Session) error {
		cfg := audio.DefaultConfig()
		cfg.Backend = audio.BackendMock
		capture := audio.NewMockSource(cfg, nil)
		if err := capture.Start(ctx); err != nil {
			return err
		}
		s.mu.Lock()
		s.capture = capture
		s.tracks = []micTrack{track}
		s.pc = peer
		s.mu.Unlock()
		s.bindChannel(ch)
		s.route.EngageSpeaker()
		return nil
	}
}

func TestManagerStartPreconditions(t *testing.T) {
	t.Run("missing credential", func(t *testing.T) {
		cfg := testManagerConfig()
		cfg.APIKey = ""
		m := NewManager(cfg, nil)
		rec := &recorder{}

		_, err := m.Start(context.Background(), rec.callbacks(), "")
		if !errors.Is(err, ErrMissingAPIKey) {
			t.Fatalf("err = %v, want ErrMissingAPIKey", err)
		}
		if len(rec.errors) != 1 {
			t.Errorf("errors = %v, want exactly one", rec.errors)
		}
		if m.Current() != nil {
			t.Error("no session should be registered")
		}
	})

	t.Run("offline", func(t *testing.T) {
		cfg := testManagerConfig()
		cfg.Online = func() bool { return false }
		m := NewManager(cfg, nil)
		rec := &recorder{}

		_, err := m.Start(context.Background(), rec.callbacks(), "")
		if !errors.Is(err, ErrOffline) {
			t.Fatalf("err = %v, want ErrOffline", err)
		}
		if len(rec.errors) != 1 {
			t.Errorf("errors = %v, want exactly one", rec.errors)
		}
	})
}

func TestManagerStartSuccess(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ch := &fakeChannel{}
	m.dial = stubDial(ch, &fakeTrack{enabled: true}, &fakePeer{})
	rec := &recorder{}

	s, err := m.Start(context.Background(), rec.callbacks(), "be helpful")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if m.Current() != s {
		t.Error("session not registered in the slot")
	}
	if len(rec.connStates) != 1 || rec.connStates[0] != StateConnecting {
		t.Errorf("states = %v, want [Connecting]", rec.connStates)
	}
	if s.sessionCfg.Instructions != "be helpful" {
		t.Errorf("instructions = %q", s.sessionCfg.Instructions)
	}
}

func TestManagerVADOverrides(t *testing.T) {
	cfg := testManagerConfig()
	cfg.VADThreshold = 0.7
	m := NewManager(cfg, nil)
	m.dial = stubDial(&fakeChannel{}, &fakeTrack{enabled: true}, &fakePeer{})

	s, err := m.Start(context.Background(), Callbacks{}, "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if s.sessionCfg.TurnDetection.Threshold != 0.7 {
		t.Errorf("threshold = %v", s.sessionCfg.TurnDetection.Threshold)
	}
}

func TestManagerSupersede(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	firstCh := &fakeChannel{open: true}
	firstPeer := &fakePeer{}
	m.dial = stubDial(firstCh, &fakeTrack{enabled: true}, firstPeer)

	first, err := m.Start(context.Background(), Callbacks{}, "")
	if err != nil {
		t.Fatalf("first start: %v", err)
	}

	secondCh := &fakeChannel{open: true}
	m.dial = stubDial(secondCh, &fakeTrack{enabled: true}, &fakePeer{})

	second, err := m.Start(context.Background(), Callbacks{}, "")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	defer second.Close()

	if first.ConnectionState() != StateDisconnected {
		t.Error("superseded session should be fully closed")
	}
	if firstCh.closes != 1 || firstPeer.closeCount() != 1 {
		t.Error("superseded session resources not released")
	}
	if m.Current() != second {
		t.Error("slot should hold the new session")
	}
}

func TestManagerStartFailureReleasesResources(t *testing.T) {
	m := NewManager(testManagerConfig(), nil)
	ch := &fakeChannel{open: true}
	track := &fakeTrack{enabled: true}
	peer := &fakePeer{}
	dialErr := &NegotiationError{Step: "signaling", Status: 401, Body: "invalid key"}
	m.dial = func(ctx context.Context, s *Session) error {
		// Acquire everything, then fail at the last step.
		if err := stubDial(ch, track, peer)(ctx, s); err != nil {
			return err
		}
		return dialErr
	}
	rec := &recorder{}

	_, err := m.Start(context.Background(), rec.callbacks(), "")
	var negErr *NegotiationError
	if !errors.As(err, &negErr) || negErr.Status != 401 {
		t.Fatalf("err = %v, want the 401 negotiation error", err)
	}

	if len(rec.errors) != 1 {
		t.Errorf("errors = %v, want exactly one", rec.errors)
	}
	if ch.closes != 1 || peer.closeCount() != 1 || track.stopCount() != 1 {
		t.Error("acquired resources not released on failure")
	}
	if m.Current() != nil {
		t.Error("failed session must not occupy the slot")
	}

	// Exactly one Error transition, never a Disconnected after it.
	want := []ConnectionState{StateConnecting, StateError}
	if len(rec.connStates) != len(want) {
		t.Fatalf("states = %v, want %v", rec.connStates, want)
	}
	for i := range want {
		if rec.connStates[i] != want[i] {
			t.Errorf("state %d = %v, want %v", i, rec.connStates[i], want[i])
		}
	}
}

func TestManagerClose(t *testing.T) {
	t.Run("with no session", func(t *testing.T) {
		m := NewManager(testManagerConfig(), nil)
		if err := m.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	})

	t.Run("releases the active session", func(t *testing.T) {
		m := NewManager(testManagerConfig(), nil)
		ch := &fakeChannel{open: true}
		m.dial = stubDial(ch, &fakeTrack{enabled: true}, &fakePeer{})

		s, err := m.Start(context.Background(), Callbacks{}, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		if err := m.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
		if m.Current() != nil {
			t.Error("slot should be empty")
		}
		if s.ConnectionState() != StateDisconnected {
			t.Error("session should be closed")
		}
	})

	t.Run("session close clears the slot", func(t *testing.T) {
		m := NewManager(testManagerConfig(), nil)
		m.dial = stubDial(&fakeChannel{open: true}, &fakeTrack{enabled: true}, &fakePeer{})

		s, err := m.Start(context.Background(), Callbacks{}, "")
		if err != nil {
			t.Fatalf("start: %v", err)
		}
		s.Close()
		if m.Current() != nil {
			t.Error("closed session still occupies the slot")
		}
	})
}

func TestPostOffer(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		var gotAuth, gotContentType, gotModel string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			gotContentType = r.Header.Get("Content-Type")
			gotModel = r.URL.Query().Get("model")
			w.Write([]byte("v=0 answer"))
		}))
		defer srv.Close()

		cfg := testManagerConfig()
		cfg.Endpoint = srv.URL
		cfg.Model = "gpt-4o-realtime-preview-2024-12-17"
		m := NewManager(cfg, nil)

		answer, err := m.postOffer(context.Background(), "v=0 offer")
		if err != nil {
			t.Fatalf("postOffer: %v", err)
		}
		if answer != "v=0 answer" {
			t.Errorf("answer = %q", answer)
		}
		if gotAuth != "Bearer sk-test" {
			t.Errorf("authorization = %q", gotAuth)
		}
		if gotContentType != "application/sdp" {
			t.Errorf("content type = %q", gotContentType)
		}
		if gotModel != "gpt-4o-realtime-preview-2024-12-17" {
			t.Errorf("model = %q", gotModel)
		}
	})

	t.Run("non-200 carries status and body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid api key", http.StatusUnauthorized)
		}))
		defer srv.Close()

		cfg := testManagerConfig()
		cfg.Endpoint = srv.URL
		m := NewManager(cfg, nil)

		_, err := m.postOffer(context.Background(), "v=0 offer")
		var negErr *NegotiationError
		if !errors.As(err, &negErr) {
			t.Fatalf("err = %v, want NegotiationError", err)
		}
		if negErr.Status != http.StatusUnauthorized {
			t.Errorf("status = %d", negErr.Status)
		}
		if negErr.Body != "invalid api key" {
			t.Errorf("body = %q", negErr.Body)
		}
	})
}

// answerOffer builds an HTTP handler that answers SDP offers from a second
// in-process peer connection, standing in for the remote endpoint.
func answerOffer(t *testing.T) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		offerSDP, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		t.Cleanup(func() { pc.Close() })

		offer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: string(offerSDP)}
		if err := pc.SetRemoteDescription(offer); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		answer, err := pc.CreateAnswer(nil)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		gathered := webrtc.GatheringCompletePromise(pc)
		if err := pc.SetLocalDescription(answer); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		<-gathered
		w.Write([]byte(pc.LocalDescription().SDP))
	}
}

// TestNegotiateLoopback drives the real handshake path against a local SDP
// responder, with mock audio and no discovery relay. The responder builds
// its answer from a second in-process peer connection.
func TestNegotiateLoopback(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping peer connection loopback in short mode")
	}

	srv := httptest.NewServer(http.HandlerFunc(answerOffer(t)))
	defer srv.Close()

	cfg := testManagerConfig()
	cfg.Endpoint = srv.URL
	cfg.Model = "test-model"
	m := NewManager(cfg, nil)
	rec := &recorder{}

	s, err := m.Start(context.Background(), rec.callbacks(), "")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer s.Close()

	if s.ConnectionState() == StateError {
		t.Fatal("negotiation reported an error state")
	}
}
