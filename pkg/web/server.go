// Package web provides a real-time dashboard and control surface for a
// voice session.
package web

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/voicelink/voicelink/pkg/hub"
	"github.com/voicelink/voicelink/pkg/session"
)

// State is the dashboard's view of the voice session.
type State struct {
	Connection    string `json:"connection"`
	VoiceActivity string `json:"voice_activity"`
	Muted         bool   `json:"muted"`
	SessionID     string `json:"session_id,omitempty"`
	LastError     string `json:"last_error,omitempty"`
}

// ConversationEntry represents a message in the conversation
type ConversationEntry struct {
	Time    string `json:"time"`
	Role    string `json:"role"` // user, assistant
	Message string `json:"message"`
}

// Server is the web dashboard server.
type Server struct {
	app    *fiber.App
	port   string
	logger *slog.Logger
	mgr    *session.Manager

	stateMu sync.RWMutex
	state   State

	// Conversation buffer plus the assistant text being streamed.
	conversationMu sync.RWMutex
	conversation   []ConversationEntry
	assistantBuf   strings.Builder

	statusHub *hub.Hub
	convHub   *hub.Hub
}

// NewServer creates a new web dashboard server.
func NewServer(port string, mgr *session.Manager, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		port:         port,
		logger:       logger.With("component", "web"),
		mgr:          mgr,
		state:        State{Connection: session.StateDisconnected.String(), VoiceActivity: session.VoiceIdle.String()},
		conversation: make([]ConversationEntry, 0, 100),
		statusHub:    hub.New("status", logger),
		convHub:      hub.New("conversation", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Voicelink Dashboard",
		DisableStartupMessage: true,
	})

	// CORS for local development
	app.Use(cors.New())

	app.Get("/healthz", s.handleHealth)

	api := app.Group("/api")
	api.Get("/state", s.handleState)
	api.Get("/conversation", s.handleGetConversation)
	api.Post("/start", s.handleStart)
	api.Post("/say", s.handleSay)
	api.Post("/interrupt", s.handleInterrupt)
	api.Post("/mute", s.handleMute)
	api.Post("/close", s.handleClose)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/status", websocket.New(s.handleStatusWS))
	app.Get("/ws/conversation", websocket.New(s.handleConversationWS))

	s.app = app
	return s
}

// Start starts the web server and its broadcast hubs.
func (s *Server) Start() error {
	s.logger.Info("dashboard listening", "addr", "http://localhost:"+s.port)

	go s.statusHub.Run()
	go s.convHub.Run()

	return s.app.Listen(":" + s.port)
}

// StartAsync starts the web server in a goroutine.
func (s *Server) StartAsync() {
	go func() {
		if err := s.Start(); err != nil {
			s.logger.Error("web server", "err", err)
		}
	}()
}

// Callbacks returns the session callback set that keeps the dashboard
// state current. Pass it to Manager.Start.
func (s *Server) Callbacks() session.Callbacks {
	return session.Callbacks{
		OnConnectionStateChange: func(state session.ConnectionState) {
			s.updateState(func(st *State) { st.Connection = state.String() })
		},
		OnVoiceActivityChange: func(v session.VoiceActivity) {
			if v == session.VoiceIdle {
				s.flushAssistant()
			}
			s.updateState(func(st *State) { st.VoiceActivity = v.String() })
		},
		OnTranscript: func(text string, isFinal bool) {
			if isFinal {
				s.addConversation("user", text)
			}
		},
		OnAssistantResponse: func(delta string) {
			s.conversationMu.Lock()
			s.assistantBuf.WriteString(delta)
			s.conversationMu.Unlock()
		},
		OnError: func(msg string) {
			s.updateState(func(st *State) { st.LastError = msg })
		},
	}
}

// updateState mutates the dashboard state and broadcasts the snapshot.
func (s *Server) updateState(update func(*State)) {
	s.stateMu.Lock()
	update(&s.state)
	s.refreshSessionLocked()
	state := s.state
	s.stateMu.Unlock()

	s.statusHub.BroadcastJSON(state)
}

// refreshSessionLocked pulls session identity and mute from the manager.
// Caller holds stateMu.
func (s *Server) refreshSessionLocked() {
	if cur := s.mgr.Current(); cur != nil {
		s.state.SessionID = cur.ID()
		s.state.Muted = cur.MicrophoneMuted()
	} else {
		s.state.SessionID = ""
		s.state.Muted = false
	}
}

// addConversation appends an entry and broadcasts it.
func (s *Server) addConversation(role, message string) {
	entry := ConversationEntry{
		Time:    time.Now().Format("15:04:05"),
		Role:    role,
		Message: message,
	}

	s.conversationMu.Lock()
	s.conversation = append(s.conversation, entry)
	if len(s.conversation) > 100 {
		s.conversation = s.conversation[1:]
	}
	s.conversationMu.Unlock()

	s.convHub.BroadcastJSON(entry)
}

// flushAssistant commits the streamed assistant text as one entry.
func (s *Server) flushAssistant() {
	s.conversationMu.Lock()
	text := s.assistantBuf.String()
	s.assistantBuf.Reset()
	s.conversationMu.Unlock()

	if text != "" {
		s.addConversation("assistant", text)
	}
}

// Shutdown gracefully stops the web server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
