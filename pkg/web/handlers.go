package web

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/voicelink/voicelink/pkg/hub"
)

// handleHealth answers liveness probes.
func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// handleState returns the current dashboard state.
func (s *Server) handleState(c *fiber.Ctx) error {
	s.stateMu.Lock()
	s.refreshSessionLocked()
	state := s.state
	s.stateMu.Unlock()
	return c.JSON(state)
}

// handleGetConversation returns recent conversation entries.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	s.conversationMu.RLock()
	defer s.conversationMu.RUnlock()
	return c.JSON(s.conversation)
}

// StartRequest is the request body for starting a session.
type StartRequest struct {
	SystemPrompt string `json:"system_prompt"`
}

// handleStart negotiates a new session, superseding any active one.
func (s *Server) handleStart(c *fiber.Ctx) error {
	var req StartRequest
	c.BodyParser(&req) // empty body means default prompt

	sess, err := s.mgr.Start(context.Background(), s.Callbacks(), req.SystemPrompt)
	if err != nil {
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"session_id": sess.ID()})
}

// SayRequest is the request body for injecting a text turn.
type SayRequest struct {
	Text string `json:"text"`
}

// handleSay injects a text message into the live conversation.
func (s *Server) handleSay(c *fiber.Ctx) error {
	var req SayRequest
	if err := c.BodyParser(&req); err != nil || req.Text == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "text is required"})
	}

	cur := s.mgr.Current()
	if cur == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no active session"})
	}
	if err := cur.SendTextMessage(req.Text); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}

	s.addConversation("user", req.Text)
	return c.JSON(fiber.Map{"sent": true})
}

// handleInterrupt cancels the in-flight assistant response.
func (s *Server) handleInterrupt(c *fiber.Ctx) error {
	cur := s.mgr.Current()
	if cur == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no active session"})
	}
	if err := cur.InterruptResponse(); err != nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"interrupted": true})
}

// MuteRequest is the request body for toggling the microphone.
type MuteRequest struct {
	Muted bool `json:"muted"`
}

// handleMute toggles microphone capture without touching the transport.
func (s *Server) handleMute(c *fiber.Ctx) error {
	var req MuteRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid body"})
	}

	cur := s.mgr.Current()
	if cur == nil {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "no active session"})
	}
	cur.SetMicrophoneMuted(req.Muted)

	s.updateState(func(st *State) {})
	return c.JSON(fiber.Map{"muted": req.Muted})
}

// handleClose tears down the active session.
func (s *Server) handleClose(c *fiber.Ctx) error {
	if err := s.mgr.Close(); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	s.updateState(func(st *State) {})
	return c.JSON(fiber.Map{"closed": true})
}

// handleStatusWS streams state snapshots to a dashboard client.
func (s *Server) handleStatusWS(c *websocket.Conn) {
	s.stateMu.RLock()
	state := s.state
	s.stateMu.RUnlock()
	c.WriteJSON(state)

	hub.NewClient(s.statusHub, c).Run()
}

// handleConversationWS streams conversation entries to a dashboard client.
func (s *Server) handleConversationWS(c *websocket.Conn) {
	s.conversationMu.RLock()
	for _, entry := range s.conversation {
		c.WriteJSON(entry)
	}
	s.conversationMu.RUnlock()

	hub.NewClient(s.convHub, c).Run()
}
