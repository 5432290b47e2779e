package transport

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicelink/voicelink/internal/log"
)

const (
	wsHandshakeTimeout = 10 * time.Second
	wsWriteTimeout     = 10 * time.Second
	wsReadTimeout      = 120 * time.Second
	wsPingPeriod       = 30 * time.Second
)

// WebSocketChannel is the WebSocket rendition of the event channel, for
// hosts that talk to the endpoint's WebSocket transport instead of
// negotiating media over WebRTC.
type WebSocketChannel struct {
	ws *websocket.Conn

	writeMu sync.Mutex

	mu        sync.Mutex
	onClose   func()
	onMessage func([]byte)
	open      bool
	closed    bool

	stopPing chan struct{}
}

// DialWebSocket connects to url with the bearer credential and starts the
// receive and keepalive loops. Unlike the data channel, the channel is open
// as soon as the dial succeeds, so OnOpen handlers fire immediately on
// registration.
func DialWebSocket(ctx context.Context, url, apiKey string) (*WebSocketChannel, error) {
	header := http.Header{}
	header.Set("Authorization", "Bearer "+apiKey)
	header.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{HandshakeTimeout: wsHandshakeTimeout}
	ws, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("transport: websocket dial: %w", err)
	}

	c := &WebSocketChannel{
		ws:       ws,
		open:     true,
		stopPing: make(chan struct{}),
	}

	ws.SetPingHandler(func(appData string) error {
		c.writeMu.Lock()
		defer c.writeMu.Unlock()
		return ws.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(wsWriteTimeout))
	})

	go c.readPump()
	go c.keepAlive()

	return c, nil
}

// Send writes one text message.
func (c *WebSocketChannel) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

// IsOpen reports whether the connection is usable.
func (c *WebSocketChannel) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open && !c.closed
}

// OnOpen registers the open handler. The websocket is already open once
// dialed, so the handler is invoked right away.
func (c *WebSocketChannel) OnOpen(fn func()) {
	if fn != nil && c.IsOpen() {
		fn()
	}
}

// OnClose registers the close handler.
func (c *WebSocketChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// OnMessage registers the inbound message handler.
func (c *WebSocketChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Close shuts the connection down. Idempotent.
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.open = false
	close(c.stopPing)
	c.mu.Unlock()
	return c.ws.Close()
}

func (c *WebSocketChannel) readPump() {
	defer c.markClosed()

	for {
		c.ws.SetReadDeadline(time.Now().Add(wsReadTimeout))
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if c.IsOpen() {
				log.Debug("websocket read ended", "err", err)
			}
			return
		}

		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(data)
		}
	}
}

func (c *WebSocketChannel) keepAlive() {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopPing:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *WebSocketChannel) markClosed() {
	c.mu.Lock()
	wasOpen := c.open && !c.closed
	c.open = false
	fn := c.onClose
	c.mu.Unlock()
	if wasOpen && fn != nil {
		fn()
	}
}
