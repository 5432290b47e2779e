package transport

import (
	"sync"

	"github.com/pion/webrtc/v3"

	"github.com/voicelink/voicelink/internal/log"
)

// DataChannel adapts a pion data channel to the EventChannel interface.
// It is created before the SDP offer is generated so its open/close
// lifecycle is observable independently of ICE state.
type DataChannel struct {
	dc *webrtc.DataChannel

	mu        sync.Mutex
	onOpen    func()
	onClose   func()
	onMessage func([]byte)
	closed    bool
}

// NewDataChannel wraps dc. The underlying handlers are bound immediately;
// callbacks registered later still see every event because the channel
// cannot open before negotiation completes.
func NewDataChannel(dc *webrtc.DataChannel) *DataChannel {
	c := &DataChannel{dc: dc}

	dc.OnOpen(func() {
		log.Debug("data channel open", "label", dc.Label())
		c.mu.Lock()
		fn := c.onOpen
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	dc.OnClose(func() {
		log.Debug("data channel closed", "label", dc.Label())
		c.mu.Lock()
		fn := c.onClose
		c.mu.Unlock()
		if fn != nil {
			fn()
		}
	})

	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		c.mu.Lock()
		fn := c.onMessage
		c.mu.Unlock()
		if fn != nil {
			fn(msg.Data)
		}
	})

	return c
}

// Send writes one text message over the data channel.
func (c *DataChannel) Send(data []byte) error {
	if !c.IsOpen() {
		return ErrChannelClosed
	}
	return c.dc.SendText(string(data))
}

// IsOpen reports whether the underlying data channel is open.
func (c *DataChannel) IsOpen() bool {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	return !closed && c.dc.ReadyState() == webrtc.DataChannelStateOpen
}

// OnOpen registers the open handler.
func (c *DataChannel) OnOpen(fn func()) {
	c.mu.Lock()
	c.onOpen = fn
	c.mu.Unlock()
}

// OnClose registers the close handler.
func (c *DataChannel) OnClose(fn func()) {
	c.mu.Lock()
	c.onClose = fn
	c.mu.Unlock()
}

// OnMessage registers the inbound message handler.
func (c *DataChannel) OnMessage(fn func(data []byte)) {
	c.mu.Lock()
	c.onMessage = fn
	c.mu.Unlock()
}

// Close closes the data channel. Idempotent.
func (c *DataChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	return c.dc.Close()
}
