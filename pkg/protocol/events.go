package protocol

import (
	"encoding/json"
	"fmt"
)

// ServerEvent is one inbound message from the remote endpoint. Only the
// fields relevant to the event's type are populated; unknown types are
// preserved so callers can apply their forward-compatibility policy.
type ServerEvent struct {
	Type    string `json:"type"`
	EventID string `json:"event_id,omitempty"`

	// Transcript is the final user transcript
	// (conversation.item.input_audio_transcription.completed).
	Transcript string `json:"transcript,omitempty"`

	// Delta is the streaming text or base64 audio payload of delta events.
	Delta string `json:"delta,omitempty"`

	// Error is populated on "error" events.
	Error *ServerError `json:"error,omitempty"`
}

// ServerError is the payload of a server-reported error event. It is
// non-fatal to the connection itself.
type ServerError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *ServerError) String() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("[%s] %s", e.Code, e.Message)
	}
	return e.Message
}

// ParseServerEvent decodes one inbound wire message. It returns an error for
// non-JSON payloads and for JSON lacking the type discriminator; callers log
// and drop such messages rather than faulting the channel.
func ParseServerEvent(data []byte) (*ServerEvent, error) {
	var ev ServerEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("protocol: parse event: %w", err)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("protocol: event missing type discriminator")
	}
	return &ev, nil
}
