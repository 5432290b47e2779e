package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// SessionConfig is the payload of a session.update message.
type SessionConfig struct {
	Modalities              []string       `json:"modalities"`
	Voice                   string         `json:"voice"`
	InputAudioFormat        string         `json:"input_audio_format"`
	OutputAudioFormat       string         `json:"output_audio_format"`
	InputAudioTranscription *Transcription `json:"input_audio_transcription,omitempty"`
	TurnDetection           *TurnDetection `json:"turn_detection,omitempty"`
	Instructions            string         `json:"instructions"`
}

// Transcription selects the automatic transcription sub-model.
type Transcription struct {
	Model string `json:"model"`
}

// TurnDetection configures the server-side voice activity detector.
type TurnDetection struct {
	Type              string  `json:"type"`
	Threshold         float64 `json:"threshold"`
	PrefixPaddingMS   int     `json:"prefix_padding_ms"`
	SilenceDurationMS int     `json:"silence_duration_ms"`
}

// ConversationItem is a synthetic conversation entry injected by the client.
type ConversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role"`
	Content []ItemContent `json:"content"`
}

// ItemContent is one content part of a conversation item.
type ItemContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// clientEvent is the envelope for all outbound messages.
type clientEvent struct {
	EventID string            `json:"event_id,omitempty"`
	Type    string            `json:"type"`
	Session *SessionConfig    `json:"session,omitempty"`
	Item    *ConversationItem `json:"item,omitempty"`
}

// DefaultSessionConfig returns a SessionConfig with the standard audio formats,
// transcription model, and VAD tuning. Instructions fall back to the default
// persona when empty.
func DefaultSessionConfig(voice, instructions string) SessionConfig {
	if voice == "" {
		voice = DefaultVoice
	}
	if instructions == "" {
		instructions = DefaultInstructions
	}
	return SessionConfig{
		Modalities:        []string{"text", "audio"},
		Voice:             voice,
		InputAudioFormat:  "pcm16",
		OutputAudioFormat: "pcm16",
		InputAudioTranscription: &Transcription{
			Model: DefaultTranscriptionModel,
		},
		TurnDetection: &TurnDetection{
			Type:              DefaultTurnDetectionType,
			Threshold:         0.5,
			PrefixPaddingMS:   300,
			SilenceDurationMS: 500,
		},
		Instructions: instructions,
	}
}

// MarshalSessionUpdate encodes the session configuration message sent on
// channel open.
func MarshalSessionUpdate(cfg SessionConfig) ([]byte, error) {
	return marshalEvent(clientEvent{
		Type:    TypeSessionUpdate,
		Session: &cfg,
	})
}

// MarshalUserText encodes a conversation.item.create message carrying a
// synthetic user turn. A response.create must follow for the server to react.
func MarshalUserText(text string) ([]byte, error) {
	return marshalEvent(clientEvent{
		Type: TypeConversationItemCreate,
		Item: &ConversationItem{
			Type: "message",
			Role: "user",
			Content: []ItemContent{
				{Type: "input_text", Text: text},
			},
		},
	})
}

// MarshalResponseCreate encodes the response-request message.
func MarshalResponseCreate() ([]byte, error) {
	return marshalEvent(clientEvent{Type: TypeResponseCreate})
}

// MarshalResponseCancel encodes the barge-in cancel message.
func MarshalResponseCancel() ([]byte, error) {
	return marshalEvent(clientEvent{Type: TypeResponseCancel})
}

func marshalEvent(ev clientEvent) ([]byte, error) {
	ev.EventID = uuid.NewString()
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("protocol: marshal %s: %w", ev.Type, err)
	}
	return data, nil
}
