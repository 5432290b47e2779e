// Package protocol defines the JSON wire protocol spoken over the realtime
// event channel. Every message is a single JSON object carrying a mandatory
// "type" discriminator; everything else is type-specific payload.
package protocol

// Client → server message types.
const (
	TypeSessionUpdate          = "session.update"
	TypeConversationItemCreate = "conversation.item.create"
	TypeResponseCreate         = "response.create"
	TypeResponseCancel         = "response.cancel"
)

// Server → client message types.
const (
	TypeSessionCreated         = "session.created"
	TypeSessionUpdated         = "session.updated"
	TypeSpeechStarted          = "input_audio_buffer.speech_started"
	TypeSpeechStopped          = "input_audio_buffer.speech_stopped"
	TypeTranscriptionCompleted = "conversation.item.input_audio_transcription.completed"
	TypeResponseTextDelta      = "response.audio_transcript.delta"
	TypeResponseTextDone       = "response.audio_transcript.done"
	TypeResponseAudioDelta     = "response.audio.delta"
	TypeResponseAudioDone      = "response.audio.done"
	TypeResponseDone           = "response.done"
	TypeError                  = "error"
)

// Session configuration defaults.
const (
	DefaultTranscriptionModel = "whisper-1"
	DefaultTurnDetectionType  = "server_vad"
	DefaultVoice              = "alloy"

	// DefaultInstructions is the persona used when the caller supplies none.
	DefaultInstructions = "You are a friendly and helpful voice assistant. " +
		"Keep your answers short and conversational."
)
