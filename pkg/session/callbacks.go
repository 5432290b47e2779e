package session

// Callbacks is the caller-supplied event surface. All fields are optional;
// nil callbacks are skipped. The session never assumes callbacks outlive it
// and stops invoking them once Close completes.
type Callbacks struct {
	// OnConnectionStateChange fires on every transport state transition.
	OnConnectionStateChange func(state ConnectionState)

	// OnVoiceActivityChange fires on every turn-taking transition.
	OnVoiceActivityChange func(activity VoiceActivity)

	// OnTranscript delivers user speech transcripts. isFinal is true for
	// completed transcriptions.
	OnTranscript func(text string, isFinal bool)

	// OnAssistantResponse streams assistant text deltas (non-final).
	OnAssistantResponse func(delta string)

	// OnError delivers error text: one callback per negotiation failure,
	// transport failure, or server-reported error event.
	OnError func(message string)

	// OnAudioOutput is reserved. Assistant audio plays through
	// transport-level routing, so it is never invoked in the current
	// design.
	OnAudioOutput func(pcm []byte)
}
