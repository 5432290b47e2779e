package session

// ConnectionState tracks transport-level connectivity.
type ConnectionState int

const (
	// StateDisconnected is the initial state, and the terminal state
	// reached through an explicit Close.
	StateDisconnected ConnectionState = iota
	// StateConnecting is entered when Start begins negotiating.
	StateConnecting
	// StateConnected is entered when the transport reports connected.
	StateConnected
	// StateError is sticky: recovery requires a fresh Start.
	StateError
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// VoiceActivity tracks conversational turn-taking. It is driven entirely by
// inbound protocol events; there is no local timer fallback.
type VoiceActivity int

const (
	// VoiceIdle is the initial and resting state between turns.
	VoiceIdle VoiceActivity = iota
	// VoiceListening means the remote VAD detected user speech.
	VoiceListening
	// VoiceProcessing means user speech ended and a response is pending.
	VoiceProcessing
	// VoiceSpeaking means assistant audio is streaming.
	VoiceSpeaking
)

func (v VoiceActivity) String() string {
	switch v {
	case VoiceIdle:
		return "idle"
	case VoiceListening:
		return "listening"
	case VoiceProcessing:
		return "processing"
	case VoiceSpeaking:
		return "speaking"
	default:
		return "unknown"
	}
}
