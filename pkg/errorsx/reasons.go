package errorsx

// ReasonCode is a short machine-readable error reason.
type ReasonCode string

const (
	ReasonUnknown ReasonCode = "unknown"

	ReasonPermissionDenied ReasonCode = "permission_denied"
	ReasonAudioRead        ReasonCode = "audio_read"

	ReasonASRConnect  ReasonCode = "asr_connect"
	ReasonASRSend     ReasonCode = "asr_send"
	ReasonASRProtocol ReasonCode = "asr_protocol"

	ReasonUnexpectedClose    ReasonCode = "unexpected_close"
	ReasonReconnectExhausted ReasonCode = "reconnect_exhausted"

	ReasonSaveFailed ReasonCode = "save_failed"

	ReasonSessionStopped ReasonCode = "session_stopped"
)
