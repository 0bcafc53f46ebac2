package frames

// Well-known meta keys attached to frames as they move through a session.
const (
	MetaSessionID   = "session_id"
	MetaEncounterID = "encounter_id"
	MetaTraceID     = "trace_id"
	MetaSource      = "source"
	MetaReason      = "reason"
	MetaIsFinal     = "is_final"
	MetaCloseCode   = "close_code"
	MetaCloseReason = "close_reason"
	MetaEncoding    = "encoding"
)
