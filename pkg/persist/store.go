package persist

import "context"

// EncounterStore is the durable home of an encounter's transcript. The
// gateway treats it as opaque; it only promises that a successful
// SaveTranscript makes the text readable by the rest of the system.
type EncounterStore interface {
	SaveTranscript(ctx context.Context, encounterID, text string) error
}
