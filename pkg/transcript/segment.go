package transcript

import (
	"fmt"
	"time"
)

// Segment is one committed, speaker-attributed run of final transcript text.
// Consecutive finals from the same speaker extend a segment rather than
// starting a new one.
type Segment struct {
	Speaker    int
	HasSpeaker bool
	Text       string
	StartPTS   int64
	UpdatedAt  time.Time
}

// Label renders the speaker marker, empty for unattributed segments.
func (s Segment) Label() string {
	if !s.HasSpeaker {
		return ""
	}
	return fmt.Sprintf("Speaker %d", s.Speaker)
}

func (s Segment) render() string {
	if !s.HasSpeaker {
		return s.Text
	}
	return s.Label() + ": " + s.Text
}
