package transcript

import (
	"strings"
	"sync"

	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

// Assembler folds recognition frames into the transcript. Final frames are
// committed to the buffer; interim frames only replace the live preview and
// never reach persisted text.
type Assembler struct {
	buf *Buffer

	mu      sync.Mutex
	interim string
}

func NewAssembler() *Assembler {
	return &Assembler{buf: NewBuffer()}
}

// Ingest consumes one transcript frame. It reports whether the frame was
// committed (true only for non-empty finals) and the committed length.
func (a *Assembler) Ingest(f frames.TranscriptFrame) (committed bool, chars int) {
	if !f.Final() {
		a.mu.Lock()
		a.interim = f.Text()
		a.mu.Unlock()
		return false, 0
	}
	speaker, hasSpeaker := f.Speaker()
	chars = a.buf.Commit(f.Text(), speaker, hasSpeaker, f.PTS())
	a.mu.Lock()
	a.interim = ""
	a.mu.Unlock()
	return chars > 0, chars
}

// Final returns the committed transcript only.
func (a *Assembler) Final() string {
	return a.buf.Render()
}

// Preview returns the committed transcript with the current interim text
// appended, for live display.
func (a *Assembler) Preview() string {
	a.mu.Lock()
	interim := a.interim
	a.mu.Unlock()

	final := a.buf.Render()
	if interim == "" {
		return final
	}
	if final == "" {
		return interim
	}
	return final + "\n" + strings.TrimSpace(interim)
}

func (a *Assembler) Segments() []Segment { return a.buf.Segments() }

func (a *Assembler) Chars() int { return a.buf.Chars() }
