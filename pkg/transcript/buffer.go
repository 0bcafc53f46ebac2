package transcript

import (
	"strings"
	"sync"
	"time"
)

// Buffer is the append-only store of committed transcript segments.
//
// Speaker continuation is decided against the structured segment list, never
// by inspecting rendered text: a final extends the last segment only when
// both carry the same speaker attribution.
type Buffer struct {
	mu       sync.Mutex
	segments []Segment
	chars    int
}

func NewBuffer() *Buffer {
	return &Buffer{}
}

// Commit appends final text, starting a new segment on speaker change.
// It returns the number of characters added.
func (b *Buffer) Commit(text string, speaker int, hasSpeaker bool, pts int64) int {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if last := b.lastLocked(); last != nil && continues(*last, speaker, hasSpeaker) {
		last.Text += " " + text
		last.UpdatedAt = time.Now()
	} else {
		b.segments = append(b.segments, Segment{
			Speaker:    speaker,
			HasSpeaker: hasSpeaker,
			Text:       text,
			StartPTS:   pts,
			UpdatedAt:  time.Now(),
		})
	}
	b.chars += len(text)
	return len(text)
}

// A final without a diarization hint always continues the current segment.
// A diarized final continues only when the segment carries the same speaker.
func continues(last Segment, speaker int, hasSpeaker bool) bool {
	if !hasSpeaker {
		return true
	}
	return last.HasSpeaker && last.Speaker == speaker
}

func (b *Buffer) lastLocked() *Segment {
	if len(b.segments) == 0 {
		return nil
	}
	return &b.segments[len(b.segments)-1]
}

// Render produces the speaker-labeled transcript, one segment per line.
func (b *Buffer) Render() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.segments) == 0 {
		return ""
	}
	lines := make([]string, len(b.segments))
	for i, s := range b.segments {
		lines[i] = s.render()
	}
	return strings.Join(lines, "\n")
}

// Segments returns a copy of the committed segment list.
func (b *Buffer) Segments() []Segment {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Segment, len(b.segments))
	copy(out, b.segments)
	return out
}

func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.segments)
}

// Chars reports total committed characters, used for save metrics.
func (b *Buffer) Chars() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.chars
}
