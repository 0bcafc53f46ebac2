package transcript

import (
	"testing"

	"github.com/itsmartinwho/foresight-scribe/pkg/frames"
)

func diarized(text string, speaker int, final bool) frames.TranscriptFrame {
	return frames.NewDiarizedTranscriptFrame("s1", 0, text, speaker, final, nil)
}

func plain(text string, final bool) frames.TranscriptFrame {
	return frames.NewTranscriptFrame("s1", 0, text, final, nil)
}

func TestSpeakerMarkerOnFirstSegment(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("hello there", 0, true))
	if got := a.Final(); got != "Speaker 0: hello there" {
		t.Fatalf("got %q", got)
	}
}

func TestSameSpeakerExtendsSegment(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("hello there", 0, true))
	a.Ingest(diarized("how are you", 0, true))
	if got := a.Final(); got != "Speaker 0: hello there how are you" {
		t.Fatalf("got %q", got)
	}
	if n := len(a.Segments()); n != 1 {
		t.Fatalf("want one segment, got %d", n)
	}
}

func TestSpeakerChangeStartsNewLine(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("hello there", 0, true))
	a.Ingest(diarized("how are you", 0, true))
	a.Ingest(diarized("fine thanks", 1, true))
	want := "Speaker 0: hello there how are you\nSpeaker 1: fine thanks"
	if got := a.Final(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestUndiarizedContinuesCurrentSegment(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("first part", 2, true))
	a.Ingest(plain("and more", true))
	if got := a.Final(); got != "Speaker 2: first part and more" {
		t.Fatalf("got %q", got)
	}
}

func TestUndiarizedOnlyHasNoMarker(t *testing.T) {
	a := NewAssembler()
	a.Ingest(plain("no diarization here", true))
	a.Ingest(plain("still none", true))
	if got := a.Final(); got != "no diarization here still none" {
		t.Fatalf("got %q", got)
	}
}

func TestDiarizedAfterUndiarizedStartsNewSegment(t *testing.T) {
	a := NewAssembler()
	a.Ingest(plain("unattributed opening", true))
	a.Ingest(diarized("attributed reply", 1, true))
	want := "unattributed opening\nSpeaker 1: attributed reply"
	if got := a.Final(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestInterimNeverCommitted(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("committed text", 0, true))
	committed, _ := a.Ingest(diarized("provisional pre", 0, false))
	if committed {
		t.Fatal("interim must not commit")
	}
	if got := a.Final(); got != "Speaker 0: committed text" {
		t.Fatalf("interim leaked into final: %q", got)
	}
	want := "Speaker 0: committed text\nprovisional pre"
	if got := a.Preview(); got != want {
		t.Fatalf("preview got %q, want %q", got, want)
	}
}

func TestInterimClearedByFinal(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("provisional", 0, false))
	a.Ingest(diarized("provisional text settled", 0, true))
	if got := a.Preview(); got != "Speaker 0: provisional text settled" {
		t.Fatalf("got %q", got)
	}
}

func TestEmptyAndWhitespaceFinalsIgnored(t *testing.T) {
	a := NewAssembler()
	if committed, _ := a.Ingest(diarized("", 0, true)); committed {
		t.Fatal("empty final must not commit")
	}
	if committed, _ := a.Ingest(diarized("   ", 0, true)); committed {
		t.Fatal("whitespace final must not commit")
	}
	if got := a.Final(); got != "" {
		t.Fatalf("got %q", got)
	}
}

func TestLiteralSpeakerTextDoesNotConfuseGrouping(t *testing.T) {
	a := NewAssembler()
	a.Ingest(diarized("the phrase Speaker 1: appears verbatim", 0, true))
	a.Ingest(diarized("continuing", 0, true))
	want := "Speaker 0: the phrase Speaker 1: appears verbatim continuing"
	if got := a.Final(); got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if n := len(a.Segments()); n != 1 {
		t.Fatalf("want one segment, got %d", n)
	}
}
