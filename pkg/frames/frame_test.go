package frames

import "testing"

func TestPooledAudioFrameCopiesPayload(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	f := NewAudioFrameFromPool("s1", 1, src, 16000, 1, nil)
	src[0] = 99
	if f.RawPayload()[0] != 1 {
		t.Fatal("pooled frame must own its payload")
	}
	if !ReleaseAudioFrame(f) {
		t.Fatal("pooled frame should release")
	}
}

func TestNonPooledFrameNotReleased(t *testing.T) {
	f := NewAudioFrame("s1", 1, []byte{1}, 16000, 1, nil)
	if ReleaseAudioFrame(f) {
		t.Fatal("non-pooled frame must not return to the pool")
	}
}

func TestMetaCarriesSessionAndClones(t *testing.T) {
	f := NewTranscriptFrame("s1", 5, "hi", true, map[string]string{MetaSource: "test"})
	m := f.Meta()
	if m[MetaSessionID] != "s1" || m[MetaSource] != "test" {
		t.Fatalf("meta: %v", m)
	}
	m[MetaSource] = "mutated"
	if f.Meta()[MetaSource] != "test" {
		t.Fatal("Meta must return a copy")
	}
}

func TestSpeakerAttribution(t *testing.T) {
	d := NewDiarizedTranscriptFrame("s1", 1, "hi", 2, true, nil)
	if sp, ok := d.Speaker(); !ok || sp != 2 {
		t.Fatalf("got %d, %v", sp, ok)
	}
	p := NewTranscriptFrame("s1", 1, "hi", true, nil)
	if _, ok := p.Speaker(); ok {
		t.Fatal("plain frame must not report a speaker")
	}
}

func TestPTSMonotonicPerSession(t *testing.T) {
	g := NewPTSGen()
	a1, a2 := g.Next("a"), g.Next("a")
	b1 := g.Next("b")
	if a2 <= a1 {
		t.Fatal("pts must increase within a session")
	}
	if b1 != a1 {
		t.Fatal("sessions track pts independently")
	}
}
