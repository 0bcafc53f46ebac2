package metrics

import "sync/atomic"

// SamplingObserver forwards only every Nth event for designated
// high-volume names, passing everything else through unchanged. Audio
// frames arrive four times a second; logging each one drowns the signal.
type SamplingObserver struct {
	inner   Observer
	every   uint64
	sampled map[string]*uint64
}

func NewSamplingObserver(inner Observer, every int, names ...string) *SamplingObserver {
	if every <= 1 {
		every = 1
	}
	sampled := make(map[string]*uint64, len(names))
	for _, n := range names {
		sampled[n] = new(uint64)
	}
	return &SamplingObserver{inner: inner, every: uint64(every), sampled: sampled}
}

func (s *SamplingObserver) RecordEvent(ev MetricsEvent) {
	if counter, ok := s.sampled[ev.Name]; ok {
		if atomic.AddUint64(counter, 1)%s.every != 0 {
			return
		}
	}
	s.inner.RecordEvent(ev)
}

var _ Observer = (*SamplingObserver)(nil)
