package engine

import "sync/atomic"

// Sequence is a monotonic logical clock.
//
// Every fetch request and every invalidation is stamped with the next value.
// Ordering decisions (does this fetch satisfy that invalidation? did an
// invalidation arrive while this fetch was outstanding?) compare sequence
// numbers, never wall-clock timestamps.
type Sequence struct {
	seq atomic.Int64
}

// NewSequence creates a sequence starting at 0.
func NewSequence() *Sequence {
	return &Sequence{}
}

// Next returns the next value.
func (s *Sequence) Next() int64 {
	return s.seq.Add(1)
}

// Current returns the last value handed out.
func (s *Sequence) Current() int64 {
	return s.seq.Load()
}
