package sequence

import "sync/atomic"

// Sequencer hands out strictly increasing numbers. The ledgers use it to
// break createdAt ties; the event bus uses it to number envelopes so the
// outbox drains them in emission order.
type Sequencer struct {
	next atomic.Uint64
}

// New creates a sequencer whose first Next() returns start+1.
func New(start uint64) *Sequencer {
	s := &Sequencer{}
	s.next.Store(start)
	return s
}

func (s *Sequencer) Next() uint64 {
	return s.next.Add(1)
}

// Current returns the last issued number.
func (s *Sequencer) Current() uint64 {
	return s.next.Load()
}

// Advance moves the sequencer forward to at least v. Used when an outbox
// already holds records numbered up to v.
func (s *Sequencer) Advance(v uint64) {
	for {
		cur := s.next.Load()
		if cur >= v || s.next.CompareAndSwap(cur, v) {
			return
		}
	}
}
