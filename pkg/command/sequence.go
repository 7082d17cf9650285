package command

import "sync/atomic"

// MaxMessageID is the largest message id before the sequence wraps.
const MaxMessageID = 65535

// Sequence is a rolling message id counter over 1..MaxMessageID.
// The zero value is ready to use and safe for concurrent use.
type Sequence struct {
	last atomic.Uint32
}

// Next returns the next message id, wrapping to 1 after MaxMessageID.
func (s *Sequence) Next() uint16 {
	for {
		cur := s.last.Load()
		next := cur + 1
		if next > MaxMessageID {
			next = 1
		}
		if s.last.CompareAndSwap(cur, next) {
			return uint16(next)
		}
	}
}
