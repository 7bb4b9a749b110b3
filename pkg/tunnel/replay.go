package tunnel

import (
	"sync"

	"github.com/sara-star-quant/httq-go/internal/constants"
)

// ReplayWindow accepts each record counter at most once. It remembers the
// highest counter seen and which of the constants.ReplayWindowSize counters
// below it have arrived; anything older is refused.
type ReplayWindow struct {
	mu    sync.Mutex
	any   bool
	top   uint64
	marks uint64 // bit i set: top-i has been accepted
}

// NewReplayWindow returns an empty window.
func NewReplayWindow() *ReplayWindow {
	return &ReplayWindow{}
}

// Check reports whether seq is new and, if so, records it.
func (w *ReplayWindow) Check(seq uint64) bool {
	const size = constants.ReplayWindowSize

	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case !w.any:
		w.any, w.top, w.marks = true, seq, 1
		return true
	case seq > w.top:
		if shift := seq - w.top; shift < size {
			w.marks = w.marks<<shift | 1
		} else {
			w.marks = 1
		}
		w.top = seq
		return true
	}

	age := w.top - seq
	if age >= size {
		return false
	}
	mark := uint64(1) << age
	if w.marks&mark != 0 {
		return false
	}
	w.marks |= mark
	return true
}
