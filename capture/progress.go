package capture

import (
	"go.uber.org/atomic"
)

// Progress reports how far a read or write has come, as a percentage from 0 to 100. It is safe for concurrent use.
// Cancel makes the value negative, which the reader and writer observe at their checkpoints.
//
// The zero value is ready to use.
type Progress struct {
	v atomic.Int32
}

// Value returns the current percentage, or a negative number if the operation was canceled.
func (p *Progress) Value() int { return int(p.v.Load()) }

// Cancel requests that the operation stop at its next checkpoint.
func (p *Progress) Cancel() {
	for {
		old := p.v.Load()
		if old < 0 || p.v.CompareAndSwap(old, -1-old) {
			return
		}
	}
}

// Canceled reports whether Cancel has been called.
func (p *Progress) Canceled() bool { return p.v.Load() < 0 }

// Reset clears a previous cancellation and sets the value to 0.
func (p *Progress) Reset() { p.v.Store(0) }

// update stores pct unless the operation has been canceled, in which case it returns false and leaves the value
// negative.
func (p *Progress) update(pct int) bool {
	if p == nil {
		return true
	}
	for {
		old := p.v.Load()
		if old < 0 {
			return false
		}
		if p.v.CompareAndSwap(old, int32(pct)) {
			return true
		}
	}
}

// advance is like update but never lowers the value. Concurrent workers use it to report their share of the work.
func (p *Progress) advance(pct int) bool {
	if p == nil {
		return true
	}
	for {
		old := p.v.Load()
		if old < 0 {
			return false
		}
		if int32(pct) <= old || p.v.CompareAndSwap(old, int32(pct)) {
			return true
		}
	}
}

// canceled is like Canceled but accepts a nil receiver.
func (p *Progress) canceled() bool { return p != nil && p.Canceled() }
