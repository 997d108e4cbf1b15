package frame

// A VictimFinder decides which frame should be evicted. It is called with the
// frame table locked and receives the frames in allocation order. Pinned
// frames must never be chosen.
type VictimFinder interface {
	FindVictim(frames []*Frame) (*Frame, bool)
}

// ClockVictimFinder implements the second-chance clock algorithm. The hand
// sweeps over the frames; an accessed frame has its accessed bit cleared and
// is skipped once, the first unpinned frame that is not accessed is chosen.
type ClockVictimFinder struct {
	hand int
}

// NewClockVictimFinder returns a newly constructed clock victim finder.
func NewClockVictimFinder() *ClockVictimFinder {
	return &ClockVictimFinder{}
}

// FindVictim moves the hand until it finds a victim. Two sweeps are enough
// since the first one clears every accessed bit.
func (c *ClockVictimFinder) FindVictim(frames []*Frame) (*Frame, bool) {
	n := len(frames)
	for i := 0; i < 2*n; i++ {
		if c.hand >= n {
			c.hand = 0
		}

		f := frames[c.hand]
		c.hand++

		if f.Pinned() {
			continue
		}

		if f.owner.IsAccessed(f.upage) {
			f.owner.ClearAccessed(f.upage)
			continue
		}

		return f, true
	}

	return nil, false
}

// OldestVictimFinder evicts the oldest frame that has not been accessed,
// falling back to the oldest unpinned frame.
type OldestVictimFinder struct {
}

// NewOldestVictimFinder returns a newly constructed oldest-first victim
// finder.
func NewOldestVictimFinder() *OldestVictimFinder {
	return new(OldestVictimFinder)
}

// FindVictim returns the oldest suitable frame.
func (e *OldestVictimFinder) FindVictim(frames []*Frame) (*Frame, bool) {
	// First try evicting a frame that is not in use
	for _, f := range frames {
		if !f.Pinned() && !f.owner.IsAccessed(f.upage) {
			return f, true
		}
	}

	for _, f := range frames {
		if !f.Pinned() {
			return f, true
		}
	}

	return nil, false
}
