package capture

import (
	"time"
)

// Statistics aggregates all occurrences of a block that share a key, e.g. all blocks with the same descriptor on one
// thread. Every Block pointing at a Statistics counts as one call, so Calls doubles as the number of references.
type Statistics struct {
	Calls                 uint32
	TotalDuration         time.Duration
	TotalChildrenDuration time.Duration
	MinBlock              BlockIndex
	MaxBlock              BlockIndex
	// ParentBlock is the block the statistics are scoped to, or InvalidBlockIndex.
	ParentBlock BlockIndex
}

func (s *Statistics) AverageDuration() time.Duration {
	if s.Calls == 0 {
		return 0
	}
	return s.TotalDuration / time.Duration(s.Calls)
}

// SelfDuration returns the time spent in the blocks themselves, excluding their direct children.
func (s *Statistics) SelfDuration() time.Duration {
	return s.TotalDuration - s.TotalChildrenDuration
}

// updateStatistics accounts for blocks[idx] in the record stored under key, creating the record if necessary.
func updateStatistics[K comparable](m map[K]*Statistics, key K, blocks []Block, idx, parent BlockIndex) *Statistics {
	b := &blocks[idx]
	d := b.Duration()
	s, ok := m[key]
	if ok {
		s.Calls++
		s.TotalDuration += d
		if d > blocks[s.MaxBlock].Duration() {
			s.MaxBlock = idx
		}
		if d < blocks[s.MinBlock].Duration() {
			s.MinBlock = idx
		}
	} else {
		s = &Statistics{
			Calls:         1,
			TotalDuration: d,
			MinBlock:      idx,
			MaxBlock:      idx,
			ParentBlock:   parent,
		}
		m[key] = s
	}
	for _, child := range b.Children {
		s.TotalChildrenDuration += blocks[child].Duration()
	}
	return s
}

// updateFrameStatistics computes per-frame statistics for idx and its descendants.
func updateFrameStatistics(m map[BlockID]*Statistics, blocks []Block, idx, frame BlockIndex) {
	b := &blocks[idx]
	b.PerFrameStats = updateStatistics(m, b.ID, blocks, idx, frame)
	for _, child := range b.Children {
		updateFrameStatistics(m, blocks, child, frame)
	}
}

func releaseStatistics(s **Statistics) {
	if *s == nil {
		return
	}
	(*s).Calls--
	*s = nil
}

// ReleaseBlock drops block i's references to its statistics.
func (c *Capture) ReleaseBlock(i BlockIndex) {
	b := &c.Blocks[i]
	releaseStatistics(&b.PerThreadStats)
	releaseStatistics(&b.PerParentStats)
	releaseStatistics(&b.PerFrameStats)
}

// Release drops all blocks' references to their statistics.
func (c *Capture) Release() {
	for i := range c.Blocks {
		c.ReleaseBlock(BlockIndex(i))
	}
}
