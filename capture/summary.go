package capture

import (
	"cmp"
	"time"

	"golang.org/x/exp/slices"
)

// Summary aggregates all blocks that share a name.
type Summary struct {
	Name  string
	Calls int
	Total time.Duration
	// Self is the total time spent in the blocks, excluding their direct children.
	Self    time.Duration
	Min     time.Duration
	Max     time.Duration
	Average float64
	Median  float64
}

// Summarize computes a Summary for each distinct block name on the threads that filter accepts. A nil filter accepts
// all threads. The result is sorted by total duration, longest first. Summarize doesn't depend on the statistics
// gathered while reading.
func Summarize(c *Capture, filter func(*ThreadRoot) bool) []Summary {
	byName := map[string]int{}
	var out []Summary
	var values [][]time.Duration

	for _, root := range c.Roots() {
		if filter != nil && !filter(root) {
			continue
		}
		for _, frame := range root.Children {
			c.Walk(frame, func(idx BlockIndex, _ int) bool {
				b := &c.Blocks[idx]
				if b.Kind != KindBlock {
					return true
				}
				name := c.BlockName(b)
				i, ok := byName[name]
				if !ok {
					i = len(out)
					byName[name] = i
					out = append(out, Summary{Name: name})
					values = append(values, nil)
				}
				s := &out[i]
				d := b.Duration()
				self := d
				for _, child := range b.Children {
					self -= c.Blocks[child].Duration()
				}
				s.Calls++
				s.Total += d
				s.Self += self
				if d > s.Max {
					s.Max = d
				}
				if d < s.Min || s.Calls == 1 {
					s.Min = d
				}
				values[i] = append(values[i], d)
				return true
			})
		}
	}

	for i := range out {
		s := &out[i]
		vs := values[i]
		s.Average = float64(s.Total) / float64(len(vs))
		slices.Sort(vs)
		if len(vs)%2 == 0 {
			mid := len(vs) / 2
			s.Median = float64(vs[mid]+vs[mid-1]) / 2
		} else {
			s.Median = float64(vs[len(vs)/2])
		}
	}

	slices.SortFunc(out, func(a, b Summary) int {
		if a.Total != b.Total {
			return cmp.Compare(b.Total, a.Total)
		}
		return cmp.Compare(a.Name, b.Name)
	})
	return out
}
