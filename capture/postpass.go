package capture

import (
	"go.uber.org/atomic"
	"golang.org/x/sync/errgroup"
)

// finish computes the per-thread aggregates, and optionally the per-parent and per-frame statistics of frames, after
// all blocks have been read. Threads are processed concurrently unless sequential is set; each worker only touches the
// blocks of its own thread.
//
// Progress is advanced from 90 to 100 but cancellation isn't checked; once started, finish runs to completion.
func (c *Capture) finish(stats bool, sequential bool, progress *Progress) {
	roots := c.Roots()
	n := len(roots)
	var done atomic.Int32
	step := func() {
		progress.advance(90 + 10*int(done.Inc())/n)
	}

	if !stats || sequential {
		for _, root := range roots {
			c.finishThread(root, stats)
			step()
		}
		return
	}

	var g errgroup.Group
	for _, root := range roots {
		root := root
		g.Go(func() error {
			c.finishThread(root, true)
			step()
			return nil
		})
	}
	g.Wait()
}

func (c *Capture) finishThread(root *ThreadRoot, stats bool) {
	var (
		parentStats map[BlockID]*Statistics
		frameStats  map[BlockID]*Statistics
	)
	if stats {
		parentStats = map[BlockID]*Statistics{}
		frameStats = map[BlockID]*Statistics{}
	}

	cs := 0
	for _, fi := range root.Children {
		frame := &c.Blocks[fi]
		if c.Descriptors[frame.ID].Type == BlockTypeBlock {
			root.FramesNumber++
		}

		if stats {
			frame.PerParentStats = updateStatistics(parentStats, frame.ID, c.Blocks, fi, InvalidBlockIndex)
			clear(frameStats)
			updateFrameStatistics(frameStats, c.Blocks, fi, fi)

			// Context switches and frames are both sorted by time. Each context switch is attributed to the first frame
			// it overlaps.
			if cs < len(root.ContextSwitches) {
				switchStats := map[string]*Statistics{}
				for ; cs < len(root.ContextSwitches); cs++ {
					si := root.ContextSwitches[cs]
					sw := &c.Blocks[si]
					if sw.End < frame.Begin {
						continue
					}
					if sw.Begin > frame.End {
						break
					}
					sw.PerFrameStats = updateStatistics(switchStats, sw.Name, c.Blocks, si, fi)
				}
			}
		}

		root.Depth = max(root.Depth, frame.Depth)
		root.ProfiledTime += frame.Duration()
	}
	root.Depth++
}
