package capture

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// statisticsStream has repeated blocks across frames and threads, so that statistics records are shared.
func statisticsStream() *testStream {
	ts := &testStream{
		end: 10_000,
		descs: []*Descriptor{
			{Name: "frame", Type: BlockTypeBlock},
			{Name: "update", Type: BlockTypeBlock},
			{Name: "draw", Type: BlockTypeBlock},
		},
	}
	for tid := ThreadID(1); tid <= 3; tid++ {
		seg := testSegment{id: tid, name: "t"}
		for f := Timestamp(0); f < 5; f++ {
			base := f * 1000
			seg.cs = append(seg.cs, cswitch(9, "idle", base+900, base+950))
			seg.blocks = append(seg.blocks,
				blk(1, base+10, base+20+f),
				blk(1, base+30, base+40),
				blk(2, base+50, base+80),
				blk(0, base, base+100))
		}
		ts.segments = append(ts.segments, seg)
	}
	return ts
}

func TestStatisticsRefcount(t *testing.T) {
	c, err := ReadStream(bytes.NewReader(statisticsStream().bytes(t)), ReadOptions{GatherStatistics: true})
	require.NoError(t, err)

	refs := map[*Statistics]uint32{}
	for i := range c.Blocks {
		b := &c.Blocks[i]
		for _, s := range []*Statistics{b.PerThreadStats, b.PerParentStats, b.PerFrameStats} {
			if s != nil {
				refs[s]++
			}
		}
	}
	require.NotEmpty(t, refs)
	for s, n := range refs {
		require.Equal(t, n, s.Calls)
	}

	// Releasing one block only affects the records it referenced.
	first := c.Threads[1].Children[0]
	s := c.Blocks[first].PerThreadStats
	calls := s.Calls
	c.ReleaseBlock(first)
	require.Nil(t, c.Blocks[first].PerThreadStats)
	require.Equal(t, calls-1, s.Calls)

	c.Release()
	for s := range refs {
		require.Zero(t, s.Calls)
	}
}

func TestStatisticsValues(t *testing.T) {
	c, err := ReadStream(bytes.NewReader(statisticsStream().bytes(t)), ReadOptions{GatherStatistics: true})
	require.NoError(t, err)

	root := c.Threads[2]
	require.EqualValues(t, 5, root.FramesNumber)
	require.EqualValues(t, 2, root.Depth)

	frame := &c.Blocks[root.Children[0]]
	perThread := frame.PerThreadStats
	require.EqualValues(t, 5, perThread.Calls)
	require.Equal(t, 500*time.Nanosecond, perThread.TotalDuration)
	require.Equal(t, 100*time.Nanosecond, perThread.AverageDuration())
	// Each frame has children of 10+f, 10 and 30 nanoseconds.
	require.Equal(t, time.Duration(5*50+0+1+2+3+4), perThread.TotalChildrenDuration)
	// Frames are keyed against no parent, so all frames of a thread share one record.
	require.Same(t, perThread, c.Blocks[root.Children[4]].PerThreadStats)
	require.Same(t, frame.PerParentStats, c.Blocks[root.Children[4]].PerParentStats)
	require.Equal(t, InvalidBlockIndex, frame.PerParentStats.ParentBlock)

	update := &c.Blocks[frame.Children[0]]
	require.EqualValues(t, 2, update.PerParentStats.Calls)
	require.EqualValues(t, 2, update.PerFrameStats.Calls)
	require.EqualValues(t, 10, update.PerThreadStats.Calls)

	// The longest update is the first one in the last frame, which lasts 14ns.
	last := &c.Blocks[root.Children[4]]
	require.Equal(t, last.Children[0], update.PerThreadStats.MaxBlock)
	require.Equal(t, frame.Children[0], update.PerThreadStats.MinBlock)

	// Every context switch pairs with the first frame it overlaps, if any. Here each one follows its frame.
	for _, idx := range root.ContextSwitches {
		require.Nil(t, c.Blocks[idx].PerFrameStats)
		require.EqualValues(t, 5, c.Blocks[idx].PerThreadStats.Calls)
	}
	require.Equal(t, 250*time.Nanosecond, root.WaitTime)

	// Statistics are scoped to threads.
	require.NotSame(t, perThread, c.Blocks[c.Threads[1].Children[0]].PerThreadStats)
}

func TestStatisticsContextSwitchPairing(t *testing.T) {
	ts := &testStream{
		end:   1000,
		descs: []*Descriptor{{Name: "frame", Type: BlockTypeBlock}},
		segments: []testSegment{{
			id: 1,
			cs: []Block{
				cswitch(2, "a", 0, 5),
				cswitch(2, "a", 15, 25),
				cswitch(2, "b", 40, 60),
				cswitch(2, "a", 200, 210),
			},
			blocks: []Block{blk(0, 10, 20), blk(0, 30, 50), blk(0, 55, 70)},
		}},
	}
	c, err := ReadStream(bytes.NewReader(ts.bytes(t)), ReadOptions{GatherStatistics: true})
	require.NoError(t, err)
	root := c.Threads[1]
	sw := func(i int) *Block { return &c.Blocks[root.ContextSwitches[i]] }

	require.Nil(t, sw(0).PerFrameStats)
	require.Equal(t, root.Children[0], sw(1).PerFrameStats.ParentBlock)
	// b overlaps the second and the third frame but is only attributed to the second.
	require.Equal(t, root.Children[1], sw(2).PerFrameStats.ParentBlock)
	require.EqualValues(t, 1, sw(2).PerFrameStats.Calls)
	require.Nil(t, sw(3).PerFrameStats)
}

func TestAverageDurationZero(t *testing.T) {
	var s Statistics
	require.Zero(t, s.AverageDuration())
}
