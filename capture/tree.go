package capture

import (
	"time"
)

// NodeKind distinguishes the records a Block can hold.
type NodeKind uint8

const (
	KindBlock NodeKind = iota
	KindValue
	KindContextSwitch
)

func (k NodeKind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindValue:
		return "value"
	case KindContextSwitch:
		return "context switch"
	default:
		return "unknown"
	}
}

// maxDepth is the deepest a block may be nested below its thread. One more level is reserved for the thread itself.
const maxDepth = 254

// Block is a node in a thread's call tree. It holds either a block record, a value record or a context switch.
type Block struct {
	Begin Timestamp
	End   Timestamp
	// ID indexes Capture.Descriptors. It is unused for context switches.
	ID   BlockID
	Kind NodeKind
	// Depth is the length of the longest path from this block down to a leaf. Leaves have depth 0.
	Depth uint8
	// Name is the block's runtime name, or the target thread's name for context switches.
	Name string
	// TargetThread is the thread that was switched to. Only set for context switches.
	TargetThread ThreadID
	Value        *Value
	// Children are sorted by begin time and nested within the block.
	Children []BlockIndex

	PerThreadStats *Statistics
	PerParentStats *Statistics
	PerFrameStats  *Statistics
}

func (b *Block) Duration() time.Duration { return Duration(b.Begin, b.End) }

// ThreadRoot is the forest of blocks recorded on one thread.
type ThreadRoot struct {
	ID   ThreadID
	Name string
	// Children are the thread's frames, the roots of its call trees, sorted by begin time.
	Children        []BlockIndex
	ContextSwitches []BlockIndex
	// Events lists all blocks whose descriptor isn't of type BlockTypeBlock, in arrival order.
	Events []BlockIndex

	BlocksNumber uint32
	FramesNumber uint32
	WaitTime     time.Duration
	ProfiledTime time.Duration
	// Depth is one more than the deepest frame's depth.
	Depth uint8
}

// Capture is a decoded capture.
type Capture struct {
	Version      Version
	PID          uint64
	CPUFrequency int64
	// BeginTime and EndTime are in nanoseconds.
	BeginTime Timestamp
	EndTime   Timestamp

	// Descriptors is indexed by BlockID. The first DescriptorsCount entries come from the stream and may contain nil
	// holes; the rest were synthesized for blocks with runtime names.
	Descriptors      []*Descriptor
	DescriptorsCount int

	Blocks      []Block
	Threads     map[ThreadID]*ThreadRoot
	ThreadOrder []ThreadID

	// Payload and DescriptorData hold the raw records. Value payloads alias Payload.
	Payload        Arena
	DescriptorData Arena
}

func newCapture() *Capture {
	return &Capture{Threads: map[ThreadID]*ThreadRoot{}}
}

func (c *Capture) thread(tid ThreadID) *ThreadRoot {
	root, ok := c.Threads[tid]
	if !ok {
		root = &ThreadRoot{ID: tid}
		c.Threads[tid] = root
		c.ThreadOrder = append(c.ThreadOrder, tid)
	}
	return root
}

// Roots returns the thread roots in the order in which their threads first appeared in the stream.
func (c *Capture) Roots() []*ThreadRoot {
	out := make([]*ThreadRoot, len(c.ThreadOrder))
	for i, tid := range c.ThreadOrder {
		out[i] = c.Threads[tid]
	}
	return out
}

// Descriptor returns the descriptor of block b, or nil for context switches.
func (c *Capture) Descriptor(b *Block) *Descriptor {
	if b.Kind == KindContextSwitch || int(b.ID) >= len(c.Descriptors) {
		return nil
	}
	return c.Descriptors[b.ID]
}

// BlockName returns the name to display for b: its runtime name if it has one, its descriptor's name otherwise.
func (c *Capture) BlockName(b *Block) string {
	if b.Name != "" {
		return b.Name
	}
	if desc := c.Descriptor(b); desc != nil {
		return desc.Name
	}
	return ""
}

// Walk calls fn for idx and all of its descendants in pre-order. depth is 0 for idx. Returning false from fn skips
// the block's children.
func (c *Capture) Walk(idx BlockIndex, fn func(idx BlockIndex, depth int) bool) {
	c.walk(idx, 0, fn)
}

func (c *Capture) walk(idx BlockIndex, depth int, fn func(BlockIndex, int) bool) {
	if !fn(idx, depth) {
		return
	}
	for _, child := range c.Blocks[idx].Children {
		c.walk(child, depth+1, fn)
	}
}
