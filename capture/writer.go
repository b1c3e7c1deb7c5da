package capture

import (
	"cmp"
	"fmt"
	"io"
	"math"

	"github.com/rs/zerolog"
	"golang.org/x/exp/slices"
)

// WriteOptions configures WriteStream and WriteFile.
type WriteOptions struct {
	// Progress, if not nil, is updated as writing progresses and can be used to cancel writing.
	Progress *Progress
	// Log, if not nil, receives a description of the error if writing fails.
	Log io.Writer
	// Logger, if not nil, receives debug logs.
	Logger *zerolog.Logger
	// Version is the format version to write. The zero value means CurrentVersion.
	Version Version
}

func (opts *WriteOptions) logger() *zerolog.Logger {
	if opts.Logger == nil {
		l := zerolog.Nop()
		return &l
	}
	return opts.Logger
}

// threadSelection is the part of one thread that falls into the window being written.
type threadSelection struct {
	root   *ThreadRoot
	frames []BlockIndex
	cs     []BlockIndex
	// blocks counts the selected frames and all of their descendants.
	blocks uint32
}

type writer struct {
	e       *encoder
	c       *Capture
	opts    WriteOptions
	version Version
	tidSize int
	buf     []byte
}

// WriteStream writes the blocks and context switches of c that overlap [begin, end] to w, together with all of c's
// stream descriptors. A selected frame is always written with all of its descendants. It returns the number of
// records written.
//
// Blocks are written with their static descriptor IDs, so that the output can be read by any reader of the format.
func WriteStream(w io.Writer, c *Capture, begin, end Timestamp, opts WriteOptions) (int, error) {
	n, err := writeStream(w, c, begin, end, opts)
	if err != nil {
		reportError(opts.Log, err)
		opts.logger().Debug().Err(err).Msg("failed to write capture")
		return 0, err
	}
	return n, nil
}

func writeStream(out io.Writer, c *Capture, begin, end Timestamp, opts WriteOptions) (int, error) {
	if !opts.Progress.update(0) {
		return 0, errWriteCanceled
	}
	count := min(c.DescriptorsCount, len(c.Descriptors))
	if len(c.Threads) == 0 || count == 0 {
		return 0, ErrNothingToSave
	}

	version := opts.Version
	if version == 0 {
		version = CurrentVersion
	}
	if !version.Compatible() {
		return 0, fmt.Errorf("%w: %v", ErrIncompatibleVersion, version)
	}
	w := &writer{
		e:       newEncoder(out),
		c:       c,
		opts:    opts,
		version: version,
		tidSize: version.threadIDSize(),
	}

	h := Header{
		Version:   version,
		PID:       c.PID,
		BeginTime: begin,
		EndTime:   end,
	}
	roots := c.Roots()
	sels := make([]threadSelection, len(roots))
	var total uint64
	for i, root := range roots {
		sel := threadSelection{
			root:   root,
			frames: findRange(c.Blocks, root.Children, begin, end),
			cs:     findRange(c.Blocks, root.ContextSwitches, begin, end),
		}
		for _, idx := range sel.frames {
			n, mem := w.measure(idx)
			sel.blocks += n
			h.MemorySize += mem
		}
		for _, idx := range sel.cs {
			h.MemorySize += uint64(recordSize(&c.Blocks[idx], w.tidSize))
		}
		for _, list := range [][]BlockIndex{sel.frames, sel.cs} {
			if len(list) != 0 {
				h.BeginTime = min(h.BeginTime, c.Blocks[list[0]].Begin)
				h.EndTime = max(h.EndTime, c.Blocks[list[len(list)-1]].End)
			}
		}
		total += uint64(sel.blocks) + uint64(len(sel.cs))
		sels[i] = sel

		if !opts.Progress.update(15 * (i + 1) / len(roots)) {
			return 0, errWriteCanceled
		}
	}
	if total == 0 {
		return 0, ErrNothingToSave
	}
	if total > math.MaxUint32 {
		return 0, fmt.Errorf("can't write %d blocks", total)
	}
	h.TotalBlocks = uint32(total)
	h.TotalDescriptors = uint32(count)
	for _, desc := range c.Descriptors[:count] {
		h.DescriptorsMemorySize += 2
		if desc != nil {
			h.DescriptorsMemorySize += uint64(descriptorRecordSize(desc))
		}
	}

	e := w.e
	e.u32(Signature)
	e.u32(uint32(version))
	layout := layoutFor(version)
	layout.write(e, &h)
	opts.logger().Debug().Stringer("version", version).Str("layout", layout.name).Uint32("blocks", h.TotalBlocks).Msg("writing capture")

	for _, desc := range c.Descriptors[:count] {
		if err := w.descriptor(desc); err != nil {
			return 0, err
		}
	}
	for i, sel := range sels {
		if err := w.thread(&sel); err != nil {
			return 0, err
		}
		if !opts.Progress.update(40 + 60*(i+1)/len(sels)) {
			return 0, errWriteCanceled
		}
	}
	if err := e.flush(); err != nil {
		return 0, err
	}
	return int(total), nil
}

// findRange returns the sub-slice of list, which is sorted by time, whose elements overlap [begin, end].
func findRange(blocks []Block, list []BlockIndex, begin, end Timestamp) []BlockIndex {
	first, _ := slices.BinarySearchFunc(list, begin, func(idx BlockIndex, t Timestamp) int {
		return cmp.Compare(blocks[idx].End, t)
	})
	if first == len(list) || blocks[list[first]].Begin > end {
		return nil
	}
	n, _ := slices.BinarySearchFunc(list[first:], end, func(idx BlockIndex, t Timestamp) int {
		if blocks[idx].Begin <= t {
			return -1
		}
		return 1
	})
	return list[first : first+n]
}

// measure returns the number of records and the amount of memory needed to store block idx and its descendants.
func (w *writer) measure(idx BlockIndex) (uint32, uint64) {
	b := &w.c.Blocks[idx]
	n := uint32(1)
	mem := uint64(recordSize(b, w.tidSize))
	for _, child := range b.Children {
		cn, cmem := w.measure(child)
		n += cn
		mem += cmem
	}
	return n, mem
}

func (w *writer) descriptor(desc *Descriptor) error {
	var err error
	w.buf, err = appendDescriptor(w.buf[:0], desc)
	if err != nil {
		return err
	}
	w.e.write(w.buf)
	return w.e.err
}

func (w *writer) thread(sel *threadSelection) error {
	e, root := w.e, sel.root
	if w.tidSize == 4 && root.ID > math.MaxUint32 {
		return fmt.Errorf("thread ID %d doesn't fit in 32 bits", root.ID)
	}
	if len(root.Name) >= math.MaxUint16 {
		return fmt.Errorf("name of thread %d is too long", root.ID)
	}
	e.uint(w.tidSize, uint64(root.ID))
	e.u16(uint16(len(root.Name) + 1))
	e.write([]byte(root.Name))
	e.write([]byte{0})

	e.u32(uint32(len(sel.cs)))
	for _, idx := range sel.cs {
		if err := w.record(idx); err != nil {
			return err
		}
	}
	e.u32(sel.blocks)
	for _, idx := range sel.frames {
		if err := w.tree(idx); err != nil {
			return err
		}
	}
	return e.err
}

// tree writes block idx after all of its descendants, which is the order in which the reader expects them.
func (w *writer) tree(idx BlockIndex) error {
	for _, child := range w.c.Blocks[idx].Children {
		if err := w.tree(child); err != nil {
			return err
		}
	}
	return w.record(idx)
}

func (w *writer) record(idx BlockIndex) error {
	b := &w.c.Blocks[idx]
	var id BlockID
	if b.Kind != KindContextSwitch {
		desc := w.c.Descriptor(b)
		if desc == nil {
			return fmt.Errorf("block %d refers to missing descriptor %d", idx, b.ID)
		}
		id = desc.StaticID
	}
	var err error
	w.buf, err = appendRecord(w.buf[:0], b, id, w.tidSize)
	if err != nil {
		return err
	}
	w.e.write(w.buf)
	return w.e.err
}
