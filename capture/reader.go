package capture

import (
	"fmt"
	"io"
	"math"
	"math/bits"

	"github.com/rs/zerolog"
)

// ReadOptions configures ReadStream, ReadFile and ReadDescriptors.
type ReadOptions struct {
	// GatherStatistics enables computing Block.PerThreadStats, PerParentStats and PerFrameStats.
	GatherStatistics bool
	// Sequential disables processing threads in parallel after the stream has been read.
	Sequential bool
	// IntegerTimeConversion converts CPU ticks to nanoseconds with exact integer arithmetic instead of floating point.
	IntegerTimeConversion bool
	// Progress, if not nil, is updated as reading progresses and can be used to cancel reading.
	Progress *Progress
	// Log, if not nil, receives a description of the error if reading fails.
	Log io.Writer
	// Logger, if not nil, receives debug logs.
	Logger *zerolog.Logger
}

func (opts *ReadOptions) logger() *zerolog.Logger {
	if opts.Logger == nil {
		l := zerolog.Nop()
		return &l
	}
	return opts.Logger
}

func reportError(w io.Writer, err error) {
	if w != nil && err != nil {
		fmt.Fprintln(w, err.Error())
	}
}

// reader holds the state of a single decode.
type reader struct {
	d    *decoder
	opts ReadOptions
	log  *zerolog.Logger
	c    *Capture

	convert func(Timestamp) Timestamp
	tidSize int
	memSize uint64

	// ids maps runtime block names to synthesized descriptor IDs.
	ids map[string]BlockID
	// parentStats is reused for the children of each block as it is inserted.
	parentStats  map[BlockID]*Statistics
	threadStats  map[ThreadID]map[BlockID]*Statistics
	switchStats  map[ThreadID]map[string]*Statistics
	segmentCount int
}

// ReadStream decodes a capture from r. On failure it returns a nil capture and, if opts.Log is set, also writes the
// error's description to it.
func ReadStream(r io.Reader, opts ReadOptions) (*Capture, error) {
	c, err := readStream(r, opts)
	if err != nil {
		reportError(opts.Log, err)
		opts.logger().Debug().Err(err).Msg("failed to read capture")
		return nil, err
	}
	return c, nil
}

func readStream(r io.Reader, opts ReadOptions) (*Capture, error) {
	rd := &reader{
		d:           newDecoder(r),
		opts:        opts,
		log:         opts.logger(),
		c:           newCapture(),
		ids:         map[string]BlockID{},
		parentStats: map[BlockID]*Statistics{},
		threadStats: map[ThreadID]map[BlockID]*Statistics{},
		switchStats: map[ThreadID]map[string]*Statistics{},
	}
	if !opts.Progress.update(0) {
		return nil, errReadCanceled
	}
	if err := rd.readHeader(); err != nil {
		return nil, err
	}
	if err := rd.readDescriptorTable(); err != nil {
		return nil, err
	}
	if err := rd.readThreads(); err != nil {
		return nil, err
	}
	if !opts.Progress.update(90) {
		return nil, errReadCanceled
	}
	rd.c.finish(opts.GatherStatistics, opts.Sequential, opts.Progress)
	if !opts.Progress.update(100) {
		return nil, errReadCanceled
	}
	rd.log.Debug().
		Int("blocks", len(rd.c.Blocks)).
		Int("descriptors", len(rd.c.Descriptors)).
		Int("threads", len(rd.c.ThreadOrder)).
		Int("segments", rd.segmentCount).
		Msg("read capture")
	return rd.c, nil
}

func (rd *reader) readHeader() error {
	v, err := readPreamble(rd.d)
	if err != nil {
		return err
	}
	h := Header{Version: v}
	layout := layoutFor(v)
	if err := layout.read(rd.d, &h); err != nil {
		return err
	}
	rd.log.Debug().Stringer("version", v).Str("layout", layout.name).Int64("frequency", h.CPUFrequency).Msg("read header")

	convert, err := tickConverter(h.CPUFrequency, rd.opts.IntegerTimeConversion)
	if err != nil {
		return rd.d.corrupt(err.Error())
	}
	if h.MemorySize > math.MaxInt || h.DescriptorsMemorySize > math.MaxInt {
		return rd.d.corrupt("declared memory size is too large")
	}

	c := rd.c
	c.Version = v
	c.PID = h.PID
	c.CPUFrequency = h.CPUFrequency
	c.BeginTime = convert(h.BeginTime)
	c.EndTime = convert(h.EndTime)
	c.DescriptorsCount = int(h.TotalDescriptors)
	c.DescriptorData.Set(int(h.DescriptorsMemorySize))
	c.Payload.Set(int(h.MemorySize))
	c.Blocks = make([]Block, 0, min(h.TotalBlocks, 1<<16))

	rd.convert = convert
	rd.tidSize = v.threadIDSize()
	rd.memSize = h.MemorySize
	return nil
}

// tickConverter returns a function that converts timestamps recorded at freq ticks per second to nanoseconds.
func tickConverter(freq int64, exact bool) (func(Timestamp) Timestamp, error) {
	switch {
	case freq < 0:
		return nil, fmt.Errorf("negative CPU frequency %d", freq)
	case freq == 0:
		return func(t Timestamp) Timestamp { return t }, nil
	case exact:
		f := uint64(freq)
		return func(t Timestamp) Timestamp {
			hi, lo := bits.Mul64(uint64(t), 1e9)
			if hi >= f {
				return math.MaxUint64
			}
			q, _ := bits.Div64(hi, lo, f)
			return Timestamp(q)
		}, nil
	default:
		factor := 1e9 / float64(freq)
		return func(t Timestamp) Timestamp {
			ns := float64(t) * factor
			if ns >= math.MaxUint64 {
				return math.MaxUint64
			}
			return Timestamp(ns)
		}, nil
	}
}

func (rd *reader) readDescriptorTable() error {
	c := rd.c
	descs, err := readDescriptorRecords(rd.d, &c.DescriptorData, c.DescriptorsCount, rd.opts.Progress, 15)
	if err != nil {
		return err
	}
	c.Descriptors = append(c.Descriptors, descs...)
	return nil
}

// readDescriptorRecords reads count descriptor records into arena. Progress is advanced from 0 to scale as the arena
// fills up.
func readDescriptorRecords(d *decoder, arena *Arena, count int, progress *Progress, scale uint64) ([]*Descriptor, error) {
	descs := make([]*Descriptor, 0, min(count, 1<<16))
	// The declared size includes each record's length prefix.
	total := uint64(arena.Cap())
	var consumed uint64
	for len(descs) < count {
		sz := d.u16()
		if d.err != nil {
			return nil, fmt.Errorf("failed to read descriptor %d: %w", len(descs), d.err)
		}
		consumed += 2 + uint64(sz)
		if sz == 0 {
			descs = append(descs, nil)
			continue
		}
		_, buf, err := arena.Alloc(int(sz))
		if err != nil {
			return nil, d.corruptf("actual descriptors data size > size pointed in file: %v", err)
		}
		d.read(buf)
		if d.err != nil {
			return nil, fmt.Errorf("failed to read descriptor %d: %w", len(descs), d.err)
		}
		desc, err := parseDescriptor(buf)
		if err != nil {
			return nil, d.corrupt(err.Error())
		}
		desc.ID = BlockID(len(descs))
		desc.StaticID = desc.ID
		descs = append(descs, desc)

		if !progress.update(int(scale * min(consumed, total) / total)) {
			return nil, errReadCanceled
		}
	}
	if !progress.update(int(scale)) {
		return nil, errReadCanceled
	}
	return descs, nil
}

func (rd *reader) readThreads() error {
	d, c := rd.d, rd.c
	var name []byte
	for !d.atEOF() {
		tid := ThreadID(d.uint(rd.tidSize))
		nameLen := d.u16()
		if cap(name) < int(nameLen) {
			name = make([]byte, nameLen)
		}
		name = name[:nameLen]
		d.read(name)
		if d.err != nil {
			return fmt.Errorf("failed to read thread header: %w", d.err)
		}
		rd.segmentCount++
		root := c.thread(tid)
		if nameLen != 0 {
			root.Name = cstring(name)
		}

		n := d.u32()
		for i := uint32(0); i < n; i++ {
			if err := rd.readContextSwitch(root); err != nil {
				return err
			}
		}
		n = d.u32()
		for i := uint32(0); i < n; i++ {
			if err := rd.readBlock(root); err != nil {
				return err
			}
		}
		if d.err != nil {
			return fmt.Errorf("failed to read thread %d: %w", tid, d.err)
		}
	}
	return d.err
}

// readRecord reads a length-prefixed record into the payload arena.
func (rd *reader) readRecord(what string) ([]byte, error) {
	d := rd.d
	sz := d.u16()
	if err := d.check(sz == 0, fmt.Sprintf("bad %s size == 0", what)); err != nil {
		return nil, err
	}
	_, buf, err := rd.c.Payload.Alloc(int(sz))
	if err != nil {
		return nil, d.corruptf("actual %s data size > size pointed in file: %v", what, err)
	}
	d.read(buf)
	if d.err != nil {
		return nil, d.err
	}
	return buf, nil
}

func (rd *reader) progress() error {
	pct := 20 + 70*uint64(rd.c.Payload.Len())/rd.memSize
	if !rd.opts.Progress.update(int(pct)) {
		return errReadCanceled
	}
	return nil
}

func (rd *reader) readContextSwitch(root *ThreadRoot) error {
	c := rd.c
	buf, err := rd.readRecord("context switch")
	if err != nil {
		return err
	}
	cs, ok := parseCSwitch(buf, rd.tidSize)
	if !ok {
		return rd.d.corruptf("context switch record of %d bytes is too short", len(buf))
	}
	begin, end := rd.convert(Timestamp(cs.begin)), rd.convert(Timestamp(cs.end))
	if end < begin {
		return rd.d.corruptf("context switch %q ends at %d before it begins at %d", cs.name, end, begin)
	}
	if end > c.BeginTime {
		begin = max(begin, c.BeginTime)
		idx := BlockIndex(len(c.Blocks))
		c.Blocks = append(c.Blocks, Block{
			Begin:        begin,
			End:          end,
			Kind:         KindContextSwitch,
			Name:         cs.name,
			TargetThread: cs.target,
		})
		b := &c.Blocks[idx]
		root.WaitTime += b.Duration()
		root.ContextSwitches = append(root.ContextSwitches, idx)

		if rd.opts.GatherStatistics {
			m := rd.switchStats[root.ID]
			if m == nil {
				m = map[string]*Statistics{}
				rd.switchStats[root.ID] = m
			}
			b.PerThreadStats = updateStatistics(m, b.Name, c.Blocks, idx, InvalidBlockIndex)
		}
	}
	return rd.progress()
}

func (rd *reader) readBlock(root *ThreadRoot) error {
	d, c := rd.d, rd.c
	buf, err := rd.readRecord("block")
	if err != nil {
		return err
	}
	raw, ok := parseRawBlock(buf)
	if !ok {
		return d.corruptf("block record of %d bytes is too short", len(buf))
	}
	if int(raw.id) >= c.DescriptorsCount {
		return d.corruptf("bad block id == %d", raw.id)
	}
	desc := c.Descriptors[raw.id]
	if desc == nil {
		return d.corruptf("bad block id == %d: description is null", raw.id)
	}

	b := Block{
		Begin: rd.convert(Timestamp(raw.begin)),
		ID:    raw.id,
	}
	if desc.Type == BlockTypeValue {
		v, err := parseValue(buf)
		if err != nil {
			return d.corrupt(err.Error())
		}
		b.Kind = KindValue
		b.End = b.Begin
		b.Value = v
	} else {
		b.Kind = KindBlock
		b.End = rd.convert(Timestamp(raw.end))
		b.Name = cstring(buf[blockFixedSize:])
		if b.End < b.Begin {
			return d.corruptf("block %q ends at %d before it begins at %d", c.BlockName(&b), b.End, b.Begin)
		}
	}

	if b.End >= c.BeginTime {
		b.Begin = max(b.Begin, c.BeginTime)
		if b.Name != "" {
			b.ID = rd.runtimeID(desc, b.Name)
		}
		idx := BlockIndex(len(c.Blocks))
		c.Blocks = append(c.Blocks, b)
		if err := rd.insert(root, idx, desc); err != nil {
			return err
		}
	}
	return rd.progress()
}

// runtimeID returns the ID of the descriptor synthesized for blocks of desc named name. Blocks with the same runtime
// name share an ID, and thereby statistics.
func (rd *reader) runtimeID(desc *Descriptor, name string) BlockID {
	if id, ok := rd.ids[name]; ok {
		return id
	}
	c := rd.c
	id := BlockID(len(c.Descriptors))
	dup := *desc
	dup.ID = id
	c.Descriptors = append(c.Descriptors, &dup)
	rd.ids[name] = id
	return id
}

// insert appends block idx to root and folds the trailing frames that it encloses into its children. Blocks arrive
// in the order in which they ended, so a block's children always precede it, and are the contiguous run of frames at
// the end of the list that began no earlier than it did.
func (rd *reader) insert(root *ThreadRoot, idx BlockIndex, desc *Descriptor) error {
	c := rd.c
	b := &c.Blocks[idx]
	if n := len(root.Children); n > 0 && b.Begin < c.Blocks[root.Children[n-1]].End {
		lower := n - 1
		for lower > 0 && b.Begin <= c.Blocks[root.Children[lower-1]].Begin {
			lower--
		}
		if lower > 0 {
			if prev := &c.Blocks[root.Children[lower-1]]; prev.End > b.Begin {
				return rd.d.corruptf("block %q [%d, %d] overlaps block %q [%d, %d]",
					c.BlockName(b), b.Begin, b.End, c.BlockName(prev), prev.Begin, prev.End)
			}
		}
		b.Children = append([]BlockIndex(nil), root.Children[lower:]...)
		root.Children = root.Children[:lower]

		clear(rd.parentStats)
		var depth uint8
		for _, ci := range b.Children {
			child := &c.Blocks[ci]
			if child.Begin < b.Begin || child.End > b.End {
				return rd.d.corruptf("block %q [%d, %d] overlaps but doesn't contain block %q [%d, %d]",
					c.BlockName(b), b.Begin, b.End, c.BlockName(child), child.Begin, child.End)
			}
			if rd.opts.GatherStatistics {
				child.PerParentStats = updateStatistics(rd.parentStats, child.ID, c.Blocks, ci, idx)
			}
			depth = max(depth, child.Depth)
		}
		if depth >= maxDepth {
			if b.Name != "" {
				return rd.d.corruptf("stack depth exceeded value of %d for block %q", maxDepth, desc.Name)
			}
			return rd.d.corruptf("stack depth exceeded value of %d for block %q from file %q:%d",
				maxDepth, desc.Name, desc.File, desc.Line)
		}
		b.Depth = depth + 1
	}

	root.BlocksNumber++
	root.Children = append(root.Children, idx)
	if desc.Type != BlockTypeBlock {
		root.Events = append(root.Events, idx)
	}

	if rd.opts.GatherStatistics {
		m := rd.threadStats[root.ID]
		if m == nil {
			m = map[BlockID]*Statistics{}
			rd.threadStats[root.ID] = m
		}
		b.PerThreadStats = updateStatistics(m, b.ID, c.Blocks, idx, InvalidBlockIndex)
	}
	return nil
}
