package capture

import (
	"bytes"
	"testing"
)

// testSegment is one thread segment of a synthetic stream. Blocks must be listed in the order in which they ended.
type testSegment struct {
	id     ThreadID
	name   string
	cs     []Block
	blocks []Block
}

// testStream builds capture streams for tests.
type testStream struct {
	version  Version
	pid      uint64
	freq     int64
	begin    Timestamp
	end      Timestamp
	descs    []*Descriptor
	segments []testSegment
}

func (ts *testStream) tidSize() int {
	return ts.version.threadIDSize()
}

// header returns a header that matches the stream's contents.
func (ts *testStream) header() Header {
	if ts.version == 0 {
		ts.version = CurrentVersion
	}
	h := Header{
		Version:          ts.version,
		PID:              ts.pid,
		CPUFrequency:     ts.freq,
		BeginTime:        ts.begin,
		EndTime:          ts.end,
		TotalDescriptors: uint32(len(ts.descs)),
	}
	for _, desc := range ts.descs {
		h.DescriptorsMemorySize += 2
		if desc != nil {
			h.DescriptorsMemorySize += uint64(descriptorRecordSize(desc))
		}
	}
	for _, seg := range ts.segments {
		for i := range seg.cs {
			h.MemorySize += uint64(recordSize(&seg.cs[i], ts.tidSize()))
		}
		for i := range seg.blocks {
			h.MemorySize += uint64(recordSize(&seg.blocks[i], ts.tidSize()))
		}
		h.TotalBlocks += uint32(len(seg.cs) + len(seg.blocks))
	}
	return h
}

func (ts *testStream) bytes(t testing.TB) []byte {
	t.Helper()
	return ts.encode(t, ts.header())
}

// encode writes the stream with the given header, which need not match the contents.
func (ts *testStream) encode(t testing.TB, h Header) []byte {
	t.Helper()
	fixDescriptorIDs(ts)
	var out bytes.Buffer
	e := newEncoder(&out)
	e.u32(Signature)
	e.u32(uint32(h.Version))
	layoutFor(h.Version).write(e, &h)

	var buf []byte
	var err error
	for _, desc := range ts.descs {
		buf, err = appendDescriptor(buf[:0], desc)
		if err != nil {
			t.Fatal(err)
		}
		e.write(buf)
	}
	tidSize := h.Version.threadIDSize()
	for _, seg := range ts.segments {
		e.uint(tidSize, uint64(seg.id))
		e.u16(uint16(len(seg.name) + 1))
		e.write(append([]byte(seg.name), 0))
		e.u32(uint32(len(seg.cs)))
		for i := range seg.cs {
			buf, err = appendRecord(buf[:0], &seg.cs[i], 0, tidSize)
			if err != nil {
				t.Fatal(err)
			}
			e.write(buf)
		}
		e.u32(uint32(len(seg.blocks)))
		for i := range seg.blocks {
			b := &seg.blocks[i]
			buf, err = appendRecord(buf[:0], b, b.ID, tidSize)
			if err != nil {
				t.Fatal(err)
			}
			e.write(buf)
		}
	}
	if err := e.flush(); err != nil {
		t.Fatal(err)
	}
	return out.Bytes()
}

func blk(id BlockID, begin, end Timestamp) Block {
	return Block{Begin: begin, End: end, ID: id}
}

func named(id BlockID, name string, begin, end Timestamp) Block {
	return Block{Begin: begin, End: end, ID: id, Name: name}
}

func cswitch(target ThreadID, name string, begin, end Timestamp) Block {
	return Block{Begin: begin, End: end, Kind: KindContextSwitch, TargetThread: target, Name: name}
}

func value(id BlockID, at Timestamp, typ DataType, isArray bool, data []byte) Block {
	return Block{Begin: at, End: at, ID: id, Kind: KindValue, Value: &Value{ID: 7, Type: typ, IsArray: isArray, Data: data}}
}

// nestedStream returns a capture with two threads. The first thread has one frame A containing B, which contains C,
// and a context switch overlapping A. The second thread has a single frame D.
func nestedStream() *testStream {
	return &testStream{
		pid:   1234,
		begin: 0,
		end:   1000,
		descs: []*Descriptor{
			{Name: "A", File: "a.cpp", Line: 10, Type: BlockTypeBlock, Color: 0xff00ff00},
			{Name: "B", File: "b.cpp", Line: 20, Type: BlockTypeBlock},
			{Name: "C", File: "c.cpp", Line: 30, Type: BlockTypeBlock},
			{Name: "D", File: "d.cpp", Line: 40, Type: BlockTypeBlock},
		},
		segments: []testSegment{
			{
				id:     1,
				name:   "main",
				cs:     []Block{cswitch(3, "other", 120, 130)},
				blocks: []Block{blk(2, 200, 300), blk(1, 150, 350), blk(0, 100, 400)},
			},
			{
				id:     2,
				name:   "worker",
				blocks: []Block{blk(3, 500, 600)},
			},
		},
	}
}

// fixDescriptorIDs sets the IDs of the stream's descriptors to their positions, which is what the reader assigns.
func fixDescriptorIDs(ts *testStream) {
	for i, desc := range ts.descs {
		if desc != nil {
			desc.ID = BlockID(i)
			desc.StaticID = BlockID(i)
		}
	}
}
