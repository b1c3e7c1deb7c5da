// Package capture reads and writes easy_profiler capture streams and rebuilds the per-thread block trees they
// describe.
//
// A capture consists of a fixed header, a table of block descriptors and a sequence of thread segments. Each thread
// segment carries the context switches and the blocks recorded for one thread. Blocks are stored flat, in the order in
// which they were closed, and the reader folds them back into call trees.
package capture

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

// Timestamp is a point in time. After decoding, timestamps are in nanoseconds.
type Timestamp uint64

// BlockID is the dense index of a block's descriptor.
type BlockID uint32

// ThreadID identifies the OS thread that recorded a segment.
type ThreadID uint64

// BlockIndex is the index of a block in Capture.Blocks.
type BlockIndex uint32

// InvalidBlockIndex denotes the absence of a block, e.g. the parent of a frame.
const InvalidBlockIndex = ^BlockIndex(0)

// Signature is the magic number every capture stream starts with.
const Signature uint32 = 'E'<<24 | 'a'<<16 | 's'<<8 | 'y'

// Version is a format version packed as major<<24 | minor<<16 | patch.
type Version uint32

const (
	// MinCompatibleVersion is the oldest format we can read. The format didn't change in incompatible ways since.
	MinCompatibleVersion Version = 0<<24 | 1<<16
	// Version100 added the process ID to the header.
	Version100 Version = 1 << 24
	// Version130 widened thread IDs from 32 to 64 bits.
	Version130 Version = 1<<24 | 3<<16
	// Version200 rearranged the header.
	Version200 Version = 2 << 24
	// CurrentVersion is the version we write by default.
	CurrentVersion Version = 2<<24 | 1<<16
)

func MakeVersion(major, minor uint8, patch uint16) Version {
	return Version(uint32(major)<<24 | uint32(minor)<<16 | uint32(patch))
}

func (v Version) Major() uint8   { return uint8(v >> 24) }
func (v Version) Minor() uint8   { return uint8(v >> 16) }
func (v Version) Patch() uint16  { return uint16(v) }
func (v Version) String() string { return fmt.Sprintf("v%d.%d.%d", v.Major(), v.Minor(), v.Patch()) }

// ParseVersion parses a version of the form "2.1.0" or "v2.1.0".
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(strings.TrimPrefix(s, "v"), ".")
	if len(parts) != 3 {
		return 0, fmt.Errorf("malformed version %q", s)
	}
	var fields [3]uint64
	for i, part := range parts {
		bits := 8
		if i == 2 {
			bits = 16
		}
		n, err := strconv.ParseUint(part, 10, bits)
		if err != nil {
			return 0, fmt.Errorf("malformed version %q: %w", s, err)
		}
		fields[i] = n
	}
	return MakeVersion(uint8(fields[0]), uint8(fields[1]), uint16(fields[2])), nil
}

// Compatible reports whether captures of version v can be read.
func (v Version) Compatible() bool { return v >= MinCompatibleVersion }

func (v Version) threadIDSize() int {
	if v < Version130 {
		return 4
	}
	return 8
}

var (
	// ErrNotCapture is returned when a stream doesn't start with Signature.
	ErrNotCapture = errors.New("this is not an EasyProfiler file/stream")
	// ErrIncompatibleVersion is returned for streams older than MinCompatibleVersion.
	ErrIncompatibleVersion = errors.New("incompatible version")
	// ErrCanceled is returned when reading or writing was interrupted via Progress.Cancel.
	ErrCanceled = errors.New("interrupted")
	// ErrNothingToSave is returned by the writer when there are no blocks to write.
	ErrNothingToSave = errors.New("nothing to save")

	errReadCanceled  = fmt.Errorf("reading was %w", ErrCanceled)
	errWriteCanceled = fmt.Errorf("writing was %w", ErrCanceled)
)

// FormatError describes corrupt or inconsistent capture data.
type FormatError struct {
	// Offset in the stream at which the problem was detected.
	Offset int64
	Msg    string
}

func (err *FormatError) Error() string {
	return fmt.Sprintf("capture corrupted at offset %d: %s", err.Offset, err.Msg)
}

// Header is the fixed-size header of a capture stream. BeginTime and EndTime are stored as recorded, i.e. in CPU ticks
// if CPUFrequency is non-zero.
type Header struct {
	Version               Version
	PID                   uint64
	CPUFrequency          int64
	BeginTime             Timestamp
	EndTime               Timestamp
	MemorySize            uint64
	DescriptorsMemorySize uint64
	TotalBlocks           uint32
	TotalDescriptors      uint32
}

// headerLayout is one of the historical arrangements of the header fields following signature and version.
type headerLayout struct {
	name  string
	read  func(d *decoder, h *Header) error
	write func(e *encoder, h *Header)
}

var (
	// layoutA is used by versions before 2.0.0.
	layoutA = headerLayout{name: "A", read: readHeaderA, write: writeHeaderA}
	// layoutB is used by 2.0.0 and later.
	layoutB = headerLayout{name: "B", read: readHeaderB, write: writeHeaderB}
)

func layoutFor(v Version) *headerLayout {
	if v < Version200 {
		return &layoutA
	}
	return &layoutB
}

func readHeaderA(d *decoder, h *Header) error {
	if h.Version > Version100 {
		if h.Version < Version130 {
			h.PID = uint64(d.u32())
		} else {
			h.PID = d.u64()
		}
	}
	h.CPUFrequency = int64(d.u64())
	h.BeginTime = Timestamp(d.u64())
	h.EndTime = Timestamp(d.u64())

	h.TotalBlocks = d.u32()
	if err := d.check(h.TotalBlocks == 0, "profiled blocks number == 0"); err != nil {
		return err
	}
	h.MemorySize = d.u64()
	if err := d.check(h.MemorySize == 0, fmt.Sprintf("wrong memory size == 0 for %d blocks", h.TotalBlocks)); err != nil {
		return err
	}
	h.TotalDescriptors = d.u32()
	if err := d.check(h.TotalDescriptors == 0, "blocks description number == 0"); err != nil {
		return err
	}
	h.DescriptorsMemorySize = d.u64()
	return d.check(h.DescriptorsMemorySize == 0,
		fmt.Sprintf("wrong memory size == 0 for %d blocks descriptions", h.TotalDescriptors))
}

func readHeaderB(d *decoder, h *Header) error {
	h.PID = d.u64()
	h.CPUFrequency = int64(d.u64())
	h.BeginTime = Timestamp(d.u64())
	h.EndTime = Timestamp(d.u64())

	h.MemorySize = d.u64()
	if err := d.check(h.MemorySize == 0, "wrong memory size == 0 for blocks"); err != nil {
		return err
	}
	h.DescriptorsMemorySize = d.u64()
	if err := d.check(h.DescriptorsMemorySize == 0, "wrong memory size == 0 for blocks descriptions"); err != nil {
		return err
	}
	h.TotalBlocks = d.u32()
	if err := d.check(h.TotalBlocks == 0, "profiled blocks number == 0"); err != nil {
		return err
	}
	h.TotalDescriptors = d.u32()
	return d.check(h.TotalDescriptors == 0, "blocks description number == 0")
}

func writeHeaderA(e *encoder, h *Header) {
	if h.Version > Version100 {
		if h.Version < Version130 {
			e.u32(uint32(h.PID))
		} else {
			e.u64(h.PID)
		}
	}
	e.u64(uint64(h.CPUFrequency))
	e.u64(uint64(h.BeginTime))
	e.u64(uint64(h.EndTime))
	e.u32(h.TotalBlocks)
	e.u64(h.MemorySize)
	e.u32(h.TotalDescriptors)
	e.u64(h.DescriptorsMemorySize)
}

func writeHeaderB(e *encoder, h *Header) {
	e.u64(h.PID)
	e.u64(uint64(h.CPUFrequency))
	e.u64(uint64(h.BeginTime))
	e.u64(uint64(h.EndTime))
	e.u64(h.MemorySize)
	e.u64(h.DescriptorsMemorySize)
	e.u32(h.TotalBlocks)
	e.u32(h.TotalDescriptors)
}

// readPreamble reads and validates the signature and version shared by capture and descriptor streams.
func readPreamble(d *decoder) (Version, error) {
	sig := d.u32()
	if d.err != nil {
		return 0, fmt.Errorf("failed to read header: %w", d.err)
	}
	if sig != Signature {
		return 0, fmt.Errorf("wrong signature %#08x: %w", sig, ErrNotCapture)
	}
	v := Version(d.u32())
	if d.err != nil {
		return 0, fmt.Errorf("failed to read header: %w", d.err)
	}
	if !v.Compatible() {
		return v, fmt.Errorf("%w: %v", ErrIncompatibleVersion, v)
	}
	return v, nil
}

// ReadHeader reads the capture header from r without reading any further.
func ReadHeader(r io.Reader) (Header, error) {
	d := newDecoder(r)
	v, err := readPreamble(d)
	if err != nil {
		return Header{}, err
	}
	h := Header{Version: v}
	if err := layoutFor(v).read(d, &h); err != nil {
		return Header{}, err
	}
	return h, nil
}

// Duration converts a span of nanosecond timestamps to a time.Duration.
func Duration(begin, end Timestamp) time.Duration {
	if end < begin {
		return 0
	}
	return time.Duration(end - begin)
}

// decoder reads little-endian values from a buffered stream. The first error sticks; all further reads return zero
// values, so callers only need to check for errors at points where they make decisions.
type decoder struct {
	r       *bufio.Reader
	off     int64
	err     error
	scratch [8]byte
}

func newDecoder(r io.Reader) *decoder {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReaderSize(r, 64*1024)
	}
	return &decoder{r: br}
}

func (d *decoder) read(b []byte) {
	if d.err != nil {
		clear(b)
		return
	}
	n, err := io.ReadFull(d.r, b)
	d.off += int64(n)
	if err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		d.err = &FormatError{Offset: d.off, Msg: fmt.Sprintf("failed to read %d bytes: %v", len(b), err)}
	}
}

// atEOF reports whether the stream ended cleanly at the current offset.
func (d *decoder) atEOF() bool {
	if d.err != nil {
		return false
	}
	_, err := d.r.Peek(1)
	return err == io.EOF
}

func (d *decoder) u16() uint16 {
	d.read(d.scratch[:2])
	return le.Uint16(d.scratch[:2])
}

func (d *decoder) u32() uint32 {
	d.read(d.scratch[:4])
	return le.Uint32(d.scratch[:4])
}

func (d *decoder) u64() uint64 {
	d.read(d.scratch[:8])
	return le.Uint64(d.scratch[:8])
}

// uint reads an unsigned integer of size 4 or 8.
func (d *decoder) uint(size int) uint64 {
	if size == 4 {
		return uint64(d.u32())
	}
	return d.u64()
}

// check returns the sticky error if there is one, or a FormatError with msg if bad is true.
func (d *decoder) check(bad bool, msg string) error {
	if d.err != nil {
		return d.err
	}
	if bad {
		return d.corrupt(msg)
	}
	return nil
}

func (d *decoder) corrupt(msg string) error {
	return &FormatError{Offset: d.off, Msg: msg}
}

func (d *decoder) corruptf(format string, args ...any) error {
	return d.corrupt(fmt.Sprintf(format, args...))
}

// encoder writes little-endian values to a buffered stream, remembering the first error.
type encoder struct {
	w       *bufio.Writer
	err     error
	scratch []byte
}

func newEncoder(w io.Writer) *encoder {
	return &encoder{w: bufio.NewWriterSize(w, 64*1024)}
}

func (e *encoder) write(b []byte) {
	if e.err != nil {
		return
	}
	_, e.err = e.w.Write(b)
}

func (e *encoder) u16(v uint16) { e.scratch = le.AppendUint16(e.scratch[:0], v); e.write(e.scratch) }
func (e *encoder) u32(v uint32) { e.scratch = le.AppendUint32(e.scratch[:0], v); e.write(e.scratch) }
func (e *encoder) u64(v uint64) { e.scratch = le.AppendUint64(e.scratch[:0], v); e.write(e.scratch) }

func (e *encoder) uint(size int, v uint64) {
	if size == 4 {
		e.u32(uint32(v))
	} else {
		e.u64(v)
	}
}

func (e *encoder) flush() error {
	if e.err != nil {
		return e.err
	}
	return e.w.Flush()
}
