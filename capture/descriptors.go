package capture

import (
	"fmt"
	"io"
	"math"
)

// ReadDescriptors reads a descriptor stream, which consists of the signature, the version, the number of descriptors,
// the size of the descriptor records and the records themselves. Holes in the table are returned as nil entries.
func ReadDescriptors(r io.Reader, opts ReadOptions) ([]*Descriptor, error) {
	descs, err := readDescriptors(r, opts)
	if err != nil {
		reportError(opts.Log, err)
		opts.logger().Debug().Err(err).Msg("failed to read descriptors")
		return nil, err
	}
	return descs, nil
}

func readDescriptors(r io.Reader, opts ReadOptions) ([]*Descriptor, error) {
	if !opts.Progress.update(0) {
		return nil, errReadCanceled
	}
	d := newDecoder(r)
	v, err := readPreamble(d)
	if err != nil {
		return nil, err
	}
	count := d.u32()
	if err := d.check(count == 0, "blocks description number == 0"); err != nil {
		return nil, err
	}
	mem := d.u64()
	if err := d.check(mem == 0, fmt.Sprintf("wrong memory size == 0 for %d blocks descriptions", count)); err != nil {
		return nil, err
	}
	if mem > math.MaxInt {
		return nil, d.corrupt("declared memory size is too large")
	}
	var arena Arena
	arena.Set(int(mem))
	descs, err := readDescriptorRecords(d, &arena, int(count), opts.Progress, 100)
	if err != nil {
		return nil, err
	}
	opts.logger().Debug().Stringer("version", v).Int("descriptors", len(descs)).Msg("read descriptors")
	return descs, nil
}

// WriteDescriptors writes descs as a descriptor stream of the current version. Nil entries are written as holes.
func WriteDescriptors(w io.Writer, descs []*Descriptor, opts WriteOptions) error {
	err := writeDescriptors(w, descs, opts)
	if err != nil {
		reportError(opts.Log, err)
		opts.logger().Debug().Err(err).Msg("failed to write descriptors")
	}
	return err
}

func writeDescriptors(w io.Writer, descs []*Descriptor, opts WriteOptions) error {
	if len(descs) == 0 {
		return ErrNothingToSave
	}
	if len(descs) > math.MaxUint32 {
		return fmt.Errorf("can't write %d descriptors", len(descs))
	}
	version := opts.Version
	if version == 0 {
		version = CurrentVersion
	}
	var mem uint64
	for _, desc := range descs {
		mem += 2
		if desc != nil {
			mem += uint64(descriptorRecordSize(desc))
		}
	}

	e := newEncoder(w)
	e.u32(Signature)
	e.u32(uint32(version))
	e.u32(uint32(len(descs)))
	e.u64(mem)
	var buf []byte
	for i, desc := range descs {
		var err error
		buf, err = appendDescriptor(buf[:0], desc)
		if err != nil {
			return err
		}
		e.write(buf)
		if !opts.Progress.update(100 * (i + 1) / len(descs)) {
			return errWriteCanceled
		}
	}
	return e.flush()
}
