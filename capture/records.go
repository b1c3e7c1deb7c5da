package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
)

var le = binary.LittleEndian

// BlockType is the kind of a descriptor.
type BlockType uint8

const (
	BlockTypeEvent BlockType = iota
	BlockTypeBlock
	BlockTypeValue
)

func (typ BlockType) String() string {
	switch typ {
	case BlockTypeEvent:
		return "event"
	case BlockTypeBlock:
		return "block"
	case BlockTypeValue:
		return "value"
	default:
		return fmt.Sprintf("BlockType(%d)", uint8(typ))
	}
}

// Descriptor is the static metadata shared by all occurrences of a block.
type Descriptor struct {
	// ID is the descriptor's slot in Capture.Descriptors.
	ID BlockID
	// StaticID is the ID stored in the stream. It differs from ID only for descriptors synthesized for blocks with
	// runtime names.
	StaticID BlockID
	Line     int32
	// Color is packed as ARGB.
	Color  uint32
	Type   BlockType
	Status uint8
	Name   string
	File   string
}

// Sizes of the fixed parts of serialized records, excluding the u16 length prefix.
const (
	descriptorFixedSize = 4 + 4 + 4 + 1 + 1 + 2
	blockFixedSize      = 8 + 8 + 4
	valueFixedSize      = blockFixedSize + 2 + 1 + 1
	cswitchFixedSize    = 8 + 8
	maxRecordSize       = math.MaxUint16
)

// cstring returns the bytes of b up to the first NUL, or all of b if there is none.
func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i != -1 {
		b = b[:i]
	}
	return string(b)
}

func parseDescriptor(p []byte) (*Descriptor, error) {
	if len(p) < descriptorFixedSize {
		return nil, fmt.Errorf("descriptor record of %d bytes is shorter than %d bytes", len(p), descriptorFixedSize)
	}
	desc := &Descriptor{
		ID:     BlockID(le.Uint32(p[0:])),
		Line:   int32(le.Uint32(p[4:])),
		Color:  le.Uint32(p[8:]),
		Type:   BlockType(p[12]),
		Status: p[13],
	}
	desc.StaticID = desc.ID
	nameLen := int(le.Uint16(p[14:]))
	rest := p[descriptorFixedSize:]
	if nameLen > len(rest) {
		return nil, fmt.Errorf("descriptor name of %d bytes exceeds record", nameLen)
	}
	desc.Name = cstring(rest[:nameLen])
	desc.File = cstring(rest[nameLen:])
	return desc, nil
}

func descriptorRecordSize(desc *Descriptor) int {
	return descriptorFixedSize + len(desc.Name) + 1 + len(desc.File) + 1
}

// appendDescriptor appends desc as a length-prefixed record. A nil descriptor is written as an empty record, which
// denotes a hole in the descriptor table.
func appendDescriptor(dst []byte, desc *Descriptor) ([]byte, error) {
	if desc == nil {
		return le.AppendUint16(dst, 0), nil
	}
	size := descriptorRecordSize(desc)
	if size > maxRecordSize {
		return dst, fmt.Errorf("descriptor %q is too large to serialize", desc.Name)
	}
	dst = le.AppendUint16(dst, uint16(size))
	dst = le.AppendUint32(dst, uint32(desc.StaticID))
	dst = le.AppendUint32(dst, uint32(desc.Line))
	dst = le.AppendUint32(dst, desc.Color)
	dst = append(dst, byte(desc.Type), desc.Status)
	dst = le.AppendUint16(dst, uint16(len(desc.Name)+1))
	dst = append(dst, desc.Name...)
	dst = append(dst, 0)
	dst = append(dst, desc.File...)
	dst = append(dst, 0)
	return dst, nil
}

// rawBlock is the fixed part of a block or value record. For values, end holds the value's ID.
type rawBlock struct {
	begin uint64
	end   uint64
	id    BlockID
}

func parseRawBlock(p []byte) (rawBlock, bool) {
	if len(p) < blockFixedSize {
		return rawBlock{}, false
	}
	return rawBlock{
		begin: le.Uint64(p[0:]),
		end:   le.Uint64(p[8:]),
		id:    BlockID(le.Uint32(p[16:])),
	}, true
}

func parseValue(p []byte) (*Value, error) {
	if len(p) < valueFixedSize {
		return nil, fmt.Errorf("value record of %d bytes is shorter than %d bytes", len(p), valueFixedSize)
	}
	size := int(le.Uint16(p[20:]))
	if valueFixedSize+size != len(p) {
		return nil, fmt.Errorf("value record of %d bytes declares a payload of %d bytes", len(p), size)
	}
	v := &Value{
		ID:      le.Uint64(p[8:]),
		Type:    DataType(p[22]),
		IsArray: p[23] != 0,
		Data:    p[valueFixedSize:],
	}
	return v, nil
}

type rawCSwitch struct {
	begin  uint64
	end    uint64
	target ThreadID
	name   string
}

func parseCSwitch(p []byte, tidSize int) (rawCSwitch, bool) {
	if len(p) < cswitchFixedSize+tidSize {
		return rawCSwitch{}, false
	}
	cs := rawCSwitch{
		begin: le.Uint64(p[0:]),
		end:   le.Uint64(p[8:]),
	}
	if tidSize == 4 {
		cs.target = ThreadID(le.Uint32(p[16:]))
	} else {
		cs.target = ThreadID(le.Uint64(p[16:]))
	}
	cs.name = cstring(p[cswitchFixedSize+tidSize:])
	return cs, true
}

// recordSize returns the serialized size of b, excluding the length prefix.
func recordSize(b *Block, tidSize int) int {
	switch b.Kind {
	case KindValue:
		return valueFixedSize + len(b.Value.Data)
	case KindContextSwitch:
		return cswitchFixedSize + tidSize + len(b.Name) + 1
	default:
		return blockFixedSize + len(b.Name) + 1
	}
}

// appendRecord appends b as a length-prefixed record, storing id as its block ID. Context switches ignore id.
func appendRecord(dst []byte, b *Block, id BlockID, tidSize int) ([]byte, error) {
	size := recordSize(b, tidSize)
	if size > maxRecordSize {
		return dst, fmt.Errorf("record of %d bytes exceeds the maximum record size", size)
	}
	dst = le.AppendUint16(dst, uint16(size))
	dst = le.AppendUint64(dst, uint64(b.Begin))
	switch b.Kind {
	case KindValue:
		v := b.Value
		dst = le.AppendUint64(dst, v.ID)
		dst = le.AppendUint32(dst, uint32(id))
		dst = le.AppendUint16(dst, uint16(len(v.Data)))
		var isArray byte
		if v.IsArray {
			isArray = 1
		}
		dst = append(dst, byte(v.Type), isArray)
		dst = append(dst, v.Data...)
	case KindContextSwitch:
		dst = le.AppendUint64(dst, uint64(b.End))
		if tidSize == 4 {
			if b.TargetThread > math.MaxUint32 {
				return dst, fmt.Errorf("thread ID %d doesn't fit in 32 bits", b.TargetThread)
			}
			dst = le.AppendUint32(dst, uint32(b.TargetThread))
		} else {
			dst = le.AppendUint64(dst, uint64(b.TargetThread))
		}
		dst = append(dst, b.Name...)
		dst = append(dst, 0)
	default:
		dst = le.AppendUint64(dst, uint64(b.End))
		dst = le.AppendUint32(dst, uint32(id))
		dst = append(dst, b.Name...)
		dst = append(dst, 0)
	}
	return dst, nil
}
