package capture

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

var (
	snappyMagic = []byte("\xff\x06\x00\x00sNaPpY")
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Compression is the container format of a capture file.
type Compression uint8

const (
	CompressionNone Compression = iota
	// CompressionSnappy is the snappy framing format.
	CompressionSnappy
	CompressionZstd
)

func (comp Compression) String() string {
	switch comp {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(comp))
	}
}

// CompressionForPath picks the compression for a file based on its extension: .sz for snappy, .zst for zstd.
func CompressionForPath(path string) Compression {
	switch filepath.Ext(path) {
	case ".sz":
		return CompressionSnappy
	case ".zst":
		return CompressionZstd
	default:
		return CompressionNone
	}
}

// Decompress returns a reader that transparently decompresses r if it starts with a snappy or zstd frame. The returned
// function releases the decompressor's resources.
func Decompress(r io.Reader) (io.Reader, func(), error) {
	br := bufio.NewReaderSize(r, 64*1024)
	magic, err := br.Peek(len(snappyMagic))
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return nil, nil, err
	}
	switch {
	case bytes.HasPrefix(magic, snappyMagic):
		return bufio.NewReaderSize(snappy.NewReader(br), 64*1024), func() {}, nil
	case bytes.HasPrefix(magic, zstdMagic):
		dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(0))
		if err != nil {
			return nil, nil, err
		}
		return bufio.NewReaderSize(dec, 64*1024), dec.Close, nil
	default:
		return br, func() {}, nil
	}
}

// ReadFile reads the capture stored at path. Compressed files are detected by their contents.
func ReadFile(path string, opts ReadOptions) (*Capture, error) {
	f, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("can not open file %s: %w", path, err)
		reportError(opts.Log, err)
		return nil, err
	}
	defer f.Close()
	r, done, err := Decompress(f)
	if err != nil {
		err = fmt.Errorf("can not read file %s: %w", path, err)
		reportError(opts.Log, err)
		return nil, err
	}
	defer done()
	return ReadStream(r, opts)
}

// ReadDescriptorsFile reads the descriptor stream stored at path.
func ReadDescriptorsFile(path string, opts ReadOptions) ([]*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		err = fmt.Errorf("can not open file %s: %w", path, err)
		reportError(opts.Log, err)
		return nil, err
	}
	defer f.Close()
	r, done, err := Decompress(f)
	if err != nil {
		err = fmt.Errorf("can not read file %s: %w", path, err)
		reportError(opts.Log, err)
		return nil, err
	}
	defer done()
	return ReadDescriptors(r, opts)
}

// WriteFile writes the window [begin, end] of c to path, compressing it according to CompressionForPath. If writing
// fails, the partially written file is removed.
func WriteFile(path string, c *Capture, begin, end Timestamp, opts WriteOptions) (n int, err error) {
	f, err := os.Create(path)
	if err != nil {
		err = fmt.Errorf("can not open file %s: %w", path, err)
		reportError(opts.Log, err)
		return 0, err
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			n, err = 0, cerr
			reportError(opts.Log, err)
		}
		if err != nil {
			os.Remove(path)
		}
	}()

	switch CompressionForPath(path) {
	case CompressionSnappy:
		zw := snappy.NewBufferedWriter(f)
		n, err = WriteStream(zw, c, begin, end, opts)
		if cerr := zw.Close(); err == nil && cerr != nil {
			n, err = 0, cerr
		}
	case CompressionZstd:
		zw, zerr := zstd.NewWriter(f)
		if zerr != nil {
			return 0, zerr
		}
		n, err = WriteStream(zw, c, begin, end, opts)
		if cerr := zw.Close(); err == nil && cerr != nil {
			n, err = 0, cerr
		}
	default:
		n, err = WriteStream(f, c, begin, end, opts)
	}
	return n, err
}
