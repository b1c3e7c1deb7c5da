package capture

import "fmt"

// Bounds on how much memory the arena reserves at once. Declared sizes come from untrusted headers.
const (
	minChunkSize = 64 << 10
	maxChunkSize = 64 << 20
)

// Arena is the backing store for the raw records of a capture. Its bound is set once from the size declared in the
// header. Slices returned by Alloc remain valid for the lifetime of the arena.
type Arena struct {
	chunks [][]byte
	n      int
	limit  int
}

// Set discards the arena's contents and bounds it to size bytes.
func (a *Arena) Set(size int) {
	*a = Arena{limit: max(size, 0)}
}

// Len returns the number of bytes allocated so far.
func (a *Arena) Len() int { return a.n }

// Cap returns the arena's bound.
func (a *Arena) Cap() int { return a.limit }

// Alloc reserves n bytes at the end of the arena and returns their offset and storage.
func (a *Arena) Alloc(n int) (int, []byte, error) {
	if n < 0 || n > a.limit-a.n {
		return 0, nil, fmt.Errorf("record of %d bytes exceeds arena bound of %d bytes (%d in use)", n, a.limit, a.n)
	}
	var c *[]byte
	if len(a.chunks) > 0 {
		c = &a.chunks[len(a.chunks)-1]
	}
	if c == nil || cap(*c)-len(*c) < n {
		// Never grow a chunk in place; that would invalidate slices we've handed out. Chunks double in size so that
		// a bogus declared size doesn't cause a huge allocation up front.
		size := minChunkSize
		if c != nil {
			size = 2 * cap(*c)
		}
		size = max(n, min(size, a.limit-a.n, maxChunkSize))
		a.chunks = append(a.chunks, make([]byte, 0, size))
		c = &a.chunks[len(a.chunks)-1]
	}
	off := a.n
	start := len(*c)
	*c = (*c)[:start+n]
	a.n += n
	return off, (*c)[start : start+n : start+n], nil
}
