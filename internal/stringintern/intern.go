// Package stringintern batches decoded string/signature bytes into a
// reusable buffer and hands callers unsafe.String views over it,
// trading a per-string allocation for an occasional buffer reallocation
// (adapted from the connection decoder's stringConverter).
package stringintern

import (
	"bytes"
	"unsafe"
)

// Interner converts decoded byte slices to strings with fewer
// allocations. It is not safe for concurrent use; the I/O executor owns
// one per connection.
type Interner struct {
	buf    *bytes.Buffer
	cap    int
	offset int
}

// New creates an Interner backed by a buffer of the given capacity.
func New(cap int) *Interner {
	return &Interner{
		buf: bytes.NewBuffer(make([]byte, 0, cap)),
		cap: cap,
	}
}

// String returns a string view over b, batched into the interner's
// current buffer. Once the buffer fills past its capacity a fresh one
// is allocated; strings already handed out remain valid since they keep
// the old buffer alive through the unsafe.String's backing array.
func (c *Interner) String(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	if c.buf.Len() > c.cap {
		c.buf = bytes.NewBuffer(make([]byte, 0, c.cap))
		c.offset = 0
	}

	n, _ := c.buf.Write(b) // bytes.Buffer.Write never errors
	view := c.buf.Bytes()[c.offset:]
	s := unsafe.String(&view[0], len(view))
	c.offset += n
	return s
}
