// Package tinycompress writes zlib streams made of stored (uncompressed)
// deflate blocks. Any zlib reader accepts them, and the writer needs no
// Huffman tables or window, which keeps it small enough for firmware.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

// maxBlock is the largest payload a stored deflate block can carry.
const maxBlock = 0xFFFF

var ErrClosed = errors.New("tinycompress: write after close")

// Writer buffers everything written to it and emits the zlib stream on
// Close. Buffering lets the whole stream go out in one Write, which suits
// the byte-slice sinks firmware uses.
type Writer struct {
	w      io.Writer
	buf    []byte
	adler  hash.Hash32
	closed bool
}

// NewWriter returns a Writer that emits to w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w, adler: adler32.New()}
}

// NewWriterSize preallocates room for size input bytes, so a caller that
// knows its payload up front does not allocate during Write.
func NewWriterSize(w io.Writer, size int) *Writer {
	z := NewWriter(w)
	z.buf = make([]byte, 0, size)
	return z
}

func (z *Writer) Write(p []byte) (int, error) {
	if z.closed {
		return 0, ErrClosed
	}
	z.buf = append(z.buf, p...)
	return len(p), nil
}

// Close writes the zlib header, the stored blocks and the Adler-32 trailer.
// The underlying writer is not closed.
func (z *Writer) Close() error {
	if z.closed {
		return nil
	}
	z.closed = true

	// CMF 0x78 (deflate, 32K window), FLG 0x01 (no dict, fastest; check bits)
	out := make([]byte, 0, StoredSize(len(z.buf)))
	out = append(out, 0x78, 0x01)

	data := z.buf
	for {
		n := len(data)
		if n > maxBlock {
			n = maxBlock
		}
		var final byte
		if n == len(data) {
			final = 1
		}
		ln := uint16(n)
		out = append(out, final, byte(ln), byte(ln>>8), byte(^ln), byte(^ln>>8))
		out = append(out, data[:n]...)
		data = data[n:]
		if final == 1 {
			break
		}
	}

	z.adler.Reset()
	z.adler.Write(z.buf)
	sum := z.adler.Sum32()
	out = append(out, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))

	_, err := z.w.Write(out)
	return err
}

// Reset discards buffered input and retargets the writer at w.
func (z *Writer) Reset(w io.Writer) {
	z.w = w
	z.buf = z.buf[:0]
	z.closed = false
}

// StoredSize returns the length of the stream Close emits for n input bytes.
func StoredSize(n int) int {
	blocks := n / maxBlock
	if n%maxBlock != 0 || n == 0 {
		blocks++
	}
	return 2 + blocks*5 + n + 4
}
