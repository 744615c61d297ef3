package reader

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"
)

type readBuf []byte

func (b *readBuf) uint8() uint8 {
	v := (*b)[0]
	*b = (*b)[1:]
	return v
}

func (b *readBuf) uint16() uint16 {
	v := binary.LittleEndian.Uint16(*b)
	*b = (*b)[2:]
	return v
}

func (b *readBuf) uint32() uint32 {
	v := binary.LittleEndian.Uint32(*b)
	*b = (*b)[4:]
	return v
}

func (b *readBuf) uint64() uint64 {
	v := binary.LittleEndian.Uint64(*b)
	*b = (*b)[8:]
	return v
}

func (b *readBuf) sub(n int) readBuf {
	b2 := (*b)[:n]
	*b = (*b)[n:]
	return b2
}

func (b *readBuf) skip(n int) *readBuf {
	*b = (*b)[n:]
	return b
}

// cursor reads a region sequentially, keeping the absolute position so that
// declared lengths can be checked against the end of the region before any
// bytes are read.
type cursor struct {
	r     io.Reader
	pos   int64
	limit int64 // absolute end of the readable region, -1 if unknown
}

func newCursor(r io.Reader, pos, limit int64) *cursor {
	return &cursor{r: r, pos: pos, limit: limit}
}

// remaining returns the bytes left before limit, or -1 if the limit is unknown.
func (c *cursor) remaining() int64 {
	if c.limit < 0 {
		return -1
	}
	return c.limit - c.pos
}

// read returns exactly n bytes. what names the field in errors.
func (c *cursor) read(n int, what string) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if rem := c.remaining(); rem >= 0 && int64(n) > rem {
		return nil, errors.Wrapf(ErrInconsistent, "%s: %d bytes declared at offset %d, only %d available", what, n, c.pos, rem)
	}
	buf := make([]byte, n)
	m, err := io.ReadFull(c.r, buf)
	c.pos += int64(m)
	if err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrapf(ErrTruncated, "%s: read %d of %d bytes", what, m, n)
		}
		return nil, errors.Wrapf(err, "%s", what)
	}
	return buf, nil
}

func readFullAt(r io.ReaderAt, buf []byte, off int64, what string) error {
	n, err := r.ReadAt(buf, off)
	if n == len(buf) {
		return nil
	}
	if err == nil || err == io.EOF {
		return errors.Wrapf(ErrTruncated, "%s: read %d of %d bytes at offset %d", what, n, len(buf), off)
	}
	return errors.Wrapf(err, "%s", what)
}

func msDosTimeToTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		// date bits 0-4: day of month; 5-8: month; 9-15: years since 1980
		int(dosDate>>9+1980),
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),

		// time bits 0-4: second/2; 5-10: minute; 11-15: hour
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f*2),
		0, // nanoseconds

		time.UTC,
	)
}
