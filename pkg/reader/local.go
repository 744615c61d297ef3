package reader

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
)

// ReadLocalFileHeader reads the local header of f from a random access
// source of the given size. Names are decoded with charset, or
// auto-detected when it is nil.
//
// CRC and sizes that are zero in the local header, as left by writers that
// emit a data descriptor, are filled in from f.
func ReadLocalFileHeader(r io.ReaderAt, size int64, f *FileHeader, charset encoding.Encoding) (*LocalFileHeader, error) {
	offset := f.LocalHeaderOffset
	if offset < 0 || offset > size-fileHeaderLen {
		return nil, errors.Wrapf(ErrInconsistent, "local file header for %q: invalid offset %d", f.Name, offset)
	}
	sr := io.NewSectionReader(r, offset, size-offset)
	c := newCursor(bufio.NewReader(sr), offset, size)

	buf, err := c.read(4, "signature")
	if err != nil {
		return nil, errors.Wrapf(err, "local file header for %q", f.Name)
	}
	if sig := binary.LittleEndian.Uint32(buf); sig != fileHeaderSignature {
		return nil, errors.Wrapf(ErrFormat, "local file header for %q: invalid signature 0x%08x", f.Name, sig)
	}
	h, err := readLocalHeaderBody(c, textDecoder{charset: charset}, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "local file header for %q", f.Name)
	}

	if h.CRC32 == 0 {
		h.CRC32 = f.CRC32
	}
	if h.CompressedSize64 == 0 {
		h.CompressedSize64 = f.CompressedSize64
	}
	if h.UncompressedSize64 == 0 {
		h.UncompressedSize64 = f.UncompressedSize64
	}
	return h, nil
}

// readLocalHeaderBody parses a local header whose signature at offset has
// already been consumed.
func readLocalHeaderBody(c *cursor, dec textDecoder, offset int64) (*LocalFileHeader, error) {
	buf, err := c.read(fileHeaderLen-4, "header")
	if err != nil {
		return nil, err
	}
	b := readBuf(buf)
	h := &LocalFileHeader{
		VersionNeeded: b.uint16(),
		Flags:         b.uint16(),
		Method:        CompressionMethod(b.uint16()),
		ModifiedTime:  b.uint16(),
		ModifiedDate:  b.uint16(),
		CRC32:         b.uint32(),
		Offset:        offset,
	}
	compressed := b.uint32()
	uncompressed := b.uint32()
	h.CompressedSize64 = uint64(compressed)
	h.UncompressedSize64 = uint64(uncompressed)
	h.NameLength = b.uint16()
	h.ExtraLength = b.uint16()

	h.Modified = msDosTimeToTime(h.ModifiedDate, h.ModifiedTime)
	h.Encrypted = h.Flags&flagEncrypted != 0
	h.DataDescriptor = h.Flags&flagDataDescriptor != 0
	h.UTF8 = h.Flags&flagUTF8 != 0

	name, err := c.read(int(h.NameLength), "file name")
	if err != nil {
		return nil, err
	}
	if h.Name, h.NonUTF8, err = dec.decode(name, h.UTF8); err != nil {
		return nil, err
	}
	extra, err := c.read(int(h.ExtraLength), "extra field")
	if err != nil {
		return nil, err
	}
	h.Extra = DecodeExtraField(extra)
	h.HeaderLength = fileHeaderLen + int64(h.NameLength) + int64(h.ExtraLength)
	h.DataOffset = offset + h.HeaderLength

	// A local header has no offset or disk fields to override.
	h.Zip64, err = ResolveZip64(h.Extra, Zip64Legacy{
		UncompressedSize:  int64(uncompressed),
		CompressedSize:    int64(compressed),
		LocalHeaderOffset: NoOverride,
		DiskNumberStart:   NoOverride,
	})
	if err != nil {
		return nil, err
	}
	if z := h.Zip64; z != nil {
		if z.UncompressedSize != NoOverride {
			h.UncompressedSize64 = uint64(z.UncompressedSize)
		}
		if z.CompressedSize != NoOverride {
			h.CompressedSize64 = uint64(z.CompressedSize)
		}
	}

	if h.AES, err = ResolveAES(h.Extra); err != nil {
		return nil, err
	}
	h.Encryption = encryptionMethod(h.Flags, h.AES)
	return h, nil
}

// StreamReader parses local headers and data descriptors from a forward-only
// stream. It is itself an io.Reader, so entry data read through it keeps the
// offset count accurate.
type StreamReader struct {
	c   *cursor
	dec textDecoder
}

// NewStreamReader returns a StreamReader positioned at offset 0 of r.
func NewStreamReader(r io.Reader, optFns ...func(*Options)) (*StreamReader, error) {
	opts := newOptions(optFns)
	charset, err := lookupCharset(opts.Charset)
	if err != nil {
		return nil, err
	}
	return &StreamReader{c: newCursor(r, 0, -1), dec: textDecoder{charset: charset}}, nil
}

// Offset returns the number of bytes consumed so far.
func (s *StreamReader) Offset() int64 { return s.c.pos }

func (s *StreamReader) Read(p []byte) (int, error) {
	n, err := s.c.r.Read(p)
	s.c.pos += int64(n)
	return n, err
}

// ReadLocalFileHeader parses the next local header. It returns io.EOF once
// the stream is exhausted or has reached the central directory.
func (s *StreamReader) ReadLocalFileHeader() (*LocalFileHeader, error) {
	offset := s.c.pos
	var buf [4]byte
	n, err := io.ReadFull(s.c.r, buf[:])
	s.c.pos += int64(n)
	if n == 0 && err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, errors.Wrapf(ErrTruncated, "local file header at %d: signature", offset)
	}
	switch sig := binary.LittleEndian.Uint32(buf[:]); sig {
	case fileHeaderSignature:
	case directoryHeaderSignature, digitalSignatureSignature, directory64EndSignature, directoryEndSignature:
		return nil, io.EOF
	default:
		return nil, errors.Wrapf(ErrFormat, "local file header at %d: invalid signature 0x%08x", offset, sig)
	}
	h, err := readLocalHeaderBody(s.c, s.dec, offset)
	if err != nil {
		return nil, errors.Wrapf(err, "local file header at %d", offset)
	}
	return h, nil
}

// ReadDataDescriptor parses the data descriptor that follows streamed entry
// data. zip64 selects 8-byte sizes.
func (s *StreamReader) ReadDataDescriptor(zip64 bool) (*DataDescriptor, error) {
	offset := s.c.pos
	size := dataDescriptorLen
	if zip64 {
		size = dataDescriptor64Len
	}
	buf, err := s.c.read(size, "data descriptor")
	if err != nil {
		return nil, errors.Wrapf(err, "data descriptor at %d", offset)
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != dataDescriptorSignature {
		return nil, errors.Wrapf(ErrFormat, "data descriptor at %d: flag is set, but signature is 0x%08x", offset, sig)
	}
	d := &DataDescriptor{CRC32: b.uint32()}
	if zip64 {
		d.CompressedSize = b.uint64()
		d.UncompressedSize = b.uint64()
	} else {
		d.CompressedSize = uint64(b.uint32())
		d.UncompressedSize = uint64(b.uint32())
	}
	return d, nil
}
