package reader

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
)

// FindEndOfCentralDirectory locates and parses the EOCD record.
//
// The signature is searched backward from size-22, one byte at a time, for
// at most maxEOCDScan steps. A match whose comment length would run past the
// end of the file is skipped, so a stray signature inside the comment only
// wins if it also looks like a complete record.
func FindEndOfCentralDirectory(r io.ReaderAt, size int64) (*EndOfCentralDirectoryRecord, error) {
	if size < directoryEndLen {
		return nil, errors.Wrapf(ErrFormat, "end of central directory: file is %d bytes", size)
	}
	start := size - directoryEndLen
	lowest := start - maxEOCDScan
	if lowest < 0 {
		lowest = 0
	}
	buf := make([]byte, size-lowest)
	if err := readFullAt(r, buf, lowest, "end of central directory"); err != nil {
		return nil, err
	}

	rejected := false
	for p := int(start - lowest); p >= 0; p-- {
		if binary.LittleEndian.Uint32(buf[p:]) != directoryEndSignature {
			continue
		}
		b := readBuf(buf[p+4 : p+directoryEndLen])
		d := &EndOfCentralDirectoryRecord{
			DiskNumber:             b.uint16(),
			CentralDirectoryDisk:   b.uint16(),
			EntriesThisDisk:        b.uint16(),
			TotalEntries:           b.uint16(),
			CentralDirectorySize:   b.uint32(),
			CentralDirectoryOffset: b.uint32(),
			Offset:                 lowest + int64(p),
		}
		l := int(b.uint16())
		if p+directoryEndLen+l > len(buf) {
			log.Debugf("zip: skipping eocd candidate at %d, comment length %d runs past end of file", d.Offset, l)
			rejected = true
			continue
		}
		if l > 0 {
			d.Comment = make([]byte, l)
			copy(d.Comment, buf[p+directoryEndLen:])
		}
		return d, nil
	}
	if rejected {
		return nil, errors.Wrap(ErrInconsistent, "end of central directory: comment length exceeds file")
	}
	return nil, errors.Wrap(ErrFormat, "end of central directory: signature not found")
}

// ReadZip64Locator reads the Zip64 EOCD locator stored right before the EOCD
// record. It returns nil without error when the archive is not Zip64.
func ReadZip64Locator(r io.ReaderAt, eocd *EndOfCentralDirectoryRecord) (*Zip64EndOfCentralDirectoryLocator, error) {
	// 4 locator signature, 4 disk with zip64 eocd, 8 zip64 eocd offset, 4 total disks
	locOffset := eocd.Offset - directory64LocLen
	if locOffset < 0 {
		return nil, nil // no need to look for a header outside the file
	}
	var buf [directory64LocLen]byte
	if err := readFullAt(r, buf[:], locOffset, "zip64 end of central directory locator"); err != nil {
		return nil, err
	}
	b := readBuf(buf[:])
	if sig := b.uint32(); sig != directory64LocSignature {
		return nil, nil
	}
	return &Zip64EndOfCentralDirectoryLocator{
		Zip64RecordDisk:   b.uint32(),
		Zip64RecordOffset: b.uint64(),
		TotalDisks:        b.uint32(),
	}, nil
}

// ReadZip64Record reads the Zip64 EOCD record the locator points at. The
// record must start after offset 0 and end before the locator.
func ReadZip64Record(r io.ReaderAt, eocd *EndOfCentralDirectoryRecord, loc *Zip64EndOfCentralDirectoryLocator) (*Zip64EndOfCentralDirectoryRecord, error) {
	locOffset := eocd.Offset - directory64LocLen
	offset := int64(loc.Zip64RecordOffset)
	if offset <= 0 || offset > locOffset-directory64EndLen {
		return nil, errors.Wrapf(ErrInconsistent, "zip64 end of central directory: invalid offset %d", loc.Zip64RecordOffset)
	}

	var buf [directory64EndLen]byte
	if err := readFullAt(r, buf[:], offset, "zip64 end of central directory"); err != nil {
		return nil, err
	}
	b := readBuf(buf[:])
	if sig := b.uint32(); sig != directory64EndSignature {
		return nil, errors.Wrapf(ErrFormat, "zip64 end of central directory: invalid signature 0x%08x", sig)
	}
	d := &Zip64EndOfCentralDirectoryRecord{
		RecordSize:             b.uint64(),
		VersionMadeBy:          b.uint16(),
		VersionNeeded:          b.uint16(),
		DiskNumber:             b.uint32(),
		CentralDirectoryDisk:   b.uint32(),
		EntriesThisDisk:        b.uint64(),
		TotalEntries:           b.uint64(),
		CentralDirectorySize:   b.uint64(),
		CentralDirectoryOffset: b.uint64(),
	}
	if d.RecordSize < directory64FixedLen {
		return nil, errors.Wrapf(ErrInconsistent, "zip64 end of central directory: record size %d", d.RecordSize)
	}
	ext := d.RecordSize - directory64FixedLen
	if ext > uint64(locOffset-offset-directory64EndLen) {
		return nil, errors.Wrapf(ErrInconsistent, "zip64 end of central directory: %d bytes of extensible data overlap the locator", ext)
	}
	if ext > 0 {
		d.ExtensibleData = make([]byte, ext)
		if err := readFullAt(r, d.ExtensibleData, offset+directory64EndLen, "zip64 extensible data"); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// DirectoryLocation tells ReadCentralDirectory where to look.
type DirectoryLocation struct {
	Offset  int64
	Size    uint64
	Entries uint64
	// End is where the central directory region must stop: the Zip64 EOCD
	// record if present, otherwise the EOCD record.
	End int64
}

// ReadCentralDirectory reads loc.Entries file headers, followed by the
// optional digital signature. Names and comments are decoded with charset,
// or auto-detected when it is nil.
func ReadCentralDirectory(r io.ReaderAt, loc DirectoryLocation, charset encoding.Encoding) ([]*FileHeader, *DigitalSignature, error) {
	dec := textDecoder{charset: charset}
	if loc.Offset < 0 || loc.Offset > loc.End {
		return nil, nil, errors.Wrapf(ErrInconsistent, "central directory: offset %d outside archive", loc.Offset)
	}
	avail := loc.End - loc.Offset
	if loc.Size > uint64(avail) {
		return nil, nil, errors.Wrapf(ErrInconsistent, "central directory: size %d exceeds the %d bytes before its end record", loc.Size, avail)
	}
	if loc.Entries > uint64(avail)/directoryHeaderLen {
		return nil, nil, errors.Wrapf(ErrInconsistent, "central directory: declares impossible %d entries in %d bytes", loc.Entries, avail)
	}

	sr := io.NewSectionReader(r, loc.Offset, avail)
	c := newCursor(bufio.NewReaderSize(sr, 64*1024), loc.Offset, loc.End)

	files := make([]*FileHeader, 0, loc.Entries)
	for i := uint64(0); i < loc.Entries; i++ {
		f, err := readDirectoryHeader(c, dec)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "central directory entry #%d", i+1)
		}
		files = append(files, f)
	}

	sig, err := readDigitalSignature(c)
	if err != nil {
		return nil, nil, err
	}
	return files, sig, nil
}

func readDirectoryHeader(c *cursor, dec textDecoder) (*FileHeader, error) {
	buf, err := c.read(directoryHeaderLen, "header")
	if err != nil {
		return nil, err
	}
	b := readBuf(buf)
	if sig := b.uint32(); sig != directoryHeaderSignature {
		return nil, errors.Wrapf(ErrFormat, "expected central directory signature, got 0x%08x", sig)
	}

	f := &FileHeader{
		VersionMadeBy: b.uint16(),
		VersionNeeded: b.uint16(),
		Flags:         b.uint16(),
		Method:        CompressionMethod(b.uint16()),
		ModifiedTime:  b.uint16(),
		ModifiedDate:  b.uint16(),
		CRC32:         b.uint32(),
	}
	f.CompressedSize = b.uint32()
	f.UncompressedSize = b.uint32()
	f.CompressedSize64 = uint64(f.CompressedSize)
	f.UncompressedSize64 = uint64(f.UncompressedSize)
	f.NameLength = b.uint16()
	f.ExtraLength = b.uint16()
	f.CommentLength = b.uint16()
	f.DiskNumberStart = uint32(b.uint16())
	f.InternalAttrs = b.uint16()
	f.ExternalAttrs = b.uint32()
	f.LocalHeaderOffset = int64(b.uint32())

	f.Modified = msDosTimeToTime(f.ModifiedDate, f.ModifiedTime)
	f.Encrypted = f.Flags&flagEncrypted != 0
	f.DataDescriptor = f.Flags&flagDataDescriptor != 0
	f.UTF8 = f.Flags&flagUTF8 != 0

	name, err := c.read(int(f.NameLength), "file name")
	if err != nil {
		return nil, err
	}
	if f.Name, f.NonUTF8, err = dec.decode(name, f.UTF8); err != nil {
		return nil, err
	}
	f.Directory = strings.HasSuffix(f.Name, "/") || strings.HasSuffix(f.Name, "\\")

	extra, err := c.read(int(f.ExtraLength), "extra field")
	if err != nil {
		return nil, err
	}
	f.Extra = DecodeExtraField(extra)

	// Update directory values from the zip64 extra block. Only fields that
	// are maxed out in the fixed header are stored there.
	f.Zip64, err = ResolveZip64(f.Extra, Zip64Legacy{
		UncompressedSize:  int64(f.UncompressedSize),
		CompressedSize:    int64(f.CompressedSize),
		LocalHeaderOffset: f.LocalHeaderOffset,
		DiskNumberStart:   int64(f.DiskNumberStart),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "%q", f.Name)
	}
	if z := f.Zip64; z != nil {
		if z.UncompressedSize != NoOverride {
			f.UncompressedSize64 = uint64(z.UncompressedSize)
		}
		if z.CompressedSize != NoOverride {
			f.CompressedSize64 = uint64(z.CompressedSize)
		}
		if z.LocalHeaderOffset != NoOverride {
			f.LocalHeaderOffset = z.LocalHeaderOffset
		}
		if z.DiskNumberStart != NoOverride {
			f.DiskNumberStart = uint32(z.DiskNumberStart)
		}
	}

	if f.AES, err = ResolveAES(f.Extra); err != nil {
		return nil, errors.Wrapf(err, "%q", f.Name)
	}
	f.Encryption = encryptionMethod(f.Flags, f.AES)

	comment, err := c.read(int(f.CommentLength), "file comment")
	if err != nil {
		return nil, err
	}
	if f.Comment, _, err = dec.decode(comment, f.UTF8); err != nil {
		return nil, err
	}
	return f, nil
}

// readDigitalSignature reads the record that may follow the last entry.
// Anything else is left alone.
func readDigitalSignature(c *cursor) (*DigitalSignature, error) {
	if c.remaining() < 4 {
		return nil, nil
	}
	buf, err := c.read(4, "digital signature")
	if err != nil {
		return nil, err
	}
	if sig := binary.LittleEndian.Uint32(buf); sig != digitalSignatureSignature {
		log.Debugf("zip: no digital signature after central directory (found 0x%08x)", sig)
		return nil, nil
	}
	buf, err = c.read(2, "digital signature size")
	if err != nil {
		return nil, err
	}
	ds := &DigitalSignature{Size: binary.LittleEndian.Uint16(buf)}
	if ds.Data, err = c.read(int(ds.Size), "digital signature data"); err != nil {
		return nil, err
	}
	return ds, nil
}

func (f *FileHeader) String() string {
	return fmt.Sprintf("%s (%s, %d -> %d bytes, crc %08x)", f.Name, f.Method, f.UncompressedSize64, f.CompressedSize64, f.CRC32)
}
