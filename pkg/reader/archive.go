package reader

import (
	"io"
	"sync"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/encoding"
)

// Options customises how headers are decoded.
type Options struct {
	// Charset names the encoding of file names and comments, e.g. "cp437"
	// or "shift_jis". When empty, UTF-8 is used for entries carrying the
	// UTF-8 flag and detected for the rest.
	Charset string
}

func newOptions(optFns []func(*Options)) *Options {
	opts := &Options{}
	for _, fn := range optFns {
		fn(opts)
	}
	return opts
}

// WithCharset sets Options.Charset.
func WithCharset(name string) func(*Options) {
	return func(o *Options) { o.Charset = name }
}

// Archive is the metadata model of one ZIP archive.
//
// Everything but the local header cache is read once by Open and never
// changes afterwards.
type Archive struct {
	EndOfCentralDirectory *EndOfCentralDirectoryRecord
	Zip64Locator          *Zip64EndOfCentralDirectoryLocator
	Zip64Record           *Zip64EndOfCentralDirectoryRecord
	// Files holds the central directory entries in on-disk order.
	Files            []*FileHeader
	DigitalSignature *DigitalSignature

	Zip64 bool
	Split bool

	r       io.ReaderAt
	size    int64
	charset encoding.Encoding

	mu     sync.Mutex
	locals map[int]*LocalFileHeader
}

// Open reads the EOCD record, the Zip64 records if present and the whole
// central directory of the archive stored in r.
func Open(r io.ReaderAt, size int64, optFns ...func(*Options)) (*Archive, error) {
	opts := newOptions(optFns)
	charset, err := lookupCharset(opts.Charset)
	if err != nil {
		return nil, err
	}
	a, err := readArchive(r, size, charset)
	if err != nil {
		return nil, errors.Wrap(err, "open archive")
	}
	return a, nil
}

func readArchive(r io.ReaderAt, size int64, charset encoding.Encoding) (*Archive, error) {
	eocd, err := FindEndOfCentralDirectory(r, size)
	if err != nil {
		return nil, err
	}
	a := &Archive{
		EndOfCentralDirectory: eocd,
		Split:                 eocd.DiskNumber > 0,
		r:                     r,
		size:                  size,
		charset:               charset,
	}

	loc := DirectoryLocation{
		Offset:  int64(eocd.CentralDirectoryOffset),
		Size:    uint64(eocd.CentralDirectorySize),
		Entries: uint64(eocd.TotalEntries),
		End:     eocd.Offset,
	}

	// If the archive is Zip64, those records have to be read before the
	// central directory.
	if a.Zip64Locator, err = ReadZip64Locator(r, eocd); err != nil {
		return nil, err
	}
	if a.Zip64Locator != nil {
		if a.Zip64Record, err = ReadZip64Record(r, eocd, a.Zip64Locator); err != nil {
			return nil, err
		}
		a.Zip64 = true
		a.Split = a.Zip64Record.DiskNumber > 0
		loc = DirectoryLocation{
			Offset:  int64(a.Zip64Record.CentralDirectoryOffset),
			Size:    a.Zip64Record.CentralDirectorySize,
			Entries: a.Zip64Record.TotalEntries,
			End:     int64(a.Zip64Locator.Zip64RecordOffset),
		}
	}

	if a.Files, a.DigitalSignature, err = ReadCentralDirectory(r, loc, charset); err != nil {
		return nil, err
	}
	log.Debugf("zip: read %d entries (zip64=%t, split=%t)", len(a.Files), a.Zip64, a.Split)
	return a, nil
}

// Size returns the length of the underlying byte store.
func (a *Archive) Size() int64 { return a.size }

// LocalFileHeader returns the local header of entry i, reading it on first
// use.
func (a *Archive) LocalFileHeader(i int) (*LocalFileHeader, error) {
	if i < 0 || i >= len(a.Files) {
		return nil, errors.Errorf("zip: entry index %d out of range [0,%d)", i, len(a.Files))
	}
	a.mu.Lock()
	h, ok := a.locals[i]
	a.mu.Unlock()
	if ok {
		return h, nil
	}

	h, err := ReadLocalFileHeader(a.r, a.size, a.Files[i], a.charset)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	if a.locals == nil {
		a.locals = make(map[int]*LocalFileHeader)
	}
	a.locals[i] = h
	a.mu.Unlock()
	return h, nil
}

// ResetLocalHeaders drops the cached local headers.
func (a *Archive) ResetLocalHeaders() {
	a.mu.Lock()
	a.locals = nil
	a.mu.Unlock()
}
