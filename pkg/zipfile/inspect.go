package zipfile

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/alec-rabold/zipmeta/pkg/aws"
	"github.com/alec-rabold/zipmeta/pkg/reader"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// Inspector reads the metadata of a zip archive stored locally or in S3
type Inspector struct {
	name    string
	src     io.ReaderAt
	size    int64
	closer  io.Closer
	charset string
}

// Entry pairs a central directory entry with its local header, when read
type Entry struct {
	Header *reader.FileHeader
	Local  *reader.LocalFileHeader
}

// Report is the result of an inspection
type Report struct {
	Name    string
	Archive *reader.Archive
	Entries []Entry
}

// NewInspector creates an Inspector over any random access source
func NewInspector(name string, src io.ReaderAt, size int64, charset string) *Inspector {
	return &Inspector{name: name, src: src, size: size, charset: charset}
}

// NewFileInspector opens a local archive
func NewFileInspector(path, charset string) (*Inspector, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	x := NewInspector(path, f, fi.Size(), charset)
	x.closer = f
	return x, nil
}

// NewS3Inspector inspects an archive in S3 without downloading the entire object
func NewS3Inspector(ctx context.Context, client *aws.Client, bucket, key, charset string) (*Inspector, error) {
	obj, err := client.NewObjectReader(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return NewInspector(fmt.Sprintf("s3://%s/%s", bucket, key), obj, obj.Size(), charset), nil
}

// Close releases the underlying file, if any
func (x *Inspector) Close() error {
	if x.closer == nil {
		return nil
	}
	return x.closer.Close()
}

// Inspect reads the archive model. Entries are limited to names containing
// one of the search terms, when any are given; withLocal also reads each
// selected entry's local header.
func (x *Inspector) Inspect(terms []string, withLocal bool) (*Report, error) {
	archive, err := reader.Open(x.src, x.size, reader.WithCharset(x.charset))
	if err != nil {
		return nil, errors.Wrapf(err, "inspect %s", x.name)
	}
	log.Debugf("inspecting %s: %d bytes, %d entries", x.name, x.size, len(archive.Files))

	report := &Report{Name: x.name, Archive: archive}
	for i, f := range archive.Files {
		if len(terms) > 0 && !contains(terms, f.Name) {
			continue
		}
		e := Entry{Header: f}
		if withLocal {
			if e.Local, err = archive.LocalFileHeader(i); err != nil {
				return nil, errors.Wrapf(err, "inspect %s", x.name)
			}
		}
		report.Entries = append(report.Entries, e)
	}
	return report, nil
}

// WriteTo prints the report in a human readable form.
func (r *Report) WriteTo(w io.Writer) (int64, error) {
	var b strings.Builder
	a := r.Archive
	fmt.Fprintf(&b, "archive: %s\n", r.Name)
	fmt.Fprintf(&b, "entries: %d  zip64: %t  split: %t  signed: %t\n", len(a.Files), a.Zip64, a.Split, a.DigitalSignature != nil)
	if c := a.EndOfCentralDirectory.Comment; len(c) > 0 {
		fmt.Fprintf(&b, "comment: %q\n", c)
	}
	for _, e := range r.Entries {
		f := e.Header
		fmt.Fprintf(&b, "%10d %10d %-9s %-16s %08x %s\n", f.UncompressedSize64, f.CompressedSize64, f.Method, f.Encryption, f.CRC32, f.Name)
		if l := e.Local; l != nil {
			fmt.Fprintf(&b, "%10s header at %d, data at %d, descriptor: %t\n", "", l.Offset, l.DataOffset, l.DataDescriptor)
		}
	}
	n, err := io.WriteString(w, b.String())
	return int64(n), err
}

func contains(s []string, e string) bool {
	for _, a := range s {
		if strings.Contains(e, a) {
			return true
		}
	}
	return false
}
