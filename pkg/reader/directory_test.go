package reader

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
)

func makeEOCD(entries uint16, cdSize, cdOffset uint32, comment string) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint32(directoryEndSignature))
	binary.Write(buf, binary.LittleEndian, uint16(0))            // Disk number
	binary.Write(buf, binary.LittleEndian, uint16(0))            // Disk number with start
	binary.Write(buf, binary.LittleEndian, entries)              // Entries on disk
	binary.Write(buf, binary.LittleEndian, entries)              // Total entries
	binary.Write(buf, binary.LittleEndian, cdSize)               // Size of CD
	binary.Write(buf, binary.LittleEndian, cdOffset)             // Offset of CD
	binary.Write(buf, binary.LittleEndian, uint16(len(comment))) // Comment len
	buf.WriteString(comment)
	return buf.Bytes()
}

func TestFindEndOfCentralDirectory(t *testing.T) {
	tests := []struct {
		name        string
		data        []byte
		wantEntries uint16
		wantComment string
		wantOffset  int64
		wantErr     error
	}{
		{
			name:        "Simple EOCD at end",
			data:        makeEOCD(5, 100, 200, ""),
			wantEntries: 5,
		},
		{
			name:        "EOCD with comment",
			data:        makeEOCD(1, 50, 10, "This is a comment"),
			wantEntries: 1,
			wantComment: "This is a comment",
		},
		{
			name:        "EOCD preceded by garbage",
			data:        append([]byte("garbage data..."), makeEOCD(2, 50, 10, "Comment")...),
			wantEntries: 2,
			wantComment: "Comment",
			wantOffset:  15,
		},
		{
			name:    "File too small",
			data:    []byte("too short"),
			wantErr: ErrFormat,
		},
		{
			name:    "No EOCD signature",
			data:    make([]byte, 100),
			wantErr: ErrFormat,
		},
		{
			name:    "Comment length runs past end of file",
			data:    makeEOCD(1, 0, 0, "abc")[:directoryEndLen+1],
			wantErr: ErrInconsistent,
		},
		{
			// The record sits further back than the scan window reaches.
			name:    "Signature beyond scan bound",
			data:    append(makeEOCD(1, 0, 0, ""), make([]byte, maxEOCDScan+1)...),
			wantErr: ErrFormat,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FindEndOfCentralDirectory(bytes.NewReader(tt.data), int64(len(tt.data)))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("FindEndOfCentralDirectory: %v", err)
			}
			if got.TotalEntries != tt.wantEntries || got.EntriesThisDisk != tt.wantEntries {
				t.Errorf("entries = %d/%d, want %d", got.EntriesThisDisk, got.TotalEntries, tt.wantEntries)
			}
			if string(got.Comment) != tt.wantComment {
				t.Errorf("comment = %q, want %q", got.Comment, tt.wantComment)
			}
			if got.Offset != tt.wantOffset {
				t.Errorf("offset = %d, want %d", got.Offset, tt.wantOffset)
			}
		})
	}
}

func TestFindEndOfCentralDirectoryWithinScanBound(t *testing.T) {
	// The longest comment the scan still reaches past.
	comment := string(bytes.Repeat([]byte{'x'}, maxEOCDScan))
	data := makeEOCD(3, 0, 0, comment)
	got, err := FindEndOfCentralDirectory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("FindEndOfCentralDirectory: %v", err)
	}
	if got.Offset != 0 || len(got.Comment) != maxEOCDScan {
		t.Errorf("offset %d, comment length %d", got.Offset, len(got.Comment))
	}
}

// The scan cannot tell a signature inside the comment from the real one.
// These cases pin down what happens rather than what would be right.
func TestFindEndOfCentralDirectorySignatureInComment(t *testing.T) {
	t.Run("Inconsistent fake is skipped", func(t *testing.T) {
		// A fake record whose comment length field reads as 0x7878 ("xx").
		fake := "PK\x05\x06" + string(bytes.Repeat([]byte{'x'}, 24))
		data := makeEOCD(1, 0, 0, fake)
		got, err := FindEndOfCentralDirectory(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatalf("FindEndOfCentralDirectory: %v", err)
		}
		if got.Offset != 0 || string(got.Comment) != fake {
			t.Errorf("found record at %d, want the genuine one at 0", got.Offset)
		}
	})

	t.Run("Consistent fake wins", func(t *testing.T) {
		// A complete, self-consistent record embedded at the end of the comment.
		inner := makeEOCD(9, 0, 0, "")
		comment := "lead" + string(inner)
		data := makeEOCD(1, 0, 0, comment)
		got, err := FindEndOfCentralDirectory(bytes.NewReader(data), int64(len(data)))
		if err != nil {
			t.Fatalf("FindEndOfCentralDirectory: %v", err)
		}
		if got.TotalEntries != 9 {
			t.Errorf("TotalEntries = %d; the scan is expected to stop at the embedded record", got.TotalEntries)
		}
		if want := int64(directoryEndLen + 4); got.Offset != want {
			t.Errorf("offset = %d, want %d", got.Offset, want)
		}
	})
}

func TestReadZip64Locator(t *testing.T) {
	t.Run("Absent", func(t *testing.T) {
		data := testArchive{entries: []testEntry{{name: "a", data: []byte("a")}}}.build(t)
		r := bytes.NewReader(data)
		eocd, err := FindEndOfCentralDirectory(r, int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		loc, err := ReadZip64Locator(r, eocd)
		if err != nil || loc != nil {
			t.Errorf("got %+v, %v; want nil, nil", loc, err)
		}
	})

	t.Run("EOCD at start of file", func(t *testing.T) {
		data := makeEOCD(0, 0, 0, "")
		r := bytes.NewReader(data)
		eocd, err := FindEndOfCentralDirectory(r, int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		if loc, err := ReadZip64Locator(r, eocd); err != nil || loc != nil {
			t.Errorf("got %+v, %v; want nil, nil", loc, err)
		}
	})

	t.Run("Present", func(t *testing.T) {
		data := testArchive{
			entries: []testEntry{{name: "a", data: []byte("a")}},
			zip64:   true,
			extData: []byte{1, 2, 3, 4},
		}.build(t)
		r := bytes.NewReader(data)
		eocd, err := FindEndOfCentralDirectory(r, int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		loc, err := ReadZip64Locator(r, eocd)
		if err != nil || loc == nil {
			t.Fatalf("got %+v, %v", loc, err)
		}
		if loc.TotalDisks != 1 {
			t.Errorf("TotalDisks = %d, want 1", loc.TotalDisks)
		}
		rec, err := ReadZip64Record(r, eocd, loc)
		if err != nil {
			t.Fatalf("ReadZip64Record: %v", err)
		}
		if rec.TotalEntries != 1 || rec.RecordSize != directory64FixedLen+4 {
			t.Errorf("record = %+v", rec)
		}
		if !bytes.Equal(rec.ExtensibleData, []byte{1, 2, 3, 4}) {
			t.Errorf("extensible data = %v", rec.ExtensibleData)
		}
	})
}

func TestReadZip64RecordErrors(t *testing.T) {
	build := func(t *testing.T) ([]byte, *EndOfCentralDirectoryRecord, *Zip64EndOfCentralDirectoryLocator) {
		data := testArchive{entries: []testEntry{{name: "a", data: []byte("a")}}, zip64: true}.build(t)
		r := bytes.NewReader(data)
		eocd, err := FindEndOfCentralDirectory(r, int64(len(data)))
		if err != nil {
			t.Fatal(err)
		}
		loc, err := ReadZip64Locator(r, eocd)
		if err != nil || loc == nil {
			t.Fatalf("locator: %+v, %v", loc, err)
		}
		return data, eocd, loc
	}

	t.Run("Offset past locator", func(t *testing.T) {
		data, eocd, loc := build(t)
		loc.Zip64RecordOffset = uint64(len(data))
		if _, err := ReadZip64Record(bytes.NewReader(data), eocd, loc); !errors.Is(err, ErrInconsistent) {
			t.Errorf("err = %v, want ErrInconsistent", err)
		}
	})

	t.Run("Offset zero", func(t *testing.T) {
		data, eocd, loc := build(t)
		loc.Zip64RecordOffset = 0
		if _, err := ReadZip64Record(bytes.NewReader(data), eocd, loc); !errors.Is(err, ErrInconsistent) {
			t.Errorf("err = %v, want ErrInconsistent", err)
		}
	})

	t.Run("Offset negative as int64", func(t *testing.T) {
		data, eocd, loc := build(t)
		loc.Zip64RecordOffset = 1 << 63
		if _, err := ReadZip64Record(bytes.NewReader(data), eocd, loc); !errors.Is(err, ErrInconsistent) {
			t.Errorf("err = %v, want ErrInconsistent", err)
		}
	})

	t.Run("Bad signature", func(t *testing.T) {
		data, eocd, loc := build(t)
		data[loc.Zip64RecordOffset] = 'X'
		if _, err := ReadZip64Record(bytes.NewReader(data), eocd, loc); !errors.Is(err, ErrFormat) {
			t.Errorf("err = %v, want ErrFormat", err)
		}
	})

	t.Run("Record size below fixed part", func(t *testing.T) {
		data, eocd, loc := build(t)
		binary.LittleEndian.PutUint64(data[loc.Zip64RecordOffset+4:], 10)
		if _, err := ReadZip64Record(bytes.NewReader(data), eocd, loc); !errors.Is(err, ErrInconsistent) {
			t.Errorf("err = %v, want ErrInconsistent", err)
		}
	})

	t.Run("Extensible data overlaps locator", func(t *testing.T) {
		data, eocd, loc := build(t)
		binary.LittleEndian.PutUint64(data[loc.Zip64RecordOffset+4:], directory64FixedLen+1)
		if _, err := ReadZip64Record(bytes.NewReader(data), eocd, loc); !errors.Is(err, ErrInconsistent) {
			t.Errorf("err = %v, want ErrInconsistent", err)
		}
	})
}

func TestReadCentralDirectoryBounds(t *testing.T) {
	data := testArchive{entries: []testEntry{{name: "a", data: []byte("abc")}}}.build(t)
	r := bytes.NewReader(data)
	eocd, err := FindEndOfCentralDirectory(r, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	good := DirectoryLocation{
		Offset:  int64(eocd.CentralDirectoryOffset),
		Size:    uint64(eocd.CentralDirectorySize),
		Entries: 1,
		End:     eocd.Offset,
	}

	tests := []struct {
		name   string
		modify func(*DirectoryLocation)
	}{
		{"Offset past end", func(l *DirectoryLocation) { l.Offset = l.End + 1 }},
		{"Negative offset", func(l *DirectoryLocation) { l.Offset = -1 }},
		{"Size past end", func(l *DirectoryLocation) { l.Size = uint64(l.End) }},
		{"Impossible entry count", func(l *DirectoryLocation) { l.Entries = 1 << 40 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			loc := good
			tt.modify(&loc)
			if _, _, err := ReadCentralDirectory(r, loc, nil); !errors.Is(err, ErrInconsistent) {
				t.Errorf("err = %v, want ErrInconsistent", err)
			}
		})
	}

	files, sig, err := ReadCentralDirectory(r, good, nil)
	if err != nil {
		t.Fatalf("ReadCentralDirectory: %v", err)
	}
	if len(files) != 1 || sig != nil {
		t.Errorf("got %d files, signature %+v", len(files), sig)
	}
}

func TestReadCentralDirectoryNameLengthPastEnd(t *testing.T) {
	data := testArchive{entries: []testEntry{{name: "name.txt", data: []byte("abc")}}}.build(t)
	r := bytes.NewReader(data)
	eocd, err := FindEndOfCentralDirectory(r, int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	// Name length field of the only central directory entry.
	binary.LittleEndian.PutUint16(data[eocd.CentralDirectoryOffset+28:], 0xfff0)

	_, err = Open(bytes.NewReader(data), int64(len(data)))
	if !errors.Is(err, ErrInconsistent) {
		t.Fatalf("err = %v, want ErrInconsistent", err)
	}
}
