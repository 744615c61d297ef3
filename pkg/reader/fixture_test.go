package reader

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"testing"

	"github.com/alec-rabold/zipmeta/pkg/counting"
)

// testEntry describes one stored entry of a hand-built archive.
type testEntry struct {
	name         string
	data         []byte
	flags        uint16
	method       uint16
	centralExtra []byte
	localExtra   []byte
	comment      string
	descriptor   bool // zero CRC/sizes in the local header, data descriptor after the data
	zip64        bool // sentinel sizes/offset in the central directory, real values in a zip64 extra
}

// testArchive builds archives the reader has to cope with but a regular
// writer would not produce.
type testArchive struct {
	entries    []testEntry
	comment    string
	zip64      bool // write zip64 end of central directory records
	zip64Disk  uint32
	extData    []byte
	signature  []byte
	diskNumber uint16
	prefix     []byte
}

type leWriter struct {
	t *testing.T
	w *counting.Writer
}

func (lw leWriter) put(vals ...interface{}) {
	for _, v := range vals {
		var err error
		switch v := v.(type) {
		case []byte:
			_, err = lw.w.Write(v)
		case string:
			_, err = lw.w.Write([]byte(v))
		default:
			err = binary.Write(lw.w, binary.LittleEndian, v)
		}
		if err != nil {
			lw.t.Fatalf("write fixture: %v", err)
		}
	}
}

func (lw leWriter) offset() int64 {
	off, err := lw.w.OffsetForNextEntry()
	if err != nil {
		lw.t.Fatalf("offset: %v", err)
	}
	return off
}

func zip64Extra(vals ...uint64) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(zip64ExtraID))
	binary.Write(buf, binary.LittleEndian, uint16(8*len(vals)))
	for _, v := range vals {
		binary.Write(buf, binary.LittleEndian, v)
	}
	return buf.Bytes()
}

func aesExtra(strength AESKeyStrength, method CompressionMethod) []byte {
	buf := new(bytes.Buffer)
	binary.Write(buf, binary.LittleEndian, uint16(aesExtraID))
	binary.Write(buf, binary.LittleEndian, uint16(aesExtraLen))
	binary.Write(buf, binary.LittleEndian, uint16(2)) // AE-2
	buf.WriteString("AE")
	buf.WriteByte(byte(strength))
	binary.Write(buf, binary.LittleEndian, uint16(method))
	return buf.Bytes()
}

func (ta testArchive) build(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	lw := leWriter{t: t, w: counting.NewWriter(counting.Plain(&buf))}
	lw.put(ta.prefix)

	const dosDate = 0x5021 // 2020-01-01
	const dosTime = 0x6000 // 12:00:00

	offsets := make([]int64, len(ta.entries))
	for i, e := range ta.entries {
		offsets[i] = lw.offset()
		crc := crc32.ChecksumIEEE(e.data)
		size := uint32(len(e.data))
		lcrc, lsize := crc, size
		flags := e.flags
		if e.descriptor {
			lcrc, lsize = 0, 0
			flags |= flagDataDescriptor
		}
		lw.put(uint32(fileHeaderSignature), uint16(20), flags, e.method, uint16(dosTime), uint16(dosDate),
			lcrc, lsize, lsize, uint16(len(e.name)), uint16(len(e.localExtra)), e.name, e.localExtra, e.data)
		if e.descriptor {
			lw.put(uint32(dataDescriptorSignature), crc, size, size)
		}
	}

	cdStart := lw.offset()
	for i, e := range ta.entries {
		crc := crc32.ChecksumIEEE(e.data)
		size := uint32(len(e.data))
		offset := uint32(offsets[i])
		extra := e.centralExtra
		if e.zip64 {
			extra = append(zip64Extra(uint64(len(e.data)), uint64(len(e.data)), uint64(offsets[i])), extra...)
			size, offset = uint32max, uint32max
		}
		flags := e.flags
		if e.descriptor {
			flags |= flagDataDescriptor
		}
		lw.put(uint32(directoryHeaderSignature), uint16(20), uint16(20), flags, e.method, uint16(dosTime), uint16(dosDate),
			crc, size, size, uint16(len(e.name)), uint16(len(extra)), uint16(len(e.comment)),
			uint16(0), uint16(0), uint32(0), offset, e.name, extra, e.comment)
	}
	if ta.signature != nil {
		lw.put(uint32(digitalSignatureSignature), uint16(len(ta.signature)), ta.signature)
	}
	cdEnd := lw.offset()
	cdSize := cdEnd - cdStart

	entries16, size32, offset32 := uint16(len(ta.entries)), uint32(cdSize), uint32(cdStart)
	if ta.zip64 {
		lw.put(uint32(directory64EndSignature), uint64(directory64FixedLen+len(ta.extData)), uint16(45), uint16(45),
			ta.zip64Disk, ta.zip64Disk, uint64(len(ta.entries)), uint64(len(ta.entries)), uint64(cdSize), uint64(cdStart), ta.extData)
		lw.put(uint32(directory64LocSignature), ta.zip64Disk, uint64(cdEnd), uint32(1))
		entries16, size32, offset32 = uint16max, uint32max, uint32max
	}
	lw.put(uint32(directoryEndSignature), ta.diskNumber, ta.diskNumber, entries16, entries16, size32, offset32,
		uint16(len(ta.comment)), ta.comment)
	return buf.Bytes()
}

func openBytes(t *testing.T, data []byte, optFns ...func(*Options)) *Archive {
	t.Helper()
	a, err := Open(bytes.NewReader(data), int64(len(data)), optFns...)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return a
}
