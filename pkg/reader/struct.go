package reader

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
)

var (
	// ErrFormat indicates a record signature was missing at a mandatory location
	ErrFormat = errors.New("zip: probably not a zip file or a corrupted zip file")
	// ErrTruncated indicates the source returned fewer bytes than a record requires
	ErrTruncated = errors.New("zip: unexpected end of input")
	// ErrInconsistent indicates a declared offset or length points outside the archive
	ErrInconsistent = errors.New("zip: inconsistent metadata")
)

const (
	directoryEndLen     = 22 // + comment
	directoryHeaderLen  = 46 // + filename + extra + comment
	fileHeaderLen       = 30 // + filename + extra
	directory64LocLen   = 20
	directory64EndLen   = 56 // + extensible data
	directory64FixedLen = 44 // record size counts from version made by
	dataDescriptorLen   = 16
	dataDescriptor64Len = 24
	aesExtraLen         = 7

	// maxEOCDScan bounds the backward search for the EOCD signature.
	maxEOCDScan = 3000

	dataDescriptorSignature   = 0x08074b50
	directoryEndSignature     = 0x06054b50
	directoryHeaderSignature  = 0x02014b50
	fileHeaderSignature       = 0x04034b50
	directory64LocSignature   = 0x07064b50
	directory64EndSignature   = 0x06064b50
	digitalSignatureSignature = 0x05054b50

	zip64ExtraID = 0x0001 // Zip64 extended information
	aesExtraID   = 0x9901 // WinZip AES

	uint16max = (1 << 16) - 1
	uint32max = (1 << 32) - 1

	// NoOverride marks a Zip64ExtendedInfo field that the extra record did not carry.
	NoOverride = -1
)

// General purpose flag bits.
const (
	flagEncrypted      = 0x0001
	flagDataDescriptor = 0x0008
	flagStrongEncrypt  = 0x0040
	flagUTF8           = 0x0800
)

// CompressionMethod is the method code stored in a header.
type CompressionMethod uint16

// Compression methods.
const (
	Store     CompressionMethod = 0  // no compression
	Deflate   CompressionMethod = 8  // DEFLATE compressed
	Deflate64 CompressionMethod = 9  // enhanced DEFLATE
	BZIP2     CompressionMethod = 12 // BZIP2 compressed
	LZMA      CompressionMethod = 14 // LZMA compressed
	Zstd      CompressionMethod = 93 // Zstandard compressed
	XZ        CompressionMethod = 95 // XZ compressed
	AESMarker CompressionMethod = 99 // AES encrypted, real method in the AES extra record
)

func (m CompressionMethod) String() string {
	switch m {
	case Store:
		return "store"
	case Deflate:
		return "deflate"
	case Deflate64:
		return "deflate64"
	case BZIP2:
		return "bzip2"
	case LZMA:
		return "lzma"
	case Zstd:
		return "zstd"
	case XZ:
		return "xz"
	case AESMarker:
		return "aes"
	}
	return fmt.Sprintf("method(%d)", uint16(m))
}

// EncryptionMethod is the resolved encryption scheme of an entry.
type EncryptionMethod int

const (
	EncryptionNone EncryptionMethod = iota
	EncryptionZipStandard
	EncryptionZipStandardStrong
	EncryptionAES
)

func (e EncryptionMethod) String() string {
	switch e {
	case EncryptionNone:
		return "none"
	case EncryptionZipStandard:
		return "zipcrypto"
	case EncryptionZipStandardStrong:
		return "zipcrypto-strong"
	case EncryptionAES:
		return "aes"
	}
	return fmt.Sprintf("encryption(%d)", int(e))
}

// AESKeyStrength is the key strength class stored in the AES extra record.
type AESKeyStrength uint8

const (
	AES128 AESKeyStrength = 1
	AES192 AESKeyStrength = 2
	AES256 AESKeyStrength = 3
)

// KeyLength returns the key size in bits, or 0 for an unknown class.
func (s AESKeyStrength) KeyLength() int {
	switch s {
	case AES128:
		return 128
	case AES192:
		return 192
	case AES256:
		return 256
	}
	return 0
}

// EndOfCentralDirectoryRecord describes the classic EOCD record.
type EndOfCentralDirectoryRecord struct {
	DiskNumber             uint16
	CentralDirectoryDisk   uint16
	EntriesThisDisk        uint16
	TotalEntries           uint16
	CentralDirectorySize   uint32
	CentralDirectoryOffset uint32
	Comment                []byte

	// Offset is the absolute position of the record signature.
	Offset int64
}

// Zip64EndOfCentralDirectoryLocator points at the Zip64 EOCD record.
type Zip64EndOfCentralDirectoryLocator struct {
	Zip64RecordDisk   uint32
	Zip64RecordOffset uint64
	TotalDisks        uint32
}

// Zip64EndOfCentralDirectoryRecord holds the 64-bit mirrors of the EOCD fields.
type Zip64EndOfCentralDirectoryRecord struct {
	RecordSize             uint64
	VersionMadeBy          uint16
	VersionNeeded          uint16
	DiskNumber             uint32
	CentralDirectoryDisk   uint32
	EntriesThisDisk        uint64
	TotalEntries           uint64
	CentralDirectorySize   uint64
	CentralDirectoryOffset uint64
	ExtensibleData         []byte
}

// ExtraDataRecord is one tag/length/value entry of an extra field.
type ExtraDataRecord struct {
	Tag  uint16
	Size uint16
	Data []byte
}

// Zip64ExtendedInfo carries the overrides found in a Zip64 extra record.
// Fields the record did not carry are NoOverride.
type Zip64ExtendedInfo struct {
	UncompressedSize  int64
	CompressedSize    int64
	LocalHeaderOffset int64
	DiskNumberStart   int32
}

// AESExtraDataRecord describes the WinZip AES extra record.
type AESExtraDataRecord struct {
	Size              uint16
	Version           uint16
	VendorID          [2]byte
	KeyStrength       AESKeyStrength
	CompressionMethod CompressionMethod
}

// FileHeader describes a central directory entry.
//
// CompressedSize64, UncompressedSize64, LocalHeaderOffset and DiskNumberStart
// already carry any Zip64 override. CompressedSize and UncompressedSize keep
// the 32-bit values as stored.
type FileHeader struct {
	Name    string
	Comment string
	NonUTF8 bool

	VersionMadeBy uint16
	VersionNeeded uint16
	Flags         uint16
	Method        CompressionMethod

	Modified     time.Time
	ModifiedTime uint16
	ModifiedDate uint16

	CRC32              uint32
	CompressedSize     uint32
	UncompressedSize   uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64

	NameLength    uint16
	ExtraLength   uint16
	CommentLength uint16

	DiskNumberStart   uint32
	InternalAttrs     uint16
	ExternalAttrs     uint32
	LocalHeaderOffset int64

	Extra      []ExtraDataRecord
	Zip64      *Zip64ExtendedInfo
	AES        *AESExtraDataRecord
	Encryption EncryptionMethod

	Encrypted      bool
	DataDescriptor bool
	UTF8           bool
	Directory      bool
}

// LocalFileHeader describes the header stored in front of an entry's data.
type LocalFileHeader struct {
	Name    string
	NonUTF8 bool

	VersionNeeded uint16
	Flags         uint16
	Method        CompressionMethod

	Modified     time.Time
	ModifiedTime uint16
	ModifiedDate uint16

	CRC32              uint32
	CompressedSize64   uint64
	UncompressedSize64 uint64

	NameLength  uint16
	ExtraLength uint16

	Extra      []ExtraDataRecord
	Zip64      *Zip64ExtendedInfo
	AES        *AESExtraDataRecord
	Encryption EncryptionMethod

	Encrypted      bool
	DataDescriptor bool
	UTF8           bool

	// Offset is the absolute position of the header signature.
	Offset int64
	// HeaderLength counts the fixed part, name and extra field.
	HeaderLength int64
	// DataOffset is the absolute position of the entry's data, Offset+HeaderLength.
	DataOffset int64
}

// DataDescriptor is the record that follows data written without known sizes.
type DataDescriptor struct {
	CRC32            uint32
	CompressedSize   uint64
	UncompressedSize uint64
}

// DigitalSignature is the optional record after the central directory.
type DigitalSignature struct {
	Size uint16
	Data []byte
}
