package reader

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

// DecodeExtraField splits an extra field region into its records.
//
// A record whose little-endian length runs past the region is retried as
// big-endian. If neither reading fits, decoding stops and the records
// parsed so far are returned.
func DecodeExtraField(extra []byte) []ExtraDataRecord {
	var records []ExtraDataRecord
	for b := readBuf(extra); len(b) >= 4; {
		tag := b.uint16()
		size := int(binary.LittleEndian.Uint16(b))
		if 2+size > len(b) {
			size = int(binary.BigEndian.Uint16(b))
			if 2+size > len(b) {
				log.Debugf("zip: extra field record 0x%04x overflows region, dropping %d trailing bytes", tag, len(b)+2)
				break
			}
		}
		b.skip(2)
		data := make([]byte, size)
		copy(data, b.sub(size))
		records = append(records, ExtraDataRecord{Tag: tag, Size: uint16(size), Data: data})
	}
	return records
}

func findExtra(records []ExtraDataRecord, tag uint16) *ExtraDataRecord {
	for i := range records {
		if records[i].Tag == tag {
			return &records[i]
		}
	}
	return nil
}

// Zip64Legacy holds the 32-bit (or 16-bit) header fields consulted when
// resolving a Zip64 extra record. Pass NoOverride for a field the header
// type does not have, so that it is never taken from the record.
type Zip64Legacy struct {
	UncompressedSize  int64
	CompressedSize    int64
	LocalHeaderOffset int64
	DiskNumberStart   int64
}

// zip64Override is one step of the Zip64 extra record layout: the record
// stores only overridden fields, always in this order.
type zip64Override struct {
	name    string
	width   int
	present func(Zip64Legacy) bool
	set     func(*Zip64ExtendedInfo, uint64)
}

var zip64Overrides = []zip64Override{
	{
		name:    "uncompressed size",
		width:   8,
		present: func(l Zip64Legacy) bool { return l.UncompressedSize == uint32max },
		set:     func(z *Zip64ExtendedInfo, v uint64) { z.UncompressedSize = int64(v) },
	},
	{
		name:    "compressed size",
		width:   8,
		present: func(l Zip64Legacy) bool { return l.CompressedSize == uint32max },
		set:     func(z *Zip64ExtendedInfo, v uint64) { z.CompressedSize = int64(v) },
	},
	{
		name:    "local header offset",
		width:   8,
		present: func(l Zip64Legacy) bool { return l.LocalHeaderOffset == uint32max },
		set:     func(z *Zip64ExtendedInfo, v uint64) { z.LocalHeaderOffset = int64(v) },
	},
	{
		name:    "disk number start",
		width:   4,
		present: func(l Zip64Legacy) bool { return l.DiskNumberStart == uint16max },
		set:     func(z *Zip64ExtendedInfo, v uint64) { z.DiskNumberStart = int32(v) },
	},
}

// ResolveZip64 reads the Zip64 extra record, if any, against the legacy
// field values. It returns nil when there is no record or the record
// overrides nothing.
func ResolveZip64(records []ExtraDataRecord, legacy Zip64Legacy) (*Zip64ExtendedInfo, error) {
	rec := findExtra(records, zip64ExtraID)
	if rec == nil || len(rec.Data) == 0 {
		return nil, nil
	}

	info := &Zip64ExtendedInfo{
		UncompressedSize:  NoOverride,
		CompressedSize:    NoOverride,
		LocalHeaderOffset: NoOverride,
		DiskNumberStart:   NoOverride,
	}
	b := readBuf(rec.Data)
	added := false
	for _, o := range zip64Overrides {
		if !o.present(legacy) {
			continue
		}
		if len(b) < o.width {
			return nil, errors.Wrapf(ErrFormat, "zip64 extra field: %s missing, %d bytes left", o.name, len(b))
		}
		var v, limit uint64
		if o.width == 8 {
			v, limit = b.uint64(), math.MaxInt64
		} else {
			v, limit = uint64(b.uint32()), math.MaxInt32
		}
		// Larger values would collide with NoOverride once stored signed.
		if v > limit {
			return nil, errors.Wrapf(ErrInconsistent, "zip64 extra field: %s %d out of range", o.name, v)
		}
		o.set(info, v)
		added = true
	}
	if !added {
		return nil, nil
	}
	return info, nil
}

// ResolveAES reads the AES extra record, if any.
func ResolveAES(records []ExtraDataRecord) (*AESExtraDataRecord, error) {
	rec := findExtra(records, aesExtraID)
	if rec == nil {
		return nil, nil
	}
	if len(rec.Data) < aesExtraLen {
		return nil, errors.Wrapf(ErrFormat, "aes extra field: %d bytes, want %d", len(rec.Data), aesExtraLen)
	}
	b := readBuf(rec.Data)
	aes := &AESExtraDataRecord{Size: rec.Size, Version: b.uint16()}
	copy(aes.VendorID[:], b.sub(2))
	aes.KeyStrength = AESKeyStrength(b.uint8())
	aes.CompressionMethod = CompressionMethod(b.uint16())
	return aes, nil
}

// encryptionMethod resolves the scheme from the flag bits and AES record.
func encryptionMethod(flags uint16, aes *AESExtraDataRecord) EncryptionMethod {
	switch {
	case aes != nil:
		return EncryptionAES
	case flags&flagEncrypted == 0:
		return EncryptionNone
	case flags&flagStrongEncrypt != 0:
		return EncryptionZipStandardStrong
	}
	return EncryptionZipStandard
}
