package reader

import (
	"unicode/utf8"

	"github.com/pkg/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
)

// lookupCharset resolves an encoding name such as "cp437", "Shift_JIS" or
// "windows-1252". An empty name selects auto-detection.
func lookupCharset(name string) (encoding.Encoding, error) {
	if name == "" {
		return nil, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, errors.Errorf("zip: unsupported charset %q", name)
	}
	return enc, nil
}

// textDecoder turns stored name and comment bytes into strings.
type textDecoder struct {
	charset encoding.Encoding
}

// decode returns the text and whether it is known not to be UTF-8.
//
// With an explicit charset the bytes are always decoded with it. Otherwise
// the UTF-8 flag is trusted, and unflagged bytes that are not valid UTF-8
// are read as CP-437, the encoding the format officially uses.
func (d textDecoder) decode(b []byte, utf8Flag bool) (string, bool, error) {
	if d.charset != nil {
		s, err := d.charset.NewDecoder().Bytes(b)
		if err != nil {
			return "", false, errors.Wrap(err, "decode text")
		}
		return string(s), !utf8Flag, nil
	}
	if utf8Flag {
		return string(b), false, nil
	}
	valid, require := detectUTF8(b)
	switch {
	case !valid:
		s, err := charmap.CodePage437.NewDecoder().Bytes(b)
		if err != nil {
			return "", true, errors.Wrap(err, "decode cp437 text")
		}
		return string(s), true, nil
	case !require:
		// Only single-byte runes shared by UTF-8 and CP-437.
		return string(b), false, nil
	}
	// Valid UTF-8 without the flag. Some writers never set it.
	return string(b), true, nil
}

// detectUTF8 reports whether b is valid UTF-8, and whether it must be
// considered UTF-8 (i.e. not compatible with CP-437, ASCII or any other
// common encoding).
func detectUTF8(b []byte) (valid, require bool) {
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		i += size
		// Forbid 0x7e and 0x5c since EUC-KR and Shift-JIS replace those
		// characters with localized currency and overline characters.
		if r < 0x20 || r > 0x7d || r == 0x5c {
			if !utf8.ValidRune(r) || (r == utf8.RuneError && size == 1) {
				return false, false
			}
			require = true
		}
	}
	return true, require
}
