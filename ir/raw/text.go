package raw

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
)

// pdfDocHigh maps PDFDocEncoding bytes 0x80-0x9E, the range where it
// departs from Latin-1.
var pdfDocHigh = [...]rune{
	0x2022, 0x2020, 0x2021, 0x2026, 0x2014, 0x2013, 0x0192, 0x2044,
	0x2039, 0x203A, 0x2212, 0x2030, 0x201E, 0x201C, 0x201D, 0x2018,
	0x2019, 0x201A, 0x2122, 0xFB01, 0xFB02, 0x0141, 0x0152, 0x0160,
	0x0178, 0x017D, 0x0131, 0x0142, 0x0153, 0x0161, 0x017E,
}

// DecodeText converts a PDF text string to UTF-8. Strings starting with a
// UTF-16 byte order mark are decoded as UTF-16; others as PDFDocEncoding.
func DecodeText(b []byte) string {
	if len(b) >= 2 && (b[0] == 0xFE && b[1] == 0xFF || b[0] == 0xFF && b[1] == 0xFE) {
		out, err := unicode.UTF16(unicode.BigEndian, unicode.ExpectBOM).NewDecoder().Bytes(b)
		if err == nil {
			return strings.TrimRight(string(out), "\x00")
		}
	}
	var sb strings.Builder
	sb.Grow(len(b))
	for _, c := range b {
		switch {
		case c >= 0x80 && c <= 0x9E:
			sb.WriteRune(pdfDocHigh[c-0x80])
		case c == 0xA0:
			sb.WriteRune(0x20AC)
		default:
			sb.WriteRune(rune(c))
		}
	}
	return sb.String()
}

// EncodeText produces a text string for s: plain bytes when s is ASCII,
// otherwise UTF-16BE with a byte order mark.
func EncodeText(s string) StringObj {
	ascii := true
	for i := 0; i < len(s); i++ {
		if s[i] >= utf8.RuneSelf {
			ascii = false
			break
		}
	}
	if ascii {
		return Str([]byte(s))
	}
	out, err := unicode.UTF16(unicode.BigEndian, unicode.UseBOM).NewEncoder().Bytes([]byte(s))
	if err != nil {
		return Str([]byte(s))
	}
	return HexStr(out)
}
