package receipt

import (
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/korean"

	apperrors "github.com/qbong1010/printer-server/internal/errors"
)

// CodePage names a byte-to-glyph mapping selected on the printer before
// text bytes are sent.
type CodePage string

const (
	CodePageCP949 CodePage = "cp949"
	CodePageEUCKR CodePage = "euc-kr"
	CodePageUTF8  CodePage = "utf-8"
)

func pageEncoding(page CodePage) encoding.Encoding {
	switch page {
	case CodePageCP949, CodePageEUCKR:
		// x/text's EUC-KR implements the UHC extension, which is what
		// receipt printers label CP949.
		return korean.EUCKR
	case CodePageUTF8:
		return nil
	default:
		return korean.EUCKR
	}
}

// Encode converts rendered receipt text into printer bytes. It tries the
// configured code page strictly, then strict EUC-KR, and finally encodes
// with substitution so a single unrepresentable character never loses the
// whole receipt.
func Encode(text string, page CodePage) ([]byte, error) {
	enc := pageEncoding(page)
	if enc == nil {
		return []byte(text), nil
	}

	out, err := enc.NewEncoder().Bytes([]byte(text))
	if err == nil {
		return out, nil
	}

	out, err = korean.EUCKR.NewEncoder().Bytes([]byte(text))
	if err == nil {
		return out, nil
	}

	out, err = encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(text))
	if err != nil {
		return nil, apperrors.NewEncodingError("encoding receipt text", err)
	}
	return out, nil
}

// Decode recovers receipt text from a backup file for preview. ESC/POS
// control bytes are stripped first, then the code pages are tried in order:
// CP949, EUC-KR, UTF-8, and finally Latin-1 with replacement, which cannot
// fail.
func Decode(data []byte) string {
	cleaned := stripControlBytes(data)

	for _, page := range []CodePage{CodePageCP949, CodePageEUCKR} {
		if text, ok := decodeStrict(cleaned, page); ok {
			return text
		}
	}

	if utf8.Valid(cleaned) {
		return string(cleaned)
	}

	text, _ := charmap.ISO8859_1.NewDecoder().Bytes(cleaned)
	return string(text)
}

func decodeStrict(data []byte, page CodePage) (string, bool) {
	enc := pageEncoding(page)
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", false
	}
	// The decoder substitutes undecodable bytes instead of failing; a
	// replacement rune in the output means this page did not fit.
	text := string(out)
	if strings.ContainsRune(text, utf8.RuneError) {
		return "", false
	}
	return text, true
}

// stripControlBytes drops values below 0x20 except LF and CR, plus DEL.
func stripControlBytes(data []byte) []byte {
	out := make([]byte, 0, len(data))
	for _, b := range data {
		if b >= 0x20 && b != 0x7F {
			out = append(out, b)
			continue
		}
		if b == 0x0A || b == 0x0D {
			out = append(out, b)
		}
	}
	return out
}
