package receipt

// ESC/POS command bytes shared by the USB and serial backends. The spooler
// path sends plain text and must not receive any of these.

var (
	escInit        = []byte{0x1B, 0x40}
	escAlignLeft   = []byte{0x1B, 0x61, 0x00}
	escAlignCenter = []byte{0x1B, 0x61, 0x01}
	escBoldOn      = []byte{0x1B, 0x45, 0x01}
	escBoldOff     = []byte{0x1B, 0x45, 0x00}
	escDoubleSize  = []byte{0x1D, 0x21, 0x11}
	escNormalSize  = []byte{0x1D, 0x21, 0x00}
	escCutPartial  = []byte{0x1D, 0x56, 0x41, 0x00}
	// Some firmwares only understand the legacy two-byte cut.
	escCutLegacy = []byte{0x1D, 0x56, 0x00}
	escCRLF      = []byte{0x0D, 0x0A}
)

// CodePageKorean is the ESC/POS code page slot most thermal printers map
// CP949 onto.
const CodePageKorean byte = 0x0D

func escSelectCodePage(page byte) []byte {
	return []byte{0x1B, 0x74, page}
}

// Frame wraps already-encoded receipt bytes in the device command sequence
// used by both ESC/POS transports: initialize, select the code page, print
// the title line centered in emphasized double size, then the body
// left-aligned at normal size, feed and cut. legacyCut selects the
// two-byte cut variant.
func Frame(encoded []byte, codePage byte, legacyCut bool) []byte {
	out := make([]byte, 0, len(encoded)+32)
	out = append(out, escInit...)
	out = append(out, escSelectCodePage(codePage)...)

	header, body := splitHeaderLine(encoded)
	if len(header) > 0 {
		out = append(out, escAlignCenter...)
		out = append(out, escBoldOn...)
		out = append(out, escDoubleSize...)
		out = append(out, header...)
		out = append(out, escBoldOff...)
		out = append(out, escNormalSize...)
	}
	out = append(out, escAlignLeft...)
	out = append(out, body...)

	out = append(out, escCRLF...)
	if legacyCut {
		out = append(out, escCutLegacy...)
	} else {
		out = append(out, escCutPartial...)
	}
	return out
}

// splitHeaderLine separates the title line (including its newline) from the
// rest. Safe on CP949/EUC-KR bytes: trail bytes are always >= 0x41, so 0x0A
// never occurs inside a multi-byte character.
func splitHeaderLine(encoded []byte) (header, body []byte) {
	for i, b := range encoded {
		if b == 0x0A {
			return encoded[:i+1], encoded[i+1:]
		}
	}
	return nil, encoded
}
