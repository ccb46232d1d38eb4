package dump

import (
	"fmt"
	"strings"
)

// HexDump renders data as lowercase two-digit hex bytes separated by spaces.
func HexDump(data []byte) string {
	var sb strings.Builder
	for i, b := range data {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02x", b)
	}
	return sb.String()
}

// Printable renders data as text. Printable ASCII is kept, the common control
// characters become C escapes and every other byte becomes a three-digit octal escape.
func Printable(data []byte) string {
	var sb strings.Builder
	for _, c := range data {
		switch c {
		case 0:
			sb.WriteString(`\0`)
		case '\a':
			sb.WriteString(`\a`)
		case '\b':
			sb.WriteString(`\b`)
		case '\t':
			sb.WriteString(`\t`)
		case '\n':
			sb.WriteString(`\n`)
		case '\v':
			sb.WriteString(`\v`)
		case '\f':
			sb.WriteString(`\f`)
		case '\r':
			sb.WriteString(`\r`)
		default:
			if c >= 32 && c < 127 {
				sb.WriteByte(c)
			} else {
				fmt.Fprintf(&sb, `\%03o`, c)
			}
		}
	}
	return sb.String()
}
