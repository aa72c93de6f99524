package protocol

import (
	"fmt"
	"strings"
)

// HexDump formats data as 16-byte rows of offset, hex and printable text.
// Used for trace logging of rejected packets.
func HexDump(data []byte) string {
	const perLine = 16

	var sb strings.Builder
	for off := 0; off < len(data); off += perLine {
		end := off + perLine
		if end > len(data) {
			end = len(data)
		}
		row := data[off:end]

		fmt.Fprintf(&sb, "%06d: ", off)
		for _, v := range row {
			fmt.Fprintf(&sb, "%02X ", v)
		}
		sb.WriteString(strings.Repeat("   ", perLine-len(row)))
		sb.WriteByte(' ')
		for _, v := range row {
			if v < 32 || v > 126 {
				sb.WriteByte('.')
			} else {
				sb.WriteByte(v)
			}
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
