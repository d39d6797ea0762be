package frontend

import "encoding/binary"

// DecodePCM16LE converts a little-endian 16-bit PCM byte slice (the wire
// format of binary audio frames, spec.md §6) into samples.
func DecodePCM16LE(b []byte) []int16 {
	n := len(b) / 2
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2 : i*2+2]))
	}
	return out
}
