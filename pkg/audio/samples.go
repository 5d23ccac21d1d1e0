// ABOUTME: PCM sample conversion helpers
// ABOUTME: Packs and unpacks little-endian PCM bytes to native sample slices
package audio

import "encoding/binary"

// BytesToInt16 unpacks little-endian 16-bit PCM into dst and returns the number of samples
func BytesToInt16(dst []int16, src []byte) int {
	n := len(src) / 2
	if n > len(dst) {
		n = len(dst)
	}
	for i := 0; i < n; i++ {
		dst[i] = int16(binary.LittleEndian.Uint16(src[i*2:]))
	}
	return n
}

// Int16ToBytes packs samples into dst as little-endian 16-bit PCM and returns the bytes written
func Int16ToBytes(dst []byte, samples []int16) int {
	n := len(samples)
	if n*2 > len(dst) {
		n = len(dst) / 2
	}
	for i := 0; i < n; i++ {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(samples[i]))
	}
	return n * 2
}

// Silence returns the byte value of a zero sample at the given bit depth
func Silence(bitDepth uint16) byte {
	// 8-bit PCM is unsigned with its midpoint at 128
	if bitDepth == 8 {
		return 0x80
	}
	return 0
}
