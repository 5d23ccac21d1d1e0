// ABOUTME: WAV container codec for canonical PCM files
// ABOUTME: Encodes raw PCM into RIFF/WAVE and decodes it back
// Package wavcodec converts between headerless PCM and the canonical 44-byte
// PCM WAV container.
//
// The codec is stateless: every function is a pure transform over a byte
// stream and an audio.Format. Byte rate and block align are always derived
// from the Format, so Encode(Decode(x)) reproduces a canonical x byte for byte.
//
// Example:
//
//	wav, err := wavcodec.Encode(pcmReader, format)
//	format, pcm, err := wavcodec.Decode(bytes.NewReader(wav))
//
// Files on disk are converted without loading them into memory:
//
//	n, err := wavcodec.ConvertFile("take.pcm", "take.wav", format)
package wavcodec
