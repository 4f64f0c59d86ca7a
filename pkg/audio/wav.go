// Package audio builds the WAV container the STT providers wrap a recorded
// device utterance in, since none of the providers this module talks to
// accepts bare PCM over HTTP.
package audio

import (
	"bytes"
	"encoding/binary"
)

// Every recording captured through internal/endpoint is mono 16-bit PCM
// (spec §3's audio format), so the fmt chunk these constants describe never
// varies by caller.
const (
	wavChannels      = 1
	wavBitsPerSample = 16
	wavBytesPerFrame = wavChannels * wavBitsPerSample / 8
	pcmFormatTag     = 1 // PCM, uncompressed
)

// NewWavBuffer wraps raw little-endian 16-bit mono pcm in a canonical RIFF/WAVE
// header stamped with sampleRate, so an STT endpoint that only accepts
// self-describing audio files can be handed a single byte slice.
func NewWavBuffer(pcm []byte, sampleRate int) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))                                 // fmt chunk size
	binary.Write(buf, binary.LittleEndian, uint16(pcmFormatTag))
	binary.Write(buf, binary.LittleEndian, uint16(wavChannels))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*wavBytesPerFrame))        // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(wavBytesPerFrame))                   // block align
	binary.Write(buf, binary.LittleEndian, uint16(wavBitsPerSample))

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)

	return buf.Bytes()
}
