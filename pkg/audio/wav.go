package audio

import (
	"encoding/binary"
	"fmt"
)

// PCMToWAV wraps 16-bit little-endian PCM in a RIFF/WAVE container so it can
// be uploaded to STT vendors that refuse raw PCM.
func PCMToWAV(pcm []byte, sampleRate, channels int) []byte {
	if sampleRate <= 0 {
		sampleRate = 8000
	}
	if channels <= 0 {
		channels = 1
	}

	const bitsPerSample = 16
	byteRate := sampleRate * channels * bitsPerSample / 8
	blockAlign := channels * bitsPerSample / 8

	out := make([]byte, 0, 44+len(pcm))
	out = append(out, "RIFF"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(36+len(pcm)))
	out = append(out, "WAVE"...)
	out = append(out, "fmt "...)
	out = binary.LittleEndian.AppendUint32(out, 16)
	out = binary.LittleEndian.AppendUint16(out, 1) // PCM
	out = binary.LittleEndian.AppendUint16(out, uint16(channels))
	out = binary.LittleEndian.AppendUint32(out, uint32(sampleRate))
	out = binary.LittleEndian.AppendUint32(out, uint32(byteRate))
	out = binary.LittleEndian.AppendUint16(out, uint16(blockAlign))
	out = binary.LittleEndian.AppendUint16(out, bitsPerSample)
	out = append(out, "data"...)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(pcm)))
	out = append(out, pcm...)
	return out
}

// ExtractWAVData returns the payload of the first data chunk in a RIFF/WAVE
// byte stream.
func ExtractWAVData(wav []byte) ([]byte, error) {
	if len(wav) < 12 || string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE stream")
	}
	i := 12
	for i+8 <= len(wav) {
		id := string(wav[i : i+4])
		size := int(binary.LittleEndian.Uint32(wav[i+4 : i+8]))
		i += 8
		if size < 0 || i+size > len(wav) {
			return nil, fmt.Errorf("truncated %q chunk", id)
		}
		if id == "data" {
			return wav[i : i+size], nil
		}
		// Chunks are word aligned.
		i += size + (size & 1)
	}
	return nil, fmt.Errorf("no data chunk")
}
