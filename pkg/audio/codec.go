// Package audio implements the telephony audio codec path: base64 mulaw
// frames from the transport, 16-bit little-endian PCM internally, and WAV
// for speech-to-text uploads.
package audio

import (
	"encoding/base64"
	"fmt"
	"sync/atomic"
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// conversionFallbacks counts best-effort passthroughs where synthesized audio
// could not be converted to the transport encoding. Silent degradation is
// allowed but must stay observable.
var conversionFallbacks atomic.Int64

// ConversionFallbacks reports how many outbound conversions fell back to
// passing the original bytes through unchanged.
func ConversionFallbacks() int64 {
	return conversionFallbacks.Load()
}

// DecodeInbound decodes a transport media payload (base64-encoded mulaw)
// into 16-bit little-endian PCM.
func DecodeInbound(payload string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode media payload: %w", err)
	}
	return MulawToPCM16(raw), nil
}

// EncodeOutbound converts 16-bit little-endian PCM to a base64 mulaw payload
// in the shape the transport expects.
func EncodeOutbound(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(PCM16ToMulaw(pcm))
}

// MulawToPCM16 expands 8-bit mulaw samples to 16-bit little-endian PCM.
func MulawToPCM16(in []byte) []byte {
	out := make([]byte, len(in)*2)
	for i, u := range in {
		s := mulawDecodeSample(u)
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMulaw compands 16-bit little-endian PCM to 8-bit mulaw. A trailing
// odd byte is ignored.
func PCM16ToMulaw(pcm []byte) []byte {
	samples := len(pcm) / 2
	out := make([]byte, samples)
	for i := 0; i < samples; i++ {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = mulawEncodeSample(s)
	}
	return out
}

func mulawDecodeSample(u byte) int16 {
	u = ^u
	sign := u & 0x80
	exponent := (u >> 4) & 0x07
	mantissa := u & 0x0F
	sample := ((int(mantissa) << 3) + mulawBias) << exponent
	sample -= mulawBias
	if sign != 0 {
		sample = -sample
	}
	return int16(sample)
}

func mulawEncodeSample(s int16) byte {
	var sign byte
	v := int(s)
	if v < 0 {
		v = -v
		sign = 0x80
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	exponent := 7
	for mask := 0x4000; v&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (v >> (exponent + 3)) & 0x0F
	return ^(sign | byte(exponent)<<4 | byte(mantissa))
}

// ToTransport converts synthesized vendor audio to the transport's native
// mulaw encoding. srcEncoding names the vendor output format. Conversion
// never fails hard: unknown formats are passed through unchanged so a single
// bad synthesis result cannot abort the stream. The second return reports
// whether a real conversion (or valid passthrough) happened.
func ToTransport(data []byte, srcEncoding string) ([]byte, bool) {
	switch srcEncoding {
	case "ulaw", "mulaw", "ulaw_8000":
		return data, true
	case "pcm", "pcm_s16le", "pcm_8000":
		return PCM16ToMulaw(data), true
	case "wav":
		pcm, err := ExtractWAVData(data)
		if err != nil {
			conversionFallbacks.Add(1)
			return data, false
		}
		return PCM16ToMulaw(pcm), true
	default:
		conversionFallbacks.Add(1)
		return data, false
	}
}
