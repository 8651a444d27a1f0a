package audio

import "math"

// RMSEnergy computes the root-mean-square energy of 16-bit little-endian PCM.
// Returns a value between 0.0 and 1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data.
// Returns a value between 0.0 and 1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}

	var maxAbs float64
	for i := 0; i < len(pcm)-1; i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		// float64 avoids overflow when negating -32768
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}

// NormalizeGain scales PCM so the peak reaches targetPeak of full scale,
// compensating for quiet telephony lines. Gain is capped at maxFactor.
// Silent buffers are returned unchanged.
func NormalizeGain(pcm []byte, targetPeak, maxFactor float64) []byte {
	if targetPeak <= 0 || targetPeak > 1 {
		targetPeak = 0.8
	}
	if maxFactor <= 1 {
		maxFactor = 50
	}

	peak := PeakAmplitude(pcm)
	if peak == 0 {
		return pcm
	}

	gain := targetPeak / peak
	if gain > maxFactor {
		gain = maxFactor
	}
	if gain <= 1 {
		return pcm
	}

	out := make([]byte, len(pcm))
	copy(out, pcm)
	for i := 0; i+1 < len(out); i += 2 {
		sample := float64(int16(out[i]) | int16(out[i+1])<<8)
		scaled := sample * gain
		if scaled > 32767 {
			scaled = 32767
		}
		if scaled < -32768 {
			scaled = -32768
		}
		s := int16(scaled)
		out[i] = byte(s)
		out[i+1] = byte(s >> 8)
	}
	return out
}
