package audio

import "testing"

func pcmFromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

func TestNormalizeGain_BoostsQuietAudio(t *testing.T) {
	quiet := pcmFromSamples([]int16{100, -100, 50, -50})
	boosted := NormalizeGain(quiet, 0.8, 50)

	peak := PeakAmplitude(boosted)
	// 100/32768 at 50x cap lands well below the 0.8 target.
	want := float64(100*50) / 32768.0
	if peak < want-0.001 || peak > want+0.001 {
		t.Fatalf("peak after 50x cap = %f, want ~%f", peak, want)
	}
}

func TestNormalizeGain_SilenceBypassed(t *testing.T) {
	silence := make([]byte, 320)
	out := NormalizeGain(silence, 0.8, 50)
	if &out[0] != &silence[0] {
		t.Fatalf("silent buffer must be returned as-is")
	}
}

func TestNormalizeGain_LoudAudioUntouched(t *testing.T) {
	loud := pcmFromSamples([]int16{30000, -30000})
	out := NormalizeGain(loud, 0.8, 50)
	if PeakAmplitude(out) != PeakAmplitude(loud) {
		t.Fatalf("audio already above target must not be rescaled")
	}
}

func TestNormalizeGain_ClampsAtFullScale(t *testing.T) {
	in := pcmFromSamples([]int16{2000, 30000})
	out := NormalizeGain(in, 1.0, 50)
	if p := PeakAmplitude(out); p > 1.0 {
		t.Fatalf("peak exceeded full scale: %f", p)
	}
}

func TestRMSEnergy_ZeroForEmpty(t *testing.T) {
	if RMSEnergy(nil) != 0 {
		t.Fatalf("empty buffer should have zero energy")
	}
	if PeakAmplitude([]byte{1}) != 0 {
		t.Fatalf("sub-sample buffer should have zero peak")
	}
}
