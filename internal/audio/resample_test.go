package audio

import (
	"math"
	"testing"
)

func sineWave(n, rate int, freq, amp float64) []int16 {
	out := make([]int16, n)
	for i := range out {
		out[i] = int16(amp * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
	}
	return out
}

// zeroCrossings counts sign changes, ignoring the first and last edge of the
// buffer where the kernel sees padding.
func zeroCrossings(s []int16, skip int) int {
	n := 0
	for i := skip + 1; i < len(s)-skip; i++ {
		if (s[i-1] < 0) != (s[i] < 0) {
			n++
		}
	}
	return n
}

func TestResampleOutputLength(t *testing.T) {
	cases := []struct {
		in, from, to, want int
	}{
		{24000, 24000, 8000, 8000},
		{8000, 8000, 16000, 16000},
		{100, 22050, 8000, 36},
		{3, 24000, 8000, 1},
		{2, 24000, 8000, 0},
	}
	for _, tc := range cases {
		got := Resample(make([]int16, tc.in), tc.from, tc.to)
		if len(got) != tc.want {
			t.Fatalf("Resample(%d samples, %d->%d) len = %d, want %d", tc.in, tc.from, tc.to, len(got), tc.want)
		}
	}
}

func TestResampleSameRateCopies(t *testing.T) {
	in := []int16{1, -2, 3}
	out := Resample(in, 8000, 8000)
	out[0] = 99
	if in[0] != 1 {
		t.Fatalf("Resample() aliased its input")
	}
}

func TestResamplePreservesDC(t *testing.T) {
	in := make([]int16, 2400)
	for i := range in {
		in[i] = 1000
	}
	out := Resample(in, 24000, 8000)
	for i, v := range out {
		if v < 995 || v > 1005 {
			t.Fatalf("out[%d] = %d, want ~1000", i, v)
		}
	}
}

func TestResamplePreservesToneFrequency(t *testing.T) {
	// 440 Hz for one second: 880 zero crossings at any rate.
	in := sineWave(24000, 24000, 440, 8000)
	out := Resample(in, 24000, 8000)
	got := zeroCrossings(out, 80)
	want := int(880 * float64(len(out)-160) / float64(len(out)))
	if d := got - want; d < -4 || d > 4 {
		t.Fatalf("zero crossings = %d, want about %d", got, want)
	}
}

func TestResampleAttenuatesAboveTargetNyquist(t *testing.T) {
	// 6 kHz is above the 4 kHz Nyquist of the 8 kHz target.
	in := sineWave(24000, 24000, 6000, 10000)
	out := Resample(in, 24000, 8000)
	var peak int16
	for _, v := range out[100 : len(out)-100] {
		if v < 0 {
			v = -v
		}
		if v > peak {
			peak = v
		}
	}
	if peak > 1500 {
		t.Fatalf("aliased peak = %d, want strongly attenuated", peak)
	}
}

func TestResamplePCM16LE(t *testing.T) {
	pcm := SamplesToBytes(make([]int16, 240))
	out := ResamplePCM16LE(pcm, 24000, 8000)
	if len(out) != 160 {
		t.Fatalf("len = %d, want 160", len(out))
	}
}
