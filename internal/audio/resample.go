package audio

import "math"

// resampleZeroCrossings is the number of sinc lobes kept on each side of the
// kernel center, measured at the output cutoff.
const resampleZeroCrossings = 8

// Resample converts mono samples from one rate to another with a Hann-windowed
// sinc interpolator. The output holds len(samples)*to/from samples. When
// downsampling the kernel cutoff drops to the target Nyquist so the result is
// band-limited.
func Resample(samples []int16, from, to int) []int16 {
	if from <= 0 || to <= 0 || from == to || len(samples) == 0 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}

	n := int(int64(len(samples)) * int64(to) / int64(from))
	out := make([]int16, n)
	if n == 0 {
		return out
	}

	ratio := float64(to) / float64(from)
	cutoff := math.Min(1, ratio)
	radius := float64(resampleZeroCrossings) / cutoff

	for i := 0; i < n; i++ {
		pos := float64(i) / ratio
		lo := int(math.Ceil(pos - radius))
		hi := int(math.Floor(pos + radius))
		if lo < 0 {
			lo = 0
		}
		if hi > len(samples)-1 {
			hi = len(samples) - 1
		}

		var sum, weight float64
		for k := lo; k <= hi; k++ {
			x := pos - float64(k)
			w := cutoff * sinc(cutoff*x) * hann(x, radius)
			sum += w * float64(samples[k])
			weight += w
		}
		if weight != 0 {
			sum /= weight
		}
		out[i] = clampSample(sum)
	}
	return out
}

// ResamplePCM16LE is Resample over little-endian PCM16 bytes.
func ResamplePCM16LE(pcm []byte, from, to int) []byte {
	return SamplesToBytes(Resample(BytesToSamples(pcm), from, to))
}

func sinc(x float64) float64 {
	if x == 0 {
		return 1
	}
	px := math.Pi * x
	return math.Sin(px) / px
}

func hann(x, radius float64) float64 {
	if math.Abs(x) >= radius {
		return 0
	}
	return 0.5 * (1 + math.Cos(math.Pi*x/radius))
}

func clampSample(v float64) int16 {
	v = math.Round(v)
	if v > math.MaxInt16 {
		return math.MaxInt16
	}
	if v < math.MinInt16 {
		return math.MinInt16
	}
	return int16(v)
}
