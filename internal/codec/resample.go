package codec

import "fmt"

// Resample converts mono samples from srcRate to dstRate by linear
// interpolation. The output holds floor(len*dst/src) samples. Equal rates
// go through the same path and return a copy.
func Resample(samples []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	n := len(samples)
	if n == 0 || srcRate <= 0 || dstRate <= 0 {
		return []int16{}
	}

	outLen := n * dstRate / srcRate
	out := make([]int16, outLen)
	for i := range out {
		// position in the source, kept as an integer fraction over dstRate
		num := i * srcRate
		i0 := num / dstRate
		rem := num % dstRate
		i1 := i0 + 1
		if i1 >= n {
			i1 = n - 1
		}
		if i0 >= n {
			i0 = n - 1
		}
		s0 := int64(samples[i0])
		s1 := int64(samples[i1])
		out[i] = int16(s0 + (s1-s0)*int64(rem)/int64(dstRate))
	}
	return out
}

// Downmix averages interleaved channels into mono.
func Downmix(samples []int16, channels int) ([]int16, error) {
	if channels <= 0 || channels > MaxChannels {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedChannels, channels)
	}
	if len(samples)%channels != 0 {
		return nil, fmt.Errorf("%w: %d samples for %d channels", ErrMalformed, len(samples), channels)
	}
	if channels == 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out, nil
	}

	out := make([]int16, len(samples)/channels)
	for i := range out {
		sum := 0
		for c := 0; c < channels; c++ {
			sum += int(samples[i*channels+c])
		}
		out[i] = int16(sum / channels)
	}
	return out, nil
}
