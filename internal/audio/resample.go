package audio

// ResamplePCM16 resamples mono PCM16 with linear interpolation.
func ResamplePCM16(in []int16, fromRate, toRate int) []int16 {
	if fromRate <= 0 || toRate <= 0 || fromRate == toRate {
		out := make([]int16, len(in))
		copy(out, in)
		return out
	}
	if len(in) == 0 {
		return []int16{}
	}
	n := int(float64(len(in)) * float64(toRate) / float64(fromRate))
	out := make([]int16, n)
	ratio := float64(fromRate) / float64(toRate)
	for i := 0; i < n; i++ {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(idx)
		s0 := float64(in[idx])
		s1 := float64(in[idx+1])
		out[i] = int16(s0 + frac*(s1-s0))
	}
	return out
}
