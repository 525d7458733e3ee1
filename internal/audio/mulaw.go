package audio

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// MuLawEncode encodes one PCM16 sample as G.711 µ-law.
func MuLawEncode(sample int16) byte {
	s := int(sample)
	sign := 0
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > mulawClip {
		s = mulawClip
	}
	s += mulawBias

	exponent := 7
	for mask := 0x4000; s&mask == 0 && exponent > 0; mask >>= 1 {
		exponent--
	}
	mantissa := (s >> (exponent + 3)) & 0x0F
	return ^byte(sign | exponent<<4 | mantissa)
}

// MuLawDecode decodes one G.711 µ-law byte.
func MuLawDecode(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := int(b>>4) & 0x07
	mantissa := int(b & 0x0F)
	s := ((mantissa << 3) + mulawBias) << exponent
	s -= mulawBias
	if sign != 0 {
		return int16(-s)
	}
	return int16(s)
}

// MuLawEncodeFrame encodes a PCM16 frame.
func MuLawEncodeFrame(samples []int16) []byte {
	out := make([]byte, len(samples))
	for i, s := range samples {
		out[i] = MuLawEncode(s)
	}
	return out
}
