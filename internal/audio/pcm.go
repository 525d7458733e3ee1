package audio

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
)

// FloatToPCM16 converts float samples to signed 16-bit PCM. Samples are
// clamped to [-1, 1]; negative values scale by 0x8000, positive by 0x7FFF.
func FloatToPCM16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		if s < 0 {
			out[i] = int16(s * 0x8000)
		} else {
			out[i] = int16(s * 0x7FFF)
		}
	}
	return out
}

// PCM16ToFloat is the inverse of FloatToPCM16.
func PCM16ToFloat(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		if s < 0 {
			out[i] = float32(s) / 0x8000
		} else {
			out[i] = float32(s) / 0x7FFF
		}
	}
	return out
}

// PCM16Bytes encodes samples as little-endian bytes.
func PCM16Bytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// PCM16FromBytes decodes little-endian PCM16 bytes.
func PCM16FromBytes(b []byte) ([]int16, error) {
	if len(b)%2 != 0 {
		return nil, fmt.Errorf("pcm16 payload length %d is not a multiple of 2", len(b))
	}
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out, nil
}

// EncodePCM16Base64 converts float samples to base64 PCM16LE for JSON transports.
func EncodePCM16Base64(samples []float32) string {
	return base64.StdEncoding.EncodeToString(PCM16Bytes(FloatToPCM16(samples)))
}

// DecodePCM16Base64 decodes a base64 PCM16LE fragment.
func DecodePCM16Base64(encoded string) ([]int16, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode base64 audio: %w", err)
	}
	return PCM16FromBytes(raw)
}
