package audio

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFloatToPCM16Boundaries(t *testing.T) {
	got := FloatToPCM16([]float32{1.0, -1.0, 0, 2.5, -3})
	require.Equal(t, []int16{0x7FFF, -0x8000, 0, 0x7FFF, -0x8000}, got)
}

func TestPCM16RoundTripWithinTolerance(t *testing.T) {
	in := make([]float32, 0, 401)
	for i := -200; i <= 200; i++ {
		in = append(in, float32(i)/200)
	}
	out := PCM16ToFloat(FloatToPCM16(in))
	require.Len(t, out, len(in))
	for i := range in {
		require.LessOrEqual(t, math.Abs(float64(out[i]-in[i])), 1.0/32768, "sample %d: in=%v out=%v", i, in[i], out[i])
	}
}

func TestBase64RoundTrip(t *testing.T) {
	in := []float32{0.5, -0.5, 0.25, -1, 1}
	decoded, err := DecodePCM16Base64(EncodePCM16Base64(in))
	require.NoError(t, err)
	require.Equal(t, FloatToPCM16(in), decoded)
}

func TestDecodePCM16Base64Rejects(t *testing.T) {
	_, err := DecodePCM16Base64("%%%not-base64")
	require.Error(t, err)

	_, err = PCM16FromBytes([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestResamplePCM16Length(t *testing.T) {
	in := make([]int16, 480)
	for i := range in {
		in[i] = int16(i)
	}
	out := ResamplePCM16(in, 24000, 8000)
	require.Len(t, out, 160)
	require.Equal(t, int16(0), out[0])
	require.Equal(t, int16(3), out[1])

	same := ResamplePCM16(in, 24000, 24000)
	require.Equal(t, in, same)
}

func TestMuLawRoundTripApproximate(t *testing.T) {
	for _, s := range []int16{0, 100, -100, 1000, -1000, 12000, -12000, 32767, -32768} {
		decoded := MuLawDecode(MuLawEncode(s))
		diff := math.Abs(float64(decoded) - float64(s))
		limit := math.Max(16, math.Abs(float64(s))*0.07)
		require.LessOrEqual(t, diff, limit, "sample %d decoded %d", s, decoded)
	}
	require.Len(t, MuLawEncodeFrame(make([]int16, 160)), 160)
}
