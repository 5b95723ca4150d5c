package mixer

import "math"

const (
	int16Scale = 1 << 15
	int16MaxF  = float32(1<<15 - 1)
	int16MinF  = float32(-1 << 15)
)

// int16ToFloat converts pcm into dst, zero-padding or truncating to len(dst).
func int16ToFloat(dst []float32, pcm []int16) {
	n := min(len(dst), len(pcm))
	for i := 0; i < n; i++ {
		dst[i] = float32(pcm[i]) / int16Scale
	}
	clear(dst[n:])
}

// floatToInt16 scales by 2^15-1, clamps and truncates toward zero.
func floatToInt16(dst []int16, pcm []float32) {
	for i, s := range pcm {
		v := s * int16MaxF
		switch {
		case math.IsNaN(float64(v)):
			v = 0
		case v > int16MaxF:
			v = int16MaxF
		case v < int16MinF:
			v = int16MinF
		}
		dst[i] = int16(v)
	}
}

// Peak returns the largest absolute sample value.
func Peak(pcm []float32) float64 {
	p := 0.0
	for _, s := range pcm {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}
