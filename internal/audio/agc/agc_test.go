package agc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constantFrame(n int, amplitude float32) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		if i%2 == 0 {
			frame[i] = amplitude
		} else {
			frame[i] = -amplitude
		}
	}
	return frame
}

func TestController_ConvergesUpwards(t *testing.T) {
	c := New(DefaultConfig())
	const amplitude = 0.25
	want := DefaultTarget / amplitude

	prev := c.Gain()
	for i := 0; i < 5000; i++ {
		c.Apply(constantFrame(960, amplitude))
		require.GreaterOrEqual(t, c.Gain(), prev, "gain must not fall while below target (frame %d)", i)
		require.LessOrEqual(t, c.Gain(), want, "gain must not overshoot (frame %d)", i)
		prev = c.Gain()
	}
	assert.InDelta(t, want, c.Gain(), 0.05)
}

func TestController_ConvergesDownwards(t *testing.T) {
	c := New(DefaultConfig())
	const amplitude = 0.9
	want := DefaultTarget / amplitude

	prev := c.Gain()
	for i := 0; i < 5000; i++ {
		c.Apply(constantFrame(960, amplitude))
		require.LessOrEqual(t, c.Gain(), prev, "gain must not rise while above target (frame %d)", i)
		prev = c.Gain()
	}
	assert.InDelta(t, want, c.Gain(), 0.02)
}

func TestController_RampIsLinear(t *testing.T) {
	c := New(Config{Target: 0.5, Mu: 1, MaxGain: 25})
	frame := constantFrame(5, 1)
	for i := range frame {
		frame[i] = 1
	}

	// peak 1, error -0.5, new gain 1 - 0.25.
	c.Apply(frame)
	require.InDelta(t, 0.75, c.Gain(), 1e-9)

	want := []float64{1, 0.9375, 0.875, 0.8125, 0.75}
	for i := range frame {
		assert.InDelta(t, want[i], frame[i], 1e-6, "sample %d", i)
	}
}

func TestController_ClampsToMaxGain(t *testing.T) {
	c := New(Config{Target: 0.5, Mu: 0.1, MaxGain: 3})
	for i := 0; i < 1000; i++ {
		c.Apply(make([]float32, 960))
	}
	assert.Equal(t, 3.0, c.Gain())
}

func TestController_ClampsToZero(t *testing.T) {
	c := New(Config{Target: 0.5, Mu: 10, MaxGain: 25})
	c.Apply(constantFrame(960, 1))
	assert.Equal(t, 0.0, c.Gain())
}

func TestController_NonFiniteResetsGain(t *testing.T) {
	tests := []struct {
		name   string
		sample float32
	}{
		{"nan", float32(math.NaN())},
		{"inf", float32(math.Inf(1))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(Config{Target: 0.5, Mu: 0.1, MaxGain: 3})
			for i := 0; i < 1000; i++ {
				c.Apply(make([]float32, 960))
			}
			require.Equal(t, 3.0, c.Gain())

			frame := make([]float32, 960)
			frame[10] = tt.sample
			c.Apply(frame)
			assert.Equal(t, 1.0, c.Gain())
		})
	}
}

func TestController_EmptyFrame(t *testing.T) {
	c := New(DefaultConfig())
	c.Apply(nil)
	assert.Equal(t, 1.0, c.Gain())

	c.Apply(make([]float32, 960))
	c.Reset()
	assert.Equal(t, 1.0, c.Gain())
}
