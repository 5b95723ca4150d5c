// Package agc implements the adaptive per-connection gain applied to decoded
// audio before it reaches the mix bus.
package agc

import "math"

const (
	DefaultTarget  = 0.5
	DefaultMu      = 0.1
	DefaultMaxGain = 25.0
)

type Config struct {
	// Target is the peak amplitude the controller steers towards.
	Target float64
	// Mu is the adaptation rate.
	Mu float64
	// MaxGain caps the gain; the floor is always zero.
	MaxGain float64
}

func DefaultConfig() Config {
	return Config{
		Target:  DefaultTarget,
		Mu:      DefaultMu,
		MaxGain: DefaultMaxGain,
	}
}

// Controller holds the gain for one connection. It is not safe for
// concurrent use; the owning connection serialises access.
type Controller struct {
	cfg  Config
	gain float64
}

func New(cfg Config) *Controller {
	return &Controller{cfg: cfg, gain: 1}
}

func (c *Controller) Gain() float64 {
	return c.gain
}

func (c *Controller) Reset() {
	c.gain = 1
}

// Apply scales frame in place. The new gain is derived from the peak of the
// frame under the old gain and reached through a linear ramp across the
// frame so there is no step at frame boundaries.
func (c *Controller) Apply(frame []float32) {
	if len(frame) == 0 {
		return
	}

	oldGain := c.gain
	newGain := c.next(peak(frame) * oldGain)

	ramp(frame, oldGain, newGain)
	c.gain = newGain
}

func (c *Controller) next(peak float64) float64 {
	err := c.cfg.Target - peak

	sign := 0.0
	switch {
	case err > 0:
		sign = 1
	case err < 0:
		sign = -1
	}
	g := c.gain + c.cfg.Mu*err*err*sign

	if math.IsNaN(g) || math.IsInf(g, 0) {
		return 1
	}
	return math.Min(math.Max(g, 0), c.cfg.MaxGain)
}

// peak returns max |x|. A NaN sample makes the result NaN.
func peak(frame []float32) float64 {
	p := 0.0
	for _, s := range frame {
		p = math.Max(p, math.Abs(float64(s)))
	}
	return p
}

// ramp multiplies frame by a line from start to stop inclusive.
func ramp(frame []float32, start, stop float64) {
	n := len(frame)
	if n == 1 {
		frame[0] = float32(float64(frame[0]) * start)
		return
	}
	step := (stop - start) / float64(n-1)
	for i := range frame {
		frame[i] = float32(float64(frame[i]) * (start + step*float64(i)))
	}
}
