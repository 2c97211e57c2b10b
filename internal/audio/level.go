// SPDX-License-Identifier: MIT
package audio

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// DefaultFloorDecibels is the level meter floor. Anything at or below it
// reads as level 0.
const DefaultFloorDecibels = -80.0

// LevelMeter converts a buffer of samples into a normalized loudness in
// [0, 1]. It keeps a scratch buffer so Measure does not allocate once the
// meter has seen a buffer of the working size.
type LevelMeter struct {
	floor   float64 // Absolute value of the floor, in dB
	scratch []float64
}

// NewLevelMeter returns a meter with the given floor (negative dBFS) and a
// scratch buffer pre-sized for size samples.
func NewLevelMeter(floorDecibels float64, size int) *LevelMeter {
	if floorDecibels >= 0 || math.IsNaN(floorDecibels) {
		floorDecibels = DefaultFloorDecibels
	}
	return &LevelMeter{
		floor:   math.Abs(floorDecibels),
		scratch: make([]float64, 0, size),
	}
}

// Power returns 20*log10(rms) of samples. Digital silence yields -Inf and an
// empty buffer yields NaN.
func (m *LevelMeter) Power(samples []float32) float64 {
	if len(samples) == 0 {
		return math.NaN()
	}
	if cap(m.scratch) < len(samples) {
		m.scratch = make([]float64, 0, len(samples))
	}
	x := m.scratch[:len(samples)]
	for i, s := range samples {
		x[i] = float64(s)
	}
	rms := math.Sqrt(floats.Dot(x, x) / float64(len(x)))
	return 20 * math.Log10(rms)
}

// Level normalizes Power against the floor:
//
//	level = clamp((|floor| - |power|) / |floor|, 0, 1)
//
// A non-finite power reads as 0 so NaN and Inf never reach the gate.
func (m *LevelMeter) Level(samples []float32) float64 {
	power := m.Power(samples)
	if math.IsNaN(power) || math.IsInf(power, 0) {
		return 0
	}
	level := (m.floor - math.Abs(power)) / m.floor
	return max(0, min(level, 1))
}

// Measure returns the level of the first channel of f.
func (m *LevelMeter) Measure(f Frame) float64 {
	if f.Channels() == 0 {
		return 0
	}
	return m.Level(f.Samples[0])
}
