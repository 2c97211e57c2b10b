// SPDX-License-Identifier: MIT
package audio

import (
	"math"
	"sync/atomic"
)

// DefaultSilenceThreshold is the level below which a frame is silent.
const DefaultSilenceThreshold = 0.6

// Gate classifies each frame independently as silent or active using a hard
// threshold. There is no hysteresis: a level exactly at the threshold is
// active. The threshold may be changed from any goroutine while the gate is
// in use by the capture callback.
type Gate struct {
	threshold atomic.Uint64 // math.Float64bits
}

// NewGate returns a gate with the given threshold, clamped to [0, 1].
func NewGate(threshold float64) *Gate {
	g := &Gate{}
	g.SetThreshold(threshold)
	return g
}

// SetThreshold adjusts the threshold. The value is clamped to [0, 1] where
// 0 means always active and 1 means silent unless the level is at full scale.
func (g *Gate) SetThreshold(threshold float64) {
	if math.IsNaN(threshold) || threshold < 0 {
		threshold = 0
	}
	if threshold > 1 {
		threshold = 1
	}
	g.threshold.Store(math.Float64bits(threshold))
}

// Threshold returns the current threshold.
func (g *Gate) Threshold() float64 {
	return math.Float64frombits(g.threshold.Load())
}

// Silent reports whether level is below the threshold.
func (g *Gate) Silent(level float64) bool {
	return level < g.Threshold()
}
