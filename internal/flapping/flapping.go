// Package flapping implements state-change flap detection with hysteresis.
package flapping

import (
	"time"

	"github.com/vigilmon/vigil/internal/metrics"
	"github.com/vigilmon/vigil/internal/objects"
)

// Detector evaluates the flapping status of entities. Global enablement
// comes from the shared Globals; per-entity enablement from the entity
// itself.
type Detector struct {
	Globals *objects.Globals
}

// NewDetector creates a detector bound to the given globals.
func NewDetector(g *objects.Globals) *Detector {
	return &Detector{Globals: g}
}

// Update records one state evaluation cycle for the entity. stateChanged
// says whether this cycle observed a state change.
//
// The buffer keeps the last 20 observations; the slot at the write index
// is overwritten and the index advances modulo 20. The flap percentage is
// a weighted sum where older observations contribute 0.8 and the newest
// contributes 1.18, divided by the slot count. The total can therefore
// exceed 100; thresholds are calibrated against the raw value, so it is
// not normalized.
func (d *Detector) Update(c *objects.Checkable, stateChanged bool) {
	c.Mu.Lock()
	defer c.Mu.Unlock()

	buf := c.FlappingBuffer & objects.FlapBufferMask
	idx := c.FlappingIndex

	if stateChanged {
		buf |= 1 << idx
	} else {
		buf &^= 1 << idx
	}
	idx = (idx + 1) % objects.FlapHistorySize

	var stateChanges float64
	for i := 0; i < objects.FlapHistorySize; i++ {
		slot := (idx + i) % objects.FlapHistorySize
		if buf&(1<<slot) != 0 {
			stateChanges += 0.8 + 0.02*float64(i)
		}
	}

	value := 100.0 * stateChanges / float64(objects.FlapHistorySize)

	low := c.FlappingThresholdLow
	if low <= 0 {
		low = objects.DefaultFlappingThresholdLow
	}
	high := c.FlappingThresholdHigh
	if high <= 0 {
		high = objects.DefaultFlappingThresholdHigh
	}

	// Hysteresis: an entity already flapping stays flapping until the
	// value drops to the low threshold; one that is not stays quiet until
	// the value strictly exceeds the high threshold.
	var flapping bool
	if c.Flapping {
		flapping = value > low
	} else {
		flapping = value > high
	}

	c.FlappingBuffer = buf
	c.FlappingIndex = idx
	c.FlappingCurrent = value

	if flapping != c.Flapping {
		c.FlappingLastChange = time.Now()
		if flapping {
			metrics.FlapTransitions.WithLabelValues("start").Inc()
		} else {
			metrics.FlapTransitions.WithLabelValues("stop").Inc()
		}
	}
	c.Flapping = flapping
}

// IsFlapping reports whether the entity is flapping. It returns false
// whenever flap detection is disabled globally or on the entity,
// regardless of the stored flag.
func (d *Detector) IsFlapping(c *objects.Checkable) bool {
	if d.Globals != nil && !d.Globals.EnableFlapping {
		return false
	}
	c.Mu.Lock()
	defer c.Mu.Unlock()
	if !c.EnableFlapping {
		return false
	}
	return c.Flapping
}

// Current returns the most recently computed flap percentage.
func (d *Detector) Current(c *objects.Checkable) float64 {
	c.Mu.Lock()
	defer c.Mu.Unlock()
	return c.FlappingCurrent
}
