package flapping

import (
	"math"
	"testing"

	"github.com/vigilmon/vigil/internal/objects"
)

func newDetector() *Detector {
	return NewDetector(objects.DefaultGlobals())
}

func newCheckable() *objects.Checkable {
	c := &objects.Checkable{}
	c.EnableFlapping = true
	c.FlappingThresholdLow = 25.0
	c.FlappingThresholdHigh = 30.0
	return c
}

func TestUpdateNoChangesYieldsZero(t *testing.T) {
	d := newDetector()
	c := newCheckable()
	for i := 0; i < 40; i++ {
		d.Update(c, false)
	}
	if c.FlappingCurrent != 0 {
		t.Errorf("expected 0%%, got %.2f%%", c.FlappingCurrent)
	}
	if c.Flapping {
		t.Error("quiet entity must not flap")
	}
}

func TestUpdateAllChangesWeightedTotal(t *testing.T) {
	d := newDetector()
	c := newCheckable()
	c.FlappingThresholdHigh = 1000 // keep the flag out of the way
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c, true)
	}

	// Every slot is set, so the weighted sum is the full ramp from 0.8
	// for the oldest observation to 1.18 for the newest.
	var sum float64
	for i := 0; i < objects.FlapHistorySize; i++ {
		sum += 0.8 + 0.02*float64(i)
	}
	want := 100.0 * sum / float64(objects.FlapHistorySize)

	if math.Abs(c.FlappingCurrent-want) > 1e-9 {
		t.Errorf("expected %.4f%%, got %.4f%%", want, c.FlappingCurrent)
	}
	if c.FlappingBuffer != objects.FlapBufferMask {
		t.Errorf("expected full buffer, got %020b", c.FlappingBuffer)
	}
	if c.FlappingIndex != 0 {
		t.Errorf("index should have wrapped to 0, got %d", c.FlappingIndex)
	}
}

func TestUpdateIndexWrapsModulo20(t *testing.T) {
	d := newDetector()
	c := newCheckable()
	for i := 0; i < 25; i++ {
		d.Update(c, i%2 == 0)
	}
	if c.FlappingIndex != 5 {
		t.Errorf("expected index 5 after 25 updates, got %d", c.FlappingIndex)
	}
}

func TestHysteresisStartsAboveHighThreshold(t *testing.T) {
	d := newDetector()
	c := newCheckable()
	c.FlappingThresholdLow = 10
	c.FlappingThresholdHigh = 50

	// Alternate until the weighted value climbs past the high threshold.
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c, true)
	}
	if !c.Flapping {
		t.Fatalf("expected flapping at %.2f%% > 50%%", c.FlappingCurrent)
	}
	if c.FlappingLastChange.IsZero() {
		t.Error("transition time not recorded")
	}

	// Quiet cycles pull the value down; flapping holds until it reaches
	// the low threshold.
	for i := 0; i < 10 && c.FlappingCurrent > c.FlappingThresholdLow; i++ {
		d.Update(c, false)
		if c.FlappingCurrent > c.FlappingThresholdLow && !c.Flapping {
			t.Fatalf("flapping dropped early at %.2f%%", c.FlappingCurrent)
		}
	}
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c, false)
	}
	if c.Flapping {
		t.Error("expected flapping to stop once the history drained")
	}
}

func TestHysteresisBoundaryIsStrict(t *testing.T) {
	// Compute the exact value a full buffer produces, then use it as the
	// threshold: a value equal to the threshold must not transition.
	probe := newCheckable()
	probe.FlappingThresholdHigh = 1000
	d := newDetector()
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(probe, true)
	}
	exact := probe.FlappingCurrent

	c := newCheckable()
	c.FlappingThresholdLow = 10
	c.FlappingThresholdHigh = exact
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c, true)
	}
	if c.Flapping {
		t.Errorf("value %.4f equal to high threshold must not start flapping", exact)
	}

	// The same value strictly above a lower threshold does.
	c2 := newCheckable()
	c2.FlappingThresholdLow = 10
	c2.FlappingThresholdHigh = exact - 0.5
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c2, true)
	}
	if !c2.Flapping {
		t.Errorf("value %.4f above high threshold must start flapping", exact)
	}

	// Once flapping, a value equal to the low threshold turns it off.
	c3 := newCheckable()
	c3.FlappingThresholdLow = exact
	c3.FlappingThresholdHigh = 1000
	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c3, true)
	}
	c3.Flapping = true
	d.Update(c3, true) // buffer stays full, value stays at the exact plateau
	if c3.Flapping {
		t.Errorf("value %.4f equal to low threshold must stop flapping", c3.FlappingCurrent)
	}
}

func TestIsFlappingHonorsEnableFlags(t *testing.T) {
	g := objects.DefaultGlobals()
	d := NewDetector(g)
	c := newCheckable()
	c.Flapping = true

	if !d.IsFlapping(c) {
		t.Error("expected flapping with both flags enabled")
	}

	g.EnableFlapping = false
	if d.IsFlapping(c) {
		t.Error("global disable must win over the stored flag")
	}

	g.EnableFlapping = true
	c.EnableFlapping = false
	if d.IsFlapping(c) {
		t.Error("per-entity disable must win over the stored flag")
	}
}

func TestDefaultThresholdsApplied(t *testing.T) {
	d := newDetector()
	c := &objects.Checkable{} // no thresholds configured
	c.EnableFlapping = true

	for i := 0; i < objects.FlapHistorySize; i++ {
		d.Update(c, true)
	}
	// 99% exceeds the default high threshold of 30.
	if !c.Flapping {
		t.Errorf("expected flapping with default thresholds at %.2f%%", c.FlappingCurrent)
	}
}
