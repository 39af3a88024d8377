package progress

import (
	"sync"
	"time"
)

// MinStepDuration is the default minimum time a stage stays visible.
const MinStepDuration = 2000 * time.Millisecond

// DwellController damps stage changes: forward moves advance one stage at a
// time and only after the current stage has been visible for minDwell.
// Backward moves apply immediately.
type DwellController struct {
	mu         sync.Mutex
	minDwell   time.Duration
	now        func() time.Time
	current    Stage
	lastChange time.Time
}

// NewDwellController starts at StageAnalyzing with the clock's current time
// as the last change. A nil clock uses time.Now.
func NewDwellController(minDwell time.Duration, now func() time.Time) *DwellController {
	if now == nil {
		now = time.Now
	}
	if minDwell < 0 {
		minDwell = 0
	}
	return &DwellController{
		minDwell:   minDwell,
		now:        now,
		current:    StageAnalyzing,
		lastChange: now(),
	}
}

// Advance offers a candidate stage and returns the stage to display.
func (d *DwellController) Advance(candidate Stage) Stage {
	candidate = candidate.clamp()

	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	switch {
	case candidate > d.current:
		if now.Sub(d.lastChange) >= d.minDwell {
			d.current++
			d.lastChange = now
		}
	case candidate < d.current:
		d.current = candidate
		d.lastChange = now
	}
	return d.current
}

// Reset returns to StageAnalyzing with a fresh timestamp.
func (d *DwellController) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = StageAnalyzing
	d.lastChange = d.now()
}

// Complete jumps straight to StageFinalizing, bypassing the dwell rule.
func (d *DwellController) Complete() Stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current != StageFinalizing {
		d.current = StageFinalizing
		d.lastChange = d.now()
	}
	return d.current
}

// Current returns the displayed stage without offering a candidate.
func (d *DwellController) Current() Stage {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}
