// Package epoch implements the adaptive epoch-length controller the batch
// engine uses to pick how many interactions to lump into the next batch.
package epoch

import (
	"math"
	"time"
)

type state int

const (
	measureBelow state = iota
	measureCurrent
	measureAbove
)

// Controller picks an epoch length (interactions per batch) and adapts it
// over time by cycling through three candidate lengths — 10% below, at,
// and 10% above its current best guess — timing how many interactions per
// second each sustains, and settling on whichever wins. It re-estimates how
// many epochs to spend measuring each candidate so a full below/current/
// above cycle takes roughly a constant wall-clock budget regardless of how
// fast or slow the protocol itself runs.
//
// Grounded on original_source/include/pps/EpochLengthController.hpp.
type Controller struct {
	min, max    uint64
	currentBest uint64
	current     uint64

	state state

	measuredTimes            [3]float64
	measureEpochs            uint64
	measureNumberOfEpochs    uint64
	measureStartTime         time.Time
	phaseStartTime           time.Time
	measureInteractionsStart uint64
}

// NewController derives min/max/initial-best epoch lengths from the
// population size n using the teacher's calibrated exponents (n^0.4,
// n^0.6, n^0.8), matching how AsyncBatchSimulator sizes its controller.
func NewController(n uint64) *Controller {
	min := uint64(math.Pow(float64(n), 0.4)) + 1
	max := uint64(math.Pow(float64(n), 0.8)) + 1
	best := uint64(math.Pow(float64(n), 0.6)) + 1

	if max > n {
		max = n
	}
	if best > max {
		best = max
	}
	return newController(min, max, best)
}

// NewControllerWithBounds builds a Controller with explicit epoch-length
// bounds, bypassing the n^0.4/n^0.6/n^0.8 derivation. Panics if min >= max.
func NewControllerWithBounds(min, max uint64) *Controller {
	if min >= max {
		panic("epoch: NewControllerWithBounds requires min < max")
	}
	return newController(min, max, (max-min)/2+min)
}

func newController(min, max, best uint64) *Controller {
	return &Controller{
		min:                   min,
		max:                   max,
		currentBest:           best,
		measureNumberOfEpochs: 10,
	}
}

// Start begins the measurement cycle at the current time. Must be called
// before the first Update.
func (c *Controller) Start() {
	c.state = measureBelow
	now := time.Now()
	c.phaseStartTime = now
	c.measureStartTime = now
	c.current = c.updateValue(c.state)
}

// Update reports that numInteractions total interactions have been
// processed so far. Every measureNumberOfEpochs calls it closes out the
// current candidate's timing window, advances to the next candidate (or,
// after all three, recalibrates on whichever was fastest), and recomputes
// Current.
func (c *Controller) Update(numInteractions uint64) {
	c.measureEpochs++
	if c.measureEpochs < c.measureNumberOfEpochs {
		return
	}
	c.measureEpochs = 0

	now := time.Now()
	elapsed := now.Sub(c.measureStartTime).Seconds()
	c.measureStartTime = now

	progress := numInteractions - c.measureInteractionsStart
	if elapsed > 0 {
		c.measuredTimes[c.state] = float64(progress) / elapsed
	}
	c.measureInteractionsStart = numInteractions

	c.state++
	if c.state > measureAbove {
		bestState := measureBelow
		for s := measureCurrent; s <= measureAbove; s++ {
			if c.measuredTimes[s] > c.measuredTimes[bestState] {
				bestState = s
			}
		}
		c.currentBest = c.updateValue(bestState)
		c.state = measureBelow

		const targetMsPerPhase = 60.0
		const bias = 0.8
		phaseMs := float64(c.measureStartTime.Sub(c.phaseStartTime)) / float64(time.Millisecond)
		if phaseMs > 0 {
			c.measureNumberOfEpochs = uint64(float64(c.measureNumberOfEpochs) *
				(bias + (1-bias)*targetMsPerPhase/phaseMs))
		}
		if c.measureNumberOfEpochs < 10 {
			c.measureNumberOfEpochs = 10
		}
		c.phaseStartTime = c.measureStartTime
	}

	c.current = c.updateValue(c.state)
}

// Min returns the smallest epoch length the controller will ever propose.
func (c *Controller) Min() uint64 { return c.min }

// Max returns the largest epoch length the controller will ever propose.
func (c *Controller) Max() uint64 { return c.max }

// Current returns the epoch length to use for the next batch.
func (c *Controller) Current() uint64 { return c.current }

// CurrentBest returns the controller's best estimate of the ideal epoch
// length, independent of which of the three candidates is being measured
// right now.
func (c *Controller) CurrentBest() uint64 { return c.currentBest }

func (c *Controller) updateValue(s state) uint64 {
	offset := float64(s) - 1 // -1, 0, +1 for below/current/above
	value := uint64(float64(c.currentBest) * (1.0 + offset*0.1))
	if value < c.min {
		return c.min
	}
	if value > c.max {
		return c.max
	}
	return value
}
