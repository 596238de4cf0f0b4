// Package collision implements the strict collision distribution the batch
// engine uses to decide how many interactions to simulate naively before an
// epoch can switch to bulk resolution.
package collision

import "math"

const (
	numStages    = 16
	numEstimates = 64
)

type bracket struct{ lower, upper int64 }

// Rand is the minimal random source Distribution needs.
type Rand interface {
	Float64() float64
}

// Distribution samples the strict collision distribution: consider an urn
// with n balls, g of them red and n-g green; each ball drawn without
// replacement is placed back red. X is the draw at which the first ball
// that was already red shows up; Distribution.Sample returns X-1, the number
// of draws before it — i.e. how many random agent picks the batch engine
// gets through before its next pick collides with one already planted.
//
// Grounded on original_source/include/pps/CollisionDistribution.hpp. The
// CDF is
//
//	P(X <= k) = 1 - exp(2*(lgamma(n-g) - lgamma(n-g-k) - k*log(n)))
//
// and Sample inverts the survival function P(X > k) against a single
// uniform draw, searching inside precomputed brackets (one table per
// "stage" of g: 64 coarse brackets of width 1/64, plus 64 fine brackets of
// width 1/64^2 covering u < 1/64, so the search starts close to the
// answer). The search is plain bisection, or regula falsi finished by
// bisection once n-g is large enough that it pays for itself.
type Distribution struct {
	n         int64
	logN      float64
	stageSize float64
	maxRed    int64

	nGreen        int64
	logGammaGreen float64
	curStage      int

	stages      [numStages][numEstimates]bracket
	smallStages [numStages][numEstimates]bracket
}

// NewDistribution builds a Distribution for a population of n balls, g of
// which currently red, where the red count is expected to range over
// [0, maxG] over the Distribution's lifetime (maxG sizes the stage table).
func NewDistribution(n, g, maxG int64) *Distribution {
	if n <= 0 {
		panic("collision: NewDistribution requires n > 0")
	}
	if maxG <= 0 {
		maxG = n
	}

	d := &Distribution{
		n:      n,
		logN:   math.Log(float64(n)),
		maxRed: maxG,
	}
	d.stageSize = float64(maxG) / numStages
	if d.stageSize <= 0 {
		d.stageSize = 1
	}
	d.SetRed(g)

	for stage := 0; stage < numStages; stage++ {
		redLower := int64(float64(stage) * d.stageSize)
		redUpper := int64(float64(stage+1)*d.stageSize) + 1
		if redUpper > maxG {
			redUpper = maxG
		}

		greenAtUpper := n - redUpper
		greenAtLower := n - redLower
		lgGreenUpper := lgamma(greenAtUpper)
		lgGreenLower := lgamma(greenAtLower)

		for i := 0; i < numEstimates; i++ {
			randLower := math.Max(float64(i)/float64(numEstimates), math.Nextafter(0, 1))
			randUpper := float64(i+1) / float64(numEstimates)

			lo := d.bisectionRoot(randUpper, greenAtUpper, lgGreenUpper, 0, n+1)
			hi := d.bisectionRoot(randLower, greenAtLower, lgGreenLower, 0, n+1) + 1
			d.stages[stage][i] = bracket{lo, hi}
		}

		for i := 0; i < numEstimates; i++ {
			randLower := math.Max(float64(i)/float64(numEstimates*numEstimates), math.Nextafter(0, 1))
			randUpper := float64(i+1) / float64(numEstimates*numEstimates)

			lo := d.bisectionRoot(randUpper, greenAtUpper, lgGreenUpper, 0, n+1)
			hi := d.bisectionRoot(randLower, greenAtLower, lgGreenLower, 0, n+1) + 1
			d.smallStages[stage][i] = bracket{lo, hi}
		}
	}
	return d
}

// SetRed updates the current red-ball count without rebuilding the stage
// tables, so a Distribution can be reused across an epoch as the engine
// plants more collisions.
func (d *Distribution) SetRed(g int64) {
	if g < 0 || g > d.n {
		panic("collision: SetRed requires 0 <= g <= n")
	}
	d.curStage = int(float64(g) / d.stageSize)
	if d.curStage >= numStages {
		d.curStage = numStages - 1
	}
	d.nGreen = d.n - g
	d.logGammaGreen = lgamma(d.nGreen)
}

// Sample draws one value from the distribution at the current red count.
func (d *Distribution) Sample(rng Rand) int64 {
	u := rng.Float64()
	if u <= 0 {
		u = math.Nextafter(0, 1)
	}
	return d.compute(u)
}

func (d *Distribution) compute(u float64) int64 {
	var lo, hi int64
	forceBisection := false

	if u*numEstimates < 1.0 {
		forceBisection = true
		idx := int(u * numEstimates * numEstimates)
		b := d.smallStages[d.curStage][idx]
		lo, hi = b.lower, b.upper
	} else {
		idx := int(u * numEstimates)
		b := d.stages[d.curStage][idx]
		lo, hi = b.lower, b.upper
	}

	target := targetFunc(u, d.nGreen, d.logGammaGreen, d.logN)

	if d.nGreen < 1e6 || forceBisection {
		return bisection(target, lo, hi)
	}
	return regulaFalsi(target, lo, hi)
}

// targetFunc returns f(k) = log(u) - 2*(lgamma(nGreen) - lgamma(nGreen-k) -
// k*log(n)), the function whose unique root (f is non-decreasing in k) is
// the inverse survival function at u. f is defined over the continuous reals, not just
// integers, so regula falsi's linear interpolation in compute/regulaFalsi
// evaluates the same function it interpolates against; callers that need
// an integer root truncate only once, at the very end.
func targetFunc(u float64, nGreen int64, logGammaGreen, logN float64) func(k float64) float64 {
	target := math.Log(u) - 2*logGammaGreen
	return func(k float64) float64 {
		v, _ := math.Lgamma(float64(nGreen) - k)
		return target + 2*(v+k*logN)
	}
}

func lgamma(x int64) float64 {
	v, _ := math.Lgamma(float64(x))
	return v
}

func midpoint(left, right int64) int64 {
	return left + (right-left)/2
}

// bisectionRoot is bisection specialized to the brackets' own construction:
// the target function is built once from (rand, greenAt, lgGreenAt, logN)
// rather than the live distribution state, since it's used while filling in
// the stage tables for values of g the distribution isn't currently at.
func (d *Distribution) bisectionRoot(rand float64, nGreen int64, lgGreenAt float64, left, right int64) int64 {
	return bisection(targetFunc(rand, nGreen, lgGreenAt, d.logN), left, right)
}

// bisection finds the largest left such that f(left) <= 0, given f
// non-decreasing; f(left) <= 0 < f(right) is not required to hold
// exactly at the boundary (the original tolerates off-by-one, resolved by
// the +1 bracket construction above).
func bisection(f func(float64) float64, left, right int64) int64 {
	for left+1 < right {
		mid := midpoint(left, right)
		if f(float64(mid)) > 0 {
			right = mid
		} else {
			left = mid
		}
	}
	return left
}

// regulaFalsi refines a bisection bracket using linear interpolation
// (regula falsi / false position) for a handful of iterations, falling
// back to plain bisection on the (now much narrower) remaining bracket if
// it doesn't converge fast enough.
func regulaFalsi(f func(float64) float64, x0int, x1int int64) int64 {
	if x0int+1 >= x1int {
		return x0int
	}

	var x0, x1, f0, f1 float64
	mid := float64(midpoint(x0int, x1int))
	val := f(mid)
	if val < 0.0 {
		x0, f0 = mid, val
		x1 = float64(x1int)
		f1 = f(x1)
	} else {
		x0 = float64(x0int)
		f0 = f(x0)
		x1, f1 = mid, val
	}

	if f0 == 0.0 {
		return x0int
	}

	for i := 0; i < 15; i++ {
		if x0+1.0 >= x1 {
			return int64(x0)
		}

		newX := (x0*f1 - x1*f0) / (f1 - f0)
		newF := f(newX)

		if !(x0 < newX && newX < x1) {
			break
		}
		if newF < 0.0 {
			x0, f0 = newX, newF
		} else {
			x1, f1 = newX, newF
		}
	}

	hi := int64(x1) + 1
	if hi > x1int {
		hi = x1int
	}
	return bisection(f, int64(x0), hi)
}
