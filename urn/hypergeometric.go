package urn

import "math"

// SampleHypergeometric draws from Hypergeometric(N=good+bad, K=good, n=draws):
// the number of "good" balls among `draws` balls taken without replacement
// from a population of `good` good and `bad` bad balls.
//
// gonum.org/v1/gonum/stat/distuv (v0.16) has no Hypergeometric distribution,
// so this is hand-written. It uses the same idea as collision.Distribution:
// express the PMF via log-gamma binomial coefficients and invert the CDF
// against a single uniform draw. Rather than walking from a boundary of the
// support (which can be Theta(draws) away from the mode), it starts at the
// distribution's mode and expands outward in both directions, assigning each
// newly-reached value the next slice of the unit interval. That's a valid
// inverse-transform sampler for any enumeration order, not just the natural
// one, and its expected cost is Theta(stddev) rather than Theta(population) —
// the property this simulator needs given populations up to 2^40.
func SampleHypergeometric(rng Rand, good, bad, draws uint64) uint64 {
	if draws == 0 || good == 0 {
		return 0
	}
	n := good + bad
	if draws >= n {
		return good
	}

	lo := uint64(0)
	if draws > bad {
		lo = draws - bad
	}
	hi := draws
	if good < hi {
		hi = good
	}
	if lo >= hi {
		return lo
	}

	mode := ((draws + 1) * (good + 1)) / (n + 2)
	if mode < lo {
		mode = lo
	}
	if mode > hi {
		mode = hi
	}

	logPMF := func(k uint64) float64 {
		return logChoose(good, k) + logChoose(bad, draws-k) - logChoose(n, draws)
	}

	u := rng.Float64()
	pMode := math.Exp(logPMF(mode))
	cum := pMode
	if u < cum {
		return mode
	}

	left, right := mode, mode
	pLeft, pRight := pMode, pMode

	for left > lo || right < hi {
		if right < hi {
			// P(k+1)/P(k) for the hypergeometric PMF.
			num := float64(good-right) * float64(draws-right)
			den := float64(right+1) * float64(n-good-draws+right+1)
			pRight *= num / den
			right++
			cum += pRight
			if u < cum {
				return right
			}
		}
		if left > lo {
			// P(k-1)/P(k), the inverse of the step above evaluated at k=left.
			num := float64(left) * float64(n-good-draws+left)
			den := float64(good-left+1) * float64(draws-left+1)
			pLeft *= num / den
			left--
			cum += pLeft
			if u < cum {
				return left
			}
		}
	}

	// Floating-point rounding can leave a sliver of mass unassigned; fall
	// back to whichever boundary we last extended to.
	return right
}

// logChoose returns log(C(n, k)) via log-gamma, valid for 0 <= k <= n.
func logChoose(n, k uint64) float64 {
	return lgammaP1(n) - lgammaP1(k) - lgammaP1(n-k)
}

// lgammaP1 returns lgamma(x+1) = log(x!) for x given as a non-negative
// integer, without risking uint64->int64 overflow in the conversion.
func lgammaP1(x uint64) float64 {
	v, _ := math.Lgamma(float64(x) + 1)
	return v
}
