package urn

// drawManyWithoutReplacement implements DrawMany/RemoveMany for any urn
// backend that can report CountOf(c) in O(1): it walks colors in index
// order, at each one sampling how many of the k draws landed on that color
// via the hypergeometric distribution conditioned on what's left, then moves
// on with a shrunk population and a shrunk remaining draw count. This is the
// same sequential-conditioning trick original_source's TreeUrn/AliasUrn
// headers use to turn "draw k without replacement" into a sequence of
// single hypergeometric draws, one per color, instead of k individual ball
// draws.
func drawManyWithoutReplacement(numColors int, totalBalls, k uint64, rng Rand, countOf func(Color) uint64, sink Sink, _ bool) {
	if k == 0 {
		return
	}
	if k > totalBalls {
		panic("urn: DrawMany/RemoveMany requested more balls than the urn holds")
	}

	remaining := totalBalls
	remainingDraws := k

	for c := 0; c < numColors && remainingDraws > 0; c++ {
		color := Color(c)
		good := countOf(color)
		if good == 0 {
			continue
		}
		bad := remaining - good

		var drawn uint64
		if remainingDraws >= remaining {
			drawn = good
		} else {
			drawn = SampleHypergeometric(rng, good, bad, remainingDraws)
		}

		remaining -= good
		remainingDraws -= drawn
		if drawn > 0 {
			sink(color, drawn)
		}
	}
}
