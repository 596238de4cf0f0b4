package urn

import "math"

// AliasUrn implements Walker's alias method: every color gets a table row
// holding at most two (weight, color) entries, built so that every row's
// total weight falls within [rowLower, rowUpper] of the per-color average.
// A draw picks a uniformly random row, then a uniformly random slot within
// that row's weight budget — O(1) amortized, against the tree urn's
// O(log numColors). The tradeoff is that adding or removing a ball can push
// a row's weight out of its tolerance band, which tries a cheap local
// repair (swapping slots with a random partner row) before falling back to
// rebuilding the whole table from scratch.
//
// Grounded on original_source/include/urns/AliasUrnSimple.hpp.
type AliasUrn struct {
	lowerThresh, upperThresh float64

	rows           []aliasRow
	ballsWithColor []uint64
	numBalls       uint64

	small, large []Color

	rowLower, rowUpper, rowMax uint64
}

type aliasRow struct {
	w0, w1 uint64
	color2 Color
}

func (r aliasRow) total() uint64 { return r.w0 + r.w1 }

// NewAliasUrn creates an empty alias urn with the given number of colors
// and the teacher-default repair tolerance band (0.8, 1.5) around the
// per-color average row weight.
func NewAliasUrn(numColors int) *AliasUrn {
	return NewAliasUrnWithThresholds(numColors, 0.8, 1.5)
}

// NewAliasUrnWithThresholds is NewAliasUrn with an explicit tolerance band.
// Panics if numColors < 1, lowerThresh >= 1, or upperThresh <= 1
// (configuration error).
func NewAliasUrnWithThresholds(numColors int, lowerThresh, upperThresh float64) *AliasUrn {
	if numColors < 1 {
		panic("urn: NewAliasUrn requires at least one color")
	}
	if lowerThresh >= 1 || upperThresh <= 1 {
		panic("urn: AliasUrn thresholds must straddle 1.0")
	}
	return &AliasUrn{
		lowerThresh:    lowerThresh,
		upperThresh:    upperThresh,
		rows:           make([]aliasRow, numColors),
		ballsWithColor: make([]uint64, numColors),
	}
}

func (u *AliasUrn) NumColors() int   { return len(u.rows) }
func (u *AliasUrn) NumBalls() uint64 { return u.numBalls }

func (u *AliasUrn) CountOf(c Color) uint64 { return u.ballsWithColor[c] }

// Add adds n balls of color c, growing that color's row weight and
// re-triangulating the table locally (or globally, on repair failure) if
// the row drifts outside its tolerance band.
func (u *AliasUrn) Add(c Color, n uint64) {
	u.rows[c].w0 += n
	u.ballsWithColor[c] += n
	u.numBalls += n

	newWeight := u.rows[c].total()
	if u.rowMax < newWeight {
		u.rowMax = newWeight
	}

	if newWeight < u.rowLower || u.rowUpper < newWeight {
		if !u.tryFixRow(deterministicRowRand(c, u.rows[c]), c) {
			u.build()
		}
	}
}

// Remove removes n balls of color c by lowering its count and rebuilding
// the whole table, sufficient for the engine's usage pattern (bulk removals
// go through RemoveMany instead). Panics if n exceeds the current count.
func (u *AliasUrn) Remove(c Color, n uint64) {
	if u.ballsWithColor[c] < n {
		panic("urn: Remove would drive a color count negative")
	}
	// A removal doesn't know which alias slot (weights[0] vs weights[1] of
	// some other row pointing at c) holds a given ball, so rebuild directly
	// rather than hunting for n arbitrary slots across rows.
	u.ballsWithColor[c] -= n
	u.numBalls -= n
	u.build()
}

// DrawOne returns a uniformly random ball's color without mutating the urn.
func (u *AliasUrn) DrawOne(rng Rand) Color {
	_, color := u.pick(rng)
	return color
}

// RemoveOne draws a ball, removes it, and repairs the row it came from.
func (u *AliasUrn) RemoveOne(rng Rand) Color {
	rowID, color := u.pick(rng)
	row := &u.rows[rowID]

	u.ballsWithColor[color]--
	u.numBalls--
	if color == rowID {
		row.w0--
	} else {
		row.w1--
	}

	if row.total() < u.rowLower {
		if !u.tryFixRow(rng, rowID) {
			u.build()
		}
	}
	return color
}

// pick returns the row a ball was found in and its color.
func (u *AliasUrn) pick(rng Rand) (rowID, color Color) {
	if u.numBalls == 0 {
		panic("urn: draw called on an empty urn")
	}
	n := int64(len(u.rows)) * int64(u.rowMax)
	for {
		v := rng.Int63n(n)
		row := Color(uint64(v) / u.rowMax)
		weight := uint64(v) % u.rowMax

		r := u.rows[row]
		if weight < r.w0 {
			return row, row
		}
		weight -= r.w0
		if weight < r.w1 {
			return row, r.color2
		}
		// The row's slack (rowMax - total weight) landed here; retry.
	}
}

// DrawMany and RemoveMany fall back to the shared hypergeometric walk over
// per-color counts; the alias table's draw speed doesn't help with bulk
// without-replacement sampling, so this matches the tree urn's behavior.
func (u *AliasUrn) DrawMany(k uint64, rng Rand, sink Sink) {
	drawManyWithoutReplacement(len(u.rows), u.numBalls, k, rng, u.CountOf, sink, false)
}

func (u *AliasUrn) RemoveMany(k uint64, rng Rand, sink Sink) {
	drawManyWithoutReplacement(len(u.rows), u.numBalls, k, rng, u.CountOf, func(c Color, n uint64) {
		if n > 0 {
			u.ballsWithColor[c] -= n
			u.numBalls -= n
		}
		sink(c, n)
	}, false)
	u.build()
}

// Merge adds every ball of other into the receiver and rebuilds the table.
func (u *AliasUrn) Merge(other Urn) {
	if o, ok := other.(*AliasUrn); ok {
		if len(o.rows) != len(u.rows) {
			panic("urn: Merge requires equal color counts")
		}
		for c := range u.ballsWithColor {
			u.ballsWithColor[c] += o.ballsWithColor[c]
		}
		u.numBalls += o.numBalls
		u.build()
		return
	}

	for c := 0; c < len(u.rows); c++ {
		if n := other.CountOf(Color(c)); n > 0 {
			u.ballsWithColor[c] += n
			u.numBalls += n
		}
	}
	u.build()
}

// Clear resets every color count to zero.
func (u *AliasUrn) Clear() {
	u.numBalls = 0
	for c := range u.ballsWithColor {
		u.ballsWithColor[c] = 0
		u.rows[c] = aliasRow{}
	}
	u.small, u.large = nil, nil
	u.rowLower, u.rowUpper, u.rowMax = 0, 0, 0
}

// Fresh returns a new, empty alias urn with the same color count and
// tolerance band as the receiver.
func (u *AliasUrn) Fresh() Urn {
	return NewAliasUrnWithThresholds(len(u.rows), u.lowerThresh, u.upperThresh)
}

// build recomputes the whole alias table from ballsWithColor from scratch,
// splitting colors into above/below-average buckets and pairing them off so
// every row lands within one ball of the per-color average.
func (u *AliasUrn) build() {
	numColors := uint64(len(u.rows))
	if numColors == 0 || u.numBalls == 0 {
		for c := range u.rows {
			u.rows[c] = aliasRow{}
		}
		u.rowLower, u.rowUpper, u.rowMax = 0, 0, 0
		return
	}

	avg := u.numBalls / numColors
	aboveAvg := int64(u.numBalls - avg*numColors)

	u.small = u.small[:0]
	u.large = u.large[:0]
	for c := 0; c < len(u.rows); c++ {
		num := u.ballsWithColor[c]
		u.rows[c] = aliasRow{w0: num}
		if num > avg {
			u.large = append(u.large, Color(c))
		} else {
			u.small = append(u.small, Color(c))
		}
	}

	u.rowLower = uint64(float64(avg) * u.lowerThresh)
	u.rowMax = avg
	if aboveAvg > 0 {
		u.rowMax++
	}
	u.rowUpper = uint64(math.Ceil(float64(u.rowMax) * u.upperThresh))

	for len(u.large) > 0 {
		lastSmall := u.small[len(u.small)-1]
		u.small = u.small[:len(u.small)-1]
		row := &u.rows[lastSmall]

		target := avg
		if aboveAvg > 0 {
			target++
		}
		aboveAvg--
		remaining := target - row.w0
		if remaining == 0 {
			continue
		}

		largeID := u.large[len(u.large)-1]
		largeRow := &u.rows[largeID]
		largeRow.w0 -= remaining

		row.w1 = remaining
		row.color2 = largeID

		if largeRow.w0 <= avg {
			u.small = append(u.small, largeID)
			u.large = u.large[:len(u.large)-1]
		}
	}
	u.small = u.small[:0]
}

// tryFixRow attempts to restore rowID's weight to within tolerance by
// swapping its secondary slot with a randomly chosen partner row's, which
// preserves the total balls in both rows while reshuffling how they're
// split. Mirrors the 5-attempt bounded search in AliasUrnSimple::try_fix_row.
func (u *AliasUrn) tryFixRow(rng Rand, rowID Color) bool {
	numColors := int64(len(u.rows))
	row := &u.rows[rowID]

	for i := 0; i < 5; i++ {
		partnerID := Color(rng.Int63n(numColors))
		if partnerID == rowID {
			continue
		}
		partner := &u.rows[partnerID]

		w1 := row.w0 + partner.w1
		w2 := row.w1 + partner.w0
		if u.rowLower < w1 && u.rowLower < w2 && w1 < u.rowUpper && w2 < u.rowUpper {
			row.w1, partner.w1 = partner.w1, row.w1
			row.color2, partner.color2 = partner.color2, row.color2
			return true
		}
	}
	return false
}

// deterministicRowRand returns a Rand seeded purely from (rowID, row
// contents), the same trick AliasUrnSimple::try_fix_row(row_id) uses to get
// a repeatable local generator inside Add without threading an external
// one through every call site.
func deterministicRowRand(rowID Color, row aliasRow) Rand {
	seed := uint64(1234567)*uint64(rowID) ^ uint64(345678)*row.w0 ^ uint64(567890)*row.w1 + 234234
	return &splitMix64{state: seed}
}

type splitMix64 struct{ state uint64 }

func (s *splitMix64) next() uint64 {
	s.state += 0x9E3779B97F4A7C15
	z := s.state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}

func (s *splitMix64) Int63n(n int64) int64 {
	return int64(s.next() >> 1 % uint64(n))
}

func (s *splitMix64) Float64() float64 {
	return float64(s.next()>>11) / (1 << 53)
}
