package urn

// TreeUrn stores per-color ball counts at the leaves of a full binary tree of
// partial sums, padded up to the next power of two. A single draw walks the
// tree root-to-leaf comparing a running offset against the left subtree's
// sum (O(log S)); add/remove update every ancestor of a leaf (O(log S));
// merging two tree urns is a flat node-wise addition (O(S)).
//
// Grounded on original_source/include/urns/TreeUrn.hpp. The unrolled 3-steps-
// then-1 walk in the C++ is a manual loop-unrolling optimization tied to
// cache-line geometry that doesn't carry over meaningfully to Go; the port
// keeps the algorithm (1-indexed tree, parent = i/2) but as a plain loop.
type TreeUrn struct {
	numColors int
	firstLeaf int // index of the first leaf in the 1-indexed tree array

	tree  []uint64 // tree[1:] is the 1-indexed partial-sum tree; tree[0] unused
	balls uint64
}

// NewTreeUrn creates an empty tree urn with the given number of colors.
// Panics if numColors < 1 (configuration error).
func NewTreeUrn(numColors int) *TreeUrn {
	if numColors < 1 {
		panic("urn: NewTreeUrn requires at least one color")
	}
	firstLeaf := roundUpPow2(numColors)
	return &TreeUrn{
		numColors: numColors,
		firstLeaf: firstLeaf,
		tree:      make([]uint64, firstLeaf+numColors),
	}
}

func roundUpPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (t *TreeUrn) NumColors() int   { return t.numColors }
func (t *TreeUrn) NumBalls() uint64 { return t.balls }

// CountOf returns the leaf value for color c.
func (t *TreeUrn) CountOf(c Color) uint64 {
	return t.tree[t.firstLeaf+int(c)]
}

// Add adds n balls of color c. Internal node sums along the root path are
// updated in lockstep so the structural invariant (every internal node's
// value equals the sum of the leaves in its left subtree) always holds
// after Add returns.
func (t *TreeUrn) Add(c Color, n uint64) {
	t.balls += n
	t.tree[t.firstLeaf+int(c)] += n

	i := t.firstLeaf + int(c)
	for i > 1 {
		parent := i / 2
		if i%2 == 0 { // i is a left child: it contributes to the parent's left-sum
			t.tree[parent] += n
		}
		i = parent
	}
}

// Remove removes n balls of color c. Panics if n exceeds the current count
// (contract violation).
func (t *TreeUrn) Remove(c Color, n uint64) {
	if t.CountOf(c) < n {
		panic("urn: Remove would drive a color count negative")
	}
	t.subtract(c, n)
}

func (t *TreeUrn) subtract(c Color, n uint64) {
	t.balls -= n
	t.tree[t.firstLeaf+int(c)] -= n

	i := t.firstLeaf + int(c)
	for i > 1 {
		parent := i / 2
		if i%2 == 0 {
			t.tree[parent] -= n
		}
		i = parent
	}
}

// DrawOne returns a uniformly random ball's color. Panics if the urn is
// empty.
func (t *TreeUrn) DrawOne(rng Rand) Color {
	if t.balls == 0 {
		panic("urn: DrawOne called on an empty urn")
	}
	value := uint64(rng.Int63n(int64(t.balls)))

	i := 1
	for i < t.firstLeaf {
		left := t.tree[i]
		if value >= left {
			value -= left
			i = 2*i + 1
		} else {
			i = 2 * i
		}
	}
	return Color(i - t.firstLeaf)
}

// RemoveOne draws a ball and removes it in the same tree walk, adjusting
// every node on the path exactly once.
func (t *TreeUrn) RemoveOne(rng Rand) Color {
	if t.balls == 0 {
		panic("urn: RemoveOne called on an empty urn")
	}
	value := uint64(rng.Int63n(int64(t.balls)))
	t.balls--

	i := 1
	for i < t.firstLeaf {
		left := t.tree[i]
		if value >= left {
			value -= left
			i = 2*i + 1
		} else {
			t.tree[i]--
			i = 2 * i
		}
	}
	t.tree[i]--
	return Color(i - t.firstLeaf)
}

// DrawMany streams (color, count) pairs covering every color with nonzero
// drawn count, colors walked in index order, summing to k. See
// drawManyWithoutReplacement for the shared hypergeometric walk.
func (t *TreeUrn) DrawMany(k uint64, rng Rand, sink Sink) {
	drawManyWithoutReplacement(t.numColors, t.balls, k, rng, t.CountOf, sink, false)
}

// RemoveMany is DrawMany, but also removes the drawn balls as they're found.
func (t *TreeUrn) RemoveMany(k uint64, rng Rand, sink Sink) {
	drawManyWithoutReplacement(t.numColors, t.balls, k, rng, t.CountOf, func(c Color, n uint64) {
		if n > 0 {
			t.subtract(c, n)
		}
		sink(c, n)
	}, false)
}

// Merge adds every ball of other into the receiver. When other is also a
// *TreeUrn, this is a flat O(S) node-wise addition over the whole tree
// array (AsyncBatchSimulator's "updated" urn is always same-backend, so this
// fast path is what the engine actually exercises); otherwise it falls back
// to a generic per-color loop.
func (t *TreeUrn) Merge(other Urn) {
	if o, ok := other.(*TreeUrn); ok {
		if o.numColors != t.numColors {
			panic("urn: Merge requires equal color counts")
		}
		for i := range t.tree {
			t.tree[i] += o.tree[i]
		}
		t.balls += o.balls
		return
	}

	for c := 0; c < t.numColors; c++ {
		if n := other.CountOf(Color(c)); n > 0 {
			t.Add(Color(c), n)
		}
	}
}

// Clear resets every color count (and every internal node) to zero.
func (t *TreeUrn) Clear() {
	t.balls = 0
	for i := range t.tree {
		t.tree[i] = 0
	}
}

// Fresh returns a new, empty tree urn with the same color count.
func (t *TreeUrn) Fresh() Urn {
	return NewTreeUrn(t.numColors)
}
