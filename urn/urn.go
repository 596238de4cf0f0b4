// Package urn implements the weighted multiset containers that the batch
// engine uses to represent populations of agents grouped by state: a
// tree-indexed prefix-sum urn (urn.TreeUrn) and a Walker's-alias-method urn
// (urn.AliasUrn). Both satisfy the same Urn interface so the engine never
// depends on which backend it has (per the teacher's "capability set, not
// concrete type" convention — see protocol.Protocol for the analogous split
// on the transition-function side).
package urn

// Color identifies one of the urn's possible ball colors; in the population
// protocol domain a color is an agent state.
type Color = uint32

// Rand is the minimal random source the urn package needs. *rand.Rand
// satisfies it directly; it also allows a caller-supplied reproducible
// source that isn't math/rand (e.g. a future double-buffered background
// producer) to stand in for it.
type Rand interface {
	Int63n(n int64) int64
	Float64() float64
}

// Sink receives (color, count) pairs as they are produced by a
// without-replacement draw.
type Sink func(color Color, count uint64)

// Urn is the capability set every urn backend exposes. The engine holds
// values of this interface type and never switches on the concrete type.
type Urn interface {
	NumColors() int
	NumBalls() uint64
	CountOf(c Color) uint64

	Add(c Color, n uint64)
	Remove(c Color, n uint64)

	// DrawOne returns a uniformly random ball's color without mutating
	// the urn. Panics if the urn is empty (contract violation).
	DrawOne(rng Rand) Color
	// RemoveOne is DrawOne followed by removing that ball.
	RemoveOne(rng Rand) Color

	// DrawMany streams (color, count) pairs, walking colors in index
	// order, summing to exactly k, distributed as k balls drawn without
	// replacement would be. It does not mutate the urn.
	DrawMany(k uint64, rng Rand, sink Sink)
	// RemoveMany is DrawMany but also removes the drawn balls.
	RemoveMany(k uint64, rng Rand, sink Sink)

	// Merge adds every ball in other into the receiver.
	Merge(other Urn)
	// Clear resets every color count to zero.
	Clear()
	// Fresh returns a new, empty urn of the same concrete type and color
	// count as the receiver, suitable for use as an "updated" urn.
	Fresh() Urn
}
