// Package testprotocols supplies small, concrete population protocols used
// by _test.go files across the repo (and, for IncrementOne, by the CLI's
// built-in run), so the engine's four capability combinations
// (deterministic/randomised x one-way/two-way) each have a real
// implementation to exercise in tests without any core package importing a
// protocol implementation.
package testprotocols

import (
	"math/rand"

	"github.com/popsim/batchsim/protocol"
)

// Clock implements a simplified phase clock: an agent advances its clock
// digit when it meets an agent whose clock has strictly passed it (cyclic
// comparison), or is tied with a "marked" agent. One-way: only the
// initiator's clock advances.
//
// Grounded on original_source/include/protocols/clock_protocol.hpp.
type Clock struct {
	Digits protocol.State
}

func (c Clock) NumStates() protocol.State { return 2 * c.Digits }

func (c Clock) encode(digit protocol.State, marked bool) protocol.State {
	if marked {
		return digit + c.Digits
	}
	return digit
}

func (c Clock) decode(s protocol.State) (digit protocol.State, marked bool) {
	if s >= c.Digits {
		return s - c.Digits, true
	}
	return s, false
}

func (c Clock) clockAhead(a, b, m protocol.State) bool {
	half := m / 2
	if b > a && b < a+half {
		return true
	}
	if b < a && b+(m+1)/2 < a {
		return true
	}
	return false
}

func (c Clock) DeliverOneWay(active, passive protocol.State) protocol.State {
	activeDigit, _ := c.decode(active)
	passiveDigit, passiveMarked := c.decode(passive)

	advance := c.clockAhead(activeDigit, passiveDigit, c.Digits) || (activeDigit == passiveDigit && passiveMarked)
	if advance {
		activeDigit++
	}
	if activeDigit >= c.Digits {
		activeDigit = 0
	}
	_, activeMarked := c.decode(active)
	return c.encode(activeDigit, activeMarked)
}

// Majority implements the classic four-state majority consensus protocol over
// (opinion, strong) pairs encoded into 4 states. Two strong agents holding
// different opinions both become weak; a strong agent converts a weak one
// to its own opinion.
//
// Grounded on original_source/include/protocols/majority_protocol.hpp.
type Majority struct{}

func (Majority) NumStates() protocol.State { return 4 }

func (Majority) encode(opinion, strong bool) protocol.State {
	s := protocol.State(0)
	if opinion {
		s |= 1
	}
	if strong {
		s |= 2
	}
	return s
}

func (Majority) decode(s protocol.State) (opinion, strong bool) {
	return s&1 != 0, s&2 != 0
}

func (m Majority) Deliver(s1, s2 protocol.State) (protocol.State, protocol.State) {
	op1, strong1 := m.decode(s1)
	op2, strong2 := m.decode(s2)

	switch {
	case strong1 && strong2:
		if op1 != op2 {
			strong1, strong2 = false, false
		}
	case strong1 == strong2:
		// both weak: no change
	case strong1:
		op2 = op1
	default:
		op1 = op2
	}

	return m.encode(op1, strong1), m.encode(op2, strong2)
}

// LeaderElection demotes the initiator to Follower whenever it meets
// another Leader; the responder's state never changes.
//
// Grounded on original_source/include/protocols/leader_election_protocol.hpp.
type LeaderElection struct{}

const (
	Follower protocol.State = 0
	Leader   protocol.State = 1
)

func (LeaderElection) NumStates() protocol.State { return 2 }

func (LeaderElection) DeliverOneWay(first, second protocol.State) protocol.State {
	if first == Leader && second == Leader {
		return Follower
	}
	return first
}

// IncrementStrategy selects which agent(s) a two-way IncrementOne
// interaction increments.
type IncrementStrategy int

const (
	IncrementFirst IncrementStrategy = iota
	IncrementSecond
	IncrementBoth
)

// IncrementOne increments a counter-valued state on every interaction
// according to Strategy; states wrap modulo NumStates so the protocol stays
// well-defined over a fixed finite alphabet. Always two-way: it implements
// only Deliver, never DeliverOneWay, so protocol.Detect's two-way-first type
// switch classifies every IncrementOne value unambiguously.
//
// Grounded on original_source/include/protocols/increment_one_protocol.hpp.
type IncrementOne struct {
	States   protocol.State
	Strategy IncrementStrategy
}

func (p IncrementOne) NumStates() protocol.State { return p.States }

func (p IncrementOne) inc(s protocol.State) protocol.State {
	return (s + 1) % p.States
}

func (p IncrementOne) Deliver(first, second protocol.State) (protocol.State, protocol.State) {
	switch p.Strategy {
	case IncrementFirst:
		return p.inc(first), second
	case IncrementSecond:
		return first, p.inc(second)
	default:
		return p.inc(first), p.inc(second)
	}
}

// IncrementOneWay is IncrementOne's one-way analogue: only the initiator's
// counter advances. It implements only DeliverOneWay, mirroring how Clock
// and LeaderElection stay unambiguously one-way by never also implementing
// Deliver.
//
// Grounded on original_source/include/protocols/increment_one_protocol.hpp.
type IncrementOneWay struct {
	States protocol.State
}

func (p IncrementOneWay) NumStates() protocol.State { return p.States }

func (p IncrementOneWay) DeliverOneWay(first, second protocol.State) protocol.State {
	return (first + 1) % p.States
}

// CoinFlipTwoWay is a minimal randomised two-way protocol: on every
// interaction, both agents independently adopt state 1 with probability p,
// else keep their own state. Exercises protocol.RandomizedTwoWay.
//
// Inspired by the fixed-random-table idea in
// original_source/include/protocols/random_protocol.hpp, adapted to decide
// its outcome per interaction instead of from a precomputed table, since
// the engine's randomised-protocol capability needs a transition that is
// genuinely stochastic per call.
type CoinFlipTwoWay struct {
	States protocol.State
	P      float64
	Rng    *rand.Rand
}

func (c CoinFlipTwoWay) NumStates() protocol.State { return c.States }

func (c CoinFlipTwoWay) flip(s protocol.State) protocol.State {
	if c.Rng.Float64() < c.P {
		return 1 % c.States
	}
	return s
}

func (c CoinFlipTwoWay) DeliverMany(s1, s2 protocol.State, n int, sink protocol.Sink) {
	for i := 0; i < n; i++ {
		sink(c.flip(s1), 1)
		sink(c.flip(s2), 1)
	}
}

// CoinFlipOneWay is CoinFlipTwoWay's one-way analogue: only the initiator's
// state is resampled. Exercises protocol.RandomizedOneWay.
type CoinFlipOneWay struct {
	States protocol.State
	P      float64
	Rng    *rand.Rand
}

func (c CoinFlipOneWay) NumStates() protocol.State { return c.States }

func (c CoinFlipOneWay) DeliverManyOneWay(s1, s2 protocol.State, n int, sink protocol.Sink) {
	for i := 0; i < n; i++ {
		if c.Rng.Float64() < c.P {
			sink(1%c.States, 1)
		} else {
			sink(s1, 1)
		}
	}
}
