package engine

import (
	"math/rand"
	"testing"

	"github.com/popsim/batchsim/internal/testprotocols"
	"github.com/popsim/batchsim/protocol"
	"github.com/popsim/batchsim/urn"
)

// These scenarios exercise each of the engine's capability combinations
// end-to-end against a protocol built for the purpose, rather than against
// mocks: deterministic two-way (Majority), deterministic one-way
// (LeaderElection, Clock, IncrementOneWay), a deterministic-two-way counter
// (IncrementOne), and both randomized flavors (CoinFlipTwoWay/CoinFlipOneWay).

func TestScenario_MajorityConsensusConverges(t *testing.T) {
	const n = 200
	u := urn.NewTreeUrn(4)
	// Overwhelming majority start strong+true; a handful start strong+false.
	u.Add(urn.Color(3), n-5)
	u.Add(urn.Color(2), 5)

	e := New(Config{Agents: u, Protocol: testprotocols.Majority{}, RNG: NewPartitionedRNG(11)})
	e.Run(FixedEpochsMonitor(60))

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}

	trueCount := e.Agents().CountOf(1) + e.Agents().CountOf(3)
	falseCount := e.Agents().CountOf(0) + e.Agents().CountOf(2)
	if trueCount <= falseCount {
		t.Fatalf("expected the initial overwhelming majority (opinion=true) to still dominate: true=%d false=%d", trueCount, falseCount)
	}
}

func TestScenario_LeaderElectionLeaderCountNeverIncreases(t *testing.T) {
	const n = 300
	u := urn.NewTreeUrn(2)
	u.Add(urn.Color(testprotocols.Leader), n/2)
	u.Add(urn.Color(testprotocols.Follower), n/2)

	e := New(Config{Agents: u, Protocol: testprotocols.LeaderElection{}, RNG: NewPartitionedRNG(13)})

	prevLeaders := e.Agents().CountOf(urn.Color(testprotocols.Leader))
	monitor := func(eng *Engine) bool {
		leaders := eng.Agents().CountOf(urn.Color(testprotocols.Leader))
		if leaders > prevLeaders {
			t.Fatalf("leader count increased from %d to %d at epoch %d", prevLeaders, leaders, eng.NumEpochs())
		}
		prevLeaders = leaders
		return eng.NumEpochs() < 40
	}
	e.Run(monitor)

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}
}

func TestScenario_IncrementOneConservesPopulationAcrossManyWraps(t *testing.T) {
	const n = 150
	const states = 5
	u := urn.NewTreeUrn(states)
	u.Add(0, n)

	proto := testprotocols.IncrementOne{States: states, Strategy: testprotocols.IncrementBoth}
	e := New(Config{Agents: u, Protocol: proto, RNG: NewPartitionedRNG(17)})
	e.Run(FixedEpochsMonitor(50))

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}
	if e.NumInteractions() == 0 {
		t.Fatal("expected nonzero interactions")
	}
}

func TestScenario_IncrementOneWayConservesPopulationAcrossManyWraps(t *testing.T) {
	const n = 150
	const states = 5
	u := urn.NewTreeUrn(states)
	u.Add(0, n)

	proto := testprotocols.IncrementOneWay{States: states}
	e := New(Config{Agents: u, Protocol: proto, RNG: NewPartitionedRNG(31)})
	e.Run(FixedEpochsMonitor(50))

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}
	if e.NumInteractions() == 0 {
		t.Fatal("expected nonzero interactions")
	}

	var anyAdvanced bool
	for c := urn.Color(1); c < urn.Color(states); c++ {
		if e.Agents().CountOf(c) > 0 {
			anyAdvanced = true
		}
	}
	if !anyAdvanced {
		t.Fatal("expected at least one agent's counter to have advanced past 0 after 50 epochs")
	}
}

func TestScenario_ClockDigitsRotateOneWay(t *testing.T) {
	const n = 100
	const digits = 6
	proto := testprotocols.Clock{Digits: digits}
	u := urn.NewTreeUrn(int(proto.NumStates()))
	// Start every agent at digit 0, unmarked, except one marked agent at
	// digit 0 to seed advancement via the clockAhead-or-marked rule.
	u.Add(urn.Color(proto.NumStates()/2), 1) // digit 0, marked
	u.Add(0, n-1)                            // digit 0, unmarked

	e := New(Config{Agents: u, Protocol: proto, RNG: NewPartitionedRNG(19)})
	e.Run(FixedEpochsMonitor(30))

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}

	var anyAdvanced bool
	for c := urn.Color(0); c < urn.Color(proto.NumStates()); c++ {
		if e.Agents().CountOf(c) > 0 && c%digits != 0 {
			anyAdvanced = true
		}
	}
	if !anyAdvanced {
		t.Fatal("expected at least one agent's clock digit to have advanced past 0 after 30 epochs")
	}
}

func TestScenario_CoinFlipTwoWayConservesPopulation(t *testing.T) {
	const n = 120
	proto := testprotocols.CoinFlipTwoWay{States: 3, P: 0.3, Rng: rand.New(rand.NewSource(23))}
	u := urn.NewTreeUrn(3)
	u.Add(0, n/2)
	u.Add(2, n/2)

	e := New(Config{Agents: u, Protocol: proto, RNG: NewPartitionedRNG(23)})
	e.Run(FixedEpochsMonitor(25))

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}
	if e.Agents().CountOf(1) == 0 {
		t.Fatal("expected some agents to have flipped into the designated state 1 after 25 epochs")
	}
}

func TestScenario_CoinFlipOneWayConservesPopulation(t *testing.T) {
	const n = 120
	proto := testprotocols.CoinFlipOneWay{States: 3, P: 0.3, Rng: rand.New(rand.NewSource(29))}
	u := urn.NewTreeUrn(3)
	u.Add(0, n/2)
	u.Add(2, n/2)

	e := New(Config{Agents: u, Protocol: proto, RNG: NewPartitionedRNG(29)})
	e.Run(FixedEpochsMonitor(25))

	if e.Agents().NumBalls() != n {
		t.Fatalf("population not conserved: got %d, want %d", e.Agents().NumBalls(), n)
	}
}

var _ protocol.Protocol = testprotocols.Majority{}
