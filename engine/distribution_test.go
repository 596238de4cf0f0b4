package engine

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"

	"github.com/popsim/batchsim/internal/testprotocols"
	"github.com/popsim/batchsim/protocol"
	"github.com/popsim/batchsim/urn"
)

// naiveMajorityStep draws two distinct agents uniformly at random from pop
// and applies the Majority transition, replacing both in place. This is the
// one-interaction-at-a-time reference the batch engine is required to be
// distributionally indistinguishable from.
func naiveMajorityStep(pop []protocol.State, rng *rand.Rand, proto testprotocols.Majority) {
	n := len(pop)
	i := rng.Intn(n)
	j := rng.Intn(n - 1)
	if j >= i {
		j++
	}
	pop[i], pop[j] = proto.Deliver(pop[i], pop[j])
}

// opinionCount reports how many agents in pop currently hold opinion=true,
// regardless of whether they're strong or weak.
func opinionCount(pop []protocol.State) int {
	count := 0
	for _, s := range pop {
		if s&1 != 0 {
			count++
		}
	}
	return count
}

// bucket maps an opinion count in [0, n] onto one of four roughly equal-width
// bins, giving the chi-square comparison below a handful of categories with
// enough expected mass per bin instead of n+1 sparse ones.
func bucket(count, n int) int {
	width := (n + 4) / 4
	if width < 1 {
		width = 1
	}
	b := count / width
	if b > 3 {
		b = 3
	}
	return b
}

// TestEngine_MajorityDistributionMatchesNaiveReference checks that the batch
// engine's population, once it has simulated numSteps interactions, is
// distributed the same as a naive one-interaction-at-a-time simulator's after
// exactly numSteps. The batch side stops at the first epoch boundary at or
// past numSteps, so it may have run a few interactions more. Neither
// simulator is seeded to agree step-for-step with the other — batch
// acceleration consumes randomness completely differently from the naive
// walk — so the comparison is statistical: run many independent trials of
// each, histogram a summary statistic of the final population, and check the
// two histograms are consistent with having come from the same distribution
// via Pearson's chi-square statistic.
//
// gonum.org/v1/gonum/stat.ChiSquare is used for the test statistic itself
// (sum((obs-exp)^2/exp)); the teacher's own go.mod already carries gonum as
// a dependency, promoted here from indirect to direct since this file and
// collision/collision_montecarlo_test.go import it directly.
func TestEngine_MajorityDistributionMatchesNaiveReference(t *testing.T) {
	const (
		n          = 16
		strongOpin = 4 // number of agents starting strong+opinion-true
		numSteps   = 40
		numTrials  = 3000
	)

	initial := make([]protocol.State, n)
	for i := range initial {
		if i < strongOpin {
			initial[i] = protocol.State(3) // strong, opinion true
		} else {
			initial[i] = protocol.State(0) // weak, opinion false
		}
	}

	proto := testprotocols.Majority{}

	naiveHist := make([]float64, 4)
	naiveRng := rand.New(rand.NewSource(1))
	for trial := 0; trial < numTrials; trial++ {
		pop := append([]protocol.State(nil), initial...)
		for step := 0; step < numSteps; step++ {
			naiveMajorityStep(pop, naiveRng, proto)
		}
		naiveHist[bucket(opinionCount(pop), n)]++
	}

	batchHist := make([]float64, 4)
	for trial := 0; trial < numTrials; trial++ {
		u := urn.NewTreeUrn(4)
		for _, s := range initial {
			u.Add(urn.Color(s), 1)
		}
		e := New(Config{
			Agents:   u,
			Protocol: proto,
			RNG:      NewPartitionedRNG(int64(trial) + 1),
		})
		e.Run(FixedInteractionsMonitor(uint64(numSteps)))

		var count int
		for c := urn.Color(0); c < 4; c++ {
			if c&1 != 0 {
				count += int(e.Agents().CountOf(c))
			}
		}
		batchHist[bucket(count, n)]++
	}

	// Guard against a degenerate comparison where one side collapsed every
	// trial into a single bucket and the chi-square statistic would be
	// dominated by zero-expected-count bins.
	for b := 0; b < 4; b++ {
		if naiveHist[b] == 0 {
			naiveHist[b] = 0.5
		}
	}

	chi2 := stat.ChiSquare(batchHist, naiveHist)

	// Critical value for a chi-square distribution with 3 degrees of
	// freedom at p=0.0005 is about 17.7; use a generous multiple of that
	// to keep this test from flaking while still catching a genuinely
	// different distribution (which, empirically, blows this statistic up
	// by one or two orders of magnitude).
	const threshold = 60.0
	if chi2 > threshold {
		t.Fatalf("chi-square statistic %.2f exceeds threshold %.2f; batch=%v naive=%v",
			chi2, threshold, batchHist, naiveHist)
	}
}

// TestEngine_InteractionCountReachesMonitorTarget checks that a run under
// FixedInteractionsMonitor does not stop before the target interaction count
// (it stops at the first epoch boundary at or past it, so the count may
// overshoot) and that the population size is conserved.
func TestEngine_InteractionCountReachesMonitorTarget(t *testing.T) {
	u := urn.NewTreeUrn(4)
	for c := urn.Color(0); c < 4; c++ {
		u.Add(c, 50)
	}
	e := New(Config{Agents: u, Protocol: testprotocols.Majority{}, RNG: NewPartitionedRNG(7)})

	const target = 500
	e.Run(FixedInteractionsMonitor(target))

	require.GreaterOrEqual(t, e.NumInteractions(), uint64(target))
	require.EqualValues(t, 200, e.Agents().NumBalls())
}
