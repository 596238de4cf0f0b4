// Package engine implements the batch-accelerated population protocol
// simulator: it reproduces exactly the distribution over successive
// population configurations that a naive one-interaction-at-a-time
// simulator would, while doing most of an epoch's bookkeeping in bulk.
package engine

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/popsim/batchsim/collision"
	"github.com/popsim/batchsim/epoch"
	"github.com/popsim/batchsim/protocol"
	"github.com/popsim/batchsim/urn"
)

// Config bundles everything needed to construct an Engine. Grouping
// construction parameters into a Config struct (rather than a long
// parameter list) follows the teacher's sim.Config convention.
type Config struct {
	// Agents is the initial population, keyed by protocol state. Its
	// color count must equal Protocol.NumStates().
	Agents urn.Urn
	// Protocol is the transition rule every interaction applies.
	Protocol protocol.Protocol
	// RNG seeds every random subsystem the engine uses. If nil, a
	// PartitionedRNG seeded from 0 is used (convenient for tests, not
	// for anything that needs independent runs).
	RNG *PartitionedRNG
	// EpochMin and EpochMax override the controller's derived epoch
	// length bounds. Leave both zero to use the n^0.4/n^0.8 default.
	EpochMin, EpochMax uint64
}

// Engine is the batch simulator. It holds two urns of the same concrete
// type: Agents (the resident population) and an internal "updated" urn
// that accumulates the results of the epoch currently being processed,
// merged into Agents at the epoch boundary.
//
// Grounded on original_source/include/pps/AsyncBatchSimulator.hpp.
type Engine struct {
	agents  urn.Urn
	updated urn.Urn

	numDelayedAgents uint64

	epochCtl *epoch.Controller
	proto    protocol.Protocol
	caps     protocol.Capabilities

	detTwoWay  protocol.DeterministicTwoWay
	detOneWay  protocol.DeterministicOneWay
	randTwoWay protocol.RandomizedTwoWay
	randOneWay protocol.RandomizedOneWay

	rng            *PartitionedRNG
	populationRNG  *partitionedSource
	collisionRNG   *partitionedSource
	interactionRNG *partitionedSource

	collisionDist *collision.Distribution

	skipTable        protocol.SkipTable
	useSkipHeuristic bool
	oneWayPartitions protocol.OneWayPartitions

	numInteractions uint64
	numRuns         uint64
	numEpochs       uint64
}

// partitionedSource adapts a *rand.Rand's subset of methods so both urn.Rand
// and collision.Rand (distinct interfaces, same underlying *rand.Rand) can
// be satisfied without importing math/rand directly into this file's public
// surface.
type partitionedSource struct {
	int63n  func(int64) int64
	float64 func() float64
}

func (s *partitionedSource) Int63n(n int64) int64 { return s.int63n(n) }
func (s *partitionedSource) Float64() float64     { return s.float64() }

// New constructs an Engine from cfg. Panics if cfg.Agents is empty, if the
// protocol has fewer than 2 states, or if the urn's color count doesn't
// match cfg.Protocol.NumStates() (configuration errors — the teacher's
// convention is to panic on contract violations the caller could have
// checked itself; see policy/admission.go).
func New(cfg Config) *Engine {
	if cfg.Agents == nil || cfg.Agents.NumBalls() == 0 {
		panic("engine: Config.Agents must be a non-empty urn")
	}
	if cfg.Protocol.NumStates() < 2 {
		panic("engine: Config.Protocol must have at least 2 states")
	}
	if uint32(cfg.Agents.NumColors()) != uint32(cfg.Protocol.NumStates()) {
		panic("engine: Config.Agents color count must equal Protocol.NumStates()")
	}

	rng := cfg.RNG
	if rng == nil {
		rng = NewPartitionedRNG(0)
	}

	e := &Engine{
		agents:  cfg.Agents,
		updated: cfg.Agents.Fresh(),
		proto:   cfg.Protocol,
		rng:     rng,
	}

	e.populationRNG = wrapSource(rng.ForSubsystem(SubsystemPopulation))
	e.collisionRNG = wrapSource(rng.ForSubsystem(SubsystemCollision))
	e.interactionRNG = wrapSource(rng.ForSubsystem(SubsystemInteractions))

	if cfg.EpochMin > 0 && cfg.EpochMax > 0 {
		e.epochCtl = epoch.NewControllerWithBounds(cfg.EpochMin, cfg.EpochMax)
	} else {
		e.epochCtl = epoch.NewController(e.agents.NumBalls())
	}

	e.caps = protocol.Detect(cfg.Protocol)
	switch {
	case e.caps.Deterministic && !e.caps.OneWay:
		e.detTwoWay = cfg.Protocol.(protocol.DeterministicTwoWay)
		table, skips := protocol.BuildSkipTable(e.detTwoWay)
		e.skipTable = table
		e.useSkipHeuristic = skips > int(cfg.Protocol.NumStates())
	case e.caps.Deterministic && e.caps.OneWay:
		e.detOneWay = cfg.Protocol.(protocol.DeterministicOneWay)
		e.oneWayPartitions = protocol.BuildOneWayPartitions(e.detOneWay)
	case !e.caps.Deterministic && !e.caps.OneWay:
		e.randTwoWay = cfg.Protocol.(protocol.RandomizedTwoWay)
	case !e.caps.Deterministic && e.caps.OneWay:
		e.randOneWay = cfg.Protocol.(protocol.RandomizedOneWay)
	}

	maxCollisionPopulation := int64(2 * e.epochCtl.Max())
	e.collisionDist = collision.NewDistribution(int64(e.agents.NumBalls()), 0, maxCollisionPopulation)

	logrus.WithFields(logrus.Fields{
		"agents":        e.agents.NumBalls(),
		"states":        cfg.Protocol.NumStates(),
		"deterministic": e.caps.Deterministic,
		"oneWay":        e.caps.OneWay,
		"epochMin":      e.epochCtl.Min(),
		"epochMax":      e.epochCtl.Max(),
		"skipHeuristic": e.useSkipHeuristic,
	}).Debug("engine: constructed")

	return e
}

func wrapSource(r interface {
	Int63n(int64) int64
	Float64() float64
}) *partitionedSource {
	return &partitionedSource{int63n: r.Int63n, float64: r.Float64}
}

// Monitor is called once per epoch with the live engine; it returns true to
// keep running, false to stop. Grounded on pps::RoundBasedMonitor's
// callback convention.
type Monitor func(*Engine) bool

// Run drives the epoch loop until monitor returns false.
func (e *Engine) Run(monitor Monitor) {
	e.epochCtl.Start()
	for {
		e.sampleRunLengthsAndPlantCollisions()
		e.processDelayedAgents()

		e.agents.Merge(e.updated)
		e.updated.Clear()
		e.numDelayedAgents = 0
		e.numEpochs++
		e.epochCtl.Update(e.numInteractions)

		logrus.WithFields(logrus.Fields{
			"epoch":        e.numEpochs,
			"interactions": e.numInteractions,
			"epochLength":  e.epochCtl.Current(),
		}).Debug("engine: epoch complete")

		if !monitor(e) {
			return
		}
	}
}

// Agents returns the resident population urn. Only valid to read between
// epochs (e.g. from within a Monitor); the urn is being mutated while an
// epoch is in flight.
func (e *Engine) Agents() urn.Urn { return e.agents }

// Protocol returns the transition rule this engine is running.
func (e *Engine) Protocol() protocol.Protocol { return e.proto }

// NumInteractions returns the total number of pairwise interactions
// simulated so far, across all epochs.
func (e *Engine) NumInteractions() uint64 { return e.numInteractions }

// NumRuns returns the number of "rounds" (collision-distribution samples)
// drawn so far, across all epochs.
func (e *Engine) NumRuns() uint64 { return e.numRuns }

// NumEpochs returns the number of completed epochs.
func (e *Engine) NumEpochs() uint64 { return e.numEpochs }

// TargetEpochLength returns the controller's current best estimate of the
// ideal epoch length.
func (e *Engine) TargetEpochLength() uint64 { return e.epochCtl.CurrentBest() }

func (e *Engine) sampleRunLengthsAndPlantCollisions() {
	numAgents := e.agents.NumBalls() + e.updated.NumBalls()

	for e.numDelayedAgents+e.updated.NumBalls() < e.epochCtl.Current() {
		numCollidingAgents := e.numDelayedAgents + e.updated.NumBalls()
		e.collisionDist.SetRed(int64(numCollidingAgents))

		var roundLength int64
		for {
			roundLength = e.collisionDist.Sample(e.collisionRNG)
			if numCollidingAgents != 0 || roundLength >= 2 {
				break
			}
		}
		e.numDelayedAgents += 2 * (uint64(roundLength) / 2)

		numCollidingAgents = e.numDelayedAgents + e.updated.NumBalls()

		sampleAgent := func(hasCollision bool) protocol.State {
			if hasCollision {
				if e.withProbability(e.numDelayedAgents, numCollidingAgents) {
					return e.sampleDelayedAgent()
				}
				return e.sampleUpdatedAgent()
			}
			return e.sampleUntouchedAgent()
		}

		hasCollisionOnFirst := roundLength%2 == 0
		hasCollisionOnSecond := !hasCollisionOnFirst || e.withProbability(numCollidingAgents, numAgents)

		first := sampleAgent(hasCollisionOnFirst)
		second := sampleAgent(hasCollisionOnSecond)

		first, second = e.performInteraction(first, second)

		e.updated.Add(urn.Color(first), 1)
		e.updated.Add(urn.Color(second), 1)

		e.numRuns++
	}
}

// processDelayedAgents resolves every interaction planted in the epoch that
// wasn't already settled while planting collisions: it draws the "first"
// half of each delayed pair from the resident population, then for each one
// figures out — via a sequence of hypergeometric draws against the
// remaining population — how many partners of each possible state it
// collided with, and applies the transition in bulk.
func (e *Engine) processDelayedAgents() {
	if e.detOneWay != nil {
		e.processDelayedAgentsPartitioned()
		return
	}

	type task struct {
		state protocol.State
		count uint64
	}
	var firstAgents []task
	e.agents.RemoveMany(e.numDelayedAgents/2, e.populationRNG, func(c urn.Color, n uint64) {
		firstAgents = append(firstAgents, task{protocol.State(c), n})
	})

	numStates := e.proto.NumStates()

	for _, tk := range firstAgents {
		firstState := tk.state
		leftToSample := tk.count
		unconsideredBalls := e.agents.NumBalls()

		var skips []protocol.State
		if e.useSkipHeuristic {
			skips = e.skipTable[firstState]
		}

		if len(skips) > 0 {
			var numSkipable uint64
			for _, s := range skips {
				numSkipable += e.agents.CountOf(urn.Color(s))
			}
			if numSkipable > 0 {
				unconsideredBalls -= numSkipable
				skipped := urn.SampleHypergeometric(e.populationRNG, numSkipable, unconsideredBalls, leftToSample)
				leftToSample -= skipped
				e.updated.Add(urn.Color(firstState), skipped)
			}
		}

		skipIdx := 0
		for second := protocol.State(0); leftToSample > 0 && second < numStates; second++ {
			if e.useSkipHeuristic {
				for skipIdx < len(skips) && skips[skipIdx] < second {
					skipIdx++
				}
				if skipIdx < len(skips) && skips[skipIdx] == second {
					continue
				}
			}

			ballsWithColor := e.agents.CountOf(urn.Color(second))
			unconsideredBalls -= ballsWithColor

			var numSelected uint64
			switch {
			case ballsWithColor == 0:
				numSelected = 0
			case unconsideredBalls == 0:
				numSelected = min(leftToSample, ballsWithColor)
			default:
				numSelected = urn.SampleHypergeometric(e.populationRNG, ballsWithColor, unconsideredBalls, leftToSample)
			}

			if numSelected > 0 {
				e.agents.Remove(urn.Color(second), numSelected)
				e.performInteractions(firstState, second, numSelected, e.updated)
			}
			leftToSample -= numSelected
		}
	}
}

// processDelayedAgentsPartitioned is processDelayedAgents specialized to
// deterministic one-way protocols: the second agent's state never changes,
// so there's nothing to remove from the resident population for it — the
// hypergeometric draws only decide which precomputed output partition the
// first agent's new state falls into.
func (e *Engine) processDelayedAgentsPartitioned() {
	type task struct {
		state protocol.State
		count uint64
	}
	var firstAgents []task
	e.agents.RemoveMany(e.numDelayedAgents/2, e.populationRNG, func(c urn.Color, n uint64) {
		firstAgents = append(firstAgents, task{protocol.State(c), n})
	})

	for _, tk := range firstAgents {
		firstState := tk.state
		leftToSample := tk.count
		if leftToSample == 0 {
			continue
		}

		parts := e.oneWayPartitions[firstState]
		if len(parts) == 1 {
			e.updated.Add(urn.Color(parts[0].Out), leftToSample)
			continue
		}

		unconsideredBalls := e.agents.NumBalls()
		for _, part := range parts {
			var ballsInPartition uint64
			for _, s := range part.Partners {
				ballsInPartition += e.agents.CountOf(urn.Color(s))
			}
			unconsideredBalls -= ballsInPartition

			var numSelected uint64
			switch {
			case ballsInPartition == 0:
				numSelected = 0
			case unconsideredBalls == 0:
				numSelected = min(leftToSample, ballsInPartition)
			default:
				numSelected = urn.SampleHypergeometric(e.populationRNG, ballsInPartition, unconsideredBalls, leftToSample)
			}

			e.updated.Add(urn.Color(part.Out), numSelected)
			leftToSample -= numSelected
			if leftToSample == 0 {
				break
			}
		}
	}
	e.numInteractions += e.numDelayedAgents / 2
}

func (e *Engine) sampleUntouchedAgent() protocol.State {
	return protocol.State(e.agents.RemoveOne(e.populationRNG))
}

func (e *Engine) sampleUpdatedAgent() protocol.State {
	return protocol.State(e.updated.RemoveOne(e.populationRNG))
}

func (e *Engine) sampleDelayedAgent() protocol.State {
	if e.numDelayedAgents < 2 {
		panic("engine: sampleDelayedAgent called with fewer than 2 delayed agents")
	}

	first := e.sampleUntouchedAgent()
	second := e.sampleUntouchedAgent()
	e.numDelayedAgents -= 2

	first, second = e.performInteraction(first, second)

	if e.fairCoin() {
		first, second = second, first
	}
	e.updated.Add(urn.Color(second), 1)
	return first
}

func (e *Engine) fairCoin() bool {
	return e.interactionRNG.Int63n(2) == 0
}

// withProbability reports true with probability good/total, via a single
// uniform draw over [0, total).
func (e *Engine) withProbability(good, total uint64) bool {
	if total == 0 {
		return false
	}
	return uint64(e.interactionRNG.Int63n(int64(total))) < good
}

// performInteraction applies the transition function to a single pair,
// dispatching on whichever capability this engine detected at construction.
func (e *Engine) performInteraction(first, second protocol.State) (protocol.State, protocol.State) {
	e.numInteractions++

	switch {
	case e.detTwoWay != nil:
		return e.detTwoWay.Deliver(first, second)
	case e.detOneWay != nil:
		return e.detOneWay.DeliverOneWay(first, second), second
	case e.randTwoWay != nil:
		var out [2]protocol.State
		filled := 0
		e.randTwoWay.DeliverMany(first, second, 1, func(s protocol.State, n int) {
			for i := 0; i < n && filled < 2; i++ {
				out[filled] = s
				filled++
			}
		})
		if filled != 2 {
			panic(fmt.Sprintf("engine: randomized two-way protocol emitted %d states for 1 interaction, want 2", filled))
		}
		return out[0], out[1]
	case e.randOneWay != nil:
		var out protocol.State
		filled := 0
		e.randOneWay.DeliverManyOneWay(first, second, 1, func(s protocol.State, n int) {
			if filled == 0 && n > 0 {
				out = s
				filled = n
			}
		})
		if filled != 1 {
			panic(fmt.Sprintf("engine: randomized one-way protocol emitted %d states for 1 interaction, want 1", filled))
		}
		return out, second
	}
	panic("engine: protocol matched no known capability")
}

// performInteractions applies the transition function to num identical
// pairs at once, adding the results into target.
func (e *Engine) performInteractions(first, second protocol.State, num uint64, target urn.Urn) {
	switch {
	case e.detTwoWay != nil:
		a, b := e.detTwoWay.Deliver(first, second)
		target.Add(urn.Color(a), num)
		target.Add(urn.Color(b), num)
		e.numInteractions += num
	case e.detOneWay != nil:
		a := e.detOneWay.DeliverOneWay(first, second)
		target.Add(urn.Color(a), num)
		target.Add(urn.Color(second), num)
		e.numInteractions += num
	case e.randTwoWay != nil:
		before := target.NumBalls()
		e.randTwoWay.DeliverMany(first, second, int(num), func(s protocol.State, n int) {
			target.Add(urn.Color(s), uint64(n))
		})
		e.numInteractions += num
		if target.NumBalls() != before+2*num {
			panic("engine: randomized two-way protocol did not emit exactly 2*num updated agents")
		}
	case e.randOneWay != nil:
		before := target.NumBalls()
		e.randOneWay.DeliverManyOneWay(first, second, int(num), func(s protocol.State, n int) {
			target.Add(urn.Color(s), uint64(n))
		})
		if target.NumBalls() != before+num {
			panic("engine: randomized one-way protocol did not emit exactly num updated agents")
		}
		target.Add(urn.Color(second), num)
		e.numInteractions += num
	default:
		panic("engine: protocol matched no known capability")
	}
}
