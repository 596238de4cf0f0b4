package protocol

// SkipTable holds, for each source state s1, the set of partner states s2
// for which the two-way deterministic transition is a no-op: δ(s1,s2) equals
// (s1,s2) or (s2,s1). Grounded on Protocols::transactions_without_change.
type SkipTable [][]State

// BuildSkipTable computes the no-op table for a deterministic two-way
// protocol. It returns the table and the total number of skippable
// (s1, s2) pairs across the whole transition matrix; the engine only
// bothers consulting the table when that total exceeds numStates (the
// point past which the bookkeeping overhead pays for itself).
func BuildSkipTable(p DeterministicTwoWay) (SkipTable, int) {
	n := p.NumStates()
	table := make(SkipTable, n)
	skips := 0

	for s1 := State(0); s1 < n; s1++ {
		for s2 := State(0); s2 < n; s2++ {
			o1, o2 := p.Deliver(s1, s2)
			noOp := (o1 == s1 && o2 == s2) || (o1 == s2 && o2 == s1)
			if noOp {
				table[s1] = append(table[s1], s2)
				skips++
			}
		}
	}
	return table, skips
}

// Partition groups the partner states that a one-way transition maps to the
// same output state for a fixed initiator state.
type Partition struct {
	Partners []State
	Out      State
}

// OneWayPartitions holds, for each initiator state s1, the partition of
// partner states by output state: OneWayPartitions[s1] is a list of
// (partner-set, output-state) pairs covering every partner state exactly
// once. Grounded on Protocols::parition_oneway_transactions.
type OneWayPartitions [][]Partition

// BuildOneWayPartitions computes the partition table for a deterministic
// one-way protocol.
func BuildOneWayPartitions(p DeterministicOneWay) OneWayPartitions {
	n := p.NumStates()
	out := make(OneWayPartitions, n)

	for s1 := State(0); s1 < n; s1++ {
		byOut := make(map[State][]State)
		order := make([]State, 0, n)
		for s2 := State(0); s2 < n; s2++ {
			o1 := p.DeliverOneWay(s1, s2)
			if _, seen := byOut[o1]; !seen {
				order = append(order, o1)
			}
			byOut[o1] = append(byOut[o1], s2)
		}

		parts := make([]Partition, 0, len(order))
		for _, o := range order {
			parts = append(parts, Partition{Partners: byOut[o], Out: o})
		}
		out[s1] = parts
	}
	return out
}
