package engine

// This file collects the reading order for newcomers to the package:
//
//  1. Config / New — construct an Engine over an initial population and a
//     protocol.Protocol; capability detection and precomputation happen
//     once here.
//  2. engine.go's Run — the epoch loop: plant collisions, resolve the rest
//     in bulk, merge, repeat until the Monitor says stop.
//  3. monitor.go — three ready-made Monitor implementations (the Monitor
//     function type itself is declared in engine.go).
//  4. rng.go — PartitionedRNG, the single seed every subsystem's draws are
//     derived from.
//
// The heavy lifting (what "plant collisions" and "resolve in bulk" mean) is
// in sampleRunLengthsAndPlantCollisions and processDelayedAgents in
// engine.go; both are commented at the point of definition.
