package engine

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// RoundMonitor stops the run once a target number of rounds (interactions
// per agent) has elapsed, logging throughput at a configurable cadence
// along the way.
//
// Grounded on original_source/include/pps/RoundBasedMonitor.hpp; the
// terminal-output formatting is replaced with structured logrus fields, the
// teacher's own reporting convention (see sim/metrics.go).
type RoundMonitor struct {
	RoundsBetweenReports uint64
	StopAtRound          uint64

	nextReport uint64

	startTime           time.Time
	lastReportTime      time.Time
	lastReportEpochs    uint64
	lastReportRuns      uint64
	lastReportInteracts uint64
	started             bool
}

// NewRoundMonitor creates a RoundMonitor that logs every reportEveryRounds
// rounds and stops after stopAtRound rounds (0 means run forever).
func NewRoundMonitor(reportEveryRounds, stopAtRound uint64) *RoundMonitor {
	next := reportEveryRounds
	if next == 0 {
		next = ^uint64(0)
	}
	return &RoundMonitor{
		RoundsBetweenReports: reportEveryRounds,
		StopAtRound:          stopAtRound,
		nextReport:           next,
	}
}

// Monitor satisfies the Monitor function type.
func (m *RoundMonitor) Monitor(e *Engine) bool {
	if !m.started {
		now := time.Now()
		m.startTime, m.lastReportTime = now, now
		m.started = true
	}

	numAgents := e.Agents().NumBalls()
	if numAgents == 0 {
		panic("engine: RoundMonitor requires a non-empty population")
	}
	round := e.NumInteractions() / numAgents

	if m.StopAtRound != 0 && round >= m.StopAtRound {
		m.report(e, round)
		return false
	}
	if round >= m.nextReport {
		m.report(e, round)
		m.nextReport += m.RoundsBetweenReports
	}
	return true
}

func (m *RoundMonitor) report(e *Engine, round uint64) {
	now := time.Now()
	elapsedTotal := now.Sub(m.startTime).Seconds()
	elapsedLast := now.Sub(m.lastReportTime).Seconds()

	var throughputTotal, throughputLast float64
	if elapsedTotal > 0 {
		throughputTotal = float64(e.NumInteractions()) / elapsedTotal
	}
	if elapsedLast > 0 {
		throughputLast = float64(e.NumInteractions()-m.lastReportInteracts) / elapsedLast
	}

	epochsSinceLast := e.NumEpochs() - m.lastReportEpochs
	runsSinceLast := e.NumRuns() - m.lastReportRuns

	logrus.WithFields(logrus.Fields{
		"round":               round,
		"interactions":        e.NumInteractions(),
		"throughputTotal":     fmt.Sprintf("%.1f/s", throughputTotal),
		"throughputSinceLast": fmt.Sprintf("%.1f/s", throughputLast),
		"runsPerEpoch":        safeDiv(runsSinceLast, epochsSinceLast),
		"targetEpochLength":   e.TargetEpochLength(),
	}).Info("engine: progress report")

	m.lastReportTime = now
	m.lastReportEpochs = e.NumEpochs()
	m.lastReportRuns = e.NumRuns()
	m.lastReportInteracts = e.NumInteractions()
}

func safeDiv(a, b uint64) uint64 {
	if b == 0 {
		return 0
	}
	return a / b
}

// FixedInteractionsMonitor stops the run once at least target interactions
// have been simulated; a minimal monitor for tests and small scripted runs
// that don't need RoundMonitor's logging.
func FixedInteractionsMonitor(target uint64) Monitor {
	return func(e *Engine) bool {
		return e.NumInteractions() < target
	}
}

// FixedEpochsMonitor stops the run after exactly target epochs.
func FixedEpochsMonitor(target uint64) Monitor {
	return func(e *Engine) bool {
		return e.NumEpochs() < target
	}
}
