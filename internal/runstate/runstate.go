// Package runstate holds the single shared state object C5 and C6
// cooperate through: a small set of atomically updated counters plus a
// stop flag. Nothing here is safe to reason about outside the
// look-ahead invariant the scheduler and accumulator already maintain.
package runstate

import "sync/atomic"

// State is the cross-goroutine counters shared by the TX scheduler and
// the RX accumulator. Zero value is ready to use.
type State struct {
	pulsesScheduled      atomic.Int64
	pulsesReceived       atomic.Int64
	errorCount           atomic.Int64
	lastPulseNumWritten  atomic.Int64
	stopRequested        atomic.Bool
}

// New returns a State with LastPulseNumWritten seeded to -1, matching
// the "nothing flushed yet" starting point.
func New() *State {
	s := &State{}
	s.lastPulseNumWritten.Store(-1)
	return s
}

func (s *State) PulsesScheduled() int64     { return s.pulsesScheduled.Load() }
func (s *State) IncPulsesScheduled() int64  { return s.pulsesScheduled.Add(1) }
func (s *State) PulsesReceived() int64      { return s.pulsesReceived.Load() }
func (s *State) IncPulsesReceived() int64   { return s.pulsesReceived.Add(1) }
func (s *State) ErrorCount() int64          { return s.errorCount.Load() }
func (s *State) AddErrorCount(n int64) int64 { return s.errorCount.Add(n) }

func (s *State) LastPulseNumWritten() int64 { return s.lastPulseNumWritten.Load() }
func (s *State) SetLastPulseNumWritten(v int64) {
	s.lastPulseNumWritten.Store(v)
}

func (s *State) StopRequested() bool { return s.stopRequested.Load() }
func (s *State) RequestStop()        { s.stopRequested.Store(true) }

// Good returns the number of pulses that can be trusted for presumming:
// received minus the errors folded into them.
func (s *State) Good() int64 {
	return s.PulsesReceived() - s.ErrorCount()
}
