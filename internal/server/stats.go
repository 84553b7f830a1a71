package server

import (
	"time"

	"github.com/opendrakan/statesync/internal/state"
)

// Stats are cumulative counters plus the latest step's figures.
type Stats struct {
	Ticks         uint64
	Clients       int
	SnapshotsSent uint64
	ObjectsSent   uint64
	EventsSent    uint64
	FullSyncs     uint64
	ClientErrors  uint64

	LastStepDuration time.Duration
	State            state.Stats
}

func (s *Server) recordStep(step stepStats, clients int, took time.Duration) {
	st := s.state.Stats()

	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	s.stats.Ticks++
	s.stats.Clients = clients
	s.stats.SnapshotsSent += uint64(step.snapshots)
	s.stats.ObjectsSent += uint64(step.objects)
	s.stats.EventsSent += uint64(step.events)
	s.stats.FullSyncs += uint64(step.fullSyncs)
	s.stats.ClientErrors += uint64(step.failures)
	s.stats.LastStepDuration = took
	s.stats.State = st
}

// Stats returns a copy of the counters. Safe from any goroutine.
func (s *Server) Stats() Stats {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	return s.stats
}
