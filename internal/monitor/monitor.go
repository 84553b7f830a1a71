package monitor

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	influxdb2_write "github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/opendrakan/statesync/internal/influx"
	"github.com/opendrakan/statesync/internal/server"
)

// StatsSource is sampled every interval.
type StatsSource interface {
	Stats() server.Stats
}

// PointWriter receives one point per sample.
type PointWriter interface {
	WritePoint(ctx context.Context, bucket string, point *influxdb2_write.Point) error
}

// Dependencies holds all dependencies for the monitor service
type Dependencies struct {
	Server StatsSource
	// Influx is optional
	Influx PointWriter
	Logger *slog.Logger
	// StatusPath is rewritten with the latest status as JSON; empty disables it
	StatusPath string
	Interval   time.Duration
	Level      string
}

// Status is one sample of the server's health.
type Status struct {
	Time             time.Time `json:"time"`
	Level            string    `json:"level"`
	Tick             int64     `json:"tick"`
	OldestTick       int64     `json:"oldestTick"`
	Clients          int       `json:"clients"`
	TicksPerSecond   float64   `json:"ticksPerSecond"`
	ObjectsPerSecond float64   `json:"objectsPerSecond"`
	EventsPerSecond  float64   `json:"eventsPerSecond"`
	FullSyncs        uint64    `json:"fullSyncs"`
	ClientErrors     uint64    `json:"clientErrors"`
	WritableObjects  int       `json:"writableObjects"`
	RetainedEvents   int       `json:"retainedEvents"`
	LastStepMs       float64   `json:"lastStepMs"`
}

// Service manages status monitoring
type Service struct {
	deps      Dependencies
	isRunning bool
	mu        sync.RWMutex
	stopChan  chan struct{}

	last     server.Stats
	lastTime time.Time
	status   Status
}

// NewService creates a new monitor service
func NewService(deps Dependencies) *Service {
	if deps.Interval <= 0 {
		deps.Interval = 10 * time.Second
	}
	return &Service{
		deps:     deps,
		stopChan: make(chan struct{}),
	}
}

// IsRunning returns whether the status monitor is running
func (s *Service) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// LastStatus returns the most recent sample.
func (s *Service) LastStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Sample reads the server's counters and turns them into rates since the
// previous sample.
func (s *Service) Sample(now time.Time) Status {
	st := s.deps.Server.Stats()

	s.mu.Lock()
	defer s.mu.Unlock()

	status := Status{
		Time:            now,
		Level:           s.deps.Level,
		Tick:            int64(st.State.CurrentTick),
		OldestTick:      int64(st.State.OldestTick),
		Clients:         st.Clients,
		FullSyncs:       st.FullSyncs,
		ClientErrors:    st.ClientErrors,
		WritableObjects: st.State.WritableObjects,
		RetainedEvents:  st.State.RetainedEvents,
		LastStepMs:      float64(st.LastStepDuration.Microseconds()) / 1000,
	}
	if !s.lastTime.IsZero() {
		if secs := now.Sub(s.lastTime).Seconds(); secs > 0 {
			status.TicksPerSecond = float64(st.Ticks-s.last.Ticks) / secs
			status.ObjectsPerSecond = float64(st.ObjectsSent-s.last.ObjectsSent) / secs
			status.EventsPerSecond = float64(st.EventsSent-s.last.EventsSent) / secs
		}
	}
	s.last, s.lastTime, s.status = st, now, status
	return status
}

func (s *Service) point(status Status) *influxdb2_write.Point {
	return influx.NewPoint("server_status",
		map[string]string{"level": status.Level},
		map[string]any{
			"tick":               status.Tick,
			"clients":            status.Clients,
			"ticks_per_second":   status.TicksPerSecond,
			"objects_per_second": status.ObjectsPerSecond,
			"events_per_second":  status.EventsPerSecond,
			"full_syncs":         int64(status.FullSyncs),
			"client_errors":      int64(status.ClientErrors),
			"writable_objects":   status.WritableObjects,
			"retained_events":    status.RetainedEvents,
			"last_step_ms":       status.LastStepMs,
		},
		status.Time,
	)
}

func (s *Service) publish(ctx context.Context, status Status) {
	logger := s.deps.Logger

	if s.deps.StatusPath != "" {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			data = []byte(fmt.Sprintf(`{"error": "%s"}`, err))
		}
		if err := os.WriteFile(s.deps.StatusPath, data, 0o644); err != nil {
			logger.Error("Error writing status file", "path", s.deps.StatusPath, "error", err)
		}
	}

	if s.deps.Influx != nil {
		if err := s.deps.Influx.WritePoint(ctx, influx.BucketServer, s.point(status)); err != nil {
			logger.Error("Error writing status point", "error", err)
		}
	}

	logger.Debug("Server status",
		"tick", status.Tick,
		"clients", status.Clients,
		"ticksPerSecond", status.TicksPerSecond,
		"lastStepMs", status.LastStepMs)
}

// Start starts the status monitor goroutine
func (s *Service) Start() error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = true
	s.stopChan = make(chan struct{})
	stop := s.stopChan
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			s.isRunning = false
			s.mu.Unlock()
		}()

		s.deps.Logger.Debug("Starting status monitor goroutine", "interval", s.deps.Interval)
		ticker := time.NewTicker(s.deps.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-stop:
				return
			case now := <-ticker.C:
				s.publish(context.Background(), s.Sample(now))
			}
		}
	}()

	return nil
}

// Stop stops the status monitor
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		close(s.stopChan)
		s.isRunning = false
	}
}
