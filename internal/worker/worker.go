// Package worker writes autosaves of the running simulation to a savegame
// store without blocking the tick loop.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/channel"
	"github.com/opendrakan/statesync/internal/state"
	"github.com/opendrakan/statesync/internal/storage"
	"github.com/opendrakan/statesync/pkg/core"
)

// ErrStopped is returned for saves requested after Stop.
var ErrStopped = errors.New("autosave worker stopped")

// Scheduler runs functions on the simulation goroutine.
type Scheduler interface {
	Do(fn func())
	State() *state.Manager
}

// Flusher is flushed after every stored savegame.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Dependencies holds all dependencies for the worker manager
type Dependencies struct {
	Server Scheduler
	Logger *slog.Logger
	// Interval between autosaves; zero disables the timer, RequestSave
	// still works.
	Interval time.Duration
	// Keep is the number of savegames retained per level; zero keeps all.
	Keep int
	// QueueSize bounds encoded savegames waiting for the store.
	QueueSize int
	// Flusher is optional
	Flusher Flusher
	// Meta is merged into every savegame's metadata.
	Meta map[string]any
}

// Stats counts autosave outcomes.
type Stats struct {
	Saved   uint64
	Dropped uint64
	Failed  uint64
}

// Manager manages the autosave goroutines
type Manager struct {
	deps    Dependencies
	backend storage.Backend
	queue   channel.Channel[*core.Savegame]

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup

	saved, dropped, failed atomic.Uint64
}

// NewManager creates a new worker manager
func NewManager(deps Dependencies, backend storage.Backend) *Manager {
	if deps.QueueSize <= 0 {
		deps.QueueSize = 4
	}
	return &Manager{
		deps:    deps,
		backend: backend,
		queue:   channel.New[*core.Savegame](deps.QueueSize),
	}
}

// Stats returns the autosave counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Saved:   m.saved.Load(),
		Dropped: m.dropped.Load(),
		Failed:  m.failed.Load(),
	}
}

// Encode serializes the state manager's accumulated changes. It must run on
// the simulation goroutine, or while the simulation is stopped.
func Encode(st *state.Manager, meta map[string]any) *core.Savegame {
	w := binio.NewWriter(4096)
	st.SaveState(w)

	info := core.SavegameInfo{
		Level: st.Level().Path(),
		Tick:  st.CurrentTick(),
		Meta:  map[string]any{"objects": st.Stats().BaseObjects},
	}
	for k, v := range meta {
		info.Meta[k] = v
	}
	return &core.Savegame{SavegameInfo: info, Data: w.Bytes()}
}

// RequestSave schedules an autosave on the simulation goroutine. The
// savegame is dropped if the store is too far behind.
func (m *Manager) RequestSave() {
	m.deps.Server.Do(func() {
		sg := Encode(m.deps.Server.State(), m.deps.Meta)
		if err := m.enqueue(sg); err != nil {
			m.dropped.Add(1)
			m.deps.Logger.Warn("Autosave dropped", "tick", sg.Tick, "error", err)
		}
	})
}

func (m *Manager) enqueue(sg *core.Savegame) error {
	if m.queue.TrySend(sg) {
		return nil
	}
	if m.queue.Closed() {
		return ErrStopped
	}
	return fmt.Errorf("queue full (%d pending)", m.queue.Len())
}

// Start launches the writer and, if an interval is set, the timer.
func (m *Manager) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	m.cancel = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.writeLoop(ctx)
	}()

	if m.deps.Interval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.deps.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.RequestSave()
			}
		}
	}()
}

// Stop stops the timer, stores every queued savegame and waits for the
// writer to finish.
func (m *Manager) Stop() {
	m.queue.Close()
	m.mu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
}

// SaveNow encodes and stores a savegame synchronously. The caller must be
// on the simulation goroutine or have stopped the simulation.
func (m *Manager) SaveNow(ctx context.Context) (*core.Savegame, error) {
	sg := Encode(m.deps.Server.State(), m.deps.Meta)
	if err := m.store(ctx, sg); err != nil {
		return nil, err
	}
	return sg, nil
}

// Restore loads the newest savegame of the manager's level. It returns nil
// without error when the store has none.
func Restore(ctx context.Context, backend storage.Backend, st *state.Manager, logger *slog.Logger) (*core.Savegame, error) {
	sg, err := backend.Latest(ctx, st.Level().Path())
	if errors.Is(err, core.ErrSavegameNotFound) {
		logger.Info("No savegame to restore", "level", st.Level().Path())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading savegame: %w", err)
	}
	if err := st.RestoreState(binio.NewReader(sg.Data)); err != nil {
		return nil, fmt.Errorf("restoring savegame %s: %w", sg.ID, err)
	}
	logger.Info("Savegame restored", "id", sg.ID, "tick", sg.Tick, "createdAt", sg.CreatedAt)
	return sg, nil
}
