package worker

import (
	"context"
	"time"

	"github.com/opendrakan/statesync/pkg/core"
)

// writeLoop drains the queue until it is closed. Savegames still queued
// when ctx is cancelled are stored with a background context so Stop never
// loses a requested save.
func (m *Manager) writeLoop(ctx context.Context) {
	for sg := range m.queue.Receive() {
		storeCtx := ctx
		if ctx.Err() != nil {
			storeCtx = context.Background()
		}
		if err := m.store(storeCtx, sg); err != nil {
			m.deps.Logger.Error("Autosave failed", "level", sg.Level, "tick", sg.Tick, "error", err)
		}
	}
}

func (m *Manager) store(ctx context.Context, sg *core.Savegame) error {
	start := time.Now()
	if err := m.backend.Save(ctx, sg); err != nil {
		m.failed.Add(1)
		return err
	}
	m.saved.Add(1)

	logger := m.deps.Logger
	logger.Info("Autosave written",
		"id", sg.ID,
		"level", sg.Level,
		"tick", sg.Tick,
		"size", sg.Size,
		"duration", time.Since(start))

	if m.deps.Keep > 0 {
		n, err := m.backend.Prune(ctx, sg.Level, m.deps.Keep)
		if err != nil {
			logger.Warn("Pruning savegames failed", "level", sg.Level, "error", err)
		} else if n > 0 {
			logger.Debug("Pruned savegames", "level", sg.Level, "removed", n)
		}
	}

	if m.deps.Flusher != nil {
		if err := m.deps.Flusher.Flush(ctx); err != nil {
			logger.Warn("Flushing telemetry failed", "error", err)
		}
	}
	return nil
}
