package server

import (
	"fmt"
	"math"
	"time"

	"github.com/opendrakan/statesync/internal/state"
	"github.com/opendrakan/statesync/pkg/core"
)

// LagCompensationGuard keeps the level rewound to what a client saw.
type LagCompensationGuard struct {
	checkout *state.CheckoutGuard
	lagTicks int64
}

// Tick returns the tick the level is rewound to.
func (g *LagCompensationGuard) Tick() core.TickNumber { return g.checkout.Tick() }

// LagTicks returns how many ticks the level was rewound.
func (g *LagCompensationGuard) LagTicks() int64 { return g.lagTicks }

// Release restores the live state. It may be called more than once.
func (g *LagCompensationGuard) Release() {
	if g != nil {
		g.checkout.Release()
	}
}

// EstimatedLag returns the client's one way lag plus its view interpolation
// time, capped at MaxLagCompensation.
func (s *Server) EstimatedLag(id core.ClientId) (time.Duration, error) {
	cd, err := s.client(id)
	if err != nil {
		return 0, err
	}
	cd.mu.Lock()
	lag := cd.lastMeasuredRoundTripTime/2 + cd.viewInterpolationTime
	cd.mu.Unlock()
	return min(lag, s.cfg.MaxLagCompensation), nil
}

// CompensateLag rewinds the level to the tick the client was looking at.
// Retention errors are returned as is; the caller must not fall back to a
// different tick.
func (s *Server) CompensateLag(id core.ClientId) (*LagCompensationGuard, error) {
	lag, err := s.EstimatedLag(id)
	if err != nil {
		return nil, err
	}
	lagTicks := int64(math.Round(lag.Seconds() * s.cfg.TickRate))
	tick := s.state.CurrentTick() - core.TickNumber(lagTicks)

	g, err := s.state.Checkout(tick)
	if err != nil {
		return nil, fmt.Errorf("compensating %v lag of client %d: %w", lag, id, err)
	}
	return &LagCompensationGuard{checkout: g, lagTicks: lagTicks}, nil
}

// WithLagCompensation runs fn with the level rewound for the client. Live
// state is restored however fn returns.
func (s *Server) WithLagCompensation(id core.ClientId, fn func(g *LagCompensationGuard) error) error {
	g, err := s.CompensateLag(id)
	if err != nil {
		return err
	}
	defer g.Release()
	return fn(g)
}
