// Package client implements the receiving end of the downlink: it rebuilds
// confirmed snapshots into a local level copy and acknowledges them.
package client

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/bundle"
	"github.com/opendrakan/statesync/internal/connector"
	"github.com/opendrakan/statesync/internal/dispatcher"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/queue"
	"github.com/opendrakan/statesync/internal/state"
	"github.com/opendrakan/statesync/pkg/core"
)

const DefaultHistorySize = 64

var (
	ErrNoLevel         = errors.New("no level loaded")
	ErrCountMismatch   = errors.New("snapshot change count mismatch")
	ErrUnknownRef      = errors.New("reference snapshot not in history")
	ErrUnknownObject   = errors.New("state for unknown object")
	ErrStaleSnapshot   = errors.New("snapshot older than the last applied one")
	ErrMixedTickStates = errors.New("object states for a different tick")
)

// Config tunes a Client.
type Config struct {
	// HistorySize is how many confirmed snapshots are kept as delta bases.
	// It must not be smaller than the server's retained ticks, otherwise a
	// lagging client can lose its reference before the server falls back
	// to a full sync.
	HistorySize int
	// DispatcherLogger receives the message dispatcher's logs. Defaults to
	// the client logger.
	DispatcherLogger dispatcher.Logger
}

type pendingKind uint8

const (
	pendingStates pendingKind = iota
	pendingMessage
)

type pendingCall struct {
	kind    pendingKind
	tick    core.TickNumber
	id      core.LevelObjectId
	channel core.MessageChannelCode
	payload queue.Span
}

type world map[core.LevelObjectId]level.ObjectStateSnapshot

type confirmed struct {
	tick     core.TickNumber
	realtime float64
	states   world
}

// Stats counts snapshot outcomes.
type Stats struct {
	Applied      uint64
	Dropped      uint64
	LastTick     core.TickNumber
	LastRealtime float64
}

// Client is a connector.DownlinkConnector. Its methods may be called from a
// transport goroutine while the game reads the level through the accessors.
type Client struct {
	cfg        Config
	logger     *slog.Logger
	loader     level.Loader
	uplink     connector.UplinkConnector
	dispatcher *dispatcher.Dispatcher

	mu        sync.Mutex
	level     *level.Level
	loadState world
	pending   []pendingCall
	arena     []byte
	history   []confirmed
	prev      *confirmed
	last      *confirmed
	stats     Stats
	err       error
	uplinkErr error
}

// New creates a client that loads levels with loader and acknowledges
// snapshots through uplink.
func New(cfg Config, loader level.Loader, uplink connector.UplinkConnector, logger *slog.Logger) (*Client, error) {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	dl := cfg.DispatcherLogger
	if dl == nil {
		dl = logger
	}
	d, err := dispatcher.New(nil, dl)
	if err != nil {
		return nil, fmt.Errorf("creating dispatcher: %w", err)
	}
	return &Client{
		cfg:        cfg,
		logger:     logger,
		loader:     loader,
		uplink:     uplink,
		dispatcher: d,
		history:    make([]confirmed, cfg.HistorySize),
		stats:      Stats{LastTick: core.NoTick},
	}, nil
}

// Dispatcher delivers received global messages.
func (c *Client) Dispatcher() *dispatcher.Dispatcher { return c.dispatcher }

// Uplink returns the connector actions are sent through.
func (c *Client) Uplink() connector.UplinkConnector { return c.uplink }

// Err returns the error that broke the uplink, otherwise the last level
// loading error.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uplinkErr != nil {
		return c.uplinkErr
	}
	return c.err
}

// Stats returns snapshot counters.
func (c *Client) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// LastTick returns the newest applied tick, or core.NoTick.
func (c *Client) LastTick() core.TickNumber {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats.LastTick
}

// WithLevel runs fn with the local level locked against snapshot updates.
func (c *Client) WithLevel(fn func(lvl *level.Level) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.level == nil {
		return ErrNoLevel
	}
	return fn(c.level)
}

// ObjectState returns an object's state as of the newest applied snapshot.
func (c *Client) ObjectState(id core.LevelObjectId) (level.ObjectStateSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		s, ok := c.loadState[id]
		return s, ok
	}
	s, ok := c.last.states[id]
	return s, ok
}

// InterpolatedTransform blends an object's transform between the last two
// applied snapshots at the given server realtime. Times outside the pair
// clamp to its ends.
func (c *Client) InterpolatedTransform(id core.LevelObjectId, realtime float64) (core.ObjectTransform, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.last == nil {
		s, ok := c.loadState[id]
		return s.Transform, ok
	}
	to, ok := c.last.states[id]
	if !ok {
		return core.ObjectTransform{}, false
	}
	if c.prev == nil {
		return to.Transform, true
	}
	from, ok := c.prev.states[id]
	span := c.last.realtime - c.prev.realtime
	if !ok || span <= 0 {
		return to.Transform, true
	}
	t := min(max((realtime-c.prev.realtime)/span, 0), 1)
	return from.Transform.Lerp(to.Transform, float32(t)), true
}

// LoadLevel replaces the local level. History is discarded; the server
// follows up with a full sync.
func (c *Client) LoadLevel(path string) {
	lvl, err := c.loader.Load(path)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetLocked()
	if err != nil {
		c.err = fmt.Errorf("loading level %q: %w", path, err)
		c.logger.Error("loading level", "path", path, "error", err)
		return
	}
	c.err = nil
	c.level = lvl
	c.loadState = make(world, len(lvl.Objects()))
	for _, obj := range lvl.Objects() {
		c.loadState[obj.ID()] = obj.Snapshot()
	}
	c.logger.Info("level loaded", "path", path, "objects", len(c.loadState))
}

func (c *Client) resetLocked() {
	c.level = nil
	c.loadState = nil
	c.pending = c.pending[:0]
	c.arena = c.arena[:0]
	clear(c.history)
	c.prev, c.last = nil, nil
	c.stats.LastTick = core.NoTick
}

func (c *Client) buffer(p pendingCall, payload []byte) {
	p.payload = queue.Span{Offset: len(c.arena), Length: len(payload)}
	c.arena = append(c.arena, payload...)
	c.pending = append(c.pending, p)
}

// ObjectStatesChanged buffers the record until its snapshot is confirmed.
func (c *Client) ObjectStatesChanged(tick core.TickNumber, id core.LevelObjectId, states []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer(pendingCall{kind: pendingStates, tick: tick, id: id}, states)
}

// GlobalMessage buffers the message until its snapshot is confirmed.
func (c *Client) GlobalMessage(channel core.MessageChannelCode, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffer(pendingCall{kind: pendingMessage, channel: channel}, data)
}

// ConfirmSnapshot applies the buffered calls if all of them arrived and
// acknowledges the tick. Incomplete or unusable snapshots are dropped and
// the server keeps sending deltas against the last acknowledged tick.
func (c *Client) ConfirmSnapshot(tick core.TickNumber, realtime float64, count uint32, ref core.TickNumber) {
	c.mu.Lock()
	messages, err := c.applyLocked(tick, realtime, count, ref)
	c.pending = c.pending[:0]
	if err != nil {
		c.stats.Dropped++
		c.arena = c.arena[:0]
		c.mu.Unlock()
		c.logger.Warn("dropping snapshot", "tick", tick, "ref", ref, "error", err)
		return
	}
	c.stats.Applied++
	c.stats.LastTick = tick
	c.stats.LastRealtime = realtime
	c.mu.Unlock()

	// listeners may call back into the client
	for _, m := range messages {
		c.dispatcher.ReceiveGlobalMessage(m.channel, m.data)
	}
	c.uplink.AcknowledgeSnapshot(tick)
	if f, ok := c.uplink.(connector.Failer); ok {
		if err := f.Err(); err != nil {
			c.uplinkFailed(err)
		}
	}
}

func (c *Client) uplinkFailed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.uplinkErr != nil {
		return
	}
	c.uplinkErr = fmt.Errorf("uplink: %w", err)
	c.logger.Error("uplink failed", "error", err)
}

type delivery struct {
	channel core.MessageChannelCode
	data    []byte
}

func (c *Client) applyLocked(tick core.TickNumber, realtime float64, count uint32, ref core.TickNumber) ([]delivery, error) {
	if c.level == nil {
		return nil, ErrNoLevel
	}
	if len(c.pending) != int(count) {
		return nil, fmt.Errorf("received %d, expected %d: %w", len(c.pending), count, ErrCountMismatch)
	}
	if tick <= c.stats.LastTick {
		return nil, fmt.Errorf("tick %d, last %d: %w", tick, c.stats.LastTick, ErrStaleSnapshot)
	}

	base := c.loadState
	if ref != core.NoTick {
		h := &c.history[int(ref)%len(c.history)]
		if h.states == nil || h.tick != ref {
			return nil, fmt.Errorf("ref %d: %w", ref, ErrUnknownRef)
		}
		base = h.states
	}

	next := make(world, len(base))
	for id, s := range base {
		next[id] = s
	}
	var messages []delivery
	for _, p := range c.pending {
		payload := p.payload.In(c.arena)
		if p.kind == pendingMessage {
			messages = append(messages, delivery{channel: p.channel, data: payload})
			continue
		}
		if p.tick != tick {
			return nil, fmt.Errorf("object %d at tick %d, confirming %d: %w", p.id, p.tick, tick, ErrMixedTickStates)
		}
		cur, ok := next[p.id]
		if !ok {
			return nil, fmt.Errorf("object %d: %w", p.id, ErrUnknownObject)
		}
		tr, err := state.DeserializeTransition(binio.NewReader(payload), cur.Custom, bundle.PurposeNetwork)
		if err != nil {
			return nil, fmt.Errorf("object %d: %w", p.id, err)
		}
		next[p.id] = tr.ApplyTo(cur)
	}

	for id, s := range next {
		if obj := c.level.Object(id); obj != nil {
			obj.Restore(s)
		}
	}
	// messages are delivered after the lock is released
	c.arena = nil

	snap := confirmed{tick: tick, realtime: realtime, states: next}
	c.history[int(tick)%len(c.history)] = snap
	c.prev, c.last = c.last, &snap
	return messages, nil
}
