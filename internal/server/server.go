// Package server runs the authoritative simulation and streams snapshots to
// connected clients.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/opendrakan/statesync/internal/binio"
	"github.com/opendrakan/statesync/internal/connector"
	"github.com/opendrakan/statesync/internal/dispatcher"
	"github.com/opendrakan/statesync/internal/input"
	"github.com/opendrakan/statesync/internal/level"
	"github.com/opendrakan/statesync/internal/state"
	"github.com/opendrakan/statesync/pkg/core"
)

// ErrUnknownClient is returned for ids that are not registered.
var ErrUnknownClient = errors.New("unknown client")

// Config tunes a Server.
type Config struct {
	// TickRate is the number of simulation ticks per second.
	TickRate float64
	// RetainedTicks bounds history kept for deltas and lag compensation.
	RetainedTicks int
	// ViewInterpolationTime is how far clients render behind the newest
	// snapshot. It is added to half the round trip when compensating lag.
	ViewInterpolationTime time.Duration
	// MaxLagCompensation caps how far back a client's view is rewound.
	MaxLagCompensation time.Duration
}

func (c Config) withDefaults() Config {
	if c.TickRate <= 0 {
		c.TickRate = 30
	}
	if c.RetainedTicks <= 0 {
		c.RetainedTicks = state.DefaultRetainedTicks
	}
	if c.MaxLagCompensation <= 0 {
		c.MaxLagCompensation = time.Second
	}
	return c
}

// TickDuration is the simulated time per tick.
func (c Config) TickDuration() time.Duration {
	return time.Duration(float64(time.Second) / c.TickRate)
}

// Server owns the level, its state manager and the clients. Step and the
// lag compensation calls must be made from a single simulation goroutine;
// client management is safe from any goroutine.
type Server struct {
	cfg     Config
	logger  *slog.Logger
	level   *level.Level
	state   *state.Manager
	physics PhysicsSystem
	now     func() time.Time

	newDispatcher func(dispatcher.MessageSink, dispatcher.Logger) (*dispatcher.Dispatcher, error)

	clientsMu    sync.Mutex
	clients      map[core.ClientId]*ClientData
	lastClientID core.ClientId

	tempClients []*ClientData
	realtime    float64
	broadcast   *binio.Writer

	tasksMu sync.Mutex
	tasks   []func()
	running []func()

	statsMu sync.Mutex
	stats   Stats
}

// New creates a server simulating lvl.
func New(cfg Config, lvl *level.Level, physics PhysicsSystem, logger *slog.Logger) *Server {
	cfg = cfg.withDefaults()
	if physics == nil {
		physics = NoPhysics{}
	}
	return &Server{
		cfg:       cfg,
		logger:    logger,
		level:     lvl,
		state:     state.NewManager(lvl, state.Config{RetainedTicks: cfg.RetainedTicks}, logger),
		physics:   physics,
		now:       time.Now,
		clients:   make(map[core.ClientId]*ClientData),
		broadcast: binio.NewWriter(64),

		newDispatcher: dispatcher.New,
	}
}

// Config returns the effective configuration.
func (s *Server) Config() Config { return s.cfg }

// Level returns the simulated level.
func (s *Server) Level() *level.Level { return s.level }

// State returns the state manager. Simulation goroutine only.
func (s *Server) State() *state.Manager { return s.state }

// AddClient registers a client and returns its id. Ids are never reused.
// On error no client is registered.
func (s *Server) AddClient() (core.ClientId, error) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()

	s.lastClientID++
	id := s.lastClientID
	cd := &ClientData{
		id:                    id,
		uplink:                connector.NewQueuedUplinkConnector(),
		input:                 input.NewManager(),
		outbox:                connector.NewQueuedDownlinkConnector(),
		lastAcknowledgedTick:  core.NoTick,
		lastEventTickSent:     core.NoTick,
		viewInterpolationTime: s.cfg.ViewInterpolationTime,
	}
	d, err := s.newDispatcher(cd.outbox, s.logger.With("client", id))
	if err != nil {
		return core.InvalidClientId, fmt.Errorf("client %d dispatcher: %w", id, err)
	}
	cd.dispatcher = d
	s.clients[id] = cd

	s.logger.Info("client added", "client", id)
	return id, nil
}

// RemoveClient forgets a client.
func (s *Server) RemoveClient(id core.ClientId) error {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	if _, ok := s.clients[id]; !ok {
		return fmt.Errorf("client %d: %w", id, ErrUnknownClient)
	}
	delete(s.clients, id)
	s.logger.Info("client removed", "client", id)
	return nil
}

func (s *Server) client(id core.ClientId) (*ClientData, error) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	cd, ok := s.clients[id]
	if !ok {
		return nil, fmt.Errorf("client %d: %w", id, ErrUnknownClient)
	}
	return cd, nil
}

// Client returns the data of a registered client.
func (s *Server) Client(id core.ClientId) (*ClientData, error) { return s.client(id) }

// ClientCount returns the number of registered clients.
func (s *Server) ClientCount() int {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	return len(s.clients)
}

// SetClientDownlinkConnector binds the client's transport and tells it
// which level to load. The client then receives a full sync with the next
// snapshot.
func (s *Server) SetClientDownlinkConnector(id core.ClientId, c connector.DownlinkConnector) error {
	cd, err := s.client(id)
	if err != nil {
		return err
	}
	cd.mu.Lock()
	defer cd.mu.Unlock()
	cd.downlink = c
	cd.err = nil
	cd.lastAcknowledgedTick = core.NoTick
	cd.lastEventTickSent = core.NoTick
	c.LoadLevel(s.level.Path())
	return nil
}

// UplinkConnectorForClient returns the queue transports feed the client's
// calls into.
func (s *Server) UplinkConnectorForClient(id core.ClientId) (connector.UplinkConnector, error) {
	cd, err := s.client(id)
	if err != nil {
		return nil, err
	}
	return cd.uplink, nil
}

// ClientInput returns the client's input manager.
func (s *Server) ClientInput(id core.ClientId) (*input.Manager, error) {
	cd, err := s.client(id)
	if err != nil {
		return nil, err
	}
	return cd.input, nil
}

// ClientDispatcher returns the dispatcher for messages to and from the client.
func (s *Server) ClientDispatcher(id core.ClientId) (*dispatcher.Dispatcher, error) {
	cd, err := s.client(id)
	if err != nil {
		return nil, err
	}
	return cd.dispatcher, nil
}

// SetClientViewInterpolation overrides the client's view interpolation time.
func (s *Server) SetClientViewInterpolation(id core.ClientId, d time.Duration) error {
	cd, err := s.client(id)
	if err != nil {
		return err
	}
	cd.mu.Lock()
	cd.viewInterpolationTime = d
	cd.mu.Unlock()
	return nil
}

// BroadcastGlobalMessage records a message for every client as an event of
// the current tick. Simulation goroutine only.
func (s *Server) BroadcastGlobalMessage(channel core.MessageChannelCode, build func(w *binio.Writer)) {
	s.broadcast.Reset()
	build(s.broadcast)
	s.state.RecordEvent(channel, s.broadcast.Bytes())
}

func (s *Server) copyClients() []*ClientData {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	s.tempClients = s.tempClients[:0]
	for _, cd := range s.clients {
		s.tempClients = append(s.tempClients, cd)
	}
	return s.tempClients
}

// Step advances the simulation by dt seconds: client input is applied, the
// world is updated and committed, and every client receives a snapshot.
func (s *Server) Step(dt float64) {
	start := s.now()
	clients := s.copyClients()

	for _, cd := range clients {
		cd.uplink.FlushQueue(&clientUplink{s: s, cd: cd})
	}

	s.physics.Step(dt)
	s.level.Update(dt)
	s.state.Commit()
	s.realtime += dt
	s.runTasks()

	var step stepStats
	for _, cd := range clients {
		s.sendSnapshot(cd, &step)
	}
	clear(s.tempClients)

	s.recordStep(step, len(clients), s.now().Sub(start))
}

// Do schedules fn to run on the simulation goroutine during the next Step,
// after the tick is committed and before snapshots are sent. fn may use
// State and Level freely.
func (s *Server) Do(fn func()) {
	s.tasksMu.Lock()
	s.tasks = append(s.tasks, fn)
	s.tasksMu.Unlock()
}

func (s *Server) runTasks() {
	s.tasksMu.Lock()
	s.running, s.tasks = s.tasks, s.running[:0]
	s.tasksMu.Unlock()

	for i, fn := range s.running {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("scheduled task panicked", "panic", r)
				}
			}()
			fn()
		}()
		s.running[i] = nil
	}
}

type stepStats struct {
	snapshots, objects, events, fullSyncs, failures int
}

func (s *Server) sendSnapshot(cd *ClientData, step *stepStats) {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			cd.err = fmt.Errorf("snapshot panicked: %v", r)
			step.failures++
			s.logger.Error("client snapshot failed", "client", cd.id, "panic", r)
		}
	}()

	if cd.downlink == nil || cd.err != nil {
		return
	}

	tick := s.state.CurrentTick()
	req := state.SnapshotRequest{
		Tick:          tick,
		ReferenceTick: cd.lastAcknowledgedTick,
		EventsAfter:   cd.lastEventTickSent,
	}
	// a new client starts receiving events from its first snapshot's tick
	if req.EventsAfter == core.NoTick {
		req.EventsAfter = tick - 1
	}
	res, err := s.state.SendToClient(req, cd.downlink)
	if err != nil {
		cd.err = err
		step.failures++
		s.logger.Error("building snapshot", "client", cd.id, "tick", tick, "error", err)
		return
	}
	oob := cd.outbox.FlushQueue(cd.downlink)

	ref := req.ReferenceTick
	if res.Full {
		ref = core.NoTick
	}
	cd.downlink.ConfirmSnapshot(tick, s.realtime, uint32(res.DiscreteChangeCount()+oob), ref)
	cd.recordSent(tick, s.now())
	cd.lastEventTickSent = tick

	if f, ok := cd.downlink.(connector.Failer); ok {
		if err := f.Err(); err != nil {
			cd.err = err
			step.failures++
			s.logger.Warn("client downlink failed", "client", cd.id, "error", err)
			return
		}
	}

	step.snapshots++
	step.objects += res.ObjectCount
	step.events += res.EventCount + oob
	if res.Full {
		step.fullSyncs++
	}
}

// Run steps the simulation at the configured tick rate until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	period := s.cfg.TickDuration()
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.logger.Info("server running", "tickRate", s.cfg.TickRate, "level", s.level.Path())
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("server stopped", "tick", s.state.CurrentTick())
			return ctx.Err()
		case <-ticker.C:
			s.Step(period.Seconds())
		}
	}
}

// clientUplink applies one client's queued calls during Step.
type clientUplink struct {
	s  *Server
	cd *ClientData
}

func (u *clientUplink) AcknowledgeSnapshot(tick core.TickNumber) {
	cd := u.cd
	cd.mu.Lock()
	defer cd.mu.Unlock()

	if tick <= cd.lastAcknowledgedTick || tick > u.s.state.CurrentTick() {
		u.s.logger.Debug("ignoring acknowledgement", "client", cd.id, "tick", tick, "last", cd.lastAcknowledgedTick)
		return
	}
	cd.lastAcknowledgedTick = tick
	if at, ok := cd.sentAt(tick); ok {
		cd.lastMeasuredRoundTripTime = u.s.now().Sub(at)
	}
}

func (u *clientUplink) ActionTriggered(code core.ActionCode, st uint8) {
	if err := u.cd.input.InjectAction(code, input.ActionState(st)); err != nil {
		u.s.logger.Warn("dropping action", "client", u.cd.id, "code", code, "error", err)
	}
}

func (u *clientUplink) AnalogActionTriggered(code core.ActionCode, x, y float32) {
	if err := u.cd.input.InjectAnalogAction(code, x, y); err != nil {
		u.s.logger.Warn("dropping analog action", "client", u.cd.id, "code", code, "error", err)
	}
}
