// Package server runs the authoritative tick: it drains queued client input
// into the simulation, steps it, and queues snapshots for the transport.
// Everything in here runs on one goroutine; the transport only talks to it
// through the inbox and outbox.
package server

import (
	"context"
	"time"

	"github.com/cfoust/tether/pkg/chanlock"
	"github.com/cfoust/tether/pkg/geom"
	"github.com/cfoust/tether/pkg/metrics"
	P "github.com/cfoust/tether/pkg/protocol"
	"github.com/cfoust/tether/pkg/snapshot"

	fp "github.com/repeale/fp-go"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
)

type Options struct {
	TickInterval    time.Duration
	ResyncCadence   uint64
	PositionEpsilon float64
	VelocityEpsilon float64
	ResumeWindow    time.Duration
	InboxSize       int
	OutboxSize      int
	WatchdogTimeout time.Duration
	WelcomeMessage  string
	Spawn           geom.Vector
	Bots            int
}

func DefaultOptions() Options {
	return Options{
		TickInterval:    time.Second / 60,
		ResyncCadence:   30,
		PositionEpsilon: snapshot.DefaultPositionEpsilon,
		VelocityEpsilon: snapshot.DefaultVelocityEpsilon,
		ResumeWindow:    30 * time.Second,
		InboxSize:       1024,
		OutboxSize:      1024,
		WatchdogTimeout: chanlock.DEFAULT_TIMEOUT,
		Spawn:           geom.NewVector(-400, -240, 0),
	}
}

// Status is a point-in-time summary safe to read from any goroutine.
type Status struct {
	Tick      uint64
	Sessions  int
	Detached  int
	Actors    int
	Snapshots snapshot.Stats
}

type Server struct {
	options Options
	sim     Simulation
	metrics *metrics.Metrics
	mirror  Publisher

	inbox  chan Inbound
	outbox chan Outbound

	sessions   map[uint64]*Session
	// Provisional id -> resumed session, for traffic the transport tagged
	// before it saw the rebind.
	aliases    map[uint64]uint64
	bots       []*bot
	channel    *snapshot.Channel
	differ     *snapshot.Differ
	tick       uint64
	lastActors []P.ActorState
	positions  map[uint64]geom.Vector

	lock *chanlock.Chanlock

	statusMutex deadlock.Mutex
	status      Status
}

func New(options Options, simulation Simulation, m *metrics.Metrics) *Server {
	if m == nil {
		m = metrics.Nop()
	}

	differ := snapshot.NewDiffer()
	differ.PositionEpsilon = options.PositionEpsilon
	differ.VelocityEpsilon = options.VelocityEpsilon

	lock := chanlock.New(log.Logger, options.WatchdogTimeout)
	lock.OnStall = m.WatchdogStalls.Inc

	s := &Server{
		options:   options,
		sim:       simulation,
		metrics:   m,
		inbox:     make(chan Inbound, options.InboxSize),
		outbox:    make(chan Outbound, options.OutboxSize),
		sessions:  make(map[uint64]*Session),
		aliases:   make(map[uint64]uint64),
		channel:   snapshot.NewChannel(options.ResyncCadence),
		differ:    differ,
		positions: make(map[uint64]geom.Vector),
		lock:      lock,
	}

	for i := 0; i < options.Bots; i++ {
		s.addBot(i)
	}

	return s
}

// SetMirror publishes the actor table to p after every tick. It must be
// called before Run.
func (s *Server) SetMirror(p Publisher) {
	s.mirror = p
}

func (s *Server) Outbox() <-chan Outbound {
	return s.outbox
}

// Submit queues an action from a connection. It never blocks; when the
// inbox is full the action is dropped, which the protocol tolerates.
func (s *Server) Submit(session uint64, action P.PlayerAction) bool {
	select {
	case s.inbox <- Inbound{
		Kind:    InboundAction,
		Session: session,
		Action:  action,
	}:
		return true
	default:
		s.metrics.ObserveInput(metrics.InputDropped)
		return false
	}
}

func (s *Server) enqueue(ctx context.Context, event Inbound) error {
	select {
	case s.inbox <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Connect registers a new session. Lifecycle events are never dropped, so
// this waits for room in the inbox.
func (s *Server) Connect(ctx context.Context, session uint64) error {
	return s.enqueue(ctx, Inbound{
		Kind:    InboundConnect,
		Session: session,
	})
}

func (s *Server) Disconnect(ctx context.Context, session uint64, clean bool) error {
	return s.enqueue(ctx, Inbound{
		Kind:    InboundDisconnect,
		Session: session,
		Clean:   clean,
	})
}

func (s *Server) send(out Outbound) {
	select {
	case s.outbox <- out:
	default:
		s.metrics.OutboxDropped.Inc()
		log.Warn().Str("kind", out.Kind.String()).Msg("outbox full, dropping packet")
	}
}

func (s *Server) encode(packet P.GamePacket) ([]byte, bool) {
	frame, err := P.Encode(packet)
	if err != nil {
		log.Error().Err(err).Str("type", packet.Type().String()).Msg("failed to encode packet")
		return nil, false
	}
	return frame, true
}

func (s *Server) target(session uint64, packet P.GamePacket) {
	frame, ok := s.encode(packet)
	if !ok {
		return
	}
	s.send(Outbound{
		Kind:    OutboundTarget,
		Session: session,
		Frame:   frame,
		Packet:  packet,
	})
}

// drain handles what is already queued and nothing more.
func (s *Server) drain(now time.Time) {
	pending := len(s.inbox)
	for i := 0; i < pending; i++ {
		s.handle(<-s.inbox, now)
	}
}

// Tick runs one step of the simulation at now.
func (s *Server) Tick(now time.Time) {
	start := time.Now()

	s.lock.Mark("drain")
	s.drain(now)

	s.lock.Mark("bots")
	s.driveBots(now)

	s.expire(now)

	s.lock.Mark("step")
	s.sim.Step(s.options.TickInterval)
	s.tick++

	actors := s.sim.Actors()
	changed, removed := s.differ.Diff(actors)

	s.lock.Mark("snapshot")
	out, ok, err := s.channel.Produce(s.tick, actors, changed, removed)
	switch {
	case err != nil:
		log.Error().Err(err).Uint64("tick", s.tick).Msg("failed to produce snapshot")
	case ok:
		s.metrics.ObserveSnapshot(out.Full, len(out.Frame))
		s.send(Outbound{
			Kind:   OutboundBroadcast,
			Frame:  out.Frame,
			Packet: out.Packet,
		})
	default:
		s.metrics.SkippedDeltas.Inc()
	}

	if s.mirror != nil {
		s.mirror.Publish(s.tick, actors, removed)
	}

	s.lastActors = actors
	clear(s.positions)
	for _, actor := range actors {
		s.positions[actor.ID] = actor.Position
	}

	s.updateStatus()
	s.metrics.ObserveTick(start)
}

func (s *Server) updateStatus() {
	sessions := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		sessions = append(sessions, session)
	}
	detached := len(fp.Filter(func(session *Session) bool {
		return !session.Attached
	})(sessions))

	s.metrics.Sessions.Set(float64(len(sessions) - detached))
	s.metrics.Detached.Set(float64(detached))
	s.metrics.Actors.Set(float64(len(s.lastActors)))

	s.statusMutex.Lock()
	s.status = Status{
		Tick:      s.tick,
		Sessions:  len(sessions) - detached,
		Detached:  detached,
		Actors:    len(s.lastActors),
		Snapshots: s.channel.Stats(),
	}
	s.statusMutex.Unlock()
}

func (s *Server) Status() Status {
	s.statusMutex.Lock()
	defer s.statusMutex.Unlock()
	return s.status
}

// Session returns a copy of the session with id. Only call it from the tick
// goroutine or after Run has returned.
func (s *Server) Session(id uint64) (Session, bool) {
	session, ok := s.sessions[id]
	if !ok {
		return Session{}, false
	}
	return *session, true
}

// Run ticks at the configured rate until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	ticks := s.lock.Poll(ctx, s.options.TickInterval)
	log.Info().
		Dur("interval", s.options.TickInterval).
		Uint64("cadence", s.channel.Cadence()).
		Msg("tick loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case now := <-ticks:
			s.Tick(now)
		}
	}
}
