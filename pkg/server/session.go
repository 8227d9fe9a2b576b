package server

import (
	"fmt"
	"time"

	"github.com/cfoust/tether/pkg/metrics"
	P "github.com/cfoust/tether/pkg/protocol"

	"github.com/rs/zerolog/log"
)

// Session is one logical player. It outlives the connection that created it
// for as long as the resume window allows.
type Session struct {
	ID       uint64
	Attached bool
	LastSeen time.Time
	Bot      bool

	// Highest sequence accepted from either input stream.
	highest     P.Sequence
	hasSequence bool
}

// accept reports whether sequence is newer than anything seen so far and
// records it if so.
func (s *Session) accept(sequence P.Sequence) bool {
	if s.hasSequence && !sequence.After(s.highest) {
		return false
	}
	s.highest = sequence
	s.hasSequence = true
	return true
}

func (s *Session) Highest() (P.Sequence, bool) {
	return s.highest, s.hasSequence
}

// resolve maps the provisional id of a resumed connection to the session
// it now carries.
func (s *Server) resolve(id uint64) uint64 {
	if to, ok := s.aliases[id]; ok {
		return to
	}
	return id
}

// forget drops aliases that point at id once its connection is gone.
func (s *Server) forget(id uint64) {
	for from, to := range s.aliases {
		if to == id {
			delete(s.aliases, from)
		}
	}
}

func (s *Server) handle(event Inbound, now time.Time) {
	switch event.Kind {
	case InboundConnect:
		s.connect(event.Session, now)
	case InboundDisconnect:
		s.disconnect(s.resolve(event.Session), event.Clean, now)
	case InboundAction:
		session, ok := s.sessions[s.resolve(event.Session)]
		if !ok || !session.Attached {
			// Stale traffic from a connection that was rebound or closed.
			return
		}
		session.LastSeen = now
		s.ingest(session, event.Action, now)
	}
}

func (s *Server) connect(id uint64, now time.Time) {
	if _, ok := s.sessions[id]; ok {
		log.Warn().Uint64("session", id).Msg("session connected twice")
		return
	}

	s.sessions[id] = &Session{
		ID:       id,
		Attached: true,
		LastSeen: now,
	}

	log.Info().Uint64("session", id).Msg("session connected")
	s.welcome(id)
}

// welcome sends the handshake followed by the current world, so a new
// connection does not have to wait for the next resync.
func (s *Server) welcome(id uint64) {
	s.target(id, P.Welcome{
		ID:      id,
		Message: s.options.WelcomeMessage,
	})

	if s.tick > 0 {
		s.target(id, P.WorldSnapshot{
			Tick:   s.tick,
			Actors: s.lastActors,
		})
	}
}

func (s *Server) disconnect(id uint64, clean bool, now time.Time) {
	session, ok := s.sessions[id]
	if !ok {
		return
	}

	s.forget(id)
	logger := log.With().Uint64("session", id).Logger()

	if clean {
		s.sim.Despawn(id)
		delete(s.sessions, id)
		logger.Info().Msg("session left")
		return
	}

	session.Attached = false
	session.LastSeen = now
	s.sim.SetAxis(id, 0, 0)
	logger.Info().Msg("session detached")
}

// expire ends detached sessions whose resume window has run out.
func (s *Server) expire(now time.Time) {
	for id, session := range s.sessions {
		if session.Attached || now.Sub(session.LastSeen) <= s.options.ResumeWindow {
			continue
		}

		s.sim.Despawn(id)
		delete(s.sessions, id)
		s.forget(id)
		s.send(Outbound{
			Kind:    OutboundExpired,
			Session: id,
		})
		log.Info().Uint64("session", id).Msg("session expired")
	}
}

func (s *Server) ingest(session *Session, action P.PlayerAction, now time.Time) {
	switch action := action.(type) {
	case P.Ping:
		s.target(session.ID, P.Pong{ID: action.ID})
	case P.ResumeSession:
		s.resume(session, action.PreviousID, now)
	case P.InputState:
		if !session.accept(action.Sequence) {
			s.metrics.ObserveInput(metrics.InputStale)
			return
		}
		s.metrics.ObserveInput(metrics.InputAccepted)
		s.ensureActor(session.ID)
		s.sim.SetAxis(session.ID, action.X, action.Y)
	case P.InputEvent:
		if !session.accept(action.Sequence) {
			s.metrics.ObserveInput(metrics.InputStale)
			return
		}
		s.metrics.ObserveInput(metrics.InputAccepted)
		s.ensureActor(session.ID)
		s.sim.Trigger(session.ID, action.Kind)
	}
}

func (s *Server) ensureActor(id uint64) {
	if s.sim.Exists(id) {
		return
	}
	s.sim.Spawn(id, s.options.Spawn)
}

func (s *Server) refuse(session *Session, previous uint64, reason string) {
	s.metrics.Resumes.WithLabelValues("refused").Inc()
	log.Info().
		Uint64("session", session.ID).
		Uint64("previous", previous).
		Str("reason", reason).
		Msg("refused resume")

	s.target(session.ID, P.ServerMessage{
		Text: fmt.Sprintf("could not resume session %d: %s", previous, reason),
	})
	s.send(Outbound{
		Kind: OutboundRefused,
		From: session.ID,
		To:   previous,
	})
}

// resume moves the connection behind current onto the previous session and
// its actor. The provisional session is discarded.
func (s *Server) resume(current *Session, previousID uint64, now time.Time) {
	previous, ok := s.sessions[previousID]
	switch {
	case previousID == current.ID:
		return
	case !ok || previous.Bot:
		s.refuse(current, previousID, "unknown session")
		return
	case previous.Attached:
		s.refuse(current, previousID, "session is still connected")
		return
	case now.Sub(previous.LastSeen) > s.options.ResumeWindow:
		s.refuse(current, previousID, "session expired")
		return
	}

	s.sim.Despawn(current.ID)
	delete(s.sessions, current.ID)

	// Frames already in flight from this connection still carry its
	// provisional id.
	for from, to := range s.aliases {
		if to == current.ID {
			s.aliases[from] = previousID
		}
	}
	s.aliases[current.ID] = previousID

	previous.Attached = true
	previous.LastSeen = now
	// The client starts counting again on a new connection.
	previous.hasSequence = false

	s.metrics.Resumes.WithLabelValues("honored").Inc()
	log.Info().
		Uint64("session", previousID).
		Uint64("provisional", current.ID).
		Msg("session resumed")

	s.send(Outbound{
		Kind: OutboundRebind,
		From: current.ID,
		To:   previousID,
	})
	s.welcome(previousID)
}
