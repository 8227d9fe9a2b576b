package server

import (
	"time"

	"github.com/cfoust/tether/pkg/input"
	"github.com/cfoust/tether/pkg/sim"
)

// Bots get ids far above anything the ingress hands out.
const BotIDBase uint64 = 1 << 48

// bot is a server-side player. Its intent goes through the same input
// channel and ingestion path as a remote client's.
type bot struct {
	session *Session
	patrol  *sim.Patrol
	input   *input.Channel
}

func (s *Server) addBot(index int) {
	id := BotIDBase + uint64(index)
	session := &Session{
		ID:       id,
		Attached: true,
		Bot:      true,
	}
	s.sessions[id] = session

	s.bots = append(s.bots, &bot{
		session: session,
		patrol:  sim.NewPatrol(int64(id)),
		input:   input.New(input.DefaultConfig()),
	})
}

func (s *Server) BotIDs() []uint64 {
	ids := make([]uint64, len(s.bots))
	for i, bot := range s.bots {
		ids[i] = bot.session.ID
	}
	return ids
}

func (s *Server) driveBots(now time.Time) {
	for _, bot := range s.bots {
		position, ok := s.positions[bot.session.ID]
		if !ok {
			position = s.options.Spawn
		}

		intent := bot.patrol.Intent(now, position)
		for _, action := range bot.input.Step(now, intent) {
			bot.session.LastSeen = now
			s.ingest(bot.session, action, now)
		}
	}
}
