package ingress

import (
	"context"
	"net/http"
	"time"

	P "github.com/cfoust/tether/pkg/protocol"
	S "github.com/cfoust/tether/pkg/server"

	"github.com/fxamacker/cbor/v2"
	"github.com/rs/zerolog/log"
)

func (server *WSIngress) Broadcast(frame []byte) {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	for _, client := range server.clients {
		// Nothing goes out ahead of the handshake.
		if !client.welcomed.Load() {
			continue
		}
		client.queue(frame)
	}
}

func (server *WSIngress) SendTo(session uint64, frame []byte, packet P.GamePacket) bool {
	server.mutex.Lock()
	client, ok := server.clients[session]
	server.mutex.Unlock()

	if !ok {
		return false
	}

	if _, isWelcome := packet.(P.Welcome); isWelcome {
		client.welcomed.Store(true)
	}
	return client.queue(frame)
}

// Rebind moves the connection registered under from to session to.
func (server *WSIngress) Rebind(from uint64, to uint64) bool {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	client, ok := server.clients[from]
	if !ok {
		return false
	}

	delete(server.clients, from)
	client.id.Store(to)
	server.clients[to] = client
	return true
}

// Dispatch delivers the server's outbox until ctx is done.
func (server *WSIngress) Dispatch(ctx context.Context, outbox <-chan S.Outbound) {
	for {
		select {
		case <-ctx.Done():
			return
		case out := <-outbox:
			server.dispatch(out)
		}
	}
}

func (server *WSIngress) dispatch(out S.Outbound) {
	now := time.Now()

	switch out.Kind {
	case S.OutboundBroadcast:
		server.Broadcast(out.Frame)
	case S.OutboundTarget:
		if !server.SendTo(out.Session, out.Frame, out.Packet) {
			log.Debug().Uint64("session", out.Session).Msg("no connection for targeted packet")
		}
	case S.OutboundRebind:
		if !server.Rebind(out.From, out.To) {
			log.Warn().
				Uint64("from", out.From).
				Uint64("to", out.To).
				Msg("connection vanished before rebind")
		}
		go server.record("resume", func() error {
			return server.ledger.Resumed(out.To, out.From, now)
		})
	case S.OutboundRefused:
		go server.record("refused", func() error {
			return server.ledger.Refused(out.To, out.From, now)
		})
	case S.OutboundExpired:
		go server.record("expire", func() error {
			return server.ledger.Expired(out.Session, now)
		})
	}
}

type StatusMessage struct {
	Tick        uint64 `cbor:"tick"`
	Sessions    int    `cbor:"sessions"`
	Detached    int    `cbor:"detached"`
	Actors      int    `cbor:"actors"`
	Connections int    `cbor:"connections"`
	FullCount   uint64 `cbor:"fullCount"`
	FullBytes   uint64 `cbor:"fullBytes"`
	DeltaCount  uint64 `cbor:"deltaCount"`
	DeltaBytes  uint64 `cbor:"deltaBytes"`
}

// StatusHandler serves a CBOR summary of the server.
func (server *WSIngress) StatusHandler(status func() S.Status) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		current := status()
		bytes, err := cbor.Marshal(StatusMessage{
			Tick:        current.Tick,
			Sessions:    current.Sessions,
			Detached:    current.Detached,
			Actors:      current.Actors,
			Connections: server.NumClients(),
			FullCount:   current.Snapshots.FullCount,
			FullBytes:   current.Snapshots.FullBytes,
			DeltaCount:  current.Snapshots.DeltaCount,
			DeltaBytes:  current.Snapshots.DeltaBytes,
		})
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/cbor")
		w.Write(bytes)
	}
}
