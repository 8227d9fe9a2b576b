package ingress

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/cfoust/tether/pkg/metrics"
	P "github.com/cfoust/tether/pkg/protocol"
	"github.com/cfoust/tether/pkg/utils"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

type Options struct {
	SendQueueSize int
	WriteTimeout  time.Duration
	// Continuous input samples per second per connection. Discrete
	// actions are never limited.
	InputRate  rate.Limit
	InputBurst int
}

func DefaultOptions() Options {
	return Options{
		SendQueueSize: 64,
		WriteTimeout:  5 * time.Second,
		InputRate:     120,
		InputBurst:    60,
	}
}

type WSClient struct {
	id         atomic.Uint64
	welcomed   atomic.Bool
	host       string
	deviceType string
	send       chan []byte
	closeSlow  func()
	limiter    *rate.Limiter
	// At most one rate warning per second for this client.
	limitLog   zerolog.Logger
	lifetime   *utils.Lifetime
}

func limitLogger() zerolog.Logger {
	return log.Sample(&zerolog.BurstSampler{
		Burst:  1,
		Period: time.Second,
	})
}

func (c *WSClient) ID() uint64 {
	return c.id.Load()
}

func (c *WSClient) Host() string {
	return c.host
}

func (c *WSClient) DeviceType() string {
	return c.deviceType
}

// queue hands frame to the writer without blocking. A client that cannot
// keep up is disconnected.
func (c *WSClient) queue(frame []byte) bool {
	select {
	case c.send <- frame:
		return true
	default:
		go c.closeSlow()
		return false
	}
}

type WSIngress struct {
	options Options
	sink    Sink
	ledger  Ledger
	ids     *IDAllocator
	metrics *metrics.Metrics

	// Registry of live connections by session id. Only the transport side
	// touches it.
	clients map[uint64]*WSClient
	mutex   deadlock.Mutex
}

func NewWSIngress(options Options, sink Sink, ids *IDAllocator, m *metrics.Metrics) *WSIngress {
	if m == nil {
		m = metrics.Nop()
	}
	return &WSIngress{
		options: options,
		sink:    sink,
		ids:     ids,
		metrics: m,
		clients: make(map[uint64]*WSClient),
	}
}

// SetLedger records session history in ledger. It must be called before
// the ingress starts serving.
func (server *WSIngress) SetLedger(ledger Ledger) {
	server.ledger = ledger
}

func WriteTimeout(ctx context.Context, timeout time.Duration, c *websocket.Conn, msg []byte) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Write(ctx, websocket.MessageBinary, msg)
}

func (server *WSIngress) AddClient(client *WSClient) {
	server.mutex.Lock()
	server.clients[client.ID()] = client
	server.mutex.Unlock()
}

func (server *WSIngress) RemoveClient(client *WSClient) uint64 {
	server.mutex.Lock()
	defer server.mutex.Unlock()

	id := client.ID()
	if server.clients[id] == client {
		delete(server.clients, id)
	}
	return id
}

func (server *WSIngress) NumClients() int {
	server.mutex.Lock()
	defer server.mutex.Unlock()
	return len(server.clients)
}

func (server *WSIngress) record(what string, fn func() error) {
	if server.ledger == nil {
		return
	}
	if err := fn(); err != nil {
		log.Warn().Err(err).Str("event", what).Msg("failed to record session event")
	}
}

func (server *WSIngress) read(ctx context.Context, c *websocket.Conn, client *WSClient) error {
	for {
		typ, frame, err := c.Read(ctx)
		if err != nil {
			return err
		}

		if typ != websocket.MessageBinary {
			continue
		}

		action, err := P.DecodePlayerAction(frame)
		if err != nil {
			server.metrics.DecodeErrors.Inc()
			log.Debug().Err(err).Uint64("session", client.ID()).Msg("dropping undecodable frame")
			continue
		}

		if !server.admit(client, action) {
			continue
		}

		server.sink.Submit(client.ID(), action)
	}
}

// admit applies the rate limit to continuous input. Jumps, pings and
// resume requests always pass: a later sample does not replace them.
func (server *WSIngress) admit(client *WSClient, action P.PlayerAction) bool {
	if _, ok := action.(P.InputState); !ok {
		return true
	}
	if client.limiter.Allow() {
		return true
	}

	server.metrics.ObserveInput(metrics.InputLimited)
	client.limitLog.Warn().Uint64("session", client.ID()).Msg("client exceeded input rate")
	return false
}

func (server *WSIngress) HandleClient(ctx context.Context, c *websocket.Conn, client *WSClient) error {
	server.AddClient(client)

	logger := log.With().
		Uint64("session", client.ID()).
		Str("host", client.host).
		Str("device", client.deviceType).
		Logger()
	logger.Info().Msg("client joined")

	server.record("connect", func() error {
		return server.ledger.Connected(client.ID(), client.deviceType, time.Now())
	})

	if err := server.sink.Connect(ctx, client.ID()); err != nil {
		server.RemoveClient(client)
		return err
	}

	readDone := make(chan error, 1)
	client.lifetime.Go(func(ctx context.Context) {
		readDone <- server.read(ctx, c, client)
	})

	for {
		select {
		case frame := <-client.send:
			err := WriteTimeout(ctx, server.options.WriteTimeout, c, frame)
			if err != nil {
				logger.Warn().Err(err).Msg("client missed write timeout; disconnecting")
				return err
			}
		case err := <-readDone:
			return err
		case <-ctx.Done():
			select {
			case err := <-readDone:
				return err
			default:
				return ctx.Err()
			}
		}
	}
}

func clean(err error) bool {
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}

func (server *WSIngress) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})

	if err != nil {
		log.Error().Err(err).Msg("error accepting client connection")
		return
	}

	defer c.Close(websocket.StatusInternalError, "operational fault during relay")

	// We use nginx for ingress everywhere, so check this first
	hostname := r.RemoteAddr
	original, ok := r.Header["X-Forwarded-For"]
	if ok {
		hostname = original[0]
	}

	lifetime := utils.NewLifetime(r.Context())
	defer lifetime.Cancel()

	client := &WSClient{
		host:       hostname,
		deviceType: DeviceType(r.UserAgent()),
		send:       make(chan []byte, server.options.SendQueueSize),
		limiter:    rate.NewLimiter(server.options.InputRate, server.options.InputBurst),
		limitLog:   limitLogger(),
		lifetime:   lifetime,
	}
	client.id.Store(server.ids.Next())
	client.closeSlow = func() {
		server.metrics.SlowClients.Inc()
		c.Close(websocket.StatusPolicyViolation, "connection too slow to keep up with messages")
	}

	err = server.HandleClient(lifetime.Ctx(), c, client)
	lifetime.Cancel()
	lifetime.Wait()

	id := server.RemoveClient(client)
	isClean := clean(err)

	// The request context is gone by now.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := server.sink.Disconnect(ctx, id, isClean); err != nil {
		log.Error().Err(err).Uint64("session", id).Msg("could not report disconnect")
	}

	server.record("disconnect", func() error {
		return server.ledger.Disconnected(id, time.Now())
	})

	switch {
	case isClean, errors.Is(err, context.Canceled):
		log.Info().Uint64("session", id).Msg("client left")
	default:
		log.Info().Err(err).Uint64("session", id).Msg("client lost")
	}
}
