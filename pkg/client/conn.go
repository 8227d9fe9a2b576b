package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	P "github.com/cfoust/tether/pkg/protocol"
	"github.com/cfoust/tether/pkg/utils"

	"github.com/rs/zerolog/log"
	"github.com/sasha-s/go-deadlock"
	"golang.org/x/time/rate"
	"nhooyr.io/websocket"
)

type connection struct {
	ws       *websocket.Conn
	send     chan []byte
	lifetime *utils.Lifetime
	// Set when we closed the connection ourselves.
	closing atomic.Bool
}

type Client struct {
	options Options
	events  *utils.Topic[Event]

	mutex   deadlock.Mutex
	status  Status
	session uint64
	conn    *connection

	// Packets for the frame loop.
	inbound chan P.GamePacket
	dropped atomic.Uint64

	pingID   atomic.Uint64
	pingSent atomic.Int64
	rtt      atomic.Int64

	frame frameState
}

func New(options Options) *Client {
	return &Client{
		options: options,
		events:  utils.NewTopic[Event](),
		inbound: make(chan P.GamePacket, options.QueueSize),
		frame:   newFrameState(options),
	}
}

// Subscribe delivers lifecycle events. Call Done on the subscriber when
// finished with it.
func (c *Client) Subscribe() *utils.Subscriber[Event] {
	return c.events.Subscribe(16)
}

func (c *Client) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status
}

// Session is the id from the most recent Welcome.
func (c *Client) Session() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.session
}

// RTT is the round trip time measured by the last heartbeat.
func (c *Client) RTT() time.Duration {
	return time.Duration(c.rtt.Load())
}

// Dropped counts inbound packets the frame loop was too slow to take.
func (c *Client) Dropped() uint64 {
	return c.dropped.Load()
}

func (c *Client) setStatus(status Status, err error) {
	c.mutex.Lock()
	c.status = status
	session := c.session
	c.mutex.Unlock()

	c.events.Publish(Event{
		Status:  status,
		Session: session,
		Err:     err,
	})
}

func (c *Client) fail(err error) error {
	c.setStatus(StatusDisconnected, err)
	return err
}

// Connect dials the server and waits for its Welcome. If the client was
// connected before, it asks the server to resume that session.
func (c *Client) Connect(ctx context.Context) error {
	c.mutex.Lock()
	if c.status != StatusDisconnected {
		c.mutex.Unlock()
		return ErrAlreadyConnected
	}
	c.status = StatusConnecting
	previous := c.session
	c.mutex.Unlock()
	c.events.Publish(Event{Status: StatusConnecting, Session: previous})

	dialCtx, cancel := context.WithTimeout(ctx, c.options.ConnectTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dialCtx, c.options.URL, nil)
	if err != nil {
		return c.fail(fmt.Errorf("failed to dial %s: %w", c.options.URL, err))
	}

	welcome, err := c.handshake(dialCtx, ws)
	if err != nil {
		ws.Close(websocket.StatusProtocolError, "handshake failed")
		return c.fail(err)
	}

	conn := &connection{
		ws:       ws,
		send:     make(chan []byte, c.options.QueueSize),
		lifetime: utils.NewLifetime(context.Background()),
	}

	c.mutex.Lock()
	c.conn = conn
	c.session = welcome.ID
	c.status = StatusConnected
	c.mutex.Unlock()

	// Anything still queued belongs to the previous connection.
	for len(c.inbound) > 0 {
		select {
		case <-c.inbound:
		default:
		}
	}
	c.deliver(ctx, welcome)
	c.events.Publish(Event{Status: StatusConnected, Session: welcome.ID, Message: welcome.Message})
	log.Info().Uint64("session", welcome.ID).Msg("connected")

	// Queued ahead of anything the loops below might send.
	if previous != 0 && previous != welcome.ID && c.options.Resume {
		if err := c.Send(P.ResumeSession{PreviousID: previous}); err != nil {
			log.Warn().Err(err).Msg("could not request resume")
		}
	}

	conn.lifetime.Go(func(ctx context.Context) { c.readLoop(ctx, conn) })
	conn.lifetime.Go(func(ctx context.Context) { c.writeLoop(ctx, conn) })
	if c.options.HeartbeatInterval > 0 {
		conn.lifetime.Go(func(ctx context.Context) { c.heartbeat(ctx) })
	}
	go c.watch(conn)

	return nil
}

// handshake waits for the Welcome. Anything that arrives before it is
// discarded.
func (c *Client) handshake(ctx context.Context, ws *websocket.Conn) (P.Welcome, error) {
	for {
		_, frame, err := ws.Read(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return P.Welcome{}, ErrHandshakeTimeout
			}
			return P.Welcome{}, fmt.Errorf("handshake: %w", err)
		}

		packet, err := P.DecodeGamePacket(frame)
		if err != nil {
			log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}

		if welcome, ok := packet.(P.Welcome); ok {
			return welcome, nil
		}
	}
}

// watch turns the end of a connection into a lifecycle transition.
func (c *Client) watch(conn *connection) {
	conn.lifetime.Wait()

	c.mutex.Lock()
	if c.conn != conn {
		c.mutex.Unlock()
		return
	}
	c.conn = nil
	// After a clean close there is nothing left to resume.
	if conn.closing.Load() {
		c.session = 0
	}
	c.mutex.Unlock()

	var err error
	if !conn.closing.Load() {
		err = fmt.Errorf("connection lost")
	}
	c.setStatus(StatusDisconnected, err)
}

// deliver hands a packet to the frame loop. Snapshots are dropped when the
// frame loop falls behind; the next full snapshot repairs that.
func (c *Client) deliver(ctx context.Context, packet P.GamePacket) {
	switch packet.(type) {
	case P.Welcome, P.ServerMessage:
		select {
		case c.inbound <- packet:
		case <-ctx.Done():
		}
		return
	}

	select {
	case c.inbound <- packet:
	default:
		c.dropped.Add(1)
	}
}

func (c *Client) readLoop(ctx context.Context, conn *connection) {
	for {
		typ, frame, err := conn.ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && !conn.closing.Load() {
				log.Warn().Err(err).Msg("transport error")
			}
			return
		}

		if typ != websocket.MessageBinary {
			continue
		}

		packet, err := P.DecodeGamePacket(frame)
		if err != nil {
			log.Debug().Err(err).Msg("dropping undecodable frame")
			continue
		}

		switch packet := packet.(type) {
		case P.Pong:
			if packet.ID == c.pingID.Load() {
				sent := time.Unix(0, c.pingSent.Load())
				c.rtt.Store(int64(time.Since(sent)))
			}
			continue
		case P.Welcome:
			// A resumed session comes with a second welcome.
			c.mutex.Lock()
			c.session = packet.ID
			c.mutex.Unlock()
			c.events.Publish(Event{Status: StatusConnected, Session: packet.ID})
			log.Info().Uint64("session", packet.ID).Msg("session resumed")
		case P.ServerMessage:
			c.events.Publish(Event{Status: StatusConnected, Session: c.Session(), Message: packet.Text})
		}

		c.deliver(ctx, packet)
	}
}

func (c *Client) writeLoop(ctx context.Context, conn *connection) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-conn.send:
			if err := conn.ws.Write(ctx, websocket.MessageBinary, frame); err != nil {
				if !conn.closing.Load() {
					log.Warn().Err(err).Msg("transport error")
				}
				return
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	limiter := rate.NewLimiter(rate.Every(c.options.HeartbeatInterval), 1)
	for {
		if err := limiter.Wait(ctx); err != nil {
			return
		}

		id := c.pingID.Add(1)
		c.pingSent.Store(time.Now().UnixNano())
		if err := c.Send(P.Ping{ID: id}); err != nil {
			log.Debug().Err(err).Msg("skipped heartbeat")
		}
	}
}

// Send queues an action for the server without blocking.
func (c *Client) Send(action P.PlayerAction) error {
	c.mutex.Lock()
	conn := c.conn
	status := c.status
	c.mutex.Unlock()

	if conn == nil || status != StatusConnected {
		return ErrNotConnected
	}

	frame, err := P.Encode(action)
	if err != nil {
		return err
	}

	select {
	case conn.send <- frame:
		return nil
	default:
		return ErrQueueFull
	}
}

// Close ends the session on purpose; the server will not keep it around
// for resuming.
func (c *Client) Close() error {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	if !conn.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := conn.ws.Close(websocket.StatusNormalClosure, "")
	conn.lifetime.Cancel()
	if closedByPeer(err) {
		return nil
	}
	return err
}

// closedByPeer reports whether err only says that the read loop or the
// server finished the close handshake before Close could.
func closedByPeer(err error) bool {
	switch {
	case err == nil:
		return true
	case errors.Is(err, io.EOF), errors.Is(err, net.ErrClosed):
		return true
	}
	status := websocket.CloseStatus(err)
	return status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway
}

// Drop abandons the connection without a close handshake, as a network
// failure would. The session stays resumable.
func (c *Client) Drop() {
	c.mutex.Lock()
	conn := c.conn
	c.mutex.Unlock()

	if conn == nil {
		return
	}
	conn.ws.Close(websocket.StatusInternalError, "dropped")
	conn.lifetime.Cancel()
}
