// Package snapshot carries authoritative world state from the server to
// clients. The server side (Channel) emits a full snapshot every resync
// cadence and deltas in between; the client side (Replica) rebuilds the
// actor table from them.
package snapshot

import (
	"fmt"

	P "github.com/cfoust/tether/pkg/protocol"
)

type Stats struct {
	FullCount  uint64
	FullBytes  uint64
	DeltaCount uint64
	DeltaBytes uint64
	// Ticks on which nothing changed and no delta went out.
	Skipped uint64
}

// Output is one broadcast produced by the channel, already encoded.
type Output struct {
	Packet P.GamePacket
	Frame  []byte
	Full   bool
}

type Channel struct {
	cadence  uint64
	lastFull uint64
	sentFull bool
	stats    Stats
}

// NewChannel creates a channel that sends a full snapshot every cadence
// ticks. A cadence of 1 sends only full snapshots.
func NewChannel(cadence uint64) *Channel {
	if cadence == 0 {
		cadence = 1
	}
	return &Channel{cadence: cadence}
}

func (c *Channel) Cadence() uint64 {
	return c.cadence
}

// IsResync reports whether tick must carry a full snapshot.
func (c *Channel) IsResync(tick uint64) bool {
	return !c.sentFull || tick-c.lastFull >= c.cadence
}

// Produce builds the broadcast for one tick. actors is every live actor;
// changed and removed describe what happened since the previous tick. It
// returns false when the tick is a delta tick with nothing to report.
func (c *Channel) Produce(tick uint64, actors, changed []P.ActorState, removed []uint64) (Output, bool, error) {
	if c.IsResync(tick) {
		packet := P.WorldSnapshot{
			Tick:   tick,
			Actors: nonNil(actors),
		}
		frame, err := P.Encode(packet)
		if err != nil {
			return Output{}, false, fmt.Errorf("failed to encode full snapshot: %w", err)
		}

		c.sentFull = true
		c.lastFull = tick
		c.stats.FullCount++
		c.stats.FullBytes += uint64(len(frame))

		return Output{
			Packet: packet,
			Frame:  frame,
			Full:   true,
		}, true, nil
	}

	if len(changed) == 0 && len(removed) == 0 {
		c.stats.Skipped++
		return Output{}, false, nil
	}

	packet := P.WorldSnapshotDelta{
		Tick:    tick,
		Changed: nonNil(changed),
		Removed: nonNil(removed),
	}
	frame, err := P.Encode(packet)
	if err != nil {
		return Output{}, false, fmt.Errorf("failed to encode delta snapshot: %w", err)
	}

	c.stats.DeltaCount++
	c.stats.DeltaBytes += uint64(len(frame))

	return Output{
		Packet: packet,
		Frame:  frame,
	}, true, nil
}

// Lists on the wire have no nil form, so packets never carry one either.
func nonNil[T any](list []T) []T {
	if list == nil {
		return []T{}
	}
	return list
}

func (c *Channel) Stats() Stats {
	return c.stats
}
