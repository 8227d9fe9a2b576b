// Package client connects to a tether server and keeps a predicted local
// actor and interpolated remote actors up to date.
//
// Socket I/O runs on its own goroutines. Everything that touches world
// state happens in Step, which the caller drives from its frame loop.
package client

import (
	"errors"
	"fmt"
	"time"

	"github.com/cfoust/tether/pkg/config"
	"github.com/cfoust/tether/pkg/input"
	"github.com/cfoust/tether/pkg/interp"
	"github.com/cfoust/tether/pkg/predict"
	"github.com/cfoust/tether/pkg/sim"
)

var (
	ErrHandshakeTimeout = errors.New("no welcome from server")
	ErrNotConnected     = errors.New("not connected")
	ErrAlreadyConnected = errors.New("already connected or connecting")
	ErrQueueFull        = errors.New("send queue full")
)

type Status uint8

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusConnected
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "Disconnected"
	case StatusConnecting:
		return "Connecting"
	case StatusConnected:
		return "Connected"
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Event is a lifecycle transition, or a message from the server.
type Event struct {
	Status  Status
	Session uint64
	// Why the client became Disconnected, if it was not asked to.
	Err     error
	Message string
}

type Options struct {
	URL               string
	ConnectTimeout    time.Duration
	HeartbeatInterval time.Duration
	QueueSize         int
	// Present the previous session id when reconnecting.
	Resume bool

	Input                 input.Config
	Predict               predict.Config
	Rules                 sim.Rules
	InterpolationDuration time.Duration
}

func DefaultOptions() Options {
	return Options{
		URL:                   "ws://localhost:8080/ws",
		ConnectTimeout:        5 * time.Second,
		HeartbeatInterval:     time.Second,
		QueueSize:             256,
		Resume:                true,
		Input:                 input.DefaultConfig(),
		Predict:               predict.DefaultConfig(),
		Rules:                 sim.DefaultRules(),
		InterpolationDuration: interp.DefaultDuration,
	}
}

// OptionsFrom builds client options from the client section of a config.
func OptionsFrom(settings config.ClientSettings) Options {
	options := DefaultOptions()
	options.URL = settings.URL
	options.ConnectTimeout = settings.ConnectTimeout.Std()
	options.HeartbeatInterval = settings.HeartbeatInterval.Std()
	options.QueueSize = settings.QueueSize
	options.Input = input.Config{
		Epsilon:          settings.InputEpsilon,
		ThrottleInterval: settings.InputThrottle.Std(),
	}
	options.Predict = predict.Config{
		CorrectionDeadzone: settings.CorrectionDeadzone,
		SnapThreshold:      settings.SnapThreshold,
		BlendRate:          settings.BlendRate,
	}
	options.InterpolationDuration = settings.InterpolationDuration.Std()
	return options
}
