package config

import (
	"fmt"
	"time"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as a string such as "100ms".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a scalar", node.Line)
	}

	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}

	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}

func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Description: "Go duration, e.g. 100ms or 30s",
	}
}

type RedisSettings struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Address  string `yaml:"address" json:"address"`
	Password string `yaml:"password" json:"password,omitempty"`
	DB       int    `yaml:"db" json:"db"`

	// Actor states are stored under <keyPrefix><id>:state.
	KeyPrefix string `yaml:"keyPrefix" json:"keyPrefix"`

	QueueSize    int      `yaml:"queueSize" json:"queueSize"`
	MaxRetries   int      `yaml:"maxRetries" json:"maxRetries"`
	RetryBackoff Duration `yaml:"retryBackoff" json:"retryBackoff"`
}

type ServerSettings struct {
	Address string `yaml:"address" json:"address" jsonschema:"description=Address the HTTP server listens on"`

	TickRate        int      `yaml:"tickRate" json:"tickRate" jsonschema:"minimum=1,description=Simulation steps per second"`
	ResyncCadence   uint64   `yaml:"resyncCadence" json:"resyncCadence" jsonschema:"minimum=1,description=Ticks between full snapshots"`
	PositionEpsilon float64  `yaml:"positionEpsilon" json:"positionEpsilon"`
	VelocityEpsilon float64  `yaml:"velocityEpsilon" json:"velocityEpsilon"`
	ResumeWindow    Duration `yaml:"resumeWindow" json:"resumeWindow"`

	// Inbound actions per second per connection, with a burst allowance.
	InputRate  float64 `yaml:"inputRate" json:"inputRate"`
	InputBurst int     `yaml:"inputBurst" json:"inputBurst"`

	InboxSize       int      `yaml:"inboxSize" json:"inboxSize"`
	OutboxSize      int      `yaml:"outboxSize" json:"outboxSize"`
	SendQueueSize   int      `yaml:"sendQueueSize" json:"sendQueueSize"`
	WriteTimeout    Duration `yaml:"writeTimeout" json:"writeTimeout"`
	WatchdogTimeout Duration `yaml:"watchdogTimeout" json:"watchdogTimeout"`

	Bots           int           `yaml:"bots" json:"bots"`
	WelcomeMessage string        `yaml:"welcomeMessage" json:"welcomeMessage"`
	LogDirectory   string        `yaml:"logDirectory" json:"logDirectory,omitempty"`
	LedgerPath     string        `yaml:"ledgerPath" json:"ledgerPath,omitempty"`
	Redis          RedisSettings `yaml:"redis" json:"redis"`
}

// TickInterval is the simulated time between ticks.
func (s ServerSettings) TickInterval() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

type ClientSettings struct {
	URL                   string   `yaml:"url" json:"url"`
	ConnectTimeout        Duration `yaml:"connectTimeout" json:"connectTimeout"`
	HeartbeatInterval     Duration `yaml:"heartbeatInterval" json:"heartbeatInterval"`
	FrameRate             int      `yaml:"frameRate" json:"frameRate" jsonschema:"minimum=1"`
	InputEpsilon          float64  `yaml:"inputEpsilon" json:"inputEpsilon"`
	InputThrottle         Duration `yaml:"inputThrottle" json:"inputThrottle"`
	CorrectionDeadzone    float64  `yaml:"correctionDeadzone" json:"correctionDeadzone"`
	SnapThreshold         float64  `yaml:"snapThreshold" json:"snapThreshold"`
	BlendRate             float64  `yaml:"blendRate" json:"blendRate"`
	InterpolationDuration Duration `yaml:"interpolationDuration" json:"interpolationDuration"`
	ReconnectBackoff      Duration `yaml:"reconnectBackoff" json:"reconnectBackoff"`
	QueueSize             int      `yaml:"queueSize" json:"queueSize"`
}

func (c ClientSettings) FrameInterval() time.Duration {
	return time.Second / time.Duration(c.FrameRate)
}

type Config struct {
	Server ServerSettings `yaml:"server" json:"server"`
	Client ClientSettings `yaml:"client" json:"client"`
}
