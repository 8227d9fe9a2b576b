package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/invopop/jsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var DEFAULT []byte

func decode(data []byte, config *Config) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	err := decoder.Decode(config)
	if errors.Is(err, io.EOF) {
		// Empty file, nothing to overlay.
		return nil
	}
	return err
}

func readFile(path string, config *Config) error {
	extension := filepath.Ext(path)
	switch extension {
	// JSON is a subset of YAML, so both go through the same decoder.
	case ".json", ".yaml", ".yml":
	default:
		return fmt.Errorf("not in a valid format")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return decode(data, config)
}

func Default() (*Config, error) {
	config := Config{}
	if err := decode(DEFAULT, &config); err != nil {
		return nil, fmt.Errorf("invalid default config file: %w", err)
	}
	return &config, nil
}

// Process starts from the default configuration and overlays the provided
// files in order. Fields a file does not mention keep their previous value.
func Process(configPaths []string) (*Config, error) {
	config, err := Default()
	if err != nil {
		return nil, err
	}

	for _, path := range configPaths {
		err := readFile(path, config)
		if err != nil {
			return nil, fmt.Errorf(
				"could not process config file %s: %w",
				path,
				err,
			)
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config is not valid: %w", err)
	}

	return config, nil
}

func (c *Config) Validate() error {
	server := c.Server
	if server.TickRate <= 0 {
		return fmt.Errorf("server.tickRate must be positive")
	}
	if server.ResyncCadence < 1 {
		return fmt.Errorf("server.resyncCadence must be at least 1")
	}
	if server.PositionEpsilon < 0 || server.VelocityEpsilon < 0 {
		return fmt.Errorf("server epsilons must not be negative")
	}
	if server.InboxSize <= 0 || server.OutboxSize <= 0 || server.SendQueueSize <= 0 {
		return fmt.Errorf("server queue sizes must be positive")
	}
	if server.InputRate <= 0 || server.InputBurst <= 0 {
		return fmt.Errorf("server.inputRate and server.inputBurst must be positive")
	}
	if server.Bots < 0 {
		return fmt.Errorf("server.bots must not be negative")
	}
	if server.Redis.Enabled && server.Redis.QueueSize <= 0 {
		return fmt.Errorf("server.redis.queueSize must be positive")
	}

	client := c.Client
	if client.FrameRate <= 0 {
		return fmt.Errorf("client.frameRate must be positive")
	}
	if client.CorrectionDeadzone < 0 {
		return fmt.Errorf("client.correctionDeadzone must not be negative")
	}
	if client.CorrectionDeadzone >= client.SnapThreshold {
		return fmt.Errorf(
			"client.correctionDeadzone (%g) must be below client.snapThreshold (%g)",
			client.CorrectionDeadzone,
			client.SnapThreshold,
		)
	}
	if client.BlendRate <= 0 || client.BlendRate > 1 {
		return fmt.Errorf("client.blendRate must be in (0, 1]")
	}
	if client.QueueSize <= 0 {
		return fmt.Errorf("client.queueSize must be positive")
	}

	return nil
}

// Schema describes the configuration file format.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		RequiredFromJSONSchemaTags: true,
	}
	schema := reflector.Reflect(new(Config))
	schema.Title = "tether configuration"
	schema.Description = "Server and client settings, overlaid on the defaults"
	return schema
}
