package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/cfoust/tether/pkg/config"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Set with -ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
)

var CLI struct {
	Version bool `help:"Print version information and exit." short:"v"`
	Debug   bool `help:"Whether to enable debug logging."`

	Serve struct {
		Configs []string `arg:"" optional:"" name:"configs" help:"Configuration files for the server." type:"file"`
	} `cmd:"" help:"Start the tether server."`

	Config struct {
	} `cmd:"" help:"Write tether's default configuration to standard output."`

	Schema struct {
	} `cmd:"" help:"Write the JSON schema for configuration files to standard output."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

// setupLogging sends logs to the console and, if directory is set, to a
// rotating file inside it.
func setupLogging(directory string) (io.Closer, error) {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	if directory == "" {
		log.Logger = log.Output(consoleWriter)
		return nil, nil
	}

	err := os.MkdirAll(directory, 0755)
	if err != nil {
		return nil, fmt.Errorf("failed to make log dir: %w", err)
	}

	file := &lumberjack.Logger{
		Filename:   filepath.Join(directory, "tether.log"),
		MaxSize:    10, // MB
		MaxBackups: 3,
		MaxAge:     7, // days
	}
	log.Logger = log.Output(zerolog.MultiLevelWriter(consoleWriter, file))
	return file, nil
}

func setLevel() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("debug logging enabled")
	}
}

func main() {
	setupLogging("")
	setLevel()

	if len(os.Args) == 1 {
		err := serve([]string{})
		if err != nil {
			writeError(err)
		}
		return
	}

	ctx := kong.Parse(&CLI,
		kong.Name("tether"),
		kong.Description("an authoritative real-time multiplayer server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	setLevel()

	if CLI.Version {
		fmt.Printf("tether %s (commit %s)\n", Version, GitCommit)
		os.Exit(0)
	}

	switch ctx.Command() {
	case "serve":
		fallthrough
	case "serve <configs>":
		err := serve(CLI.Serve.Configs)
		if err != nil {
			writeError(err)
		}
	case "config":
		os.Stdout.Write(config.DEFAULT)
	case "schema":
		data, err := json.MarshalIndent(config.Schema(), "", "  ")
		if err != nil {
			writeError(err)
		}
		os.Stdout.Write(append(data, '\n'))
	}
}
