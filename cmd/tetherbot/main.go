package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"time"

	"github.com/cfoust/tether/pkg/client"
	"github.com/cfoust/tether/pkg/config"
	"github.com/cfoust/tether/pkg/geom"
	"github.com/cfoust/tether/pkg/predict"
	"github.com/cfoust/tether/pkg/sim"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var CLI struct {
	Debug bool `help:"Whether to enable debug logging."`

	Run struct {
		Configs  []string      `arg:"" optional:"" name:"configs" help:"Configuration files; only the client section is used." type:"file"`
		Count    int           `help:"Number of bots to connect." default:"1"`
		URL      string        `help:"Server websocket URL. Overrides the config."`
		Duration time.Duration `help:"Stop after this long. Zero runs until interrupted." default:"0s"`
	} `cmd:"" help:"Connect patrolling bots to a tether server and report prediction quality."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

type bot struct {
	index    int
	client   *client.Client
	patrol   *sim.Patrol
	interval time.Duration
	backoff  time.Duration
	position geom.Vector
}

// connect retries until the bot is connected or ctx is done.
func (b *bot) connect(ctx context.Context) {
	for ctx.Err() == nil {
		err := b.client.Connect(ctx)
		if err == nil || err == client.ErrAlreadyConnected {
			return
		}

		log.Warn().Err(err).Int("bot", b.index).Msg("connect failed")
		select {
		case <-time.After(b.backoff):
		case <-ctx.Done():
		}
	}
}

func (b *bot) run(ctx context.Context) predict.Report {
	events := b.client.Subscribe()
	defer events.Done()

	b.connect(ctx)

	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.client.Close()
			return b.client.Predictor().Stats().Report()
		case event := <-events.Recv():
			if event.Message != "" {
				log.Debug().Int("bot", b.index).Str("text", event.Message).Msg("server message")
			}
			if event.Status != client.StatusDisconnected || event.Err == nil {
				continue
			}
			if b.client.Status() != client.StatusDisconnected {
				continue
			}

			log.Warn().Err(event.Err).Int("bot", b.index).Msg("disconnected, reconnecting")
			select {
			case <-time.After(b.backoff):
			case <-ctx.Done():
				continue
			}
			b.connect(ctx)
		case now := <-ticker.C:
			frame := b.client.Step(now, b.interval, b.patrol.Intent(now, b.position))
			if frame.HasLocal {
				b.position = frame.Local.Position
			}
		}
	}
}

func run() error {
	cfg, err := config.Process(CLI.Run.Configs)
	if err != nil {
		return err
	}

	settings := cfg.Client
	if CLI.Run.URL != "" {
		settings.URL = CLI.Run.URL
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if CLI.Run.Duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, CLI.Run.Duration)
		defer stop()
	}

	log.Info().Int("count", CLI.Run.Count).Str("url", settings.URL).Msg("starting bots")

	reports := make([]predict.Report, CLI.Run.Count)
	var wait sync.WaitGroup
	for i := 0; i < CLI.Run.Count; i++ {
		b := &bot{
			index:    i,
			client:   client.New(client.OptionsFrom(settings)),
			patrol:   sim.NewPatrol(int64(i)),
			interval: settings.FrameInterval(),
			backoff:  settings.ReconnectBackoff.Std(),
		}

		wait.Add(1)
		go func(i int) {
			defer wait.Done()
			reports[i] = b.run(ctx)
		}(i)
	}
	wait.Wait()

	for i, report := range reports {
		log.Info().
			Int("bot", i).
			Int("samples", report.Samples).
			Float64("p50Ms", report.LatencyP50Ms).
			Float64("p95Ms", report.LatencyP95Ms).
			Float64("jitterMs", report.JitterMs).
			Float64("correctionPct", report.CorrectionPct).
			Float64("snapPct", report.SnapPct).
			Msg("correction report")
	}

	return nil
}

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	log.Logger = log.Output(consoleWriter)

	ctx := kong.Parse(&CLI,
		kong.Name("tetherbot"),
		kong.Description("synthetic clients for a tether server"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("debug logging enabled")
	}

	switch ctx.Command() {
	case "run", "run <configs>":
		if err := run(); err != nil {
			writeError(err)
		}
	}
}
