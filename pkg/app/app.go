package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"

	"github.com/vyvo/pixelflow/pkg/config"
	"github.com/vyvo/pixelflow/pkg/history"
	"github.com/vyvo/pixelflow/pkg/jobs"
	"github.com/vyvo/pixelflow/pkg/keystore"
	"github.com/vyvo/pixelflow/pkg/materialize"
	"github.com/vyvo/pixelflow/pkg/modelregistry"
	"github.com/vyvo/pixelflow/pkg/prediction"
	"github.com/vyvo/pixelflow/pkg/shell"
	"github.com/vyvo/pixelflow/pkg/telemetry"
)

// App holds the collaborators shared by the CLI and the bridge.
type App struct {
	Config   config.Config
	Logger   zerolog.Logger
	Registry *modelregistry.Registry
	Keys     *keystore.Store
	Client   *prediction.Client
	Engine   *jobs.Engine
	Session  *shell.Session

	closers []func(context.Context) error
}

// Options tweaks wiring for tests and tools.
type Options struct {
	// TraceWriter receives spans when tracing is enabled. Defaults to stderr.
	TraceWriter io.Writer
	// ServiceName and Version label spans.
	ServiceName string
	Version     string
}

// New wires a session from cfg. Close releases whatever New opened.
func New(ctx context.Context, cfg config.Config, logger zerolog.Logger, opts Options) (*App, error) {
	a := &App{Config: cfg, Logger: logger}

	if cfg.Tracing {
		w := opts.TraceWriter
		if w == nil {
			w = os.Stderr
		}
		name := opts.ServiceName
		if name == "" {
			name = "pixelflow"
		}
		shutdown, err := telemetry.InitTracer(ctx, telemetry.Options{
			ServiceName:    name,
			ServiceVersion: opts.Version,
			SampleRatio:    cfg.TraceSampleRatio,
			Writer:         w,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, shutdown)
	}

	reg, err := modelregistry.Load(cfg.CatalogFile)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("load models: %w", err)
	}
	a.Registry = reg

	keys, err := keystore.Open(cfg.KeyFile())
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("open key store: %w", err)
	}
	a.Keys = keys

	a.Client = prediction.NewClient(prediction.Options{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.HTTPTimeout,
		Logger:  logger.With().Str("component", "prediction").Logger(),
	})
	a.Engine = jobs.NewEngine(a.Client,
		jobs.WithPolicy(cfg.PollPolicy()),
		jobs.WithLogger(logger.With().Str("component", "jobs").Logger()),
	)

	mat, err := materialize.New(cfg.DataDir, a.Client, logger.With().Str("component", "materialize").Logger())
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	var recorder history.Recorder
	if cfg.RedisURL != "" {
		rdb, err := history.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			a.Close(ctx)
			return nil, err
		}
		a.closers = append(a.closers, func(context.Context) error { return rdb.Close() })
		recorder = rdb
		logger.Info().Msg("generation history mirrored to redis")
	} else {
		recorder = memoryHistory(ctx, cfg.DataDir, logger)
	}

	session, err := shell.New(shell.Options{
		Registry:     reg,
		Engine:       a.Engine,
		Materializer: mat,
		Keys:         keys,
		Validator:    a.Client,
		History:      recorder,
		DataDir:      cfg.DataDir,
		Logger:       logger.With().Str("component", "shell").Logger(),
	})
	if err != nil {
		a.Close(ctx)
		return nil, err
	}
	a.Session = session
	return a, nil
}

// memoryHistory keeps this process's generations, failures included, on top
// of the folders already on disk.
func memoryHistory(ctx context.Context, dataDir string, logger zerolog.Logger) *history.Memory {
	mem := history.NewMemory(history.DefaultLimit)
	past, err := shell.DiskHistory(dataDir, history.DefaultLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("could not read saved generations")
	}
	for i := len(past) - 1; i >= 0; i-- {
		_ = mem.Record(ctx, past[i])
	}
	return mem
}

// Close runs shutdown hooks in reverse order.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
