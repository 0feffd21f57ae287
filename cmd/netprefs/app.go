package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/config"
	"github.com/timzifer/netprefs/internal/logging"
	"github.com/timzifer/netprefs/network"
	"github.com/timzifer/netprefs/prefs"
	"github.com/timzifer/netprefs/telemetry"
	"github.com/timzifer/netprefs/templates"
)

// app carries the state shared by all commands of one invocation.
type app struct {
	configPath   string
	documentPath string
	logLevel     string

	out    io.Writer
	errOut io.Writer

	cfg       *config.Config
	logger    zerolog.Logger
	cleanup   func()
	registry  *prometheus.Registry
	collector telemetry.Collector
	resolver  *templates.Resolver
}

func (a *app) setup() error {
	cfg, err := a.loadConfig()
	if err != nil {
		return err
	}
	a.cfg = cfg

	logger, cleanup, err := logging.Setup(cfg.Logging, a.errOut)
	if err != nil {
		return err
	}
	a.logger = logger
	a.cleanup = cleanup

	a.collector = telemetry.Noop()
	if cfg.Telemetry.Enabled {
		a.registry = prometheus.NewRegistry()
		collector, err := telemetry.NewPrometheusCollector(a.registry)
		if err != nil {
			a.logger.Warn().Err(err).Msg("telemetry disabled")
		} else {
			a.collector = collector
		}
	}

	catalog, err := a.catalog("")
	if err != nil {
		return err
	}
	a.resolver = templates.NewResolver(catalog)
	return nil
}

func (a *app) loadConfig() (*config.Config, error) {
	var cfg *config.Config
	if a.configPath != "" {
		loaded, err := config.Load(a.configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		defaults := config.Defaults()
		cfg = &defaults
	}
	if a.documentPath != "" {
		cfg.Document.Path = a.documentPath
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (a *app) catalog(path string) (*templates.Catalog, error) {
	if path == "" && a.cfg != nil {
		path = a.cfg.Catalog.Path
	}
	if path == "" {
		return templates.DefaultCatalog()
	}
	return templates.LoadCatalog(path)
}

func (a *app) finish() {
	if a.registry != nil && a.cfg != nil && a.cfg.Telemetry.Textfile != "" {
		if err := prometheus.WriteToTextfile(a.cfg.Telemetry.Textfile, a.registry); err != nil {
			a.logger.Warn().Err(err).Str("textfile", a.cfg.Telemetry.Textfile).Msg("write telemetry")
		}
	}
	if a.cleanup != nil {
		a.cleanup()
	}
}

// open binds a network model to the document at path.
func (a *app) open(path string) (*prefs.Store, *network.Model, error) {
	store, err := prefs.Open(path,
		prefs.WithLogger(logging.Component(a.logger, "prefs")),
		prefs.WithTelemetry(a.collector),
	)
	if err != nil {
		return nil, nil, err
	}
	model, err := network.NewModel(store,
		network.WithResolver(a.resolver),
		network.WithLogger(a.logger),
	)
	if err != nil {
		return nil, nil, err
	}
	return store, model, nil
}

// update applies a change to the configured document and commits it. A
// stale commit reloads the document and applies the change again, up to the
// configured number of retries.
func (a *app) update(apply func(*network.Model) error) error {
	store, model, err := a.open(a.cfg.Document.Path)
	if err != nil {
		return err
	}
	for attempt := 0; ; attempt++ {
		if err := apply(model); err != nil {
			return err
		}
		err := store.Commit()
		if err == nil {
			return nil
		}
		if !errors.Is(err, prefs.ErrStaleDocument) || attempt >= a.cfg.Migration.RetryLimit() {
			return err
		}
		a.logger.Warn().Int("attempt", attempt+1).Msg("document changed concurrently, retrying")
		if err := store.Reload(); err != nil {
			return fmt.Errorf("reload after stale commit: %w", err)
		}
	}
}
