package prefs

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/telemetry"
)

// Option configures a Store.
type Option func(*settings) error

type settings struct {
	codec     Codec
	logger    zerolog.Logger
	telemetry telemetry.Collector
	name      string
}

func defaultSettings() settings {
	return settings{
		codec:     YAMLCodec{},
		logger:    zerolog.Nop(),
		telemetry: telemetry.Noop(),
	}
}

// WithCodec overrides the document codec.
func WithCodec(codec Codec) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if codec == nil {
			return fmt.Errorf("codec must not be nil")
		}
		cfg.codec = codec
		return nil
	}
}

// WithLogger provides a logger for load and commit events.
func WithLogger(logger zerolog.Logger) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.logger = logger
		return nil
	}
}

// WithTelemetry records commit outcomes on the collector.
func WithTelemetry(collector telemetry.Collector) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		if collector == nil {
			collector = telemetry.Noop()
		}
		cfg.telemetry = collector
		return nil
	}
}

// WithName sets the document label used in logs and metrics. It defaults to
// the base name of the backing file.
func WithName(name string) Option {
	return func(cfg *settings) error {
		if cfg == nil {
			return nil
		}
		cfg.name = name
		return nil
	}
}
