// Package logging builds the zerolog loggers used by the netprefs tools.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/config"
)

// ComponentKey is the field that names the subsystem emitting an event.
const ComponentKey = "component"

// Component derives a logger tagged with the given subsystem name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str(ComponentKey, name).Logger()
}

// Setup creates the process logger from cfg. Events go to out, or stderr
// when out is nil, so that command output on stdout stays machine readable.
// The returned cleanup flushes the Loki sink if one is configured.
func Setup(cfg config.LoggingConfig, out io.Writer) (zerolog.Logger, func(), error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	if out == nil {
		out = os.Stderr
	}
	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	writers := []io.Writer{out}
	cleanup := func() {}
	if cfg.Loki.Enabled {
		sink, stop, err := newLokiSink(cfg.Loki)
		if err != nil {
			return zerolog.Logger{}, nil, err
		}
		writers = append(writers, sink)
		cleanup = stop
	}

	logger := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		With().Timestamp().Logger().
		Level(level)
	return logger, cleanup, nil
}

// ParseLevel maps a configured level name to a zerolog level. An empty name
// selects info.
func ParseLevel(name string) (zerolog.Level, error) {
	if name == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(name))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level: %w", err)
	}
	return level, nil
}

type lokiHandler interface {
	Handle(labels model.LabelSet, at time.Time, entry string) error
}

func newLokiSink(cfg config.LokiConfig) (*lokiWriter, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	lokiCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(lokiCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}
	return newLokiWriter(client, lokiLabels(cfg.Labels)), client.Stop, nil
}

func lokiLabels(configured map[string]string) model.LabelSet {
	labels := model.LabelSet{}
	for k, v := range configured {
		labels[model.LabelName(k)] = model.LabelValue(v)
	}
	if len(labels) == 0 {
		labels["app"] = "netprefs"
	}
	return labels
}

// lokiWriter pushes each event into a stream selected by the static labels
// plus the event level, so warnings can be queried without parsing lines.
type lokiWriter struct {
	mu      sync.Mutex
	handler lokiHandler
	labels  model.LabelSet
	streams map[zerolog.Level]model.LabelSet
}

func newLokiWriter(handler lokiHandler, labels model.LabelSet) *lokiWriter {
	return &lokiWriter{handler: handler, labels: labels, streams: map[zerolog.Level]model.LabelSet{}}
}

func (l *lokiWriter) Write(p []byte) (int, error) {
	return l.WriteLevel(zerolog.NoLevel, p)
}

func (l *lokiWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	entry := strings.TrimSpace(string(p))
	if entry == "" {
		return len(p), nil
	}
	return len(p), l.handler.Handle(l.stream(level), time.Now(), entry)
}

func (l *lokiWriter) stream(level zerolog.Level) model.LabelSet {
	if level == zerolog.NoLevel {
		return l.labels
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if labels, ok := l.streams[level]; ok {
		return labels
	}
	labels := l.labels.Merge(model.LabelSet{"level": model.LabelValue(level.String())})
	l.streams[level] = labels
	return labels
}
