package watch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/timzifer/netprefs/internal/logging"
	"github.com/timzifer/netprefs/prefs"
)

// DefaultDebounce is the quiet period after the last file event before the
// document signature is compared again.
const DefaultDebounce = 250 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets the quiet period. Non-positive values keep the default.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger for watcher events.
func WithLogger(logger zerolog.Logger) Option {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// Watcher detects replacements of a preferences document by comparing its
// signature.
type Watcher struct {
	mu       sync.Mutex
	path     string
	last     prefs.Signature
	debounce time.Duration
	logger   zerolog.Logger
}

// New snapshots the signature of the document at path. The document does
// not need to exist yet.
func New(path string, opts ...Option) (*Watcher, error) {
	if path == "" {
		return nil, errors.New("watch path must not be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve watch path: %w", err)
	}
	w := &Watcher{path: abs, debounce: DefaultDebounce, logger: zerolog.Nop()}
	for _, opt := range opts {
		if opt != nil {
			opt(w)
		}
	}
	w.logger = logging.Component(w.logger, "watch").With().Str("document", abs).Logger()
	sig, err := prefs.ReadSignature(abs)
	if err != nil {
		return nil, err
	}
	w.last = sig
	return w, nil
}

// Path returns the watched document path.
func (w *Watcher) Path() string {
	if w == nil {
		return ""
	}
	return w.path
}

// Check reports whether the document signature changed since the last
// snapshot and records the current one.
func (w *Watcher) Check() (bool, prefs.Signature, error) {
	if w == nil {
		return false, prefs.Signature{}, nil
	}
	sig, err := prefs.ReadSignature(w.path)
	if err != nil {
		return false, prefs.Signature{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if sig == w.last {
		return false, sig, nil
	}
	w.last = sig
	return true, sig, nil
}

// Run watches the document directory until ctx is cancelled and calls
// onChange with the new signature after every debounced change.
func (w *Watcher) Run(ctx context.Context, onChange func(prefs.Signature)) error {
	if w == nil {
		return errors.New("watcher is nil")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer fsw.Close()
	// the directory is watched so atomic replacements are seen
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(w.path), err)
	}

	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			w.logger.Debug().Str("op", event.Op.String()).Msg("document event")
			timer.Reset(w.debounce)
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			changed, sig, err := w.Check()
			if err != nil {
				w.logger.Warn().Err(err).Msg("read signature")
				continue
			}
			if changed && onChange != nil {
				w.logger.Info().Stringer("signature", sig).Msg("document changed")
				onChange(sig)
			}
		}
	}
}
