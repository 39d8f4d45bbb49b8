package loader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/citylake/warehouse/pkg/catalog"
	"github.com/malbeclabs/citylake/warehouse/pkg/metrics"
	"github.com/malbeclabs/citylake/warehouse/pkg/pipeline"
)

// Runner loads one window.
type Runner interface {
	Run(ctx context.Context, w catalog.Window) (*pipeline.Result, error)
}

type Config struct {
	Logger          *slog.Logger
	Clock           clockwork.Clock
	Runner          Runner
	RefreshInterval time.Duration

	// LoadedThrough resumes after a day already loaded. Zero starts with yesterday.
	LoadedThrough time.Time
	// MaxCatchUpDays bounds how many missed days one refresh loads.
	MaxCatchUpDays int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Runner == nil {
		return errors.New("runner is required")
	}
	if cfg.RefreshInterval <= 0 {
		return errors.New("refresh interval must be greater than 0")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.MaxCatchUpDays <= 0 {
		cfg.MaxCatchUpDays = 31
	}
	return nil
}

// Loader loads each completed UTC day once, catching up on days missed while it was down.
type Loader struct {
	log       *slog.Logger
	cfg       Config
	refreshMu sync.Mutex

	mu            sync.RWMutex
	loadedThrough time.Time
	lastResult    *pipeline.Result

	readyOnce sync.Once
	readyCh   chan struct{}
}

func New(cfg Config) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Loader{
		log:           cfg.Logger,
		cfg:           cfg,
		loadedThrough: cfg.LoadedThrough.UTC().Truncate(24 * time.Hour),
		readyCh:       make(chan struct{}),
	}, nil
}

// Ready reports whether every completed day has been loaded at least once.
func (l *Loader) Ready() bool {
	select {
	case <-l.readyCh:
		return true
	default:
		return false
	}
}

func (l *Loader) WaitReady(ctx context.Context) error {
	select {
	case <-l.readyCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while waiting for loader: %w", ctx.Err())
	}
}

func (l *Loader) LoadedThrough() time.Time {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loadedThrough
}

func (l *Loader) LastResult() *pipeline.Result {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.lastResult
}

func (l *Loader) Start(ctx context.Context) {
	go func() {
		l.log.Info("loader: starting refresh loop", "interval", l.cfg.RefreshInterval)

		l.safeRefresh(ctx)

		ticker := l.cfg.Clock.NewTicker(l.cfg.RefreshInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				l.safeRefresh(ctx)
			}
		}
	}()
}

func (l *Loader) safeRefresh(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("loader: refresh panicked", "panic", r)
			metrics.LoaderRefreshTotal.WithLabelValues("panic").Inc()
			sentry.CurrentHub().Recover(r)
		}
	}()

	if err := l.Refresh(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			return
		}
		l.log.Error("loader: refresh failed", "error", err)
		sentry.CaptureException(err)
	}
}

// Refresh loads every completed day after the last loaded one, oldest first, and stops at the
// first failure so the day is retried on the next refresh.
func (l *Loader) Refresh(ctx context.Context) error {
	l.refreshMu.Lock()
	defer l.refreshMu.Unlock()

	refreshStart := l.cfg.Clock.Now()
	defer func() {
		metrics.LoaderRefreshDuration.Observe(l.cfg.Clock.Since(refreshStart).Seconds())
	}()

	days := l.pending()
	if len(days) == 0 {
		l.log.Debug("loader: up to date", "loaded_through", l.LoadedThrough())
		metrics.LoaderRefreshTotal.WithLabelValues("up_to_date").Inc()
		l.markReady()
		return nil
	}

	for _, w := range days {
		res, err := l.cfg.Runner.Run(ctx, w)
		if err != nil {
			metrics.LoaderRefreshTotal.WithLabelValues("error").Inc()
			return fmt.Errorf("failed to load %s: %w", w, err)
		}
		l.mu.Lock()
		l.loadedThrough = w.End
		l.lastResult = res
		l.mu.Unlock()
		metrics.LoaderLastLoadedDay.Set(float64(w.End.Unix()))
		l.log.Info("loader: day loaded", "window", w.String(), "status", string(res.Status), "tables", len(res.Tables))
	}

	metrics.LoaderRefreshTotal.WithLabelValues("success").Inc()
	l.markReady()
	return nil
}

// pending lists the day windows not yet loaded, ending with yesterday.
func (l *Loader) pending() []catalog.Window {
	yesterday := pipeline.YesterdayWindow(l.cfg.Clock)
	from := l.LoadedThrough()
	if from.IsZero() {
		from = yesterday.Start
	}
	if earliest := yesterday.End.AddDate(0, 0, -l.cfg.MaxCatchUpDays); from.Before(earliest) {
		l.log.Warn("loader: too many missed days, skipping the oldest", "from", from, "resume", earliest)
		from = earliest
	}

	var out []catalog.Window
	for d := from; d.Before(yesterday.End); d = d.AddDate(0, 0, 1) {
		out = append(out, catalog.Window{Start: d, End: d.AddDate(0, 0, 1)})
	}
	return out
}

func (l *Loader) markReady() {
	l.readyOnce.Do(func() {
		close(l.readyCh)
	})
}
