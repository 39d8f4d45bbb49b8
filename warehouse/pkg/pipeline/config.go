package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/malbeclabs/citylake/warehouse/pkg/archive"
	"github.com/malbeclabs/citylake/warehouse/pkg/catalog"
	"github.com/malbeclabs/citylake/warehouse/pkg/sink"
	"github.com/malbeclabs/citylake/warehouse/pkg/socrata"
)

// Fetcher reads raw rows from the open-data API.
type Fetcher interface {
	Fetch(ctx context.Context, q socrata.Query) ([]map[string]any, error)
}

type Config struct {
	Logger   *slog.Logger
	Clock    clockwork.Clock
	Fetcher  Fetcher
	Sink     sink.Sink
	Archiver archive.Archiver

	// Database qualifies every target table. Empty leaves the choice to the sink.
	Database string
	Catalog  catalog.Catalog

	// Concurrency bounds parallel dataset fetches and dimension builds.
	Concurrency int
}

func (cfg *Config) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Fetcher == nil {
		return errors.New("fetcher is required")
	}
	if cfg.Sink == nil {
		return errors.New("sink is required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.Archiver == nil {
		cfg.Archiver = archive.Nop{}
	}
	if len(cfg.Catalog.Streams) == 0 {
		cfg.Catalog = catalog.NYC()
	}
	if err := cfg.Catalog.Validate(); err != nil {
		return err
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	return nil
}
