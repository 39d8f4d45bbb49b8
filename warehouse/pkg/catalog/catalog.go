package catalog

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/malbeclabs/citylake/warehouse/pkg/coerce"
	"github.com/malbeclabs/citylake/warehouse/pkg/dimension"
	"github.com/malbeclabs/citylake/warehouse/pkg/fact"
	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

const (
	Stream311     = "311"
	StreamParking = "parking"
)

// Window is a half-open interval of source event times, [Start, End).
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) Validate() error {
	if w.Start.IsZero() || w.End.IsZero() {
		return errors.New("window start and end are required")
	}
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

func (w Window) String() string {
	return w.Start.UTC().Format(time.RFC3339) + "/" + w.End.UTC().Format(time.RFC3339)
}

// Dataset is one Socrata dataset of a stream. FiscalYear is zero for datasets that span all time.
type Dataset struct {
	ID         string
	FiscalYear int
}

// covers reports whether the July-June fiscal year of d intersects w.
func (d Dataset) covers(w Window) bool {
	if d.FiscalYear == 0 {
		return true
	}
	start := time.Date(d.FiscalYear-1, time.July, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(d.FiscalYear, time.July, 1, 0, 0, 0, 0, time.UTC)
	return w.Start.Before(end) && w.End.After(start)
}

// Rename maps a source column onto the name the star schema uses for it.
type Rename struct {
	From string
	To   string
}

// Stream is one source event stream.
type Stream struct {
	Name         string
	Datasets     []Dataset
	WindowColumn string
	Renames      []Rename
}

// DatasetsFor returns the datasets holding events inside w. Windows past the last fiscal year read
// the latest dataset, which keeps receiving late tickets.
func (s Stream) DatasetsFor(w Window) []Dataset {
	var out []Dataset
	latest := Dataset{}
	for _, d := range s.Datasets {
		if d.covers(w) {
			out = append(out, d)
		}
		if d.FiscalYear >= latest.FiscalYear {
			latest = d
		}
	}
	if len(out) == 0 && latest.ID != "" {
		lastEnd := time.Date(latest.FiscalYear, time.July, 1, 0, 0, 0, 0, time.UTC)
		if !w.Start.Before(lastEnd) {
			out = append(out, latest)
		}
	}
	return out
}

// Prepare canonicalizes column names and applies renames whose target is not already present.
func (s Stream) Prepare(log *slog.Logger, raw *table.Table) *table.Table {
	t := table.Canonical(log, s.Name, raw)
	for _, r := range s.Renames {
		if !t.Has(r.From) {
			continue
		}
		next, ok := t.Rename(r.From, r.To)
		if !ok {
			log.Debug("catalog: rename target already present, keeping source column", "stream", s.Name, "from", r.From, "to", r.To)
			continue
		}
		t = next
	}
	return t
}

// DimensionSource declares a dimension and the streams whose rows feed it.
type DimensionSource struct {
	Spec    dimension.Spec
	Streams []string
}

// FactSource declares a fact table and the stream it is assembled from.
type FactSource struct {
	Spec   fact.Spec
	Stream string
}

type Catalog struct {
	Streams    []Stream
	Dimensions []DimensionSource
	Facts      []FactSource
}

func (c Catalog) Stream(name string) (Stream, bool) {
	for _, s := range c.Streams {
		if s.Name == name {
			return s, true
		}
	}
	return Stream{}, false
}

// Validate checks that every declaration is well formed and that every reference resolves.
func (c Catalog) Validate() error {
	if len(c.Streams) == 0 {
		return &coerce.ConfigError{Table: "catalog", Reason: "at least one stream is required"}
	}
	streams := make(map[string]bool, len(c.Streams))
	for _, s := range c.Streams {
		if s.Name == "" || len(s.Datasets) == 0 || s.WindowColumn == "" {
			return &coerce.ConfigError{Table: "catalog", Column: s.Name, Reason: "stream needs a name, datasets and a window column"}
		}
		if streams[s.Name] {
			return &coerce.ConfigError{Table: "catalog", Column: s.Name, Reason: "stream declared twice"}
		}
		streams[s.Name] = true
	}

	dims := make(map[string]dimension.Spec, len(c.Dimensions))
	for i := range c.Dimensions {
		d := &c.Dimensions[i]
		if err := d.Spec.Validate(); err != nil {
			return err
		}
		if _, ok := dims[d.Spec.Name]; ok {
			return &coerce.ConfigError{Table: d.Spec.TableName(), Reason: "dimension declared twice"}
		}
		if len(d.Streams) == 0 {
			return &coerce.ConfigError{Table: d.Spec.TableName(), Reason: "dimension has no source stream"}
		}
		for _, s := range d.Streams {
			if !streams[s] {
				return &coerce.ConfigError{Table: d.Spec.TableName(), Reason: fmt.Sprintf("unknown stream %q", s)}
			}
		}
		dims[d.Spec.Name] = d.Spec
	}

	for i := range c.Facts {
		f := &c.Facts[i]
		if err := f.Spec.Validate(); err != nil {
			return err
		}
		if !streams[f.Stream] {
			return &coerce.ConfigError{Table: f.Spec.Name, Reason: fmt.Sprintf("unknown stream %q", f.Stream)}
		}
		for _, fk := range f.Spec.ForeignKeys {
			d, ok := dims[fk.Dimension()]
			if !ok {
				return &coerce.ConfigError{Table: f.Spec.Name, Column: fk.KeyName, Reason: "references an undeclared dimension"}
			}
			if !slices.Equal(fk.Fields, d.NaturalKey) {
				return &coerce.ConfigError{Table: f.Spec.Name, Column: fk.KeyName, Reason: "fields differ from the dimension natural key"}
			}
		}
	}
	return nil
}
