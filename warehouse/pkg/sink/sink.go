package sink

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/malbeclabs/citylake/warehouse/pkg/table"
)

// Target identifies a destination table.
type Target struct {
	Database string
	Table    string
}

func (t Target) String() string {
	if t.Database == "" {
		return t.Table
	}
	return t.Database + "." + t.Table
}

// Sink appends finalized tables to a warehouse. Implementations never update or delete rows.
type Sink interface {
	Insert(ctx context.Context, target Target, t *table.Table) error
}

// Finalize prepares t for handoff to a sink. Column names are unique by construction; transient
// columns are dropped.
func Finalize(t *table.Table) *table.Table {
	return t.DropTransient()
}

// Memory keeps inserted tables in memory. It is used for dry runs and tests.
type Memory struct {
	mu     sync.Mutex
	tables map[string][]*table.Table
	order  []string
}

func NewMemory() *Memory {
	return &Memory{tables: make(map[string][]*table.Table)}
}

func (m *Memory) Insert(ctx context.Context, target Target, t *table.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if target.Table == "" {
		return errors.New("target table is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := target.String()
	if _, ok := m.tables[key]; !ok {
		m.order = append(m.order, key)
	}
	m.tables[key] = append(m.tables[key], t)
	return nil
}

// Tables returns every table inserted into target, in insertion order.
func (m *Memory) Tables(target Target) []*table.Table {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*table.Table(nil), m.tables[target.String()]...)
}

// Rows is the number of rows inserted into target across all inserts.
func (m *Memory) Rows(target Target) int {
	n := 0
	for _, t := range m.Tables(target) {
		n += t.Len()
	}
	return n
}

// Targets lists every target written to, in first-insert order.
func (m *Memory) Targets() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// Multi inserts into every sink in order and stops at the first failure.
type Multi []Sink

func (s Multi) Insert(ctx context.Context, target Target, t *table.Table) error {
	for i, sk := range s {
		if err := sk.Insert(ctx, target, t); err != nil {
			return fmt.Errorf("failed to insert into sink %d: %w", i, err)
		}
	}
	return nil
}
