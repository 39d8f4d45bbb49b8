package clickhouse

import (
	"context"
	"fmt"
)

// Objects lists the star-schema tables and views in a database.
type Objects struct {
	Tables []string
	Views  []string
}

func (o Objects) Empty() bool { return len(o.Tables) == 0 && len(o.Views) == 0 }

// ListObjects returns the dim_* and fact_* tables of database and every view in it.
func ListObjects(ctx context.Context, conn Connection, database string) (Objects, error) {
	var out Objects
	var err error

	out.Tables, err = queryNames(ctx, conn, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND engine NOT IN ('View', 'MaterializedView')
		  AND (name LIKE 'dim_%' OR name LIKE 'fact_%')
		ORDER BY name
	`, database)
	if err != nil {
		return Objects{}, fmt.Errorf("failed to query tables: %w", err)
	}

	out.Views, err = queryNames(ctx, conn, `
		SELECT name
		FROM system.tables
		WHERE database = ?
		  AND engine IN ('View', 'MaterializedView')
		ORDER BY name
	`, database)
	if err != nil {
		return Objects{}, fmt.Errorf("failed to query views: %w", err)
	}
	return out, nil
}

// DropObjects drops views first, since they depend on tables. onDrop is called after each drop.
func DropObjects(ctx context.Context, conn Connection, database string, objs Objects, onDrop func(kind, name string)) error {
	for _, v := range objs.Views {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP VIEW IF EXISTS %s.%s", quoteIdent(database), quoteIdent(v))); err != nil {
			return fmt.Errorf("failed to drop view %s: %w", v, err)
		}
		if onDrop != nil {
			onDrop("view", v)
		}
	}
	for _, t := range objs.Tables {
		if err := conn.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s.%s", quoteIdent(database), quoteIdent(t))); err != nil {
			return fmt.Errorf("failed to drop table %s: %w", t, err)
		}
		if onDrop != nil {
			onDrop("table", t)
		}
	}
	return nil
}

func queryNames(ctx context.Context, conn Connection, query string, args ...any) ([]string, error) {
	rows, err := conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
