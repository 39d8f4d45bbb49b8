package admin

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/malbeclabs/citylake/warehouse/pkg/clickhouse"
)

type ResetDBConfig struct {
	Logger      *slog.Logger
	Client      clickhouse.Client
	DryRun      bool
	SkipConfirm bool
	// In answers the confirmation prompt. Out receives the report.
	In  io.Reader
	Out io.Writer
}

func (cfg *ResetDBConfig) Validate() error {
	if cfg.Logger == nil {
		return errors.New("logger is required")
	}
	if cfg.Client == nil {
		return errors.New("clickhouse client is required")
	}
	if cfg.Out == nil {
		return errors.New("output writer is required")
	}
	if cfg.In == nil && !cfg.SkipConfirm && !cfg.DryRun {
		return errors.New("input reader is required to confirm")
	}
	return nil
}

// ResetDB drops every dim_* and fact_* table and every view from the client's database.
func ResetDB(ctx context.Context, cfg ResetDBConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	database := cfg.Client.Database()
	out := cfg.Out

	conn, err := cfg.Client.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	objs, err := clickhouse.ListObjects(ctx, conn, database)
	if err != nil {
		return err
	}

	if objs.Empty() {
		fmt.Fprintln(out, "No tables or views found matching patterns")
		return nil
	}

	fmt.Fprintf(out, "⚠️  WARNING: This will DROP %d table(s) and %d view(s) from database '%s':\n\n", len(objs.Tables), len(objs.Views), database)
	if len(objs.Tables) > 0 {
		fmt.Fprintln(out, "Tables:")
		for _, table := range objs.Tables {
			fmt.Fprintf(out, "  - %s\n", table)
		}
	}
	if len(objs.Views) > 0 {
		fmt.Fprintln(out, "\nViews:")
		for _, view := range objs.Views {
			fmt.Fprintf(out, "  - %s\n", view)
		}
	}

	if cfg.DryRun {
		fmt.Fprintln(out, "\n[DRY RUN] Would drop the above tables and views")
		return nil
	}

	if !cfg.SkipConfirm {
		fmt.Fprintf(out, "\n⚠️  This is a DESTRUCTIVE operation that cannot be undone!\n")
		fmt.Fprintf(out, "Type 'yes' to confirm: ")

		response, err := bufio.NewReader(cfg.In).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("failed to read confirmation: %w", err)
		}
		if strings.TrimSpace(strings.ToLower(response)) != "yes" {
			fmt.Fprintf(out, "\nConfirmation failed. Operation cancelled.\n")
			return nil
		}
		fmt.Fprintln(out)
	}

	err = clickhouse.DropObjects(ctx, conn, database, objs, func(kind, name string) {
		cfg.Logger.Debug("admin: dropped", "kind", kind, "name", name)
		fmt.Fprintf(out, "  ✓ Dropped %s %s\n", kind, name)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(out, "\nSuccessfully dropped %d table(s) and %d view(s)\n", len(objs.Tables), len(objs.Views))
	return nil
}
