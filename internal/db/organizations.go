package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/org-directory/internal/model"
)

// CreateTableSQL returns DDL for a table holding the canonical columns.
// Float fields are DOUBLE PRECISION; everything else is TEXT.
func CreateTableSQL(table string) string {
	cols := make([]string, 0, model.Canonical().Len())
	for _, f := range model.Canonical().Fields {
		typ := "TEXT"
		if f.Kind == model.KindFloat {
			typ = "DOUBLE PRECISION"
		}
		cols = append(cols, fmt.Sprintf("\t%s %s", Identifier(f.Name).Sanitize(), typ))
	}
	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n%s\n)", Identifier(table).Sanitize(), strings.Join(cols, ",\n"))
}

// Rows converts records to COPY rows in canonical column order.
func Rows(records model.Batch) [][]any {
	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = r.Values()
	}
	return rows
}

// LoadOrganizations replaces the contents of table with records in one
// transaction: create if missing, truncate, COPY. Readers never observe a
// partially loaded table.
func LoadOrganizations(ctx context.Context, pool Pool, table string, records model.Batch) (int64, error) {
	log := zap.L().With(zap.String("component", "db"), zap.String("table", table))

	tx, err := pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "db: load: begin tx")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, CreateTableSQL(table)); err != nil {
		return 0, eris.Wrapf(err, "db: load: create %s", table)
	}
	if _, err := tx.Exec(ctx, "TRUNCATE "+Identifier(table).Sanitize()); err != nil {
		return 0, eris.Wrapf(err, "db: load: truncate %s", table)
	}
	n, err := CopyFrom(ctx, tx, table, model.Canonical().Names(), Rows(records))
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "db: load: commit tx")
	}

	log.Info("loaded organizations", zap.Int64("rows", n))
	return n, nil
}
