package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// LoadTempTable creates a transaction-scoped temp table with the given
// column definitions and COPYs rows into it. The table is dropped
// automatically at commit. This is the join-side staging used instead of
// array binds: the caller joins against the temp table in a follow-up
// query on the same transaction.
func LoadTempTable(ctx context.Context, tx pgx.Tx, name string, colDefs []string, cols []string, rows [][]any) (int64, error) {
	createSQL := fmt.Sprintf(
		"CREATE TEMP TABLE %s (%s) ON COMMIT DROP",
		pgx.Identifier{name}.Sanitize(),
		strings.Join(colDefs, ", "),
	)
	if _, err := tx.Exec(ctx, createSQL); err != nil {
		return 0, eris.Wrapf(err, "db: create temp table %s", name)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	n, err := tx.CopyFrom(ctx, pgx.Identifier{name}, cols, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, eris.Wrapf(err, "db: COPY into %s", name)
	}
	return n, nil
}
