package collection

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/doclite/doclite/internal/dberr"
	"github.com/doclite/doclite/internal/field"
	"github.com/doclite/doclite/internal/jsonval"
)

// repairVectorRow recomputes field's vector value from the document body
// at rowid and compares it against the vec0 shadow table's current
// value, inserting/replacing the shadow row if it's missing or stale, or
// deleting it if the field is no longer present in the document. Returns
// whether a repair was made.
func (c *Collection) repairVectorRow(ctx context.Context, f field.Definition, rowid int64, id, docJSON string) (bool, error) {
	result := jsonval.GetPath(docJSON, f.Path)
	var raw string
	if result.Exists() {
		raw = result.Raw
	}

	vecTable := c.table.VecTableName(f)
	colName := field.ColumnNameOf(f.Path)

	current, err := c.currentVecValue(ctx, vecTable, colName, rowid)
	if err != nil {
		return false, err
	}

	if raw == "" {
		if current == "" {
			return false, nil
		}
		deleteSQL := fmt.Sprintf("DELETE FROM %s WHERE rowid = ?", vecTable)
		if _, err := c.writer(ctx).ExecContext(ctx, deleteSQL, rowid); err != nil {
			return false, &dberr.DatabaseError{Code: "exec", Cause: err}
		}
		return true, nil
	}

	if raw == current {
		return false, nil
	}

	upsertSQL := fmt.Sprintf("INSERT OR REPLACE INTO %s(rowid, %s) VALUES (?, ?)", vecTable, colName)
	if _, err := c.writer(ctx).ExecContext(ctx, upsertSQL, rowid, raw); err != nil {
		return false, &dberr.DatabaseError{Code: "exec", Cause: err}
	}
	return true, nil
}

func (c *Collection) currentVecValue(ctx context.Context, vecTable, colName string, rowid int64) (string, error) {
	row := c.reader(ctx).QueryRowContext(ctx, fmt.Sprintf("SELECT %s FROM %s WHERE rowid = ?", colName, vecTable), rowid)
	var value string
	if err := row.Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", &dberr.DatabaseError{Code: "scan", Cause: err}
	}
	return value, nil
}
