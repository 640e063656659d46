package table

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"speakquery/internal/dataset"
	"speakquery/internal/querylang"
)

// sqliteTable is the table written by Write. Reading a database with a
// single table yields its columns unchanged; with several tables, columns
// are prefixed "<table>_" and rows are combined side by side.
const sqliteTable = "data"

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func readSQLite(path string) (*dataset.Dataset, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	db, err := openSQLite(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = db.Close() }()

	tables, err := sqliteTables(db)
	if err != nil {
		return nil, err
	}
	if len(tables) == 1 {
		return readSQLiteTable(db, tables[0], "")
	}

	out := dataset.New()
	for _, t := range tables {
		part, err := readSQLiteTable(db, t, t+"_")
		if err != nil {
			return nil, err
		}
		for _, c := range part.Columns {
			out.AddColumn(c)
		}
		for i, r := range part.Rows {
			if i == len(out.Rows) {
				out.Rows = append(out.Rows, make(dataset.Row, len(r)))
			}
			for k, v := range r {
				out.Rows[i][k] = v
			}
		}
	}
	return out, nil
}

func sqliteTables(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func readSQLiteTable(db *sql.DB, table, prefix string) (*dataset.Dataset, error) {
	rows, err := db.Query("SELECT * FROM " + quoteIdent(table)) //nolint:gosec // G202: identifier is quoted
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	names, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(names))
	for i, n := range names {
		cols[i] = prefix + n
	}
	ds := dataset.New(cols...)

	cells := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range cells {
		ptrs[i] = &cells[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(dataset.Row, len(cols))
		for i, c := range cells {
			if v := querylang.FromAny(c); !v.IsNull() {
				row[cols[i]] = v
			}
		}
		ds.Rows = append(ds.Rows, row)
	}
	return ds, rows.Err()
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// writeSQLite replaces the database at path with a single table holding ds.
func writeSQLite(path string, ds *dataset.Dataset) error {
	if len(ds.Columns) == 0 {
		return fmt.Errorf("%w: sqlite needs at least one column", ErrMalformed)
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	db, err := openSQLite(path)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	quoted := make([]string, len(ds.Columns))
	marks := make([]string, len(ds.Columns))
	for i, c := range ds.Columns {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	create := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(sqliteTable), strings.Join(quoted, ", "))
	insert := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quoteIdent(sqliteTable), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(create); err != nil {
		return fmt.Errorf("create table: %w", err)
	}
	stmt, err := tx.Prepare(insert)
	if err != nil {
		return err
	}
	defer func() { _ = stmt.Close() }()

	args := make([]any, len(ds.Columns))
	for _, r := range ds.Rows {
		for i, c := range ds.Columns {
			args[i] = scalar(r[c])
		}
		if _, err := stmt.Exec(args...); err != nil {
			return fmt.Errorf("insert row: %w", err)
		}
	}
	return tx.Commit()
}
