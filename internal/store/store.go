// Package store exports function records and history analytics to SQLite.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Someblueman/codexdoc/internal/function"
	"github.com/Someblueman/codexdoc/internal/history"
)

//go:embed schema.sql
var schema string

// DB wraps the SQLite connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and applies the schema.
// Foreign keys are enabled on every pooled connection through the DSN.
func Open(path string) (*DB, error) {
	conn, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, err
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Conn returns the underlying connection for ad hoc queries.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Export writes the database at path from scratch. res may be nil when no
// history is available; only the function tables are filled then.
func Export(ctx context.Context, path string, records []function.Record, res *history.Result) error {
	db, err := Open(path)
	if err != nil {
		return err
	}
	defer db.Close()
	return db.Replace(ctx, records, res)
}

// Replace clears every table and inserts records and res in one transaction.
func (db *DB) Replace(ctx context.Context, records []function.Record, res *history.Result) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, table := range []string{"commit_functions", "commits", "changes", "links", "hotspots", "calls", "functions"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	if err := insertFunctions(ctx, tx, records); err != nil {
		return err
	}
	if res != nil {
		if err := insertAnalytics(ctx, tx, res); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func insertFunctions(ctx context.Context, tx *sql.Tx, records []function.Record) error {
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO functions (name, language, file, description, parameters, return_type, source)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, rec := range records {
		params := rec.Parameters
		if params == nil {
			params = []function.Parameter{}
		}
		encoded, err := json.Marshal(params)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, rec.Name, rec.Language, rec.FilePath, rec.Description,
			string(encoded), rec.ReturnType, rec.SourceText); err != nil {
			return fmt.Errorf("insert function %s: %w", rec.Name, err)
		}
	}
	return nil
}

func insertAnalytics(ctx context.Context, tx *sql.Tx, res *history.Result) error {
	for caller, callees := range res.Graph {
		for _, callee := range callees {
			if _, err := tx.ExecContext(ctx, `INSERT INTO calls (caller, callee) VALUES (?, ?)`, caller, callee); err != nil {
				return fmt.Errorf("insert call %s -> %s: %w", caller, callee, err)
			}
		}
	}

	for _, rec := range res.Records() {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changes (name, change_count, last_modified) VALUES (?, ?, ?)`,
			rec.Name, rec.ChangeCount, formatTime(rec.LastModified)); err != nil {
			return fmt.Errorf("insert change record %s: %w", rec.Name, err)
		}
	}

	for _, entry := range res.Timeline {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO commits (hash, timestamp, message) VALUES (?, ?, ?)`,
			entry.CommitHash, formatTime(entry.Timestamp), entry.CommitMessage); err != nil {
			return fmt.Errorf("insert commit %s: %w", entry.CommitHash, err)
		}
		for _, name := range entry.Functions {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO commit_functions (hash, name) VALUES (?, ?)`, entry.CommitHash, name); err != nil {
				return err
			}
		}
	}

	for _, link := range res.Dependencies {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO links (source, target, change_count, confidence) VALUES (?, ?, ?, ?)`,
			link.Source, link.Target, link.ChangeCount, link.Confidence); err != nil {
			return fmt.Errorf("insert link %s -> %s: %w", link.Source, link.Target, err)
		}
	}

	for i, h := range res.Hotspots {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO hotspots (rank, name, score, change_count, co_change_degree) VALUES (?, ?, ?, ?, ?)`,
			i+1, h.Name, h.Score, h.ChangeCount, h.CoChangeDegree); err != nil {
			return fmt.Errorf("insert hotspot %s: %w", h.Name, err)
		}
	}
	return nil
}

// Counts returns the row count of the functions, calls and links tables.
func (db *DB) Counts(ctx context.Context) (functions, calls, links int64, err error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT (SELECT COUNT(*) FROM functions), (SELECT COUNT(*) FROM calls), (SELECT COUNT(*) FROM links)`)
	err = row.Scan(&functions, &calls, &links)
	return functions, calls, links, err
}

// Callers returns the names that call name, sorted.
func (db *DB) Callers(ctx context.Context, name string) ([]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT caller FROM calls WHERE callee = ? ORDER BY caller`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var caller string
		if err := rows.Scan(&caller); err != nil {
			return nil, err
		}
		out = append(out, caller)
	}
	return out, rows.Err()
}

// Functions returns every stored record declared under name.
func (db *DB) Functions(ctx context.Context, name string) ([]function.Record, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT name, language, file, description, parameters, return_type, source
		 FROM functions WHERE name = ? ORDER BY file, id`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []function.Record
	for rows.Next() {
		var rec function.Record
		var params string
		if err := rows.Scan(&rec.Name, &rec.Language, &rec.FilePath, &rec.Description,
			&params, &rec.ReturnType, &rec.SourceText); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(params), &rec.Parameters); err != nil {
			return nil, fmt.Errorf("decode parameters of %s: %w", rec.Name, err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
