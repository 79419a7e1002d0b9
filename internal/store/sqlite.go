package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteDriver keeps all documents in one table keyed by bucket and key.
type SQLiteDriver struct {
	db *sql.DB
}

// OpenSQLite opens or creates a SQLite database at the given path and
// creates the schema.
func OpenSQLite(dbPath string) (*SQLiteDriver, error) {
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// one writer; reads during Scan never hold the connection across fn
	db.SetMaxOpenConns(1)

	d := &SQLiteDriver{db: db}
	if err := d.initialize(); err != nil {
		db.Close()
		return nil, err
	}
	return d, nil
}

func (d *SQLiteDriver) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS documents (
		bucket TEXT NOT NULL,
		key TEXT NOT NULL,
		value BLOB NOT NULL,
		PRIMARY KEY (bucket, key)
	);
	`
	if _, err := d.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Get implements Driver.
func (d *SQLiteDriver) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	var value []byte
	err := d.db.QueryRowContext(ctx,
		"SELECT value FROM documents WHERE bucket = ? AND key = ?", bucket, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s/%s: %w", bucket, key, err)
	}
	return value, nil
}

// Put implements Driver.
func (d *SQLiteDriver) Put(ctx context.Context, bucket, key string, value []byte) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO documents (bucket, key, value) VALUES (?, ?, ?)
		ON CONFLICT (bucket, key) DO UPDATE SET value = excluded.value`,
		bucket, key, value)
	if err != nil {
		return fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// PutIfAbsent implements Driver on the primary key constraint.
func (d *SQLiteDriver) PutIfAbsent(ctx context.Context, bucket, key string, value []byte) ([]byte, bool, error) {
	res, err := d.db.ExecContext(ctx,
		"INSERT INTO documents (bucket, key, value) VALUES (?, ?, ?) ON CONFLICT (bucket, key) DO NOTHING",
		bucket, key, value)
	if err != nil {
		return nil, false, fmt.Errorf("put %s/%s: %w", bucket, key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	if n == 1 {
		return value, true, nil
	}
	stored, err := d.Get(ctx, bucket, key)
	return stored, false, err
}

// Scan implements Driver.
func (d *SQLiteDriver) Scan(ctx context.Context, bucket, prefix string, fn func(string, []byte) error) error {
	query, args := prefixQuery("SELECT key, value FROM documents", bucket, prefix)
	rows, err := d.db.QueryContext(ctx, query+" ORDER BY key", args...)
	if err != nil {
		return fmt.Errorf("scan %s: %w", bucket, err)
	}

	var pairs []pair
	for rows.Next() {
		var p pair
		if err := rows.Scan(&p.key, &p.value); err != nil {
			rows.Close()
			return err
		}
		pairs = append(pairs, p)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, p := range pairs {
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// DeletePrefix implements Driver.
func (d *SQLiteDriver) DeletePrefix(ctx context.Context, bucket, prefix string) error {
	query, args := prefixQuery("DELETE FROM documents", bucket, prefix)
	if _, err := d.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("delete %s/%s*: %w", bucket, prefix, err)
	}
	return nil
}

func prefixQuery(base, bucket, prefix string) (string, []any) {
	query := base + " WHERE bucket = ?"
	args := []any{bucket}
	if prefix == "" {
		return query, args
	}
	query += " AND key >= ?"
	args = append(args, prefix)
	if end := prefixEnd(prefix); end != "" {
		query += " AND key < ?"
		args = append(args, end)
	}
	return query, args
}

// Sync implements Driver by checkpointing the write-ahead log.
func (d *SQLiteDriver) Sync(ctx context.Context) error {
	_, err := d.db.ExecContext(ctx, "PRAGMA wal_checkpoint(FULL)")
	return err
}

// Close closes the database connection
func (d *SQLiteDriver) Close() error {
	return d.db.Close()
}
