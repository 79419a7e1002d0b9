package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"
)

// BoltDriver keeps documents in a single bbolt file, one bucket per document kind.
type BoltDriver struct {
	db *bolt.DB
}

// OpenBolt opens or creates a bbolt database at the given path.
func OpenBolt(dbPath string) (*BoltDriver, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &BoltDriver{db: db}, nil
}

// Get implements Driver.
func (d *BoltDriver) Get(_ context.Context, bucket, key string) ([]byte, error) {
	var out []byte
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return ErrNotFound
		}
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		// values are only valid inside the transaction
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Put implements Driver.
func (d *BoltDriver) Put(_ context.Context, bucket, key string, value []byte) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		return b.Put([]byte(key), value)
	})
}

// PutIfAbsent implements Driver. bbolt serializes write transactions, so the
// check and the write cannot interleave with another caller.
func (d *BoltDriver) PutIfAbsent(_ context.Context, bucket, key string, value []byte) ([]byte, bool, error) {
	var stored []byte
	var created bool
	err := d.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(bucket))
		if err != nil {
			return fmt.Errorf("create bucket %s: %w", bucket, err)
		}
		if v := b.Get([]byte(key)); v != nil {
			stored = append([]byte(nil), v...)
			return nil
		}
		if err := b.Put([]byte(key), value); err != nil {
			return err
		}
		stored, created = value, true
		return nil
	})
	return stored, created, err
}

// Scan implements Driver. Matches are collected first so fn runs outside
// the read transaction.
func (d *BoltDriver) Scan(ctx context.Context, bucket, prefix string, fn func(string, []byte) error) error {
	var pairs []pair
	err := d.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, v = c.Next() {
			pairs = append(pairs, pair{string(k), append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return err
	}

	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(p.key, p.value); err != nil {
			return err
		}
	}
	return nil
}

// DeletePrefix implements Driver.
func (d *BoltDriver) DeletePrefix(_ context.Context, bucket, prefix string) error {
	return d.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		if b == nil {
			return nil
		}
		var keys [][]byte
		c := b.Cursor()
		for k, _ := c.Seek([]byte(prefix)); k != nil && strings.HasPrefix(string(k), prefix); k, _ = c.Next() {
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

// Sync implements Driver.
func (d *BoltDriver) Sync(context.Context) error {
	return d.db.Sync()
}

// Close closes the database.
func (d *BoltDriver) Close() error {
	if d.db == nil {
		return nil
	}
	return d.db.Close()
}
