package database

import (
	"database/sql"
	"errors"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// GetCacheEntry reads a cache row. A zero expires means the entry never
// expires.
func (db *DB) GetCacheEntry(namespace, key string) ([]byte, time.Time, bool, error) {
	var value []byte
	var expires int64
	err := sq.Select("value", "expires_at").From("cache_entries").
		Where(sq.Eq{"namespace": namespace, "key": key}).
		RunWith(db.conn).QueryRow().Scan(&value, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, time.Time{}, false, nil
	}
	if err != nil {
		return nil, time.Time{}, false, err
	}
	var at time.Time
	if expires > 0 {
		at = time.Unix(0, expires)
	}
	return value, at, true, nil
}

// PutCacheEntry upserts a cache row.
func (db *DB) PutCacheEntry(namespace, key string, value []byte, expires time.Time) error {
	var at int64
	if !expires.IsZero() {
		at = expires.UnixNano()
	}
	_, err := sq.Replace("cache_entries").
		Columns("namespace", "key", "value", "expires_at").
		Values(namespace, key, value, at).
		RunWith(db.conn).Exec()
	return err
}

// DeleteCacheEntry removes a cache row.
func (db *DB) DeleteCacheEntry(namespace, key string) error {
	_, err := sq.Delete("cache_entries").
		Where(sq.Eq{"namespace": namespace, "key": key}).
		RunWith(db.conn).Exec()
	return err
}

// PurgeCache deletes expired rows, or every row when all is set. It returns
// the number of rows removed.
func (db *DB) PurgeCache(all bool, now time.Time) (int64, error) {
	q := sq.Delete("cache_entries")
	if !all {
		q = q.Where(sq.And{sq.Gt{"expires_at": 0}, sq.LtOrEq{"expires_at": now.UnixNano()}})
	}
	result, err := q.RunWith(db.conn).Exec()
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
