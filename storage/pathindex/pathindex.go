// Package pathindex implements the Path Index: the embedded relational
// database that maps a bucket's paths to path-derived hashes and tracks
// trash/favorite state.
//
// The index is a single modernc.org/sqlite file per bucket. Every
// mutating operation below takes an already-open *sql.Tx and never calls
// Commit or Rollback itself — the Bucket Engine owns transaction
// boundaries so an index update and its matching filesystem operation
// commit or roll back together.
package pathindex

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"

	pkgerrors "github.com/omalloc/depot/pkg/errors"
)

//go:embed schema.sql
var schema string

// Row is one paths-table record joined with its trash/favorite state.
type Row struct {
	Hash       string
	Path       string
	IsDir      bool
	IsFavorite bool
	IsDeleted  bool
	DeleteTime int64
}

// PathIndex wraps one bucket's path-index database.
type PathIndex struct {
	db *sql.DB
}

// Init creates dsn's schema. Init is not idempotent: calling it again on
// an already-initialized database is an error, since a second init on a
// live bucket almost always indicates the caller lost track of bucket
// state rather than genuinely wanting a fresh index.
func Init(dsn string) error {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return pkgerrors.IO(err)
	}
	defer db.Close()

	var exists int
	err = db.QueryRow(`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='paths'`).Scan(&exists)
	if err != nil {
		return pkgerrors.IO(err)
	}
	if exists > 0 {
		return pkgerrors.ErrAlreadyExists.WithMessage("path index already initialized at %s", dsn)
	}

	if _, err := db.Exec(schema); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// Open opens an already-initialized path index. The connection pool is
// capped at one connection so PRAGMA foreign_keys stays in effect for
// every statement without per-connection bookkeeping.
func Open(dsn string) (*PathIndex, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		db.Close()
		return nil, pkgerrors.IO(err)
	}
	return &PathIndex{db: db}, nil
}

// Close releases the underlying database handle.
func (pi *PathIndex) Close() error {
	return pi.db.Close()
}

// Begin starts a transaction for a single Bucket Engine operation.
func (pi *PathIndex) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := pi.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	return tx, nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// AddKey inserts a new path/hash pair. It fails with ErrAlreadyExists if
// either the path or the hash is already present — the latter is a hash
// collision.
func (pi *PathIndex) AddKey(ctx context.Context, tx *sql.Tx, hash, path string, isDir bool) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO paths (hash, path, is_dir) VALUES (?, ?, ?)`, hash, path, boolToInt(isDir))
	if isUniqueViolation(err) {
		return pkgerrors.ErrAlreadyExists.WithMessage("path or hash already indexed: %s", path)
	}
	if err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// GetPath resolves hash to its current path. Fails with ErrNotFound if
// hash is not indexed.
func (pi *PathIndex) GetPath(ctx context.Context, tx *sql.Tx, hash string) (string, error) {
	row, err := pi.getRow(ctx, tx, hash)
	if err != nil {
		return "", err
	}
	return row.Path, nil
}

// GetRow returns the full indexed state for hash, including trash and
// favorite flags.
func (pi *PathIndex) GetRow(ctx context.Context, tx *sql.Tx, hash string) (Row, error) {
	return pi.getRow(ctx, tx, hash)
}

func (pi *PathIndex) getRow(ctx context.Context, tx *sql.Tx, hash string) (Row, error) {
	var (
		row        Row
		isDir      int
		deleteTime sql.NullString
		isFav      sql.NullString
	)
	err := tx.QueryRowContext(ctx, `
		SELECT p.hash, p.path, p.is_dir, d.delete_time, f.hash
		FROM paths p
		LEFT JOIN delete_paths d ON d.hash = p.hash
		LEFT JOIN favorite_paths f ON f.hash = p.hash
		WHERE p.hash = ?`, hash).Scan(&row.Hash, &row.Path, &isDir, &deleteTime, &isFav)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, pkgerrors.ErrNotFound.WithMessage("hash not indexed: %s", hash)
	}
	if err != nil {
		return Row{}, pkgerrors.IO(err)
	}
	row.IsDir = isDir != 0
	row.IsFavorite = isFav.Valid
	if deleteTime.Valid {
		row.IsDeleted = true
		fmt.Sscanf(deleteTime.String, "%d", &row.DeleteTime)
	}
	return row, nil
}

// ByPath resolves an exact path to its row; subtree uses it to find the
// root row of a rename/move/copy.
func (pi *PathIndex) ByPath(ctx context.Context, tx *sql.Tx, path string) (Row, error) {
	var hash string
	err := tx.QueryRowContext(ctx, `SELECT hash FROM paths WHERE path = ?`, path).Scan(&hash)
	if errors.Is(err, sql.ErrNoRows) {
		return Row{}, pkgerrors.ErrNotFound.WithMessage("path not indexed: %s", path)
	}
	if err != nil {
		return Row{}, pkgerrors.IO(err)
	}
	return pi.getRow(ctx, tx, hash)
}

// Renamed describes one row touched by UpdatePaths or CopyPaths.
type Renamed struct {
	OldHash string
	NewHash string
	OldPath string
	NewPath string
	IsDir   bool
}

// HashFunc recomputes a row's hash after its path changes. Callers outside
// this package supply the hash function so pathindex has no dependency on
// pkg/hash's specific algorithm.
type HashFunc func(path string, isDir bool) string

// UpdatePaths renames oldPrefix to newPrefix in place: the row at
// oldPrefix and, if it is a directory, every row nested under it. Each
// affected row's hash is recomputed from its new path.
func (pi *PathIndex) UpdatePaths(ctx context.Context, tx *sql.Tx, oldPrefix, newPrefix string, hashFn HashFunc) ([]Renamed, error) {
	rows, err := pi.subtree(ctx, tx, oldPrefix)
	if err != nil {
		return nil, err
	}

	renamed := make([]Renamed, 0, len(rows))
	for _, r := range rows {
		newPath := newPrefix + strings.TrimPrefix(r.Path, oldPrefix)
		newHash := hashFn(newPath, r.IsDir)
		if _, err := tx.ExecContext(ctx,
			`UPDATE paths SET hash = ?, path = ? WHERE hash = ?`, newHash, newPath, r.Hash); err != nil {
			return nil, pkgerrors.IO(err)
		}
		renamed = append(renamed, Renamed{
			OldHash: r.Hash, NewHash: newHash,
			OldPath: r.Path, NewPath: newPath, IsDir: r.IsDir,
		})
	}
	return renamed, nil
}

// CopyPaths inserts a new row for fromPrefix (and, if it is a directory,
// every row nested under it) under toPrefix, leaving the originals
// untouched.
func (pi *PathIndex) CopyPaths(ctx context.Context, tx *sql.Tx, fromPrefix, toPrefix string, hashFn HashFunc) ([]Renamed, error) {
	rows, err := pi.subtree(ctx, tx, fromPrefix)
	if err != nil {
		return nil, err
	}

	copied := make([]Renamed, 0, len(rows))
	for _, r := range rows {
		newPath := toPrefix + strings.TrimPrefix(r.Path, fromPrefix)
		newHash := hashFn(newPath, r.IsDir)
		if err := pi.AddKey(ctx, tx, newHash, newPath, r.IsDir); err != nil {
			return nil, err
		}
		copied = append(copied, Renamed{
			OldHash: r.Hash, NewHash: newHash,
			OldPath: r.Path, NewPath: newPath, IsDir: r.IsDir,
		})
	}
	return copied, nil
}

// subtree returns the row at prefix plus, for a directory, every row
// whose path is nested under it, ordered so parents precede children.
func (pi *PathIndex) subtree(ctx context.Context, tx *sql.Tx, prefix string) ([]Row, error) {
	root, err := pi.ByPath(ctx, tx, prefix)
	if err != nil {
		return nil, err
	}
	if !root.IsDir {
		return []Row{root}, nil
	}

	rows, err := tx.QueryContext(ctx,
		`SELECT hash, path, is_dir FROM paths WHERE path LIKE ? ORDER BY path`, prefix+"%")
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	defer rows.Close()

	out := []Row{root}
	for rows.Next() {
		var r Row
		var isDir int
		if err := rows.Scan(&r.Hash, &r.Path, &isDir); err != nil {
			return nil, pkgerrors.IO(err)
		}
		if r.Path == prefix {
			continue
		}
		r.IsDir = isDir != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.IO(err)
	}
	return out, nil
}

// ListChildren returns the direct children of the directory at prefix
// (one path segment deep), used by the Bucket Engine's get_items.
func (pi *PathIndex) ListChildren(ctx context.Context, tx *sql.Tx, prefix string) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT p.hash, p.path, p.is_dir, d.delete_time
		FROM paths p
		LEFT JOIN delete_paths d ON d.hash = p.hash
		WHERE p.path LIKE ? AND p.path != ?
		ORDER BY p.path`, prefix+"%", prefix)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			isDir      int
			deleteTime sql.NullString
		)
		if err := rows.Scan(&r.Hash, &r.Path, &isDir, &deleteTime); err != nil {
			return nil, pkgerrors.IO(err)
		}
		rest := strings.TrimSuffix(strings.TrimPrefix(r.Path, prefix), "/")
		if strings.Contains(rest, "/") {
			continue
		}
		r.IsDir = isDir != 0
		if deleteTime.Valid {
			r.IsDeleted = true
			fmt.Sscanf(deleteTime.String, "%d", &r.DeleteTime)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, pkgerrors.IO(err)
	}
	return out, nil
}

// SetFavorite marks hash as a favorite. Idempotent: marking an
// already-favorite hash again is a no-op.
func (pi *PathIndex) SetFavorite(ctx context.Context, tx *sql.Tx, hash string) error {
	_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO favorite_paths (hash) VALUES (?)`, hash)
	if err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// UnsetFavorite clears hash's favorite mark. Unmarking a non-favorite is
// a no-op.
func (pi *PathIndex) UnsetFavorite(ctx context.Context, tx *sql.Tx, hash string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM favorite_paths WHERE hash = ?`, hash); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// GetFavorites lists every favorited row, including its current trash
// state so callers can filter out favorites that are also soft-deleted.
func (pi *PathIndex) GetFavorites(ctx context.Context, tx *sql.Tx) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT p.hash, p.path, p.is_dir, d.delete_time
		FROM paths p
		JOIN favorite_paths f ON f.hash = p.hash
		LEFT JOIN delete_paths d ON d.hash = p.hash
		ORDER BY p.path`)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var (
			r          Row
			isDir      int
			deleteTime sql.NullString
		)
		if err := rows.Scan(&r.Hash, &r.Path, &isDir, &deleteTime); err != nil {
			return nil, pkgerrors.IO(err)
		}
		r.IsDir = isDir != 0
		r.IsFavorite = true
		if deleteTime.Valid {
			r.IsDeleted = true
			fmt.Sscanf(deleteTime.String, "%d", &r.DeleteTime)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// SetDelete moves hash into the trash with the given expiry timestamp
// (unix seconds). Re-deleting an already-trashed hash refreshes its
// expiry.
func (pi *PathIndex) SetDelete(ctx context.Context, tx *sql.Tx, hash string, expiresAt int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO delete_paths (hash, delete_time) VALUES (?, ?)
		ON CONFLICT(hash) DO UPDATE SET delete_time = excluded.delete_time`,
		hash, fmt.Sprintf("%d", expiresAt))
	if err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// RestoreDelete removes hash from the trash.
func (pi *PathIndex) RestoreDelete(ctx context.Context, tx *sql.Tx, hash string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM delete_paths WHERE hash = ?`, hash); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// GetDeletes lists every trashed row.
func (pi *PathIndex) GetDeletes(ctx context.Context, tx *sql.Tx) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT p.hash, p.path, p.is_dir, d.delete_time
		FROM paths p JOIN delete_paths d ON d.hash = p.hash
		ORDER BY p.path`)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var isDir int
		var deleteTime string
		if err := rows.Scan(&r.Hash, &r.Path, &isDir, &deleteTime); err != nil {
			return nil, pkgerrors.IO(err)
		}
		r.IsDir = isDir != 0
		r.IsDeleted = true
		fmt.Sscanf(deleteTime, "%d", &r.DeleteTime)
		out = append(out, r)
	}
	return out, rows.Err()
}

// RemoveTrash permanently removes a trashed row (and, via cascade, its
// delete/favorite state). The caller must already have removed the
// matching filesystem entry.
func (pi *PathIndex) RemoveTrash(ctx context.Context, tx *sql.Tx, hash string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM delete_paths WHERE hash = ?`, hash); err != nil {
		return pkgerrors.IO(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE hash = ?`, hash); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

// RemoveExpired returns every trashed row whose delete_time is at or
// before now, without removing anything. The engine sweeps the matching
// filesystem entries and then calls RemoveTrash for each.
func (pi *PathIndex) RemoveExpired(ctx context.Context, tx *sql.Tx, now int64) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT p.hash, p.path, p.is_dir, d.delete_time
		FROM paths p JOIN delete_paths d ON d.hash = p.hash
		WHERE CAST(d.delete_time AS INTEGER) <= ?
		ORDER BY d.delete_time`, now)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var isDir int
		var deleteTime string
		if err := rows.Scan(&r.Hash, &r.Path, &isDir, &deleteTime); err != nil {
			return nil, pkgerrors.IO(err)
		}
		r.IsDir = isDir != 0
		r.IsDeleted = true
		fmt.Sscanf(deleteTime, "%d", &r.DeleteTime)
		out = append(out, r)
	}
	return out, rows.Err()
}

// AllPaths returns every indexed row, used by the Bucket Engine's
// Reconcile.
func (pi *PathIndex) AllPaths(ctx context.Context, tx *sql.Tx) ([]Row, error) {
	rows, err := tx.QueryContext(ctx, `SELECT hash, path, is_dir FROM paths ORDER BY path`)
	if err != nil {
		return nil, pkgerrors.IO(err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		var r Row
		var isDir int
		if err := rows.Scan(&r.Hash, &r.Path, &isDir); err != nil {
			return nil, pkgerrors.IO(err)
		}
		r.IsDir = isDir != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

// ClearTrash returns every currently trashed row and deletes its paths
// row (cascading to its delete/favorite sidecars). The caller removes the
// matching filesystem entries.
func (pi *PathIndex) ClearTrash(ctx context.Context, tx *sql.Tx) ([]Row, error) {
	rows, err := pi.GetDeletes(ctx, tx)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE hash = ?`, r.Hash); err != nil {
			return nil, pkgerrors.IO(err)
		}
	}
	return rows, nil
}

// Remove deletes hash's row outright (non-trashed removal), cascading to
// any delete/favorite state it happened to have.
func (pi *PathIndex) Remove(ctx context.Context, tx *sql.Tx, hash string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM paths WHERE hash = ?`, hash); err != nil {
		return pkgerrors.IO(err)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
