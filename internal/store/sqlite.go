package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dailymed-etl/internal/model"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

var (
	_ Repository = (*SQLRepository)(nil)
	_ Replacer   = (*SQLRepository)(nil)
)

const schema = `
CREATE TABLE IF NOT EXISTS daily_med_indications (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	indication  TEXT NOT NULL,
	description TEXT NOT NULL,
	code        TEXT NOT NULL
)`

const insertIndication = `INSERT INTO daily_med_indications (indication, description, code) VALUES (?, ?, ?)`

// SQLRepository stores indications in a SQL table. Replace runs inside a
// single transaction.
type SQLRepository struct {
	db *sqlx.DB
}

// NewSQLRepository wraps an open database. The caller owns db.
func NewSQLRepository(db *sqlx.DB) *SQLRepository {
	return &SQLRepository{db: db}
}

// OpenSQLite opens (and creates when needed) the SQLite database at dsn and
// applies the schema.
func OpenSQLite(ctx context.Context, dsn string) (*SQLRepository, error) {
	if dir := sqliteDir(dsn); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single connection also keeps :memory:
	// databases shared across calls.
	db.SetMaxOpenConns(1)

	repo := NewSQLRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// sqliteDir returns the directory holding a file-backed DSN, or "".
func sqliteDir(dsn string) string {
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// Migrate creates the indications table if it does not exist.
func (r *SQLRepository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Close releases the underlying database.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

func (r *SQLRepository) FindAll(ctx context.Context, query string) ([]model.Indication, error) {
	rows := []model.Indication{}

	q := `SELECT id, indication, description, code FROM daily_med_indications`
	var args []any
	if query != "" {
		q += ` WHERE indication LIKE ? OR description LIKE ? OR code LIKE ?`
		like := "%" + query + "%"
		args = []any{like, like, like}
	}
	q += ` ORDER BY id`

	if err := r.db.SelectContext(ctx, &rows, q, args...); err != nil {
		return nil, fmt.Errorf("list indications: %w", err)
	}
	return rows, nil
}

func (r *SQLRepository) FindByID(ctx context.Context, id int64) (model.Indication, error) {
	var ind model.Indication
	err := r.db.GetContext(ctx, &ind,
		`SELECT id, indication, description, code FROM daily_med_indications WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Indication{}, ErrNotFound
	}
	if err != nil {
		return model.Indication{}, fmt.Errorf("get indication %d: %w", id, err)
	}
	return ind, nil
}

func (r *SQLRepository) Create(ctx context.Context, ind *model.Indication) error {
	res, err := r.db.ExecContext(ctx, insertIndication, ind.Indication, ind.Description, ind.Code)
	if err != nil {
		return fmt.Errorf("insert indication: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("%w: read inserted id: %w", ErrWriteApplied, err)
	}
	ind.ID = id
	return nil
}

func (r *SQLRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM daily_med_indications WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete indication %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete indication %d: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// Replace deletes every row and inserts inds in one transaction. On error
// the transaction is rolled back and the previous rows remain.
func (r *SQLRepository) Replace(ctx context.Context, inds []model.Indication) (err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM daily_med_indications`); err != nil {
		return fmt.Errorf("clear indications: %w", err)
	}

	for _, ind := range inds {
		if _, err = tx.ExecContext(ctx, insertIndication, ind.Indication, ind.Description, ind.Code); err != nil {
			return fmt.Errorf("insert indication %q: %w", ind.Indication, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}
	return nil
}
