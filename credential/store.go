package credential

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when no account matches.
var ErrNotFound = errors.New("user not found")

// ErrDuplicateEmail is returned when the email is already registered.
var ErrDuplicateEmail = errors.New("email already registered")

// Options tunes the connection pool opened by Open.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnectTimeout  time.Duration
}

// Store is the credential store. It is safe for concurrent use.
type Store struct {
	db      *sql.DB
	dialect Dialect
	now     func() time.Time
}

// NewStore wraps an existing handle. The caller keeps ownership of db.
func NewStore(db *sql.DB, dialect Dialect) *Store {
	return &Store{db: db, dialect: dialect, now: time.Now}
}

// Open connects to url, configures the pool and pings the database.
// SQLite handles are limited to a single connection.
func Open(ctx context.Context, url string, opts Options) (*Store, error) {
	dialect, dsn, err := ParseURL(url)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.driverName(), dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if dialect == DialectSQLite {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
	} else {
		if opts.MaxOpenConns > 0 {
			db.SetMaxOpenConns(opts.MaxOpenConns)
		}
		if opts.MaxIdleConns > 0 {
			db.SetMaxIdleConns(opts.MaxIdleConns)
		}
		if opts.ConnMaxLifetime > 0 {
			db.SetConnMaxLifetime(opts.ConnMaxLifetime)
		}
	}

	pingCtx := ctx
	if opts.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		pingCtx, cancel = context.WithTimeout(ctx, opts.ConnectTimeout)
		defer cancel()
	}
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("db error: %w", err)
	}

	if dialect == DialectSQLite {
		if _, err := db.ExecContext(ctx, `PRAGMA busy_timeout = 5000;`); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("db error: %w", err)
		}
	}

	return NewStore(db, dialect), nil
}

// Dialect reports the SQL flavour of the store.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

const userColumns = `id, email, password_hash, role, created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (User, error) {
	var (
		u                User
		role             string
		created, updated int64
	)
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &role, &created, &updated); err != nil {
		return User{}, err
	}
	u.Role = Role(role)
	u.CreatedAt = time.UnixMilli(created).UTC()
	u.UpdatedAt = time.UnixMilli(updated).UTC()
	return u, nil
}

// Create inserts a new account with a fresh UUID.
func (s *Store) Create(ctx context.Context, nu NewUser) (User, error) {
	role := nu.Role
	if role == "" {
		role = RoleUser
	}
	if !role.Valid() {
		return User{}, fmt.Errorf("unknown role %q", role)
	}

	now := s.now().UTC().Truncate(time.Millisecond)
	u := User{
		ID:           uuid.NewString(),
		Email:        nu.Email,
		PasswordHash: nu.PasswordHash,
		Role:         role,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	query := s.dialect.rebind(
		`INSERT INTO users (` + userColumns + `)
		 VALUES (?, ?, ?, ?, ?, ?)`)

	_, err := s.db.ExecContext(ctx, query,
		u.ID, u.Email, u.PasswordHash, string(u.Role), now.UnixMilli(), now.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return User{}, ErrDuplicateEmail
		}
		return User{}, fmt.Errorf("db error: %w", err)
	}

	return u, nil
}

// GetByEmail loads an account by its normalized email.
func (s *Store) GetByEmail(ctx context.Context, email string) (User, error) {
	query := s.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE email = ?`)
	return s.getOne(ctx, query, email)
}

// GetByID loads an account by id.
func (s *Store) GetByID(ctx context.Context, id string) (User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return User{}, ErrNotFound
	}
	query := s.dialect.rebind(`SELECT ` + userColumns + ` FROM users WHERE id = ?`)
	return s.getOne(ctx, query, id)
}

func (s *Store) getOne(ctx context.Context, query string, arg any) (User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("db error: %w", err)
	}
	return u, nil
}

// Update applies the non-nil fields of c to account id and bumps updated_at.
func (s *Store) Update(ctx context.Context, id string, c Changes) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}

	var (
		sets []string
		args []any
	)
	if c.Email != nil {
		sets = append(sets, "email = ?")
		args = append(args, *c.Email)
	}
	if c.PasswordHash != nil {
		sets = append(sets, "password_hash = ?")
		args = append(args, *c.PasswordHash)
	}
	if c.Role != nil {
		if !c.Role.Valid() {
			return fmt.Errorf("unknown role %q", *c.Role)
		}
		sets = append(sets, "role = ?")
		args = append(args, string(*c.Role))
	}
	sets = append(sets, "updated_at_ms = ?")
	args = append(args, s.now().UnixMilli(), id)

	query := s.dialect.rebind(`UPDATE users SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateEmail
		}
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplacePasswordHash swaps the stored hash only while it still equals
// oldHash. It reports whether the row was changed.
func (s *Store) ReplacePasswordHash(ctx context.Context, id, oldHash, newHash string) (bool, error) {
	query := s.dialect.rebind(
		`UPDATE users SET password_hash = ?, updated_at_ms = ?
		 WHERE id = ? AND password_hash = ?`)

	res, err := s.db.ExecContext(ctx, query, newHash, s.now().UnixMilli(), id, oldHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

// Delete removes account id.
func (s *Store) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	query := s.dialect.rebind(`DELETE FROM users WHERE id = ?`)

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteMatching removes every account matching f in one transaction and
// returns the removed ids. No match is not an error.
func (s *Store) DeleteMatching(ctx context.Context, f Filter) (ids []string, err error) {
	if f.IsZero() {
		return nil, fmt.Errorf("%w: empty", ErrInvalidFilter)
	}
	cond, args := f.where()
	query := s.dialect.rebind(`DELETE FROM users WHERE ` + cond + ` RETURNING id`)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	ids = []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	if err := rows.Close(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return ids, nil
}
