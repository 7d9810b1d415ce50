package credential

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func newPostgresWithMock(t *testing.T) (*Store, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewStore(db, DialectPostgres), mock, db
}

const testUserID = "6f1c1b3e-0d43-4b8e-9f5a-2f3c4d5e6a7b"

func TestPostgresCreate_Success(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+users\s*\(id,\s*email,\s*password_hash,\s*role,\s*created_at_ms,\s*updated_at_ms\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6\)\s*$`
	mock.ExpectExec(q).
		WithArgs(sqlmock.AnyArg(), "alice@example.com", "phc", "user", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	u, err := store.Create(context.Background(), NewUser{Email: "alice@example.com", PasswordHash: "phc"})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
	if u.Email != "alice@example.com" || u.Role != RoleUser || u.ID == "" {
		t.Fatalf("unexpected user: %+v", u)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresCreate_UniqueViolation(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "uq_users_email"})

	_, err := store.Create(context.Background(), NewUser{Email: "alice@example.com", PasswordHash: "phc"})
	if !errors.Is(err, ErrDuplicateEmail) {
		t.Fatalf("want ErrDuplicateEmail, got %v", err)
	}
}

func TestPostgresCreate_DBError(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+users`).
		WillReturnError(&pgconn.PgError{Code: "53300", Message: "too many connections"})

	_, err := store.Create(context.Background(), NewUser{Email: "alice@example.com", PasswordHash: "phc"})
	if err == nil || !regexp.MustCompile(`db error: .*too many connections`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgresGetByEmail(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*email,\s*password_hash,\s*role,\s*created_at_ms,\s*updated_at_ms\s+FROM\s+users\s+WHERE\s+email\s*=\s*\$1\s*$`
	rows := sqlmock.NewRows([]string{"id", "email", "password_hash", "role", "created_at_ms", "updated_at_ms"}).
		AddRow(testUserID, "alice@example.com", "phc", "admin", int64(1700000000000), int64(1700000000000))
	mock.ExpectQuery(q).WithArgs("alice@example.com").WillReturnRows(rows)

	u, err := store.GetByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("GetByEmail error: %v", err)
	}
	if u.ID != testUserID || u.Role != RoleAdmin || u.CreatedAt.UnixMilli() != 1700000000000 {
		t.Fatalf("unexpected user: %+v", u)
	}

	mock.ExpectQuery(q).WithArgs("ghost@example.com").WillReturnError(sql.ErrNoRows)
	if _, err := store.GetByEmail(context.Background(), "ghost@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresUpdate(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+users\s+SET\s+email\s*=\s*\$1,\s*updated_at_ms\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$3\s*$`
	mock.ExpectExec(q).
		WithArgs("new@example.com", sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 1))

	email := "new@example.com"
	if err := store.Update(context.Background(), testUserID, Changes{Email: &email}); err != nil {
		t.Fatalf("Update error: %v", err)
	}

	mock.ExpectExec(q).
		WithArgs("new@example.com", sqlmock.AnyArg(), testUserID).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Update(context.Background(), testUserID, Changes{Email: &email}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestPostgresDelete(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+users\s+WHERE\s+id\s*=\s*\$1\s*$`
	mock.ExpectExec(q).WithArgs(testUserID).WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Delete(context.Background(), testUserID); err != nil {
		t.Fatalf("Delete error: %v", err)
	}

	mock.ExpectExec(q).WithArgs(testUserID).WillReturnError(errors.New("conn reset"))
	err := store.Delete(context.Background(), testUserID)
	if err == nil || !regexp.MustCompile(`db error: .*conn reset`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPostgresDeleteMatching(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	q := `(?s)^DELETE\s+FROM\s+users\s+WHERE\s+email\s+LIKE\s+\$1\s+ESCAPE\s+'\\'\s+AND\s+role\s*=\s*\$2\s+RETURNING\s+id\s*$`
	mock.ExpectBegin()
	mock.ExpectQuery(q).
		WithArgs("%@example.com", "user").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("id-1").AddRow("id-2"))
	mock.ExpectCommit()

	f, err := ParseFilter("email:*@example.com role:user")
	if err != nil {
		t.Fatalf("ParseFilter error: %v", err)
	}
	ids, err := store.DeleteMatching(context.Background(), f)
	if err != nil {
		t.Fatalf("DeleteMatching error: %v", err)
	}
	if len(ids) != 2 || ids[0] != "id-1" || ids[1] != "id-2" {
		t.Fatalf("unexpected ids: %v", ids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPostgresDeleteMatching_RollbackOnError(t *testing.T) {
	store, mock, db := newPostgresWithMock(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^DELETE\s+FROM\s+users`).WillReturnError(errors.New("boom"))
	mock.ExpectRollback()

	_, err := store.DeleteMatching(context.Background(), Filter{Role: RoleUser})
	if err == nil {
		t.Fatal("expected error")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
