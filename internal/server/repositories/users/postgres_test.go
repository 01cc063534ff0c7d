package users

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/P-T-/OpenCoins/internal/common"
	"github.com/P-T-/OpenCoins/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var accountColumns = []string{"id", "username", "display_name", "password_record", "ip_address", "balance", "created_at"}

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+users\s*\(username,\s*display_name,\s*password_record,\s*ip_address,\s*balance\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5\)\s*RETURNING\s+id,\s*created_at$`

	now := time.Now()
	mock.ExpectQuery(q).
		WithArgs("alice", "Alice", "rec", "10.0.0.1", int64(0)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow("u-1", now))

	a := &models.Account{Username: "alice", DisplayName: "Alice", PasswordRecord: "rec", IPAddress: "10.0.0.1"}
	got, err := repo.Create(context.Background(), a)
	require.NoError(t, err)
	assert.Equal(t, "u-1", got.ID)
	assert.Equal(t, now, got.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolations(t *testing.T) {
	tests := []struct {
		constraint string
		want       error
	}{
		{"users_username_key", common.ErrUsernameTaken},
		{"users_display_name_key", common.ErrDisplayNameTaken},
		{"users_pkey", common.ErrorAlreadyExists},
	}

	for _, tt := range tests {
		t.Run(tt.constraint, func(t *testing.T) {
			repo, mock, db := newRepoWithMock(t)
			defer db.Close()

			mock.ExpectQuery(`INSERT\s+INTO\s+users`).
				WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: tt.constraint})

			_, err := repo.Create(context.Background(), &models.Account{Username: "alice", DisplayName: "Alice"})
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`INSERT\s+INTO\s+users`).WillReturnError(errors.New("db down"))

	_, err := repo.Create(context.Background(), &models.Account{Username: "alice"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestFind_ByUsername(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,.*FROM\s+users\s+WHERE\s+username\s*=\s*\$1$`
	rows := sqlmock.NewRows(accountColumns).AddRow("u-1", "alice", "Alice", "rec", "", int64(42), time.Now())
	mock.ExpectQuery(q).WithArgs("alice").WillReturnRows(rows)

	got, err := repo.Find(context.Background(), models.AccountFilter{Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Username)
	assert.Equal(t, int64(42), got.Balance)
}

func TestFind_ByBothFields(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)WHERE\s+username\s*=\s*\$1\s+AND\s+display_name\s*=\s*\$2$`
	rows := sqlmock.NewRows(accountColumns).AddRow("u-1", "alice", "Alice", "rec", "", int64(0), time.Now())
	mock.ExpectQuery(q).WithArgs("alice", "Alice").WillReturnRows(rows)

	_, err := repo.Find(context.Background(), models.AccountFilter{Username: "alice", DisplayName: "Alice"})
	require.NoError(t, err)
}

func TestFind_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectQuery(`WHERE\s+display_name\s*=\s*\$1$`).WithArgs("Ghost").WillReturnError(sql.ErrNoRows)

	_, err := repo.Find(context.Background(), models.AccountFilter{DisplayName: "Ghost"})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFind_EmptyFilter(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	_, err := repo.Find(context.Background(), models.AccountFilter{})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestFindForUpdate(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)WHERE\s+username\s*=\s*\$1\s+FOR\s+UPDATE$`
	rows := sqlmock.NewRows(accountColumns).AddRow("u-1", "alice", "Alice", "rec", "", int64(7), time.Now())
	mock.ExpectQuery(q).WithArgs("alice").WillReturnRows(rows)

	got, err := repo.FindForUpdate(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Balance)
}

func TestUpdate_WritesOnlyNamedFields(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `^UPDATE\s+users\s+SET\s+balance\s*=\s*\$1,\s*ip_address\s*=\s*\$2\s+WHERE\s+username\s*=\s*\$3$`
	mock.ExpectExec(q).WithArgs(int64(50), "1.2.3.4", "alice").WillReturnResult(sqlmock.NewResult(0, 1))

	a := &models.Account{Username: "alice", DisplayName: "ignored", Balance: 50, IPAddress: "1.2.3.4"}
	err := repo.Update(context.Background(), a, []models.AccountField{models.FieldBalance, models.FieldIPAddress, models.FieldBalance})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_NoFieldsIsNoop(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	require.NoError(t, repo.Update(context.Background(), &models.Account{Username: "alice"}, nil))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_UnknownField(t *testing.T) {
	repo, _, db := newRepoWithMock(t)
	defer db.Close()

	err := repo.Update(context.Background(), &models.Account{Username: "alice"}, []models.AccountField{"username"})
	assert.ErrorIs(t, err, common.ErrInvalidArgument)
}

func TestUpdate_Missing(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^UPDATE\s+users`).WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Update(context.Background(), &models.Account{Username: "ghost"}, []models.AccountField{models.FieldBalance})
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestDelete(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(`^DELETE\s+FROM\s+users\s+WHERE\s+username\s*=\s*\$1$`).WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`^DELETE\s+FROM\s+users`).WithArgs("alice").WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.Delete(context.Background(), "alice"))
	assert.ErrorIs(t, repo.Delete(context.Background(), "alice"), common.ErrorNotFound)
}
