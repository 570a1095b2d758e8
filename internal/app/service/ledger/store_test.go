package ledger

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fatflowers/clipmeter/pkg/types"
)

const (
	balanceUpdateSQL = `(?s)UPDATE "users" SET "credit_balance"=credit_balance \+ \$1 WHERE .*id = \$2 AND credit_balance \+ \$3 >= 0.*RETURNING "credit_balance"`
	userCountSQL     = `(?s)SELECT count\(\*\) FROM "users" WHERE id = \$1`
	refCountSQL      = `(?s)SELECT count\(\*\) FROM "credit_transactions" WHERE kind = \$1 AND reference_id = \$2`
	insertSQL        = `(?s)INSERT INTO "credit_transactions" .*RETURNING`
)

func newMockStore(t *testing.T) (Store, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	return NewGormStore(gdb), mock
}

func debitEntry(ref string) *Entry {
	return &Entry{UserID: "u1", Amount: -1, Kind: types.CreditKindVideoCreation, Description: "video creation", ReferenceID: &ref}
}

func TestGormApply_Debit(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(balanceUpdateSQL).
		WithArgs(int64(-1), "u1", int64(-1)).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(int64(2)))
	mock.ExpectQuery(insertSQL).
		WillReturnRows(sqlmock.NewRows([]string{"reference_id", "extra"}).AddRow("video-1", []byte("{}")))
	mock.ExpectCommit()

	row, err := store.Apply(context.Background(), debitEntry("video-1"))
	require.NoError(t, err)
	require.EqualValues(t, 2, row.BalanceAfter)
	require.EqualValues(t, -1, row.Amount)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormApply_RefusesOverdraw(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	// the conditional update matches no row when the balance would go negative
	mock.ExpectQuery(balanceUpdateSQL).WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(userCountSQL).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(refCountSQL).WithArgs("video_creation", "video-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err := store.Apply(context.Background(), debitEntry("video-1"))
	require.ErrorIs(t, err, ErrInsufficientCredit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormApply_RefusedWithoutReferenceSkipsLookup(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(balanceUpdateSQL).WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(userCountSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.Apply(context.Background(), &Entry{UserID: "u1", Amount: -5, Kind: types.CreditKindVideoCreation})
	require.ErrorIs(t, err, ErrInsufficientCredit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormApply_UserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(balanceUpdateSQL).WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(userCountSQL).WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectRollback()

	_, err := store.Apply(context.Background(), debitEntry("video-1"))
	require.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormApply_DuplicateReference(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(balanceUpdateSQL).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}).AddRow(int64(2)))
	mock.ExpectQuery(insertSQL).WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"})
	// the balance change is undone with the rest of the transaction
	mock.ExpectRollback()

	_, err := store.Apply(context.Background(), debitEntry("video-1"))
	require.ErrorIs(t, err, ErrDuplicateEntry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormApply_RetriedDebitAfterBalanceSpent(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectBegin()
	mock.ExpectQuery(balanceUpdateSQL).WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))
	mock.ExpectQuery(userCountSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(refCountSQL).WithArgs("video_creation", "video-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	_, err := store.Apply(context.Background(), debitEntry("video-1"))
	require.ErrorIs(t, err, ErrDuplicateEntry)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormBalance_UserNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	mock.ExpectQuery(`(?s)SELECT "credit_balance" FROM "users" WHERE id = \$1`).
		WithArgs("ghost", 1).
		WillReturnRows(sqlmock.NewRows([]string{"credit_balance"}))

	_, err := store.Balance(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
