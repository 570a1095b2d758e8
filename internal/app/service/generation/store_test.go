package generation

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/fatflowers/clipmeter/internal/app/service/ledger"
	"github.com/fatflowers/clipmeter/internal/models"
	"github.com/fatflowers/clipmeter/pkg/types"
)

const (
	lockUserSQL   = `(?s)SELECT "id","credit_balance" FROM "users" WHERE id = \$1.*FOR UPDATE`
	quotaCountSQL = `(?s)SELECT count\(\*\) FROM "videos" WHERE .*"user_id" = \$1.*"created_at" >= \$2.*"created_at" <= \$3.*"status" <> \$4`
	holdCountSQL  = `(?s)SELECT count\(\*\) FROM "videos" WHERE .*"user_id" = \$1.*"funded_by" = \$2.*"committed_at" IS NULL.*"status" <> \$3`
	insertSQL     = `(?s)INSERT INTO "videos" .*RETURNING`
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

func pendingVideo(funding models.VideoFundingChannel) *models.Video {
	return &models.Video{
		ID:                  "0193f3c2-6a8e-7b3c-9d2e-1f0a2b3c4d5e",
		UserID:              "u1",
		Status:              models.VideoStatusProcessing,
		Prompt:              "a cat surfing",
		ClipDurationSeconds: 5,
		FundedBy:            funding,
		Extra:               map[string]any{},
	}
}

func lockedUser(balance int64) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "credit_balance"}).AddRow("u1", balance)
}

func TestGormReserve_QuotaRace(t *testing.T) {
	store, mock := newMockStore(t)
	period := types.Period{Start: now.AddDate(0, 0, -20), End: now.AddDate(0, 0, 10)}

	mock.ExpectBegin()
	mock.ExpectQuery(lockUserSQL).WillReturnRows(lockedUser(0))
	mock.ExpectQuery(quotaCountSQL).
		WithArgs("u1", period.Start, period.End, "failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(20))
	mock.ExpectRollback()

	err := store.Reserve(context.Background(), pendingVideo(models.VideoFundingQuota), &QuotaGuard{Limit: 20, Period: period}, 1)
	require.ErrorIs(t, err, ErrQuotaRace)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReserve_QuotaBelowLimitInserts(t *testing.T) {
	store, mock := newMockStore(t)
	period := types.Period{Start: now.AddDate(0, 0, -20), End: now.AddDate(0, 0, 10)}

	mock.ExpectBegin()
	mock.ExpectQuery(lockUserSQL).WillReturnRows(lockedUser(0))
	mock.ExpectQuery(quotaCountSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(19))
	mock.ExpectQuery(insertSQL).WillReturnRows(sqlmock.NewRows([]string{"video_url"}).AddRow(nil))
	mock.ExpectCommit()

	err := store.Reserve(context.Background(), pendingVideo(models.VideoFundingQuota), &QuotaGuard{Limit: 20, Period: period}, 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReserve_CreditHoldsExceedBalance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockUserSQL).WillReturnRows(lockedUser(1))
	// completed but not yet debited videos hold credit too; only failed ones release it
	mock.ExpectQuery(holdCountSQL).
		WithArgs("u1", "credit", "failed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectRollback()

	err := store.Reserve(context.Background(), pendingVideo(models.VideoFundingCredit), nil, 1)
	require.ErrorIs(t, err, ledger.ErrInsufficientCredit)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReserve_CreditWithinBalance(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockUserSQL).WillReturnRows(lockedUser(2))
	mock.ExpectQuery(holdCountSQL).WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(insertSQL).WillReturnRows(sqlmock.NewRows([]string{"video_url"}).AddRow(nil))
	mock.ExpectCommit()

	err := store.Reserve(context.Background(), pendingVideo(models.VideoFundingCredit), nil, 1)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGormReserve_UnknownUser(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockUserSQL).WillReturnRows(sqlmock.NewRows([]string{"id", "credit_balance"}))
	mock.ExpectRollback()

	err := store.Reserve(context.Background(), pendingVideo(models.VideoFundingCredit), nil, 1)
	require.ErrorIs(t, err, ledger.ErrUserNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
