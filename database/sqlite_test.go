package database

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gridwatt/smart-meter-server/models"
)

func TestSQLiteClientExistsNoRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT token_hash FROM clients`).
		WithArgs("7").
		WillReturnRows(sqlmock.NewRows([]string{"token_hash"}))

	store := NewSQLiteStore(db)
	hash, err := store.ClientExists("7")
	require.NoError(t, err)
	assert.Empty(t, hash)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLastReading(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	when := time.Date(2024, time.March, 15, 10, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT COUNT\(1\) FROM clients`).
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT reading, reading_time`).
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{"reading", "reading_time"}).AddRow(12.5, when))

	store := NewSQLiteStore(db)
	reading, err := store.LastReading("0")
	require.NoError(t, err)
	require.NotNil(t, reading)
	assert.Equal(t, 12.5, reading.Reading)
	assert.True(t, reading.Time.Equal(when))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteLastBillParsesPeriod(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM clients`).
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`SELECT actual_usage, standing_charge`).
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{
			"actual_usage", "standing_charge", "total", "units_start", "units_end",
			"price_per_unit", "daily_standing_charge", "period_start", "period_end",
		}).AddRow(2.0, 0.4, 2.4, 0.0, 10.0, 0.2, 0.4, "2024-03-15", "2024-04-15"))

	store := NewSQLiteStore(db)
	bill, err := store.LastBill("0")
	require.NoError(t, err)
	require.NotNil(t, bill)
	assert.Equal(t, 10.0, bill.UnitsEnd)
	assert.Equal(t, time.Date(2024, time.March, 15, 0, 0, 0, 0, time.UTC), bill.BillingPeriod.Start)
	assert.Equal(t, time.Date(2024, time.April, 15, 0, 0, 0, 0, time.UTC), bill.BillingPeriod.End)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteUpdateLastBillWithoutBills(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM clients`).
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectExec(`UPDATE bills SET`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSQLiteStore(db)
	bill := models.BillFromReading(models.NewReading(5), 0.2, 0.4)
	assert.ErrorIs(t, store.UpdateLastBill("0", bill), ErrBillNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteAddClientConflict(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectQuery(`SELECT COUNT\(1\) FROM clients`).
		WithArgs("0").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	store := NewSQLiteStore(db)
	assert.ErrorIs(t, store.AddClient("0", models.Client{TokenHash: "h"}), ErrDataConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteRemoveClientNotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM clients`).
		WithArgs("9").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewSQLiteStore(db)
	assert.ErrorIs(t, store.RemoveClient("9"), ErrClientNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}
