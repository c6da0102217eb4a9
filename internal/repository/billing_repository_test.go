package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

func newBillingRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var billingMockColumns = []string{
	"id", "patient_id", "doctor_id", "type", "amount", "paid_amount", "method", "notes", "created_at", "updated_at",
}

func TestBillingRepositoryCreateRecord(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()

	repo := NewBillingRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO billing_records")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	doctor := "dr-1"
	record := &models.BillingRecord{
		PatientID:  "pat-1",
		DoctorID:   &doctor,
		Type:       models.BillingConsultation,
		Amount:     decimal.NewFromInt(150),
		PaidAmount: decimal.NewFromInt(150),
		Method:     models.PaymentCash,
	}
	require.NoError(t, repo.CreateRecord(context.Background(), record))
	require.NotEmpty(t, record.ID)
	require.False(t, record.CreatedAt.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryLedgerForPatientOrdersByCreation(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()

	repo := NewBillingRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(billingMockColumns).
		AddRow("bill-1", "pat-1", "dr-a", "CONSULTATION", "150", "150", "CASH", "", now.Add(-time.Hour), now).
		AddRow("bill-2", "pat-1", "dr-b", "CONSULTATION", "150", "0", "CREDIT", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, patient_id, doctor_id")).
		WithArgs("pat-1").
		WillReturnRows(rows)

	ledger, err := repo.LedgerForPatient(context.Background(), "pat-1")
	require.NoError(t, err)
	require.Len(t, ledger, 2)
	require.Equal(t, "bill-1", ledger[0].ID)
	require.True(t, ledger[0].Settled())
	require.False(t, ledger[1].Settled())
	require.True(t, decimal.NewFromInt(150).Equal(ledger.Outstanding()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryRecordPaymentReturnsUpdatedRow(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()

	repo := NewBillingRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(billingMockColumns).
		AddRow("bill-2", "pat-1", "dr-b", "CONSULTATION", "150", "100", "CREDIT", "", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE billing_records")).
		WillReturnRows(rows)

	record, err := repo.RecordPayment(context.Background(), "bill-2", decimal.NewFromInt(100))
	require.NoError(t, err)
	require.True(t, decimal.NewFromInt(100).Equal(record.PaidAmount))
	require.False(t, record.Settled())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBillingRepositoryHasUnsettledConsultation(t *testing.T) {
	db, mock, cleanup := newBillingRepoMock(t)
	defer cleanup()

	repo := NewBillingRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("pat-1", "dr-1", string(models.BillingConsultation)).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	exists, err := repo.HasUnsettledConsultation(context.Background(), "pat-1", "dr-1")
	require.NoError(t, err)
	require.True(t, exists)
	require.NoError(t, mock.ExpectationsWereMet())
}
