package service

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
)

type ledgerStoreStub struct {
	records map[string]*models.BillingRecord
	order   []string
}

func newLedgerStoreStub() *ledgerStoreStub {
	return &ledgerStoreStub{records: make(map[string]*models.BillingRecord)}
}

func (s *ledgerStoreStub) add(record models.BillingRecord) {
	s.records[record.ID] = &record
	s.order = append(s.order, record.ID)
}

func (s *ledgerStoreStub) GetByID(ctx context.Context, id string) (*models.BillingRecord, error) {
	if r, ok := s.records[id]; ok {
		copy := *r
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *ledgerStoreStub) LedgerForPatient(ctx context.Context, patientID string) (models.BillingLedger, error) {
	var ledger models.BillingLedger
	for _, id := range s.order {
		if s.records[id].PatientID == patientID {
			ledger = append(ledger, *s.records[id])
		}
	}
	return ledger, nil
}

func (s *ledgerStoreStub) RecordPayment(ctx context.Context, id string, amount decimal.Decimal) (*models.BillingRecord, error) {
	r, ok := s.records[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	r.PaidAmount = r.PaidAmount.Add(amount)
	copy := *r
	return &copy, nil
}

func TestBillingServiceRecordPayment(t *testing.T) {
	store := newLedgerStoreStub()
	store.add(models.BillingRecord{
		ID: "bill-1", PatientID: "pat-1", Type: models.BillingConsultation,
		Amount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(40),
	})
	audit := &auditStub{}
	svc := NewBillingService(store, audit, nil, 0, nil)

	record, err := svc.RecordPayment(context.Background(), "bill-1", dto.RecordPaymentRequest{
		Amount: decimal.NewFromInt(60),
	}, frontClaims)
	require.NoError(t, err)
	require.True(t, record.Settled())
	require.Len(t, audit.logs, 1)
	require.Equal(t, models.AuditActionPaymentRecorded, audit.logs[0].Action)
}

func TestBillingServiceRecordPaymentValidation(t *testing.T) {
	store := newLedgerStoreStub()
	store.add(models.BillingRecord{
		ID: "bill-1", PatientID: "pat-1",
		Amount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100),
	})
	svc := NewBillingService(store, &auditStub{}, nil, 0, nil)

	_, err := svc.RecordPayment(context.Background(), "bill-1", dto.RecordPaymentRequest{Amount: decimal.Zero}, frontClaims)
	require.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)

	_, err = svc.RecordPayment(context.Background(), "bill-1", dto.RecordPaymentRequest{Amount: decimal.NewFromInt(10)}, frontClaims)
	require.Error(t, err, "already settled")

	_, err = svc.RecordPayment(context.Background(), "missing", dto.RecordPaymentRequest{Amount: decimal.NewFromInt(10)}, frontClaims)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestBillingServiceLedgerScoping(t *testing.T) {
	store := newLedgerStoreStub()
	store.add(models.BillingRecord{ID: "bill-1", PatientID: "pat-1", Amount: decimal.NewFromInt(50)})
	svc := NewBillingService(store, &auditStub{}, nil, 0, nil)

	ledger, cacheHit, err := svc.Ledger(context.Background(), "pat-1", patientClaims)
	require.NoError(t, err)
	require.Len(t, ledger, 1)
	require.False(t, cacheHit)

	other := &models.JWTClaims{UserID: "pat-2", Role: models.RolePatient}
	_, _, err = svc.Ledger(context.Background(), "pat-1", other)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestBillingServiceExportLedgerCSV(t *testing.T) {
	store := newLedgerStoreStub()
	store.add(models.BillingRecord{
		ID: "bill-1", PatientID: "pat-1", DoctorID: doctorRef("dr-1"),
		Type: models.BillingConsultation, Method: models.PaymentCash,
		Amount: decimal.NewFromInt(150), PaidAmount: decimal.NewFromInt(150),
	})
	svc := NewBillingService(store, &auditStub{}, nil, 0, nil)

	data, err := svc.ExportLedgerCSV(context.Background(), "pat-1", frontClaims)
	require.NoError(t, err)
	content := string(data)
	require.True(t, strings.HasPrefix(content, "ID,Type,Doctor,Amount,Paid,Method,Settled,Created At"))
	require.Contains(t, content, "bill-1,CONSULTATION,dr-1,150.00,150.00,CASH,true")
}
