package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

// BillingRepository persists patient billing ledger entries. Charges are
// append-only; payments mutate paid_amount in place.
type BillingRepository struct {
	db *sqlx.DB
}

// NewBillingRepository constructs the repository.
func NewBillingRepository(db *sqlx.DB) *BillingRepository {
	return &BillingRepository{db: db}
}

const billingColumns = `id, patient_id, doctor_id, type, amount, paid_amount, method, notes, created_at, updated_at`

// CreateRecord appends a new charge to the patient ledger.
func (r *BillingRepository) CreateRecord(ctx context.Context, record *models.BillingRecord) error {
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now
	const query = `INSERT INTO billing_records
	(id, patient_id, doctor_id, type, amount, paid_amount, method, notes, created_at, updated_at)
	VALUES (:id, :patient_id, :doctor_id, :type, :amount, :paid_amount, :method, :notes, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, record); err != nil {
		return fmt.Errorf("create billing record: %w", err)
	}
	return nil
}

// GetByID fetches a single charge.
func (r *BillingRepository) GetByID(ctx context.Context, id string) (*models.BillingRecord, error) {
	query := fmt.Sprintf(`SELECT %s FROM billing_records WHERE id = $1`, billingColumns)
	var record models.BillingRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// LedgerForPatient returns the full charge history earliest-first. Insertion
// order drives previous-doctor derivation, so the sort is part of the
// contract.
func (r *BillingRepository) LedgerForPatient(ctx context.Context, patientID string) (models.BillingLedger, error) {
	query := fmt.Sprintf(`SELECT %s FROM billing_records WHERE patient_id = $1 ORDER BY created_at ASC, id ASC`, billingColumns)
	var records []models.BillingRecord
	if err := r.db.SelectContext(ctx, &records, query, patientID); err != nil {
		return nil, fmt.Errorf("load patient ledger: %w", err)
	}
	return models.BillingLedger(records), nil
}

// RecordPayment increases paid_amount on an existing charge. Payments never
// create new ledger rows.
func (r *BillingRepository) RecordPayment(ctx context.Context, id string, amount decimal.Decimal) (*models.BillingRecord, error) {
	query := fmt.Sprintf(`UPDATE billing_records
	SET paid_amount = paid_amount + $1, updated_at = $2
	WHERE id = $3
	RETURNING %s`, billingColumns)
	var record models.BillingRecord
	if err := r.db.GetContext(ctx, &record, query, amount, time.Now().UTC(), id); err != nil {
		return nil, err
	}
	return &record, nil
}

// HasUnsettledConsultation reports whether the (patient, doctor) pair already
// carries a consultation charge that is not fully paid.
func (r *BillingRepository) HasUnsettledConsultation(ctx context.Context, patientID, doctorID string) (bool, error) {
	const query = `SELECT EXISTS (
	    SELECT 1 FROM billing_records
	    WHERE patient_id = $1 AND doctor_id = $2 AND type = $3 AND paid_amount < amount
	)`
	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, patientID, doctorID, models.BillingConsultation); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check unsettled consultation: %w", err)
	}
	return exists, nil
}
