package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

// TestRequestRepository persists lab test request aggregates.
type TestRequestRepository struct {
	db *sqlx.DB
}

// NewTestRequestRepository constructs the repository.
func NewTestRequestRepository(db *sqlx.DB) *TestRequestRepository {
	return &TestRequestRepository{db: db}
}

const testRequestColumns = `id, patient_id, doctor_id, center_id, test_type, urgency, status,
       sample_collection, report, superadmin_review, cancel_reason, version, created_by, created_at, updated_at`

// testRequestRow maps nullable JSONB columns before conversion to the model.
type testRequestRow struct {
	ID               string               `db:"id"`
	PatientID        string               `db:"patient_id"`
	DoctorID         string               `db:"doctor_id"`
	CenterID         string               `db:"center_id"`
	TestType         string               `db:"test_type"`
	Urgency          models.Urgency       `db:"urgency"`
	Status           models.WorkflowState `db:"status"`
	SampleCollection []byte               `db:"sample_collection"`
	Report           []byte               `db:"report"`
	SuperadminReview []byte               `db:"superadmin_review"`
	CancelReason     *string              `db:"cancel_reason"`
	Version          int                  `db:"version"`
	CreatedBy        string               `db:"created_by"`
	CreatedAt        time.Time            `db:"created_at"`
	UpdatedAt        time.Time            `db:"updated_at"`
}

func (r testRequestRow) toModel() (*models.TestRequest, error) {
	tr := &models.TestRequest{
		ID:           r.ID,
		PatientID:    r.PatientID,
		DoctorID:     r.DoctorID,
		CenterID:     r.CenterID,
		TestType:     r.TestType,
		Urgency:      r.Urgency,
		Status:       r.Status,
		CancelReason: r.CancelReason,
		Version:      r.Version,
		CreatedBy:    r.CreatedBy,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if len(r.SampleCollection) > 0 {
		tr.SampleCollection = &models.SampleCollection{}
		if err := tr.SampleCollection.Scan(r.SampleCollection); err != nil {
			return nil, err
		}
	}
	if len(r.Report) > 0 {
		tr.Report = &models.ReportInfo{}
		if err := tr.Report.Scan(r.Report); err != nil {
			return nil, err
		}
	}
	if len(r.SuperadminReview) > 0 {
		tr.SuperadminReview = &models.SuperadminReview{}
		if err := tr.SuperadminReview.Scan(r.SuperadminReview); err != nil {
			return nil, err
		}
	}
	return tr, nil
}

func marshalOptional(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case *models.SampleCollection:
		if t == nil {
			return nil, nil
		}
	case *models.ReportInfo:
		if t == nil {
			return nil, nil
		}
	case *models.SuperadminReview:
		if t == nil {
			return nil, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal jsonb payload: %w", err)
	}
	return data, nil
}

// Create inserts a new test request row.
func (r *TestRequestRepository) Create(ctx context.Context, tr *models.TestRequest) error {
	if tr.ID == "" {
		tr.ID = uuid.NewString()
	}
	if tr.Status == "" {
		tr.Status = models.StatePending
	}
	if tr.Urgency == "" {
		tr.Urgency = models.UrgencyNormal
	}
	now := time.Now().UTC()
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = now
	}
	tr.UpdatedAt = now
	tr.Version = 1

	collection, err := marshalOptional(tr.SampleCollection)
	if err != nil {
		return err
	}
	report, err := marshalOptional(tr.Report)
	if err != nil {
		return err
	}
	review, err := marshalOptional(tr.SuperadminReview)
	if err != nil {
		return err
	}

	const query = `INSERT INTO test_requests
	(id, patient_id, doctor_id, center_id, test_type, urgency, status, sample_collection, report, superadmin_review, cancel_reason, version, created_by, created_at, updated_at)
	VALUES (:id, :patient_id, :doctor_id, :center_id, :test_type, :urgency, :status, :sample_collection, :report, :superadmin_review, :cancel_reason, :version, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                tr.ID,
		"patient_id":        tr.PatientID,
		"doctor_id":         tr.DoctorID,
		"center_id":         tr.CenterID,
		"test_type":         tr.TestType,
		"urgency":           tr.Urgency,
		"status":            tr.Status,
		"sample_collection": collection,
		"report":            report,
		"superadmin_review": review,
		"cancel_reason":     tr.CancelReason,
		"version":           tr.Version,
		"created_by":        tr.CreatedBy,
		"created_at":        tr.CreatedAt,
		"updated_at":        tr.UpdatedAt,
	}); err != nil {
		return fmt.Errorf("create test request: %w", err)
	}
	return nil
}

// GetByID fetches a test request by identifier.
func (r *TestRequestRepository) GetByID(ctx context.Context, id string) (*models.TestRequest, error) {
	query := fmt.Sprintf(`SELECT %s FROM test_requests WHERE id = $1`, testRequestColumns)
	var row testRequestRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		return nil, err
	}
	return row.toModel()
}

// List returns test requests matching the filter (latest first).
func (r *TestRequestRepository) List(ctx context.Context, filter models.TestRequestFilter) ([]models.TestRequest, error) {
	builder := strings.Builder{}
	args := make([]interface{}, 0, 6)
	builder.WriteString(fmt.Sprintf(`SELECT %s FROM test_requests`, testRequestColumns))

	conditions := make([]string, 0, 5)
	if filter.PatientID != "" {
		args = append(args, filter.PatientID)
		conditions = append(conditions, fmt.Sprintf("patient_id = $%d", len(args)))
	}
	if filter.DoctorID != "" {
		args = append(args, filter.DoctorID)
		conditions = append(conditions, fmt.Sprintf("doctor_id = $%d", len(args)))
	}
	if filter.CenterID != "" {
		args = append(args, filter.CenterID)
		conditions = append(conditions, fmt.Sprintf("center_id = $%d", len(args)))
	}
	if len(filter.Status) > 0 {
		placeholders := make([]string, len(filter.Status))
		for i, status := range filter.Status {
			args = append(args, status)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		conditions = append(conditions, fmt.Sprintf("status IN (%s)", strings.Join(placeholders, ",")))
	}
	if filter.Urgency != "" {
		args = append(args, filter.Urgency)
		conditions = append(conditions, fmt.Sprintf("urgency = $%d", len(args)))
	}
	if len(conditions) > 0 {
		builder.WriteString(" WHERE ")
		builder.WriteString(strings.Join(conditions, " AND "))
	}
	builder.WriteString(" ORDER BY created_at DESC")

	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	builder.WriteString(fmt.Sprintf(" LIMIT %d OFFSET %d", limit, offset))

	var rows []testRequestRow
	if err := r.db.SelectContext(ctx, &rows, builder.String(), args...); err != nil {
		return nil, fmt.Errorf("list test requests: %w", err)
	}
	result := make([]models.TestRequest, 0, len(rows))
	for _, row := range rows {
		tr, err := row.toModel()
		if err != nil {
			return nil, err
		}
		result = append(result, *tr)
	}
	return result, nil
}

// Update persists the aggregate guarded by an optimistic version check.
// Returns sql.ErrNoRows when the row was modified concurrently (or the id is
// unknown); on success the in-memory version is advanced.
func (r *TestRequestRepository) Update(ctx context.Context, tr *models.TestRequest) error {
	collection, err := marshalOptional(tr.SampleCollection)
	if err != nil {
		return err
	}
	report, err := marshalOptional(tr.Report)
	if err != nil {
		return err
	}
	review, err := marshalOptional(tr.SuperadminReview)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	const query = `UPDATE test_requests SET
	    status = :status,
	    sample_collection = :sample_collection,
	    report = :report,
	    superadmin_review = :superadmin_review,
	    cancel_reason = :cancel_reason,
	    version = version + 1,
	    updated_at = :updated_at
	WHERE id = :id AND version = :version`
	result, err := r.db.NamedExecContext(ctx, query, map[string]interface{}{
		"id":                tr.ID,
		"status":            tr.Status,
		"sample_collection": collection,
		"report":            report,
		"superadmin_review": review,
		"cancel_reason":     tr.CancelReason,
		"version":           tr.Version,
		"updated_at":        now,
	})
	if err != nil {
		return fmt.Errorf("update test request: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check test request update rows: %w", err)
	}
	if rows == 0 {
		return sql.ErrNoRows
	}
	tr.Version++
	tr.UpdatedAt = now
	return nil
}
