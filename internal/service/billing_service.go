package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
	"github.com/clinovia/clinic-lab-api/pkg/export"
)

type billingLedgerStore interface {
	GetByID(ctx context.Context, id string) (*models.BillingRecord, error)
	LedgerForPatient(ctx context.Context, patientID string) (models.BillingLedger, error)
	RecordPayment(ctx context.Context, id string, amount decimal.Decimal) (*models.BillingRecord, error)
}

type csvRenderer interface {
	Render(data export.Dataset) ([]byte, error)
}

// BillingService exposes the patient ledger: reads, payment recording and
// CSV export for the front desk.
type BillingService struct {
	repo     billingLedgerStore
	audit    auditLogger
	cache    *CacheService
	csv      csvRenderer
	logger   *zap.Logger
	cacheTTL time.Duration
}

// NewBillingService constructs the service.
func NewBillingService(repo billingLedgerStore, audit auditLogger, cache *CacheService, cacheTTL time.Duration, logger *zap.Logger) *BillingService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &BillingService{
		repo:     repo,
		audit:    audit,
		cache:    cache,
		csv:      export.NewCSVExporter(),
		logger:   logger,
		cacheTTL: cacheTTL,
	}
}

func ledgerCacheKey(patientID string) string {
	return fmt.Sprintf("billing:%s:ledger", patientID)
}

// Ledger returns all billing records for the patient, earliest first,
// plus whether the read was served from cache. Patients may only read
// their own ledger.
func (s *BillingService) Ledger(ctx context.Context, patientID string, actor *models.JWTClaims) (models.BillingLedger, bool, error) {
	if actor == nil {
		return nil, false, appErrors.ErrUnauthorized
	}
	if actor.Role == models.RolePatient && actor.UserID != patientID {
		return nil, false, appErrors.ErrForbidden
	}

	if s.cache != nil && s.cache.Enabled() {
		var cached models.BillingLedger
		if hit, err := s.cache.Get(ctx, ledgerCacheKey(patientID), &cached); err == nil && hit {
			return cached, true, nil
		}
	}

	ledger, err := s.repo.LedgerForPatient(ctx, patientID)
	if err != nil {
		return nil, false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient ledger")
	}

	if s.cache != nil && s.cache.Enabled() {
		if err := s.cache.Set(ctx, ledgerCacheKey(patientID), ledger, s.cacheTTL); err != nil {
			s.logger.Warn("failed to cache patient ledger", zap.String("patient_id", patientID), zap.Error(err))
		}
	}
	return ledger, false, nil
}

// RecordPayment increases paidAmount on a charge. Payments never create new
// ledger rows.
func (s *BillingService) RecordPayment(ctx context.Context, recordID string, req dto.RecordPaymentRequest, actor *models.JWTClaims) (*models.BillingRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}

	existing, err := s.repo.GetByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "billing record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load billing record")
	}
	if existing.Settled() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "billing record is already settled")
	}

	record, err := s.repo.RecordPayment(ctx, recordID, req.Amount)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record payment")
	}

	s.invalidateLedger(ctx, record.PatientID)
	s.emitPaymentAudit(ctx, actor, record, req.Amount)
	return record, nil
}

// ExportLedgerCSV renders the patient ledger as CSV for download.
func (s *BillingService) ExportLedgerCSV(ctx context.Context, patientID string, actor *models.JWTClaims) ([]byte, error) {
	ledger, _, err := s.Ledger(ctx, patientID, actor)
	if err != nil {
		return nil, err
	}

	dataset := export.Dataset{
		Headers: []string{"ID", "Type", "Doctor", "Amount", "Paid", "Method", "Settled", "Created At"},
	}
	for _, record := range ledger {
		doctor := ""
		if record.DoctorID != nil {
			doctor = *record.DoctorID
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"ID":         record.ID,
			"Type":       string(record.Type),
			"Doctor":     doctor,
			"Amount":     record.Amount.StringFixed(2),
			"Paid":       record.PaidAmount.StringFixed(2),
			"Method":     string(record.Method),
			"Settled":    fmt.Sprintf("%t", record.Settled()),
			"Created At": record.CreatedAt.UTC().Format(time.RFC3339),
		})
	}

	data, err := s.csv.Render(dataset)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render ledger export")
	}
	return data, nil
}

func (s *BillingService) invalidateLedger(ctx context.Context, patientID string) {
	if s.cache == nil || !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("billing:%s:*", patientID)); err != nil {
		s.logger.Warn("failed to invalidate ledger cache", zap.String("patient_id", patientID), zap.Error(err))
	}
}

func (s *BillingService) emitPaymentAudit(ctx context.Context, actor *models.JWTClaims, record *models.BillingRecord, amount decimal.Decimal) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{
		"amount":     amount,
		"paidAmount": record.PaidAmount,
		"settled":    record.Settled(),
	})
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionPaymentRecorded,
		Resource:   "billing_record",
		ResourceID: &record.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "billing-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
