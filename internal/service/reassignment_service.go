package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
)

// Billing status labels surfaced to the receptionist screens.
const (
	BillingStatusAllPaid     = "All Fees Paid"
	BillingStatusFeeRequired = "Consultation Fee Required"
)

// AnalyzeReassignment derives the reassignment view of a patient ledger
// relative to the doctor the patient is currently assigned to. Pure and
// idempotent: records with a null doctor id are skipped for doctor-matching
// comparisons but still counted in the record total. Previous doctors keep
// first-appearance order, which is why the ledger must arrive earliest-first.
func AnalyzeReassignment(ledger models.BillingLedger, currentDoctorID string) models.ReassignmentAnalysis {
	analysis := models.ReassignmentAnalysis{
		PreviousDoctors:     []string{},
		TotalBillingRecords: len(ledger),
	}

	seen := make(map[string]struct{})
	for _, record := range ledger {
		if record.Type == models.BillingConsultation {
			analysis.ConsultationFeesCount++
		}
		if record.DoctorID == nil {
			continue
		}
		doctorID := *record.DoctorID
		if doctorID != currentDoctorID {
			analysis.HasBillingForDifferentDoctor = true
			if _, ok := seen[doctorID]; !ok {
				seen[doctorID] = struct{}{}
				analysis.PreviousDoctors = append(analysis.PreviousDoctors, doctorID)
			}
			continue
		}
		switch record.Type {
		case models.BillingConsultation:
			analysis.HasConsultationForCurrentDoctor = true
		case models.BillingService:
			analysis.HasServiceChargesForCurrent = true
		}
	}

	analysis.HasMultipleConsultationFees = analysis.ConsultationFeesCount > 1
	analysis.IsReassigned = analysis.HasBillingForDifferentDoctor || analysis.HasMultipleConsultationFees
	return analysis
}

// BillingStatusFor maps a reassignment analysis onto the fees the patient
// still owes the current doctor. Reassigned patients are never re-charged
// registration; service charges for reassigned patients are resolved by a
// separate test-request-driven check and left false here.
func BillingStatusFor(analysis models.ReassignmentAnalysis) dto.BillingStatusResponse {
	resp := dto.BillingStatusResponse{
		NeedsConsultationFee: !analysis.HasConsultationForCurrentDoctor,
		NeedsRegistrationFee: false,
		NeedsServiceCharges:  false,
		Analysis:             analysis,
	}
	if resp.NeedsConsultationFee {
		resp.Status = BillingStatusFeeRequired
	} else {
		resp.Status = BillingStatusAllPaid
	}
	return resp
}

type billingStore interface {
	CreateRecord(ctx context.Context, record *models.BillingRecord) error
	LedgerForPatient(ctx context.Context, patientID string) (models.BillingLedger, error)
	HasUnsettledConsultation(ctx context.Context, patientID, doctorID string) (bool, error)
}

// ReassignedPatientService resolves billing status for transferred patients
// and creates the consultation charges they still owe.
type ReassignedPatientService struct {
	billing billingStore
	audit   auditLogger
	cache   *CacheService
	logger  *zap.Logger
}

// NewReassignedPatientService constructs the service.
func NewReassignedPatientService(billing billingStore, audit auditLogger, cache *CacheService, logger *zap.Logger) *ReassignedPatientService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReassignedPatientService{billing: billing, audit: audit, cache: cache, logger: logger}
}

// BillingStatus loads the patient ledger and applies the reassignment
// heuristic for the target doctor.
func (s *ReassignedPatientService) BillingStatus(ctx context.Context, patientID, doctorID string) (*dto.BillingStatusResponse, error) {
	if strings.TrimSpace(patientID) == "" || strings.TrimSpace(doctorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "patientId and doctorId are required")
	}
	ledger, err := s.billing.LedgerForPatient(ctx, patientID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient ledger")
	}
	resp := BillingStatusFor(AnalyzeReassignment(ledger, doctorID))
	return &resp, nil
}

// CreateConsultationFee appends a consultation charge for the
// (patient, doctor) pair. Immediate payment methods settle the charge on
// creation; CREDIT leaves it outstanding. An unsettled consultation for the
// same pair rejects with DUPLICATE_FEE to prevent double-charging.
func (s *ReassignedPatientService) CreateConsultationFee(ctx context.Context, patientID, doctorID string, req dto.ConsultationFeeRequest, actor *models.JWTClaims) (*models.BillingRecord, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if strings.TrimSpace(patientID) == "" || strings.TrimSpace(doctorID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "patientId and doctorId are required")
	}
	if req.Amount.LessThanOrEqual(decimal.Zero) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "amount must be greater than zero")
	}
	if req.PaymentMethod == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "paymentMethod is required")
	}

	duplicate, err := s.billing.HasUnsettledConsultation(ctx, patientID, doctorID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check existing consultation fees")
	}
	if duplicate {
		return nil, appErrors.Clone(appErrors.ErrDuplicateFee, fmt.Sprintf("patient %s already has an unsettled consultation fee for this doctor", patientID))
	}

	paid := decimal.Zero
	if req.PaymentMethod.SettlesImmediately() {
		paid = req.Amount
	}
	record := &models.BillingRecord{
		PatientID:  patientID,
		DoctorID:   &doctorID,
		Type:       models.BillingConsultation,
		Amount:     req.Amount,
		PaidAmount: paid,
		Method:     req.PaymentMethod,
		Notes:      req.Notes,
	}
	if err := s.billing.CreateRecord(ctx, record); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create consultation fee")
	}

	s.invalidateLedgerCache(ctx, patientID)
	s.emitAudit(ctx, actor, record)
	return record, nil
}

func (s *ReassignedPatientService) invalidateLedgerCache(ctx context.Context, patientID string) {
	if s.cache == nil || !s.cache.Enabled() {
		return
	}
	if err := s.cache.Invalidate(ctx, fmt.Sprintf("billing:%s:*", patientID)); err != nil {
		s.logger.Warn("failed to invalidate ledger cache", zap.String("patient_id", patientID), zap.Error(err))
	}
}

func (s *ReassignedPatientService) emitAudit(ctx context.Context, actor *models.JWTClaims, record *models.BillingRecord) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(record)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionConsultationFee,
		Resource:   "billing_record",
		ResourceID: &record.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "reassigned-patient-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}
