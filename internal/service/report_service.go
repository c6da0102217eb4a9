package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
	"github.com/clinovia/clinic-lab-api/pkg/export"
	"github.com/clinovia/clinic-lab-api/pkg/storage"
)

// Restriction types surfaced on the report-status endpoint.
const (
	RestrictionPartialPayment = "partial_payment"
	RestrictionReportLocked   = "report_locked"
)

// ReportService evaluates report availability and produces the downloadable
// report document. The gate is re-evaluated on every call because billing
// can change after generation.
type ReportService struct {
	repo     testRequestStore
	billing  ledgerReader
	renderer *export.PDFExporter
	store    *storage.LocalStorage
	signer   *storage.SignedURLSigner
	audit    auditLogger
	metrics  *MetricsService
	logger   *zap.Logger
	clinic   string
}

// ReportServiceOption customises optional collaborators.
type ReportServiceOption func(*ReportService)

// WithReportMetrics attaches the metrics service so gate denials are counted.
func WithReportMetrics(m *MetricsService) ReportServiceOption {
	return func(s *ReportService) {
		s.metrics = m
	}
}

// NewReportService constructs the service.
func NewReportService(repo testRequestStore, billing ledgerReader, renderer *export.PDFExporter, store *storage.LocalStorage, signer *storage.SignedURLSigner, audit auditLogger, logger *zap.Logger, clinicName string, opts ...ReportServiceOption) *ReportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clinicName == "" {
		clinicName = "Diagnostic Laboratory"
	}
	s := &ReportService{
		repo:     repo,
		billing:  billing,
		renderer: renderer,
		store:    store,
		signer:   signer,
		audit:    audit,
		logger:   logger,
		clinic:   clinicName,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *ReportService) load(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, models.BillingLedger, error) {
	if actor == nil {
		return nil, nil, appErrors.ErrUnauthorized
	}
	tr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, appErrors.ErrNotFound
		}
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test request")
	}
	switch actor.Role {
	case models.RolePatient:
		if tr.PatientID != actor.UserID {
			return nil, nil, appErrors.ErrForbidden
		}
	case models.RoleDoctor:
		if tr.DoctorID != actor.UserID && tr.CreatedBy != actor.UserID {
			return nil, nil, appErrors.ErrForbidden
		}
	}
	ledger, err := s.billing.LedgerForPatient(ctx, tr.PatientID)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient ledger")
	}
	return tr, ledger, nil
}

// Status externalises the gate evaluation for UI consumption. Denials are
// explanatory, not errors: clients disable actions instead of surfacing a
// failure.
func (s *ReportService) Status(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ReportStatusResponse, error) {
	tr, ledger, err := s.load(ctx, id, actor)
	if err != nil {
		return nil, err
	}

	availability := EvaluateReportAccess(tr, ledger)
	resp := &dto.ReportStatusResponse{IsAvailable: availability.Available}
	if availability.Available {
		resp.Message = "Report is available for download"
		if s.signer != nil {
			token, _, err := s.signer.Generate(tr.ID, reportFilename(tr))
			if err != nil {
				s.logger.Warn("failed to sign download token", zap.String("test_request_id", tr.ID), zap.Error(err))
			} else {
				resp.DownloadToken = token
			}
		}
		return resp, nil
	}

	s.observeDenials(availability)
	resp.Message = availability.Reason()
	resp.IsRestricted = true
	resp.RestrictionType = RestrictionReportLocked
	if availability.PaymentBlocked() {
		resp.RestrictionType = RestrictionPartialPayment
	}
	resp.Details = map[string]interface{}{
		"reason":      availability.Reason(),
		"status":      tr.Status,
		"outstanding": ledger.Outstanding(),
	}
	return resp, nil
}

// Download renders and returns the report document when the gate allows it.
// An optional signed token from a prior Status call is verified for
// integrity; the gate still runs regardless.
func (s *ReportService) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (string, []byte, error) {
	tr, ledger, err := s.load(ctx, id, actor)
	if err != nil {
		return "", nil, err
	}

	if token != "" && s.signer != nil {
		tokenID, _, _, err := s.signer.Parse(token, false)
		if err != nil || tokenID != tr.ID {
			return "", nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
		}
	}

	availability := EvaluateReportAccess(tr, ledger)
	if !availability.Available {
		s.observeDenials(availability)
		details := map[string]interface{}{"reason": availability.Reason()}
		if availability.PaymentBlocked() {
			return "", nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrPartialPayment, availability.Reason()), details)
		}
		return "", nil, appErrors.WithDetails(appErrors.Clone(appErrors.ErrReportLocked, availability.Reason()), details)
	}

	content, err := s.render(tr)
	if err != nil {
		return "", nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render report")
	}

	filename := reportFilename(tr)
	if s.store != nil {
		if _, err := s.store.Save(filename, content); err != nil {
			s.logger.Warn("failed to archive rendered report", zap.String("test_request_id", tr.ID), zap.Error(err))
		}
	}
	s.auditDownload(ctx, actor, tr)
	return filename, content, nil
}

func (s *ReportService) render(tr *models.TestRequest) ([]byte, error) {
	if s.renderer == nil {
		return nil, fmt.Errorf("report renderer not configured")
	}
	generatedAt := ""
	if tr.Report != nil && tr.Report.GeneratedAt != nil {
		generatedAt = tr.Report.GeneratedAt.Format(time.RFC3339)
	}
	data := export.Dataset{
		Headers: []string{"Field", "Value"},
		Rows: []map[string]string{
			{"Field": "Request ID", "Value": tr.ID},
			{"Field": "Patient", "Value": tr.PatientID},
			{"Field": "Ordering Doctor", "Value": tr.DoctorID},
			{"Field": "Center", "Value": tr.CenterID},
			{"Field": "Test Type", "Value": tr.TestType},
			{"Field": "Urgency", "Value": string(tr.Urgency)},
			{"Field": "Generated At", "Value": generatedAt},
			{"Field": "Results", "Value": tr.Report.Results},
			{"Field": "Conclusion", "Value": tr.Report.Conclusion},
			{"Field": "Recommendations", "Value": tr.Report.Recommend},
		},
	}
	return s.renderer.Render(data, fmt.Sprintf("%s - Lab Report", s.clinic))
}

func (s *ReportService) auditDownload(ctx context.Context, actor *models.JWTClaims, tr *models.TestRequest) {
	if s.audit == nil {
		return
	}
	payload, _ := json.Marshal(map[string]interface{}{"status": tr.Status})
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionReportDownload,
		Resource:   "test_request",
		ResourceID: &tr.ID,
		NewValues:  payload,
		IPAddress:  "system",
		UserAgent:  "report-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *ReportService) observeDenials(a ReportAvailability) {
	if s.metrics == nil {
		return
	}
	for _, reason := range a.Reasons {
		s.metrics.ObserveGateDenial(reason)
	}
}

func reportFilename(tr *models.TestRequest) string {
	return fmt.Sprintf("reports/%s.pdf", tr.ID)
}
