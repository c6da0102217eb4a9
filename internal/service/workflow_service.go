package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
)

type testRequestStore interface {
	Create(ctx context.Context, tr *models.TestRequest) error
	GetByID(ctx context.Context, id string) (*models.TestRequest, error)
	List(ctx context.Context, filter models.TestRequestFilter) ([]models.TestRequest, error)
	Update(ctx context.Context, tr *models.TestRequest) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type ledgerReader interface {
	LedgerForPatient(ctx context.Context, patientID string) (models.BillingLedger, error)
}

type staffDirectory interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

// ReportDispatcher hands a sent report to the delivery transport. Delivery
// itself is a collaborator concern; the workflow only triggers it after the
// REPORT_SENT transition has committed.
type ReportDispatcher interface {
	Dispatch(ctx context.Context, tr *models.TestRequest, req dto.SendReportRequest) error
}

// Workflow command names used for permissions, audit and metrics labels.
const (
	CommandCreate           = "create"
	CommandReview           = "superadmin_review"
	CommandScheduleCollect  = "schedule_collection"
	CommandCollectionStatus = "update_collection_status"
	CommandBeginTesting     = "begin_testing"
	CommandCompleteTesting  = "complete_testing"
	CommandGenerateReport   = "generate_report"
	CommandSendReport       = "send_report"
	CommandFinalize         = "finalize"
	CommandCancel           = "cancel"
)

// commandRoles is the per-command permission table. Caller identity is always
// explicit; there is no ambient session state.
var commandRoles = map[string][]models.UserRole{
	CommandCreate:           {models.RoleDoctor, models.RoleAdmin},
	CommandReview:           {models.RoleSuperAdmin},
	CommandScheduleCollect:  {models.RoleLab, models.RoleAdmin, models.RoleSuperAdmin},
	CommandCollectionStatus: {models.RoleLab, models.RoleAdmin, models.RoleSuperAdmin},
	CommandBeginTesting:     {models.RoleLab},
	CommandCompleteTesting:  {models.RoleLab},
	CommandGenerateReport:   {models.RoleLab, models.RoleAdmin},
	CommandSendReport:       {models.RoleLab, models.RoleAdmin, models.RoleReceptionist},
	CommandFinalize:         {models.RoleAdmin, models.RoleReceptionist},
	CommandCancel:           {models.RoleDoctor, models.RoleAdmin, models.RoleSuperAdmin},
}

// WorkflowService drives a test request through its lifecycle. Each aggregate
// is serialized through a per-id lock, and every write carries an optimistic
// version check so a concurrent writer loses with CONFLICT instead of
// interleaving field updates.
type WorkflowService struct {
	repo       testRequestStore
	billing    ledgerReader
	staff      staffDirectory
	audit      auditLogger
	dispatcher ReportDispatcher
	metrics    *MetricsService
	logger     *zap.Logger
	now        func() time.Time

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// WorkflowServiceOption configures the service.
type WorkflowServiceOption func(*WorkflowService)

// WithWorkflowClock overrides the time source, used by tests.
func WithWorkflowClock(now func() time.Time) WorkflowServiceOption {
	return func(s *WorkflowService) {
		if now != nil {
			s.now = now
		}
	}
}

// WithReportDispatcher sets the delivery collaborator.
func WithReportDispatcher(d ReportDispatcher) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.dispatcher = d
	}
}

// WithWorkflowMetrics attaches the metrics service.
func WithWorkflowMetrics(m *MetricsService) WorkflowServiceOption {
	return func(s *WorkflowService) {
		s.metrics = m
	}
}

// NewWorkflowService constructs the service.
func NewWorkflowService(repo testRequestStore, billing ledgerReader, staff staffDirectory, audit auditLogger, logger *zap.Logger, opts ...WorkflowServiceOption) *WorkflowService {
	if logger == nil {
		logger = zap.NewNop()
	}
	svc := &WorkflowService{
		repo:    repo,
		billing: billing,
		staff:   staff,
		audit:   audit,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		locks:   make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(svc)
		}
	}
	return svc
}

func (s *WorkflowService) lockFor(id string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	if lock, ok := s.locks[id]; ok {
		return lock
	}
	lock := &sync.Mutex{}
	s.locks[id] = lock
	return lock
}

func allowed(command string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	for _, role := range commandRoles[command] {
		if actor.Role == role {
			return nil
		}
	}
	return appErrors.Clone(appErrors.ErrForbidden, fmt.Sprintf("role %s may not perform %s", actor.Role, command))
}

// Create registers a new diagnostic test order in PENDING.
func (s *WorkflowService) Create(ctx context.Context, req dto.CreateTestRequestRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	if err := allowed(CommandCreate, actor); err != nil {
		return nil, err
	}
	if strings.TrimSpace(req.PatientID) == "" || strings.TrimSpace(req.DoctorID) == "" || strings.TrimSpace(req.CenterID) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "patientId, doctorId, and centerId are required")
	}
	if strings.TrimSpace(req.TestType) == "" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "testType is required")
	}
	urgency := req.Urgency
	if urgency == "" {
		urgency = models.UrgencyNormal
	}
	switch urgency {
	case models.UrgencyNormal, models.UrgencyUrgent, models.UrgencyEmergency:
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported urgency")
	}

	tr := &models.TestRequest{
		PatientID: req.PatientID,
		DoctorID:  req.DoctorID,
		CenterID:  req.CenterID,
		TestType:  req.TestType,
		Urgency:   urgency,
		Status:    models.StatePending,
		CreatedBy: actor.UserID,
	}
	if err := s.repo.Create(ctx, tr); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create test request")
	}
	s.emitAudit(ctx, actor, models.AuditActionTestRequestCreate, tr, nil)
	s.observe(CommandCreate, "applied")
	return tr, nil
}

// Get returns a test request enforcing role scope.
func (s *WorkflowService) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	tr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test request")
	}
	switch actor.Role {
	case models.RolePatient:
		if tr.PatientID != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	case models.RoleDoctor:
		if tr.DoctorID != actor.UserID && tr.CreatedBy != actor.UserID {
			return nil, appErrors.ErrForbidden
		}
	}
	return tr, nil
}

// List returns accessible test requests respecting actor role.
func (s *WorkflowService) List(ctx context.Context, query dto.TestRequestQuery, actor *models.JWTClaims) ([]models.TestRequest, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	filter := models.TestRequestFilter{
		PatientID: query.PatientID,
		DoctorID:  query.DoctorID,
		CenterID:  query.CenterID,
		Status:    query.Status,
		Urgency:   query.Urgency,
		Limit:     query.Limit,
		Offset:    query.Offset,
	}
	switch actor.Role {
	case models.RoleSuperAdmin, models.RoleAdmin, models.RoleLab, models.RoleReceptionist:
		// full access
	case models.RoleDoctor:
		filter.DoctorID = actor.UserID
	case models.RolePatient:
		filter.PatientID = actor.UserID
	default:
		return nil, appErrors.ErrForbidden
	}
	requests, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list test requests")
	}
	return requests, nil
}

// mutate serializes a command against one aggregate: load, apply, persist
// with the version guard. The apply func mutates an in-memory copy only, so
// a failed command leaves the stored entity untouched.
func (s *WorkflowService) mutate(ctx context.Context, id, command string, actor *models.JWTClaims, apply func(tr *models.TestRequest) error) (*models.TestRequest, error) {
	if err := allowed(command, actor); err != nil {
		s.observe(command, "denied")
		return nil, err
	}

	lock := s.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	tr, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.ErrNotFound
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load test request")
	}

	before := tr.Status
	if err := apply(tr); err != nil {
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			s.observe(command, strings.ToLower(appErr.Code))
		}
		return nil, err
	}

	if err := s.repo.Update(ctx, tr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			s.observe(command, "conflict")
			return nil, appErrors.Clone(appErrors.ErrConflict, "test request was modified concurrently, retry with fresh state")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist transition")
	}

	s.emitAudit(ctx, actor, models.AuditActionWorkflowCommand, tr, map[string]interface{}{
		"command": command,
		"from":    before,
		"to":      tr.Status,
	})
	s.observe(command, "applied")
	return tr, nil
}

func invalidTransition(from models.WorkflowState, command string) error {
	return appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("%s is not allowed while status is %s", command, from))
}

// ScheduleCollection books a collector visit; legal only from ASSIGNED.
func (s *WorkflowService) ScheduleCollection(ctx context.Context, id string, req dto.ScheduleCollectionRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandScheduleCollect, actor, func(tr *models.TestRequest) error {
		if tr.Status != models.StateAssigned {
			return invalidTransition(tr.Status, CommandScheduleCollect)
		}
		if strings.TrimSpace(req.SampleCollectorID) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "sampleCollectorId is required")
		}
		scheduledAt, err := time.Parse(time.RFC3339, req.SampleCollectionScheduledDate)
		if err != nil {
			scheduledAt, err = time.Parse("2006-01-02", req.SampleCollectionScheduledDate)
		}
		if err != nil {
			return appErrors.Clone(appErrors.ErrValidation, "sampleCollectionScheduledDate must be a valid date")
		}
		// Date-only granularity: booking for today is allowed.
		today := s.now().Truncate(24 * time.Hour)
		if scheduledAt.UTC().Truncate(24 * time.Hour).Before(today) {
			return appErrors.Clone(appErrors.ErrValidation, "sampleCollectionScheduledDate must not be in the past")
		}

		collector, err := s.staff.FindByID(ctx, req.SampleCollectorID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return appErrors.Clone(appErrors.ErrValidation, "sample collector not found")
			}
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve sample collector")
		}
		if collector.Role != models.RoleLab || !collector.Active {
			return appErrors.Clone(appErrors.ErrValidation, "sample collector must be an active lab staff member")
		}

		tr.SampleCollection = &models.SampleCollection{
			CollectorID: collector.ID,
			ScheduledAt: scheduledAt.UTC(),
			Notes:       req.SampleCollectionNotes,
		}
		tr.Status = models.StateCollectionSchedule
		return nil
	})
}

// UpdateCollectionStatus records a collection attempt. A COMPLETED attempt
// advances the workflow; FAILED and RESCHEDULED keep the current status so
// the collection can be retried.
func (s *WorkflowService) UpdateCollectionStatus(ctx context.Context, id string, req dto.UpdateCollectionStatusRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandCollectionStatus, actor, func(tr *models.TestRequest) error {
		if tr.Status != models.StateCollectionSchedule && tr.Status != models.StateSampleCollected {
			return invalidTransition(tr.Status, CommandCollectionStatus)
		}
		switch req.SampleCollectionStatus {
		case models.CollectionInProgress, models.CollectionCompleted, models.CollectionFailed, models.CollectionRescheduled:
		default:
			return appErrors.Clone(appErrors.ErrValidation, "unsupported sampleCollectionStatus")
		}
		if tr.SampleCollection == nil {
			return appErrors.Clone(appErrors.ErrValidation, "collection has not been scheduled")
		}

		actualAt := s.now()
		if req.SampleCollectionActualDate != "" {
			parsed, err := time.Parse(time.RFC3339, req.SampleCollectionActualDate)
			if err != nil {
				return appErrors.Clone(appErrors.ErrValidation, "sampleCollectionActualDate must be RFC3339")
			}
			actualAt = parsed.UTC()
		}
		if actualAt.After(s.now()) {
			return appErrors.Clone(appErrors.ErrValidation, "sampleCollectionActualDate must not be in the future")
		}

		tr.SampleCollection.Status = req.SampleCollectionStatus
		tr.SampleCollection.ActualAt = &actualAt
		if req.SampleCollectionNotes != "" {
			tr.SampleCollection.Notes = req.SampleCollectionNotes
		}
		if req.SampleCollectionStatus == models.CollectionCompleted && tr.Status == models.StateCollectionSchedule {
			tr.Status = models.StateSampleCollected
		}
		return nil
	})
}

// BeginTesting moves a collected sample into the lab.
func (s *WorkflowService) BeginTesting(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandBeginTesting, actor, func(tr *models.TestRequest) error {
		if !tr.Status.CanTransitionTo(models.StateInLabTesting) {
			return invalidTransition(tr.Status, CommandBeginTesting)
		}
		tr.Status = models.StateInLabTesting
		return nil
	})
}

// CompleteTesting closes the lab stage and stores the findings.
func (s *WorkflowService) CompleteTesting(ctx context.Context, id string, req dto.CompleteTestingRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandCompleteTesting, actor, func(tr *models.TestRequest) error {
		if !tr.Status.CanTransitionTo(models.StateTestingCompleted) {
			return invalidTransition(tr.Status, CommandCompleteTesting)
		}
		if strings.TrimSpace(req.Results) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "results are required")
		}
		tr.Report = &models.ReportInfo{
			Results:    req.Results,
			Conclusion: req.Conclusion,
			Recommend:  req.Recommendations,
		}
		tr.Status = models.StateTestingCompleted
		return nil
	})
}

// GenerateReport stamps the report as generated.
func (s *WorkflowService) GenerateReport(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandGenerateReport, actor, func(tr *models.TestRequest) error {
		if !tr.Status.CanTransitionTo(models.StateReportGenerated) {
			return invalidTransition(tr.Status, CommandGenerateReport)
		}
		if tr.Report == nil {
			tr.Report = &models.ReportInfo{}
		}
		now := s.now()
		tr.Report.GeneratedAt = &now
		tr.Report.GeneratedBy = actor.UserID
		tr.Status = models.StateReportGenerated
		return nil
	})
}

// SendReport delivers a generated report. The access gate is evaluated at
// send time: sending without settlement is rejected even though the report
// already exists.
func (s *WorkflowService) SendReport(ctx context.Context, id string, req dto.SendReportRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	tr, err := s.mutate(ctx, id, CommandSendReport, actor, func(tr *models.TestRequest) error {
		if !tr.Status.CanTransitionTo(models.StateReportSent) {
			return invalidTransition(tr.Status, CommandSendReport)
		}
		if !models.ValidSendMethod(req.SendMethod) {
			return appErrors.Clone(appErrors.ErrValidation, "sendMethod must be email, system, or both")
		}
		if strings.TrimSpace(req.SentTo) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "sentTo is required")
		}

		ledger, err := s.billing.LedgerForPatient(ctx, tr.PatientID)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load patient ledger")
		}
		availability := EvaluateReportAccess(tr, ledger)
		if !availability.Available {
			details := map[string]interface{}{"reason": availability.Reason()}
			if availability.PaymentBlocked() {
				return appErrors.WithDetails(appErrors.Clone(appErrors.ErrPartialPayment, availability.Reason()), details)
			}
			return appErrors.WithDetails(appErrors.Clone(appErrors.ErrReportLocked, availability.Reason()), details)
		}

		now := s.now()
		tr.Report.SentAt = &now
		tr.Report.SentBy = actor.UserID
		tr.Report.SentTo = req.SentTo
		tr.Report.SendMethod = req.SendMethod
		tr.Status = models.StateReportSent
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.dispatcher != nil {
		if err := s.dispatcher.Dispatch(ctx, tr, req); err != nil {
			s.logger.Warn("report dispatch failed", zap.String("test_request_id", tr.ID), zap.Error(err))
		}
	}
	return tr, nil
}

// Finalize closes a delivered request.
func (s *WorkflowService) Finalize(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandFinalize, actor, func(tr *models.TestRequest) error {
		if !tr.Status.CanTransitionTo(models.StateCompleted) {
			return invalidTransition(tr.Status, CommandFinalize)
		}
		tr.Status = models.StateCompleted
		return nil
	})
}

// Cancel aborts the request from any non-terminal status. All other fields
// are frozen as-is.
func (s *WorkflowService) Cancel(ctx context.Context, id string, req dto.CancelTestRequestRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandCancel, actor, func(tr *models.TestRequest) error {
		if !tr.Status.CanCancel() {
			return invalidTransition(tr.Status, CommandCancel)
		}
		if strings.TrimSpace(req.Reason) == "" {
			return appErrors.Clone(appErrors.ErrValidation, "reason is required")
		}
		reason := req.Reason
		tr.CancelReason = &reason
		tr.Status = models.StateCancelled
		return nil
	})
}

// Review applies the superadmin decision on a pending request. Approval
// advances to ASSIGNED; rejection and change requests route back to the
// submitting doctor without assignment.
func (s *WorkflowService) Review(ctx context.Context, id string, req dto.SuperadminReviewRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return s.mutate(ctx, id, CommandReview, actor, func(tr *models.TestRequest) error {
		if tr.Status != models.StatePending && tr.Status != models.StateSuperadminReview {
			return invalidTransition(tr.Status, CommandReview)
		}
		now := s.now()
		review := &models.SuperadminReview{
			Status:              req.Decision,
			Notes:               req.Notes,
			AdditionalTests:     req.AdditionalTests,
			PatientInstructions: req.PatientInstructions,
			ChangesRequired:     req.ChangesRequired,
			ReviewedBy:          actor.UserID,
			ReviewedAt:          &now,
		}
		switch req.Decision {
		case models.ReviewApproved:
			tr.SuperadminReview = review
			tr.Status = models.StateAssigned
		case models.ReviewRejected:
			tr.SuperadminReview = review
			tr.Status = models.StateSuperadminRejected
		case models.ReviewRequiresChanges:
			tr.SuperadminReview = review
			tr.Status = models.StateSuperadminReview
		default:
			return appErrors.Clone(appErrors.ErrValidation, "decision must be APPROVED, REJECTED, or REQUIRES_CHANGES")
		}
		return nil
	})
}

func (s *WorkflowService) emitAudit(ctx context.Context, actor *models.JWTClaims, action string, tr *models.TestRequest, extra map[string]interface{}) {
	if s.audit == nil {
		return
	}
	payload := map[string]interface{}{"status": tr.Status}
	for k, v := range extra {
		payload[k] = v
	}
	body, _ := json.Marshal(payload)
	log := &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     action,
		Resource:   "test_request",
		ResourceID: &tr.ID,
		NewValues:  body,
		IPAddress:  "system",
		UserAgent:  "workflow-service",
	}
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to persist audit log", zap.Error(err))
	}
}

func (s *WorkflowService) observe(command, outcome string) {
	if s.metrics != nil {
		s.metrics.ObserveWorkflowTransition(command, outcome)
	}
}
