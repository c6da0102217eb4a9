package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
)

type testRequestStoreStub struct {
	requests map[string]*models.TestRequest
	updates  int
	conflict bool
}

func newTestRequestStoreStub() *testRequestStoreStub {
	return &testRequestStoreStub{requests: make(map[string]*models.TestRequest)}
}

func (s *testRequestStoreStub) Create(ctx context.Context, tr *models.TestRequest) error {
	if tr.ID == "" {
		tr.ID = "tr-1"
	}
	tr.Version = 1
	copy := *tr
	s.requests[tr.ID] = &copy
	return nil
}

func (s *testRequestStoreStub) GetByID(ctx context.Context, id string) (*models.TestRequest, error) {
	if tr, ok := s.requests[id]; ok {
		copy := *tr
		return &copy, nil
	}
	return nil, sql.ErrNoRows
}

func (s *testRequestStoreStub) List(ctx context.Context, filter models.TestRequestFilter) ([]models.TestRequest, error) {
	result := make([]models.TestRequest, 0, len(s.requests))
	for _, tr := range s.requests {
		result = append(result, *tr)
	}
	return result, nil
}

func (s *testRequestStoreStub) Update(ctx context.Context, tr *models.TestRequest) error {
	if s.conflict {
		return sql.ErrNoRows
	}
	stored, ok := s.requests[tr.ID]
	if !ok || stored.Version != tr.Version {
		return sql.ErrNoRows
	}
	tr.Version++
	s.updates++
	copy := *tr
	s.requests[tr.ID] = &copy
	return nil
}

type auditStub struct {
	logs []*models.AuditLog
}

func (a *auditStub) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type ledgerStub struct {
	ledger models.BillingLedger
}

func (l *ledgerStub) LedgerForPatient(ctx context.Context, patientID string) (models.BillingLedger, error) {
	return l.ledger, nil
}

type staffStub struct {
	users map[string]*models.User
}

func (s *staffStub) FindByID(ctx context.Context, id string) (*models.User, error) {
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, sql.ErrNoRows
}

type dispatcherStub struct {
	dispatched []dto.SendReportRequest
	err        error
}

func (d *dispatcherStub) Dispatch(ctx context.Context, tr *models.TestRequest, req dto.SendReportRequest) error {
	if d.err != nil {
		return d.err
	}
	d.dispatched = append(d.dispatched, req)
	return nil
}

func newWorkflowFixture(t *testing.T, ledger models.BillingLedger) (*WorkflowService, *testRequestStoreStub, *dispatcherStub) {
	t.Helper()
	store := newTestRequestStoreStub()
	staff := &staffStub{users: map[string]*models.User{
		"lab-1": {ID: "lab-1", Role: models.RoleLab, Active: true},
		"ina-1": {ID: "ina-1", Role: models.RoleLab, Active: false},
	}}
	dispatcher := &dispatcherStub{}
	svc := NewWorkflowService(store, &ledgerStub{ledger: ledger}, staff, &auditStub{}, nil,
		WithReportDispatcher(dispatcher),
		WithWorkflowClock(func() time.Time {
			return time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)
		}),
	)
	return svc, store, dispatcher
}

var (
	doctorClaims    = &models.JWTClaims{UserID: "dr-1", Role: models.RoleDoctor}
	labClaims       = &models.JWTClaims{UserID: "lab-1", Role: models.RoleLab}
	adminClaims     = &models.JWTClaims{UserID: "adm-1", Role: models.RoleAdmin}
	superClaims     = &models.JWTClaims{UserID: "sup-1", Role: models.RoleSuperAdmin}
	frontClaims     = &models.JWTClaims{UserID: "rec-1", Role: models.RoleReceptionist}
	patientClaims   = &models.JWTClaims{UserID: "pat-1", Role: models.RolePatient}
	settledFixtures = models.BillingLedger{{Amount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100)}}
)

func createRequest(t *testing.T, svc *WorkflowService) *models.TestRequest {
	t.Helper()
	tr, err := svc.Create(context.Background(), dto.CreateTestRequestRequest{
		PatientID: "pat-1",
		DoctorID:  "dr-1",
		CenterID:  "center-1",
		TestType:  "blood_panel",
	}, doctorClaims)
	require.NoError(t, err)
	require.Equal(t, models.StatePending, tr.Status)
	require.Equal(t, models.UrgencyNormal, tr.Urgency)
	return tr
}

func TestWorkflowFullLifecycle(t *testing.T) {
	svc, store, dispatcher := newWorkflowFixture(t, settledFixtures)
	ctx := context.Background()
	tr := createRequest(t, svc)

	tr, err := svc.Review(ctx, tr.ID, dto.SuperadminReviewRequest{Decision: models.ReviewApproved, Notes: "ok"}, superClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateAssigned, tr.Status)
	require.NotNil(t, tr.SuperadminReview)

	tr, err = svc.ScheduleCollection(ctx, tr.ID, dto.ScheduleCollectionRequest{
		SampleCollectorID:             "lab-1",
		SampleCollectionScheduledDate: "2025-06-03",
	}, adminClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateCollectionSchedule, tr.Status)
	require.Equal(t, "lab-1", tr.SampleCollection.CollectorID)

	tr, err = svc.UpdateCollectionStatus(ctx, tr.ID, dto.UpdateCollectionStatusRequest{
		SampleCollectionStatus: models.CollectionCompleted,
	}, labClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateSampleCollected, tr.Status)
	require.NotNil(t, tr.SampleCollection.ActualAt)

	tr, err = svc.BeginTesting(ctx, tr.ID, labClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateInLabTesting, tr.Status)

	tr, err = svc.CompleteTesting(ctx, tr.ID, dto.CompleteTestingRequest{Results: "all markers normal"}, labClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateTestingCompleted, tr.Status)

	tr, err = svc.GenerateReport(ctx, tr.ID, labClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateReportGenerated, tr.Status)
	require.NotNil(t, tr.Report.GeneratedAt)

	tr, err = svc.SendReport(ctx, tr.ID, dto.SendReportRequest{
		SendMethod: models.SendMethodEmail,
		SentTo:     "patient@example.com",
	}, frontClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateReportSent, tr.Status)
	require.Len(t, dispatcher.dispatched, 1)

	tr, err = svc.Finalize(ctx, tr.ID, adminClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateCompleted, tr.Status)

	// One update per command after creation.
	require.Equal(t, 8, store.updates)
}

func TestWorkflowSendReportBlockedOnPartialPayment(t *testing.T) {
	unsettled := models.BillingLedger{{Amount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(40)}}
	svc, store, dispatcher := newWorkflowFixture(t, unsettled)
	ctx := context.Background()
	tr := createRequest(t, svc)

	for _, step := range []func() (*models.TestRequest, error){
		func() (*models.TestRequest, error) {
			return svc.Review(ctx, tr.ID, dto.SuperadminReviewRequest{Decision: models.ReviewApproved}, superClaims)
		},
		func() (*models.TestRequest, error) {
			return svc.ScheduleCollection(ctx, tr.ID, dto.ScheduleCollectionRequest{SampleCollectorID: "lab-1", SampleCollectionScheduledDate: "2025-06-03"}, adminClaims)
		},
		func() (*models.TestRequest, error) {
			return svc.UpdateCollectionStatus(ctx, tr.ID, dto.UpdateCollectionStatusRequest{SampleCollectionStatus: models.CollectionCompleted}, labClaims)
		},
		func() (*models.TestRequest, error) { return svc.BeginTesting(ctx, tr.ID, labClaims) },
		func() (*models.TestRequest, error) {
			return svc.CompleteTesting(ctx, tr.ID, dto.CompleteTestingRequest{Results: "elevated"}, labClaims)
		},
		func() (*models.TestRequest, error) { return svc.GenerateReport(ctx, tr.ID, labClaims) },
	} {
		var err error
		tr, err = step()
		require.NoError(t, err)
	}

	_, err := svc.SendReport(ctx, tr.ID, dto.SendReportRequest{
		SendMethod: models.SendMethodEmail,
		SentTo:     "patient@example.com",
	}, frontClaims)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrPartialPayment.Code, appErr.Code)
	require.Equal(t, "Payment not fully completed", appErr.Details["reason"])
	require.Empty(t, dispatcher.dispatched)

	// Denied send leaves the stored request untouched.
	stored, err := store.GetByID(ctx, tr.ID)
	require.NoError(t, err)
	require.Equal(t, models.StateReportGenerated, stored.Status)
	require.Nil(t, stored.Report.SentAt)
}

func TestWorkflowSendReportAfterSettlement(t *testing.T) {
	ledger := &ledgerStub{ledger: models.BillingLedger{{Amount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(40)}}}
	store := newTestRequestStoreStub()
	staff := &staffStub{users: map[string]*models.User{"lab-1": {ID: "lab-1", Role: models.RoleLab, Active: true}}}
	svc := NewWorkflowService(store, ledger, staff, &auditStub{}, nil)

	now := time.Now().UTC()
	store.requests["tr-1"] = &models.TestRequest{
		ID: "tr-1", PatientID: "pat-1", DoctorID: "dr-1", Status: models.StateReportGenerated,
		Report: &models.ReportInfo{GeneratedAt: &now, Results: "fine"}, Version: 3,
	}

	req := dto.SendReportRequest{SendMethod: models.SendMethodSystem, SentTo: "pat-1"}
	_, err := svc.SendReport(context.Background(), "tr-1", req, adminClaims)
	require.Error(t, err)

	ledger.ledger = models.BillingLedger{{Amount: decimal.NewFromInt(100), PaidAmount: decimal.NewFromInt(100)}}
	tr, err := svc.SendReport(context.Background(), "tr-1", req, adminClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateReportSent, tr.Status)
	require.Equal(t, "pat-1", tr.Report.SentTo)
}

func TestWorkflowInvalidTransition(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, settledFixtures)
	tr := createRequest(t, svc)

	_, err := svc.BeginTesting(context.Background(), tr.ID, labClaims)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	_, err = svc.ScheduleCollection(context.Background(), tr.ID, dto.ScheduleCollectionRequest{
		SampleCollectorID:             "lab-1",
		SampleCollectionScheduledDate: "2025-06-03",
	}, adminClaims)
	require.Error(t, err)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestWorkflowRoleDenied(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, settledFixtures)
	tr := createRequest(t, svc)

	_, err := svc.Review(context.Background(), tr.ID, dto.SuperadminReviewRequest{Decision: models.ReviewApproved}, adminClaims)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Cancel(context.Background(), tr.ID, dto.CancelTestRequestRequest{Reason: "nope"}, labClaims)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.Create(context.Background(), dto.CreateTestRequestRequest{
		PatientID: "pat-1", DoctorID: "dr-1", CenterID: "c-1", TestType: "x",
	}, patientClaims)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}

func TestWorkflowScheduleCollectionValidation(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, settledFixtures)
	ctx := context.Background()
	tr := createRequest(t, svc)
	stored := store.requests[tr.ID]
	stored.Status = models.StateAssigned

	_, err := svc.ScheduleCollection(ctx, tr.ID, dto.ScheduleCollectionRequest{
		SampleCollectorID:             "lab-1",
		SampleCollectionScheduledDate: "2024-01-01",
	}, adminClaims)
	require.Error(t, err, "past dates rejected")

	_, err = svc.ScheduleCollection(ctx, tr.ID, dto.ScheduleCollectionRequest{
		SampleCollectorID:             "ina-1",
		SampleCollectionScheduledDate: "2025-06-03",
	}, adminClaims)
	require.Error(t, err, "inactive collector rejected")

	_, err = svc.ScheduleCollection(ctx, tr.ID, dto.ScheduleCollectionRequest{
		SampleCollectorID:             "lab-1",
		SampleCollectionScheduledDate: "2025-06-02",
	}, adminClaims)
	require.NoError(t, err, "booking for today is allowed")
}

func TestWorkflowFailedCollectionKeepsStatus(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, settledFixtures)
	ctx := context.Background()
	tr := createRequest(t, svc)
	store.requests[tr.ID].Status = models.StateCollectionSchedule
	store.requests[tr.ID].SampleCollection = &models.SampleCollection{CollectorID: "lab-1"}

	tr, err := svc.UpdateCollectionStatus(ctx, tr.ID, dto.UpdateCollectionStatusRequest{
		SampleCollectionStatus: models.CollectionFailed,
		SampleCollectionNotes:  "patient unavailable",
	}, labClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateCollectionSchedule, tr.Status, "failed attempt does not advance")
	require.Equal(t, models.CollectionFailed, tr.SampleCollection.Status)

	tr, err = svc.UpdateCollectionStatus(ctx, tr.ID, dto.UpdateCollectionStatusRequest{
		SampleCollectionStatus: models.CollectionCompleted,
	}, labClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateSampleCollected, tr.Status)
}

func TestWorkflowCancel(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, settledFixtures)
	ctx := context.Background()
	tr := createRequest(t, svc)

	_, err := svc.Cancel(ctx, tr.ID, dto.CancelTestRequestRequest{}, doctorClaims)
	require.Error(t, err, "reason required")

	tr, err = svc.Cancel(ctx, tr.ID, dto.CancelTestRequestRequest{Reason: "ordered in error"}, doctorClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateCancelled, tr.Status)
	require.Equal(t, "ordered in error", *tr.CancelReason)

	_, err = svc.Cancel(ctx, tr.ID, dto.CancelTestRequestRequest{Reason: "again"}, doctorClaims)
	require.Error(t, err, "terminal states cannot be cancelled")

	store.requests["done-1"] = &models.TestRequest{ID: "done-1", Status: models.StateCompleted, Version: 1}
	_, err = svc.Cancel(ctx, "done-1", dto.CancelTestRequestRequest{Reason: "late"}, adminClaims)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)
}

func TestWorkflowReviewRejectedAndResubmit(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, settledFixtures)
	ctx := context.Background()
	tr := createRequest(t, svc)

	tr, err := svc.Review(ctx, tr.ID, dto.SuperadminReviewRequest{
		Decision: models.ReviewRejected,
		Notes:    "insufficient justification",
	}, superClaims)
	require.NoError(t, err)
	require.Equal(t, models.StateSuperadminRejected, tr.Status)
	require.Equal(t, models.ReviewRejected, tr.SuperadminReview.Status)

	// Rejected requests cannot continue down the pipeline.
	_, err = svc.ScheduleCollection(ctx, tr.ID, dto.ScheduleCollectionRequest{
		SampleCollectorID:             "lab-1",
		SampleCollectionScheduledDate: "2025-06-03",
	}, adminClaims)
	require.Equal(t, appErrors.ErrInvalidTransition.Code, appErrors.FromError(err).Code)

	require.True(t, store.requests[tr.ID].Status.CanTransitionTo(models.StatePending), "rejected may return to pending")
}

func TestWorkflowConcurrentModificationConflict(t *testing.T) {
	svc, store, _ := newWorkflowFixture(t, settledFixtures)
	tr := createRequest(t, svc)
	store.conflict = true

	_, err := svc.Review(context.Background(), tr.ID, dto.SuperadminReviewRequest{Decision: models.ReviewApproved}, superClaims)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	require.Equal(t, appErrors.ErrConflict.Code, appErr.Code)
	require.Contains(t, appErr.Message, "retry")
}

func TestWorkflowNotFound(t *testing.T) {
	svc, _, _ := newWorkflowFixture(t, settledFixtures)
	_, err := svc.BeginTesting(context.Background(), "missing", labClaims)
	require.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestWorkflowListRoleScoping(t *testing.T) {
	store := newTestRequestStoreStub()
	svc := NewWorkflowService(store, &ledgerStub{}, &staffStub{}, &auditStub{}, nil)
	store.requests["tr-1"] = &models.TestRequest{ID: "tr-1", PatientID: "pat-1", DoctorID: "dr-1", Version: 1}

	listStore := &listFilterSpy{testRequestStoreStub: store}
	svc = NewWorkflowService(listStore, &ledgerStub{}, &staffStub{}, &auditStub{}, nil)

	_, err := svc.List(context.Background(), dto.TestRequestQuery{}, doctorClaims)
	require.NoError(t, err)
	require.Equal(t, "dr-1", listStore.filter.DoctorID)

	_, err = svc.List(context.Background(), dto.TestRequestQuery{}, patientClaims)
	require.NoError(t, err)
	require.Equal(t, "pat-1", listStore.filter.PatientID)
}

type listFilterSpy struct {
	*testRequestStoreStub
	filter models.TestRequestFilter
}

func (s *listFilterSpy) List(ctx context.Context, filter models.TestRequestFilter) ([]models.TestRequest, error) {
	s.filter = filter
	return s.testRequestStoreStub.List(ctx, filter)
}

func TestWorkflowGetScoping(t *testing.T) {
	store := newTestRequestStoreStub()
	svc := NewWorkflowService(store, &ledgerStub{}, &staffStub{}, &auditStub{}, nil)
	store.requests["tr-1"] = &models.TestRequest{ID: "tr-1", PatientID: "pat-1", DoctorID: "dr-1", Version: 1}

	_, err := svc.Get(context.Background(), "tr-1", patientClaims)
	require.NoError(t, err)

	other := &models.JWTClaims{UserID: "pat-2", Role: models.RolePatient}
	_, err = svc.Get(context.Background(), "tr-1", other)
	require.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
