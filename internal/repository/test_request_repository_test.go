package repository

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

func newTestRequestRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var testRequestMockColumns = []string{
	"id", "patient_id", "doctor_id", "center_id", "test_type", "urgency", "status",
	"sample_collection", "report", "superadmin_review", "cancel_reason", "version",
	"created_by", "created_at", "updated_at",
}

func TestTestRequestRepositoryCreateDefaults(t *testing.T) {
	db, mock, cleanup := newTestRequestRepoMock(t)
	defer cleanup()

	repo := NewTestRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO test_requests")).
		WillReturnResult(sqlmock.NewResult(1, 1))

	tr := &models.TestRequest{
		PatientID: "pat-1",
		DoctorID:  "dr-1",
		CenterID:  "c-1",
		TestType:  "blood_panel",
		CreatedBy: "dr-1",
	}
	require.NoError(t, repo.Create(context.Background(), tr))
	require.NotEmpty(t, tr.ID)
	require.Equal(t, models.StatePending, tr.Status)
	require.Equal(t, models.UrgencyNormal, tr.Urgency)
	require.Equal(t, 1, tr.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestRequestRepositoryGetByIDUnmarshalsJSONB(t *testing.T) {
	db, mock, cleanup := newTestRequestRepoMock(t)
	defer cleanup()

	repo := NewTestRequestRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(testRequestMockColumns).
		AddRow("tr-1", "pat-1", "dr-1", "c-1", "blood_panel", "NORMAL", "SAMPLE_COLLECTED",
			[]byte(`{"collectorId":"lab-1","scheduledAt":"2025-06-03T08:00:00Z","status":"COMPLETED"}`),
			nil, nil, nil, 3, "dr-1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, patient_id, doctor_id")).
		WithArgs("tr-1").
		WillReturnRows(rows)

	tr, err := repo.GetByID(context.Background(), "tr-1")
	require.NoError(t, err)
	require.Equal(t, models.StateSampleCollected, tr.Status)
	require.NotNil(t, tr.SampleCollection)
	require.Equal(t, "lab-1", tr.SampleCollection.CollectorID)
	require.Equal(t, models.CollectionCompleted, tr.SampleCollection.Status)
	require.Nil(t, tr.Report)
	require.Equal(t, 3, tr.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestRequestRepositoryGetByIDNotFound(t *testing.T) {
	db, mock, cleanup := newTestRequestRepoMock(t)
	defer cleanup()

	repo := NewTestRequestRepository(db)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, patient_id, doctor_id")).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestRequestRepositoryListFilters(t *testing.T) {
	db, mock, cleanup := newTestRequestRepoMock(t)
	defer cleanup()

	repo := NewTestRequestRepository(db)
	now := time.Now()
	rows := sqlmock.NewRows(testRequestMockColumns).
		AddRow("tr-1", "pat-1", "dr-1", "c-1", "blood_panel", "URGENT", "ASSIGNED",
			nil, nil, nil, nil, 1, "dr-1", now, now)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, patient_id, doctor_id")).
		WithArgs("pat-1", "ASSIGNED", "IN_LAB_TESTING", "URGENT").
		WillReturnRows(rows)

	list, err := repo.List(context.Background(), models.TestRequestFilter{
		PatientID: "pat-1",
		Status:    []models.WorkflowState{models.StateAssigned, models.StateInLabTesting},
		Urgency:   models.UrgencyUrgent,
	})
	require.NoError(t, err)
	require.Len(t, list, 1)
	require.Equal(t, "tr-1", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestRequestRepositoryUpdateVersionCheck(t *testing.T) {
	db, mock, cleanup := newTestRequestRepoMock(t)
	defer cleanup()

	repo := NewTestRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE test_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 1))

	tr := &models.TestRequest{ID: "tr-1", Status: models.StateInLabTesting, Version: 2}
	require.NoError(t, repo.Update(context.Background(), tr))
	require.Equal(t, 3, tr.Version, "version advances after a successful write")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTestRequestRepositoryUpdateConflict(t *testing.T) {
	db, mock, cleanup := newTestRequestRepoMock(t)
	defer cleanup()

	repo := NewTestRequestRepository(db)
	mock.ExpectExec(regexp.QuoteMeta("UPDATE test_requests SET")).
		WillReturnResult(sqlmock.NewResult(0, 0))

	tr := &models.TestRequest{ID: "tr-1", Status: models.StateInLabTesting, Version: 1}
	err := repo.Update(context.Background(), tr)
	require.True(t, errors.Is(err, sql.ErrNoRows))
	require.Equal(t, 1, tr.Version, "version untouched on conflict")
	require.NoError(t, mock.ExpectationsWereMet())
}
