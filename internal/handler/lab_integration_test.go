package handler

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	internalmiddleware "github.com/clinovia/clinic-lab-api/internal/middleware"
	"github.com/clinovia/clinic-lab-api/internal/models"
	"github.com/clinovia/clinic-lab-api/internal/service"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
)

func TestLabRoutesIntegration(t *testing.T) {
	router := buildLabRouter()

	t.Run("create test request as doctor", func(t *testing.T) {
		body := `{"patientId":"pat-1","doctorId":"dr-1","centerId":"c-1","testType":"blood_panel"}`
		req, _ := http.NewRequest(http.MethodPost, "/test-requests", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleDoctor))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusCreated, resp.Code)
		require.Contains(t, resp.Body.String(), `"id":"tr-1"`)
	})

	t.Run("create test request forbidden for patient", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/test-requests", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RolePatient))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("unauthenticated request rejected", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/test-requests", nil)
		resp := performRequest(router, req)
		require.Equal(t, http.StatusUnauthorized, resp.Code)
	})

	t.Run("send report blocked on partial payment", func(t *testing.T) {
		body := `{"sendMethod":"email","sentTo":"pat@example.com"}`
		req, _ := http.NewRequest(http.MethodPut, "/test-requests/tr-blocked/send-report", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleLab))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
		require.Contains(t, resp.Body.String(), `"code":"PARTIAL_PAYMENT_RESTRICTION"`)
		require.Contains(t, resp.Body.String(), `"reason":"Payment not fully completed"`)
	})

	t.Run("send report success", func(t *testing.T) {
		body := `{"sendMethod":"email","sentTo":"pat@example.com"}`
		req, _ := http.NewRequest(http.MethodPut, "/test-requests/tr-1/send-report", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleLab))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"status":"REPORT_SENT"`)
	})

	t.Run("invalid transition surfaces conflict", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPut, "/test-requests/tr-stale/begin-testing", nil)
		req.Header.Set("X-Test-Role", string(models.RoleLab))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusConflict, resp.Code)
		require.Contains(t, resp.Body.String(), `"code":"INVALID_TRANSITION"`)
	})

	t.Run("report status restricted payload", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/test-requests/report-status/tr-blocked", nil)
		req.Header.Set("X-Test-Role", string(models.RolePatient))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"isRestricted":true`)
		require.Contains(t, resp.Body.String(), `"restrictionType":"partial_payment"`)
	})

	t.Run("report download sends pdf", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/test-requests/download-report/tr-1", nil)
		req.Header.Set("X-Test-Role", string(models.RolePatient))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Equal(t, "application/pdf", resp.Header().Get("Content-Type"))
		require.Contains(t, resp.Header().Get("Content-Disposition"), "tr-1.pdf")
	})

	t.Run("billing status for reassigned patient", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/reassigned-patients/billing-status/pat-1/dr-2", nil)
		req.Header.Set("X-Test-Role", string(models.RoleReceptionist))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Body.String(), `"needsConsultationFee":true`)
	})

	t.Run("duplicate consultation fee conflict", func(t *testing.T) {
		body := `{"amount":"150","paymentMethod":"CASH"}`
		req, _ := http.NewRequest(http.MethodPost, "/reassigned-patients/consultation-fee/pat-dup/dr-2", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleReceptionist))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusConflict, resp.Code)
		require.Contains(t, resp.Body.String(), `"code":"DUPLICATE_FEE"`)
	})

	t.Run("consultation fee forbidden for lab", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodPost, "/reassigned-patients/consultation-fee/pat-1/dr-2", bytes.NewBufferString(`{}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-Role", string(models.RoleLab))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusForbidden, resp.Code)
	})

	t.Run("ledger export serves csv attachment", func(t *testing.T) {
		req, _ := http.NewRequest(http.MethodGet, "/patients/pat-1/billing/export", nil)
		req.Header.Set("X-Test-Role", string(models.RoleAdmin))
		resp := performRequest(router, req)
		require.Equal(t, http.StatusOK, resp.Code)
		require.Contains(t, resp.Header().Get("Content-Disposition"), "ledger-pat-1.csv")
		require.Contains(t, resp.Body.String(), "ID,Type,Doctor,Amount")
	})
}

func buildLabRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if role := c.GetHeader("X-Test-Role"); role != "" {
			c.Set(internalmiddleware.ContextUserKey, &models.JWTClaims{
				UserID: "test-user",
				Role:   models.UserRole(role),
			})
		}
		c.Next()
	})

	testRequestHandler := NewTestRequestHandler(&workflowIntegrationMock{})
	reportHandler := NewReportHandler(&reportIntegrationMock{})
	billingHandler := NewBillingHandler(&reassignedIntegrationMock{}, &billingIntegrationMock{})

	requests := router.Group("/test-requests")
	requests.POST("", internalmiddleware.RequireRoles(models.RoleDoctor, models.RoleAdmin), testRequestHandler.Create)
	requests.GET("", testRequestHandler.List)
	requests.PUT("/:id/send-report", internalmiddleware.RequireRoles(models.RoleLab, models.RoleAdmin, models.RoleReceptionist), testRequestHandler.SendReport)
	requests.PUT("/:id/begin-testing", internalmiddleware.RequireRoles(models.RoleLab), testRequestHandler.BeginTesting)
	requests.GET("/report-status/:id", reportHandler.Status)
	requests.GET("/download-report/:id", reportHandler.Download)

	reassigned := router.Group("/reassigned-patients", internalmiddleware.RequireRoles(models.RoleReceptionist, models.RoleAdmin, models.RoleSuperAdmin))
	reassigned.GET("/billing-status/:patientId/:doctorId", billingHandler.BillingStatus)
	reassigned.POST("/consultation-fee/:patientId/:doctorId", billingHandler.CreateConsultationFee)

	patients := router.Group("/patients/:patientId/billing")
	patients.GET("", billingHandler.Ledger)
	patients.GET("/export", internalmiddleware.RequireRoles(models.RoleReceptionist, models.RoleAdmin, models.RoleSuperAdmin), billingHandler.ExportLedger)

	return router
}

func performRequest(router *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

type workflowIntegrationMock struct{}

func (workflowIntegrationMock) fixture(id string) *models.TestRequest {
	return &models.TestRequest{ID: id, PatientID: "pat-1", DoctorID: "dr-1", CenterID: "c-1", TestType: "blood_panel", Status: models.StateReportGenerated, Version: 2}
}

func (m workflowIntegrationMock) Create(ctx context.Context, req dto.CreateTestRequestRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	tr := m.fixture("tr-1")
	tr.Status = models.StatePending
	return tr, nil
}

func (m workflowIntegrationMock) Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) List(ctx context.Context, query dto.TestRequestQuery, actor *models.JWTClaims) ([]models.TestRequest, error) {
	return []models.TestRequest{*m.fixture("tr-1")}, nil
}

func (m workflowIntegrationMock) Review(ctx context.Context, id string, req dto.SuperadminReviewRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) ScheduleCollection(ctx context.Context, id string, req dto.ScheduleCollectionRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) UpdateCollectionStatus(ctx context.Context, id string, req dto.UpdateCollectionStatusRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) BeginTesting(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	if id == "tr-stale" {
		return nil, appErrors.Clone(appErrors.ErrInvalidTransition, "cannot begin testing from REPORT_GENERATED")
	}
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) CompleteTesting(ctx context.Context, id string, req dto.CompleteTestingRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) GenerateReport(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) SendReport(ctx context.Context, id string, req dto.SendReportRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	if id == "tr-blocked" {
		return nil, appErrors.WithDetails(
			appErrors.Clone(appErrors.ErrPartialPayment, "Payment not fully completed"),
			map[string]interface{}{"reason": "Payment not fully completed"},
		)
	}
	tr := m.fixture(id)
	tr.Status = models.StateReportSent
	return tr, nil
}

func (m workflowIntegrationMock) Finalize(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

func (m workflowIntegrationMock) Cancel(ctx context.Context, id string, req dto.CancelTestRequestRequest, actor *models.JWTClaims) (*models.TestRequest, error) {
	return m.fixture(id), nil
}

type reportIntegrationMock struct{}

func (reportIntegrationMock) Status(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ReportStatusResponse, error) {
	if id == "tr-blocked" {
		return &dto.ReportStatusResponse{
			IsAvailable:     false,
			IsRestricted:    true,
			RestrictionType: service.RestrictionPartialPayment,
			Message:         "Payment not fully completed",
		}, nil
	}
	return &dto.ReportStatusResponse{IsAvailable: true, Message: "Report is available for download", DownloadToken: "token"}, nil
}

func (reportIntegrationMock) Download(ctx context.Context, id, token string, actor *models.JWTClaims) (string, []byte, error) {
	return "reports/" + id + ".pdf", []byte("%PDF-1.4"), nil
}

type reassignedIntegrationMock struct{}

func (reassignedIntegrationMock) BillingStatus(ctx context.Context, patientID, doctorID string) (*dto.BillingStatusResponse, error) {
	return &dto.BillingStatusResponse{NeedsConsultationFee: true}, nil
}

func (reassignedIntegrationMock) CreateConsultationFee(ctx context.Context, patientID, doctorID string, req dto.ConsultationFeeRequest, actor *models.JWTClaims) (*models.BillingRecord, error) {
	if patientID == "pat-dup" {
		return nil, appErrors.ErrDuplicateFee
	}
	return &models.BillingRecord{ID: "bill-1", PatientID: patientID, DoctorID: &doctorID, Type: models.BillingConsultation, Amount: req.Amount}, nil
}

type billingIntegrationMock struct{}

func (billingIntegrationMock) Ledger(ctx context.Context, patientID string, actor *models.JWTClaims) (models.BillingLedger, bool, error) {
	return models.BillingLedger{{
		ID: "bill-1", PatientID: patientID, Type: models.BillingConsultation,
		Amount: decimal.NewFromInt(150), PaidAmount: decimal.NewFromInt(150),
		Method: models.PaymentCash, CreatedAt: time.Now(),
	}}, false, nil
}

func (billingIntegrationMock) RecordPayment(ctx context.Context, recordID string, req dto.RecordPaymentRequest, actor *models.JWTClaims) (*models.BillingRecord, error) {
	return &models.BillingRecord{ID: recordID, PaidAmount: req.Amount}, nil
}

func (billingIntegrationMock) ExportLedgerCSV(ctx context.Context, patientID string, actor *models.JWTClaims) ([]byte, error) {
	return []byte("ID,Type,Doctor,Amount,Paid,Method,Settled,Created At\n"), nil
}
