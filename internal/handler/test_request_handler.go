package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
	"github.com/clinovia/clinic-lab-api/pkg/response"
)

type workflowService interface {
	Create(ctx context.Context, req dto.CreateTestRequestRequest, actor *models.JWTClaims) (*models.TestRequest, error)
	Get(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error)
	List(ctx context.Context, query dto.TestRequestQuery, actor *models.JWTClaims) ([]models.TestRequest, error)
	Review(ctx context.Context, id string, req dto.SuperadminReviewRequest, actor *models.JWTClaims) (*models.TestRequest, error)
	ScheduleCollection(ctx context.Context, id string, req dto.ScheduleCollectionRequest, actor *models.JWTClaims) (*models.TestRequest, error)
	UpdateCollectionStatus(ctx context.Context, id string, req dto.UpdateCollectionStatusRequest, actor *models.JWTClaims) (*models.TestRequest, error)
	BeginTesting(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error)
	CompleteTesting(ctx context.Context, id string, req dto.CompleteTestingRequest, actor *models.JWTClaims) (*models.TestRequest, error)
	GenerateReport(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error)
	SendReport(ctx context.Context, id string, req dto.SendReportRequest, actor *models.JWTClaims) (*models.TestRequest, error)
	Finalize(ctx context.Context, id string, actor *models.JWTClaims) (*models.TestRequest, error)
	Cancel(ctx context.Context, id string, req dto.CancelTestRequestRequest, actor *models.JWTClaims) (*models.TestRequest, error)
}

// TestRequestHandler exposes REST endpoints for the test request lifecycle.
type TestRequestHandler struct {
	service workflowService
}

// NewTestRequestHandler constructs the handler.
func NewTestRequestHandler(service workflowService) *TestRequestHandler {
	return &TestRequestHandler{service: service}
}

// Create godoc
// @Summary Order a new diagnostic test
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param payload body dto.CreateTestRequestRequest true "Test request payload"
// @Success 201 {object} response.Envelope
// @Router /test-requests [post]
func (h *TestRequestHandler) Create(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "workflow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.CreateTestRequestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid test request payload"))
		return
	}
	tr, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, tr, nil)
}

// List godoc
// @Summary List test requests
// @Tags TestRequests
// @Produce json
// @Param status query string false "Comma separated statuses"
// @Param patientId query string false "Patient ID"
// @Param doctorId query string false "Doctor ID"
// @Param centerId query string false "Center ID"
// @Success 200 {object} response.Envelope
// @Router /test-requests [get]
func (h *TestRequestHandler) List(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "workflow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	query := dto.TestRequestQuery{
		PatientID: strings.TrimSpace(c.Query("patientId")),
		DoctorID:  strings.TrimSpace(c.Query("doctorId")),
		CenterID:  strings.TrimSpace(c.Query("centerId")),
	}
	if rawUrgency := c.Query("urgency"); rawUrgency != "" {
		query.Urgency = models.Urgency(strings.ToUpper(rawUrgency))
	}
	if rawStatus := c.Query("status"); rawStatus != "" {
		parts := strings.Split(rawStatus, ",")
		statuses := make([]models.WorkflowState, 0, len(parts))
		for _, part := range parts {
			part = strings.ToUpper(strings.TrimSpace(part))
			if part == "" {
				continue
			}
			statuses = append(statuses, models.WorkflowState(part))
		}
		query.Status = statuses
	}
	if rawLimit := c.Query("limit"); rawLimit != "" {
		if limit, err := strconv.Atoi(rawLimit); err == nil {
			query.Limit = limit
		}
	}
	if rawOffset := c.Query("offset"); rawOffset != "" {
		if offset, err := strconv.Atoi(rawOffset); err == nil {
			query.Offset = offset
		}
	}
	requests, err := h.service.List(c.Request.Context(), query, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, requests, nil)
}

// Get godoc
// @Summary Get test request detail
// @Tags TestRequests
// @Produce json
// @Param id path string true "Test request ID"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id} [get]
func (h *TestRequestHandler) Get(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "workflow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	tr, err := h.service.Get(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tr, nil)
}

// Review godoc
// @Summary Apply the superadmin review decision
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param id path string true "Test request ID"
// @Param payload body dto.SuperadminReviewRequest true "Review decision"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/review [post]
func (h *TestRequestHandler) Review(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		var req dto.SuperadminReviewRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid review payload")
		}
		return h.service.Review(ctx, id, req, claims)
	})
}

// ScheduleCollection godoc
// @Summary Book a sample collection visit
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param id path string true "Test request ID"
// @Param payload body dto.ScheduleCollectionRequest true "Collection booking"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/schedule-collection [post]
func (h *TestRequestHandler) ScheduleCollection(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		var req dto.ScheduleCollectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid collection payload")
		}
		return h.service.ScheduleCollection(ctx, id, req, claims)
	})
}

// UpdateCollectionStatus godoc
// @Summary Record a sample collection attempt
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param id path string true "Test request ID"
// @Param payload body dto.UpdateCollectionStatusRequest true "Collection outcome"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/collection-status [put]
func (h *TestRequestHandler) UpdateCollectionStatus(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		var req dto.UpdateCollectionStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid collection status payload")
		}
		return h.service.UpdateCollectionStatus(ctx, id, req, claims)
	})
}

// BeginTesting godoc
// @Summary Move a collected sample into lab testing
// @Tags TestRequests
// @Produce json
// @Param id path string true "Test request ID"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/begin-testing [post]
func (h *TestRequestHandler) BeginTesting(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		return h.service.BeginTesting(ctx, id, claims)
	})
}

// CompleteTesting godoc
// @Summary Close lab testing with findings
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param id path string true "Test request ID"
// @Param payload body dto.CompleteTestingRequest true "Testing findings"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/complete-testing [post]
func (h *TestRequestHandler) CompleteTesting(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		var req dto.CompleteTestingRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid testing payload")
		}
		return h.service.CompleteTesting(ctx, id, req, claims)
	})
}

// GenerateReport godoc
// @Summary Stamp the report as generated
// @Tags TestRequests
// @Produce json
// @Param id path string true "Test request ID"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/generate-report [post]
func (h *TestRequestHandler) GenerateReport(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		return h.service.GenerateReport(ctx, id, claims)
	})
}

// SendReport godoc
// @Summary Deliver a generated report
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param id path string true "Test request ID"
// @Param payload body dto.SendReportRequest true "Delivery details"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/send-report [put]
func (h *TestRequestHandler) SendReport(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		var req dto.SendReportRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid send report payload")
		}
		return h.service.SendReport(ctx, id, req, claims)
	})
}

// Finalize godoc
// @Summary Close a delivered test request
// @Tags TestRequests
// @Produce json
// @Param id path string true "Test request ID"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/finalize [post]
func (h *TestRequestHandler) Finalize(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		return h.service.Finalize(ctx, id, claims)
	})
}

// Cancel godoc
// @Summary Cancel a test request
// @Tags TestRequests
// @Accept json
// @Produce json
// @Param id path string true "Test request ID"
// @Param payload body dto.CancelTestRequestRequest true "Cancellation reason"
// @Success 200 {object} response.Envelope
// @Router /test-requests/{id}/cancel [post]
func (h *TestRequestHandler) Cancel(c *gin.Context) {
	h.transition(c, func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error) {
		var req dto.CancelTestRequestRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "invalid cancel payload")
		}
		return h.service.Cancel(ctx, id, req, claims)
	})
}

func (h *TestRequestHandler) transition(c *gin.Context, fn func(ctx context.Context, id string, claims *models.JWTClaims) (*models.TestRequest, error)) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "workflow service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	tr, err := fn(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, tr, nil)
}
