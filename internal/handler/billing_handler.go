package handler

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	internalmiddleware "github.com/clinovia/clinic-lab-api/internal/middleware"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
	"github.com/clinovia/clinic-lab-api/pkg/response"
)

type reassignedPatientService interface {
	BillingStatus(ctx context.Context, patientID, doctorID string) (*dto.BillingStatusResponse, error)
	CreateConsultationFee(ctx context.Context, patientID, doctorID string, req dto.ConsultationFeeRequest, actor *models.JWTClaims) (*models.BillingRecord, error)
}

type billingService interface {
	Ledger(ctx context.Context, patientID string, actor *models.JWTClaims) (models.BillingLedger, bool, error)
	RecordPayment(ctx context.Context, recordID string, req dto.RecordPaymentRequest, actor *models.JWTClaims) (*models.BillingRecord, error)
	ExportLedgerCSV(ctx context.Context, patientID string, actor *models.JWTClaims) ([]byte, error)
}

// BillingHandler exposes the patient ledger and reassignment billing
// endpoints.
type BillingHandler struct {
	reassigned reassignedPatientService
	billing    billingService
}

// NewBillingHandler constructs the handler.
func NewBillingHandler(reassigned reassignedPatientService, billing billingService) *BillingHandler {
	return &BillingHandler{reassigned: reassigned, billing: billing}
}

// BillingStatus godoc
// @Summary Resolve billing status for a reassigned patient
// @Tags Billing
// @Produce json
// @Param patientId path string true "Patient ID"
// @Param doctorId path string true "Doctor ID"
// @Success 200 {object} response.Envelope
// @Router /reassigned-patients/billing-status/{patientId}/{doctorId} [get]
func (h *BillingHandler) BillingStatus(c *gin.Context) {
	if h.reassigned == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "billing service not configured"))
		return
	}
	if claims := claimsFromContext(c); claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.reassigned.BillingStatus(c.Request.Context(), c.Param("patientId"), c.Param("doctorId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// CreateConsultationFee godoc
// @Summary Charge a consultation fee for a reassigned patient
// @Tags Billing
// @Accept json
// @Produce json
// @Param patientId path string true "Patient ID"
// @Param doctorId path string true "Doctor ID"
// @Param payload body dto.ConsultationFeeRequest true "Fee payload"
// @Success 201 {object} response.Envelope
// @Router /reassigned-patients/consultation-fee/{patientId}/{doctorId} [post]
func (h *BillingHandler) CreateConsultationFee(c *gin.Context) {
	if h.reassigned == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "billing service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ConsultationFeeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid consultation fee payload"))
		return
	}
	record, err := h.reassigned.CreateConsultationFee(c.Request.Context(), c.Param("patientId"), c.Param("doctorId"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, record, nil)
}

// Ledger godoc
// @Summary List billing records for a patient
// @Tags Billing
// @Produce json
// @Param patientId path string true "Patient ID"
// @Success 200 {object} response.Envelope
// @Router /patients/{patientId}/billing [get]
func (h *BillingHandler) Ledger(c *gin.Context) {
	if h.billing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "billing service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	ledger, cacheHit, err := h.billing.Ledger(c.Request.Context(), c.Param("patientId"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	internalmiddleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, ledger, nil)
}

// ExportLedger godoc
// @Summary Export a patient ledger as CSV
// @Tags Billing
// @Produce text/csv
// @Param patientId path string true "Patient ID"
// @Success 200 {string} string "CSV content"
// @Router /patients/{patientId}/billing/export [get]
func (h *BillingHandler) ExportLedger(c *gin.Context) {
	if h.billing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "billing service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	patientID := c.Param("patientId")
	data, err := h.billing.ExportLedgerCSV(c.Request.Context(), patientID, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	filename := fmt.Sprintf("ledger-%s.csv", patientID)
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "text/csv", data)
}

// RecordPayment godoc
// @Summary Record a payment against a billing record
// @Tags Billing
// @Accept json
// @Produce json
// @Param id path string true "Billing record ID"
// @Param payload body dto.RecordPaymentRequest true "Payment payload"
// @Success 200 {object} response.Envelope
// @Router /billing/{id}/payments [post]
func (h *BillingHandler) RecordPayment(c *gin.Context) {
	if h.billing == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "billing service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.RecordPaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid payment payload"))
		return
	}
	record, err := h.billing.RecordPayment(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, record, nil)
}
