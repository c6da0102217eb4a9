package handler

import (
	"context"
	"fmt"
	"net/http"
	"path"

	"github.com/gin-gonic/gin"

	"github.com/clinovia/clinic-lab-api/internal/dto"
	"github.com/clinovia/clinic-lab-api/internal/models"
	appErrors "github.com/clinovia/clinic-lab-api/pkg/errors"
	"github.com/clinovia/clinic-lab-api/pkg/response"
)

type reportService interface {
	Status(ctx context.Context, id string, actor *models.JWTClaims) (*dto.ReportStatusResponse, error)
	Download(ctx context.Context, id, token string, actor *models.JWTClaims) (string, []byte, error)
}

// ReportHandler exposes the billing-gated report access endpoints.
type ReportHandler struct {
	service reportService
}

// NewReportHandler constructs the handler.
func NewReportHandler(service reportService) *ReportHandler {
	return &ReportHandler{service: service}
}

// Status godoc
// @Summary Check report availability for a test request
// @Tags Reports
// @Produce json
// @Param id path string true "Test request ID"
// @Success 200 {object} response.Envelope
// @Router /test-requests/report-status/{id} [get]
func (h *ReportHandler) Status(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "report service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	status, err := h.service.Status(c.Request.Context(), c.Param("id"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, status, nil)
}

// Download godoc
// @Summary Download the rendered report document
// @Tags Reports
// @Produce application/pdf
// @Param id path string true "Test request ID"
// @Param token query string false "Signed download token"
// @Success 200 {string} string "PDF content"
// @Router /test-requests/download-report/{id} [get]
func (h *ReportHandler) Download(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrInternal, "report service not configured"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	filename, content, err := h.service.Download(c.Request.Context(), c.Param("id"), c.Query("token"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(filename)))
	c.Data(http.StatusOK, "application/pdf", content)
}
