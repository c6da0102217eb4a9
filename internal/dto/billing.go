package dto

import (
	"github.com/shopspring/decimal"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

// ConsultationFeeRequest payload for charging a (re)assigned patient.
type ConsultationFeeRequest struct {
	Amount        decimal.Decimal      `json:"amount"`
	PaymentMethod models.PaymentMethod `json:"paymentMethod"`
	Notes         string               `json:"notes"`
}

// RecordPaymentRequest payload for increasing paidAmount on a charge.
type RecordPaymentRequest struct {
	Amount decimal.Decimal      `json:"amount"`
	Method models.PaymentMethod `json:"method"`
}

// BillingStatusResponse is the fee heuristic outcome for a
// (patient, doctor) pair.
type BillingStatusResponse struct {
	NeedsConsultationFee bool                        `json:"needsConsultationFee"`
	NeedsRegistrationFee bool                        `json:"needsRegistrationFee"`
	NeedsServiceCharges  bool                        `json:"needsServiceCharges"`
	Status               string                      `json:"status"`
	Analysis             models.ReassignmentAnalysis `json:"analysis"`
}
