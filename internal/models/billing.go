package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BillingType categorises ledger charges.
type BillingType string

const (
	BillingConsultation BillingType = "CONSULTATION"
	BillingRegistration BillingType = "REGISTRATION"
	BillingService      BillingType = "SERVICE"
	BillingOther        BillingType = "OTHER"
)

// PaymentMethod enumerates how a charge is paid.
type PaymentMethod string

const (
	PaymentCash     PaymentMethod = "CASH"
	PaymentCard     PaymentMethod = "CARD"
	PaymentTransfer PaymentMethod = "TRANSFER"
	PaymentCredit   PaymentMethod = "CREDIT"
)

// SettlesImmediately reports whether the method pays the charge in full at
// creation time. CREDIT defers settlement to later payment recording.
func (m PaymentMethod) SettlesImmediately() bool {
	switch m {
	case PaymentCash, PaymentCard, PaymentTransfer:
		return true
	default:
		return false
	}
}

// BillingRecord is a single ledger charge. Charges are append-only; payment
// progress mutates PaidAmount in place and never adds rows. DoctorID is
// nullable because legacy records may lack one.
type BillingRecord struct {
	ID         string          `db:"id" json:"id"`
	PatientID  string          `db:"patient_id" json:"patientId"`
	DoctorID   *string         `db:"doctor_id" json:"doctorId,omitempty"`
	Type       BillingType     `db:"type" json:"type"`
	Amount     decimal.Decimal `db:"amount" json:"amount"`
	PaidAmount decimal.Decimal `db:"paid_amount" json:"paidAmount"`
	Method     PaymentMethod   `db:"method" json:"method,omitempty"`
	Notes      string          `db:"notes" json:"notes,omitempty"`
	CreatedAt  time.Time       `db:"created_at" json:"createdAt"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updatedAt"`
}

// Settled reports whether the charge is fully paid. Overpayment counts as
// settled; upstream does not enforce paidAmount <= amount.
func (r BillingRecord) Settled() bool {
	return r.PaidAmount.GreaterThanOrEqual(r.Amount)
}

// BillingLedger is the ordered charge history for one patient,
// earliest-first. Insertion order is significant for deriving previous
// doctors.
type BillingLedger []BillingRecord

// Outstanding returns sum(amount) - sum(paidAmount) across the ledger.
func (l BillingLedger) Outstanding() decimal.Decimal {
	total := decimal.Zero
	for _, r := range l {
		total = total.Add(r.Amount).Sub(r.PaidAmount)
	}
	return total
}

// FullySettled reports whether the ledger outstanding balance is zero or
// negative.
func (l BillingLedger) FullySettled() bool {
	return l.Outstanding().LessThanOrEqual(decimal.Zero)
}

// ReassignmentAnalysis is the derived, non-persisted view of a patient's
// billing history relative to a target doctor.
type ReassignmentAnalysis struct {
	IsReassigned                    bool     `json:"isReassigned"`
	HasBillingForDifferentDoctor    bool     `json:"hasBillingForDifferentDoctor"`
	HasMultipleConsultationFees     bool     `json:"hasMultipleConsultationFees"`
	HasConsultationForCurrentDoctor bool     `json:"hasConsultationForCurrentDoctor"`
	HasServiceChargesForCurrent     bool     `json:"hasServiceChargesForCurrentDoctor"`
	PreviousDoctors                 []string `json:"previousDoctors"`
	ConsultationFeesCount           int      `json:"consultationFeesCount"`
	TotalBillingRecords             int      `json:"totalBillingRecords"`
}
