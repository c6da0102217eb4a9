package service

import (
	"strings"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

// Gate denial reasons, composed with " and " when several apply.
const (
	ReasonTestsIncomplete   = "Tests not fully completed"
	ReasonPaymentIncomplete = "Payment not fully completed"
	ReasonReportMissing     = "Report not available"
)

// ReportAvailability is the outcome of a gate evaluation.
type ReportAvailability struct {
	Available bool
	Reasons   []string
}

// Reason joins the individual denial reasons into the caller-facing message.
func (a ReportAvailability) Reason() string {
	return strings.Join(a.Reasons, " and ")
}

// PaymentBlocked reports whether settlement is among the denial reasons,
// which drives the distinct partial-payment error surface.
func (a ReportAvailability) PaymentBlocked() bool {
	for _, r := range a.Reasons {
		if r == ReasonPaymentIncomplete {
			return true
		}
	}
	return false
}

// EvaluateReportAccess is the billing-gated report access predicate. A report
// may be viewed, downloaded or sent only when testing has completed, the
// patient ledger is fully settled and the report has been generated. Billing
// can change after generation, so callers must evaluate on every attempt and
// never cache the outcome.
func EvaluateReportAccess(tr *models.TestRequest, ledger models.BillingLedger) ReportAvailability {
	var reasons []string

	testingDone := tr != nil && tr.Status.ReachedTesting()
	if !testingDone {
		reasons = append(reasons, ReasonTestsIncomplete)
	}
	if !ledger.FullySettled() {
		reasons = append(reasons, ReasonPaymentIncomplete)
	}
	if tr == nil || tr.Report == nil || tr.Report.GeneratedAt == nil {
		reasons = append(reasons, ReasonReportMissing)
	}

	return ReportAvailability{Available: len(reasons) == 0, Reasons: reasons}
}
