package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/clinovia/clinic-lab-api/internal/models"
)

func settledLedger() models.BillingLedger {
	return models.BillingLedger{
		{Amount: decimal.NewFromInt(200), PaidAmount: decimal.NewFromInt(200)},
	}
}

func unsettledLedger() models.BillingLedger {
	return models.BillingLedger{
		{Amount: decimal.NewFromInt(200), PaidAmount: decimal.NewFromInt(150)},
	}
}

func generatedRequest(status models.WorkflowState) *models.TestRequest {
	now := time.Now().UTC()
	return &models.TestRequest{
		ID:     "tr-1",
		Status: status,
		Report: &models.ReportInfo{GeneratedAt: &now, Results: "all clear"},
	}
}

func TestReportAccessAvailable(t *testing.T) {
	availability := EvaluateReportAccess(generatedRequest(models.StateReportGenerated), settledLedger())
	require.True(t, availability.Available)
	require.Empty(t, availability.Reasons)
}

func TestReportAccessBeforeTesting(t *testing.T) {
	tr := generatedRequest(models.StateInLabTesting)
	availability := EvaluateReportAccess(tr, settledLedger())
	require.False(t, availability.Available)
	require.Equal(t, ReasonTestsIncomplete, availability.Reason())
	require.False(t, availability.PaymentBlocked())
}

func TestReportAccessUnsettledLedger(t *testing.T) {
	availability := EvaluateReportAccess(generatedRequest(models.StateTestingCompleted), unsettledLedger())
	require.False(t, availability.Available)
	require.Equal(t, ReasonPaymentIncomplete, availability.Reason())
	require.True(t, availability.PaymentBlocked())
}

func TestReportAccessMissingReport(t *testing.T) {
	tr := &models.TestRequest{ID: "tr-1", Status: models.StateTestingCompleted}
	availability := EvaluateReportAccess(tr, settledLedger())
	require.False(t, availability.Available)
	require.Equal(t, ReasonReportMissing, availability.Reason())
}

func TestReportAccessReasonsJoinedWithAnd(t *testing.T) {
	tr := &models.TestRequest{ID: "tr-1", Status: models.StateInLabTesting}
	availability := EvaluateReportAccess(tr, unsettledLedger())
	require.False(t, availability.Available)
	require.Equal(t,
		"Tests not fully completed and Payment not fully completed and Report not available",
		availability.Reason())
}

func TestReportAccessCancelledNeverAvailable(t *testing.T) {
	availability := EvaluateReportAccess(generatedRequest(models.StateCancelled), settledLedger())
	require.False(t, availability.Available)
	require.Contains(t, availability.Reasons, ReasonTestsIncomplete)
}

// Settling the ledger can only widen access: for a fixed request, every
// denial reason present after settlement was present before it.
func TestReportAccessMonotonicInSettlement(t *testing.T) {
	states := []models.WorkflowState{
		models.StateAssigned, models.StateInLabTesting, models.StateTestingCompleted,
		models.StateReportGenerated, models.StateReportSent, models.StateCompleted,
	}
	for _, state := range states {
		tr := generatedRequest(state)
		before := EvaluateReportAccess(tr, unsettledLedger())
		after := EvaluateReportAccess(tr, settledLedger())
		for _, reason := range after.Reasons {
			require.Contains(t, before.Reasons, reason, "state %s", state)
		}
		if before.Available {
			require.True(t, after.Available, "state %s", state)
		}
	}
}
