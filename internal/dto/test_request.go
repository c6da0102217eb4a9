package dto

import (
	"github.com/clinovia/clinic-lab-api/internal/models"
)

// CreateTestRequestRequest payload for ordering a new diagnostic test.
type CreateTestRequestRequest struct {
	PatientID string         `json:"patientId"`
	DoctorID  string         `json:"doctorId"`
	CenterID  string         `json:"centerId"`
	TestType  string         `json:"testType"`
	Urgency   models.Urgency `json:"urgency"`
}

// ScheduleCollectionRequest payload for booking a sample collection.
type ScheduleCollectionRequest struct {
	SampleCollectorID             string `json:"sampleCollectorId"`
	SampleCollectorName           string `json:"sampleCollectorName"`
	SampleCollectionScheduledDate string `json:"sampleCollectionScheduledDate"`
	SampleCollectionNotes         string `json:"sampleCollectionNotes"`
}

// UpdateCollectionStatusRequest payload for recording a collection attempt.
type UpdateCollectionStatusRequest struct {
	SampleCollectionStatus     models.CollectionStatus `json:"sampleCollectionStatus"`
	SampleCollectionActualDate string                  `json:"sampleCollectionActualDate"`
	SampleCollectionNotes      string                  `json:"sampleCollectionNotes"`
}

// CompleteTestingRequest payload for closing the lab testing stage.
type CompleteTestingRequest struct {
	Results         string `json:"results"`
	Conclusion      string `json:"conclusion"`
	Recommendations string `json:"recommendations"`
}

// SendReportRequest payload for dispatching a generated report.
type SendReportRequest struct {
	SendMethod          models.SendMethod `json:"sendMethod"`
	SentTo              string            `json:"sentTo"`
	EmailSubject        string            `json:"emailSubject"`
	EmailMessage        string            `json:"emailMessage"`
	NotificationMessage string            `json:"notificationMessage"`
}

// SuperadminReviewRequest captures the reviewer decision for a pending
// request.
type SuperadminReviewRequest struct {
	Decision            models.ReviewDecision `json:"decision"`
	Notes               string                `json:"notes"`
	AdditionalTests     []string              `json:"additionalTests"`
	PatientInstructions string                `json:"patientInstructions"`
	ChangesRequired     string                `json:"changesRequired"`
}

// CancelTestRequestRequest payload for cancelling a request.
type CancelTestRequestRequest struct {
	Reason string `json:"reason"`
}

// TestRequestQuery mirrors supported listing filters.
type TestRequestQuery struct {
	PatientID string
	DoctorID  string
	CenterID  string
	Status    []models.WorkflowState
	Urgency   models.Urgency
	Limit     int
	Offset    int
}

// ReportStatusResponse is the externalised report access gate evaluation.
type ReportStatusResponse struct {
	IsAvailable     bool                   `json:"isAvailable"`
	Message         string                 `json:"message"`
	IsRestricted    bool                   `json:"isRestricted,omitempty"`
	RestrictionType string                 `json:"restrictionType,omitempty"`
	Details         map[string]interface{} `json:"details,omitempty"`
	DownloadToken   string                 `json:"downloadToken,omitempty"`
}
