package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// WorkflowState enumerates the lifecycle stages of a lab test request.
type WorkflowState string

const (
	StatePending            WorkflowState = "PENDING"
	StateSuperadminReview   WorkflowState = "SUPERADMIN_REVIEW"
	StateSuperadminApproved WorkflowState = "SUPERADMIN_APPROVED"
	StateSuperadminRejected WorkflowState = "SUPERADMIN_REJECTED"
	StateAssigned           WorkflowState = "ASSIGNED"
	StateCollectionSchedule WorkflowState = "SAMPLE_COLLECTION_SCHEDULED"
	StateSampleCollected    WorkflowState = "SAMPLE_COLLECTED"
	StateInLabTesting       WorkflowState = "IN_LAB_TESTING"
	StateTestingCompleted   WorkflowState = "TESTING_COMPLETED"
	StateReportGenerated    WorkflowState = "REPORT_GENERATED"
	StateReportSent         WorkflowState = "REPORT_SENT"
	StateCompleted          WorkflowState = "COMPLETED"
	StateCancelled          WorkflowState = "CANCELLED"
)

// workflowTransitions is the closed legal-transition table. Cancellation from
// non-terminal states is handled separately by CanCancel.
var workflowTransitions = map[WorkflowState][]WorkflowState{
	StatePending:            {StateSuperadminReview, StateSuperadminApproved, StateSuperadminRejected, StateAssigned},
	StateSuperadminReview:   {StateSuperadminApproved, StateSuperadminRejected, StateAssigned},
	StateSuperadminApproved: {StateAssigned},
	StateSuperadminRejected: {StatePending},
	StateAssigned:           {StateCollectionSchedule},
	StateCollectionSchedule: {StateSampleCollected},
	StateSampleCollected:    {StateInLabTesting},
	StateInLabTesting:       {StateTestingCompleted},
	StateTestingCompleted:   {StateReportGenerated},
	StateReportGenerated:    {StateReportSent},
	StateReportSent:         {StateCompleted},
}

// stateRank orders the happy path. Review branch states share the rank of
// PENDING because the request has not entered the lab pipeline yet.
var stateRank = map[WorkflowState]int{
	StatePending:            0,
	StateSuperadminReview:   0,
	StateSuperadminApproved: 0,
	StateSuperadminRejected: 0,
	StateAssigned:           1,
	StateCollectionSchedule: 2,
	StateSampleCollected:    3,
	StateInLabTesting:       4,
	StateTestingCompleted:   5,
	StateReportGenerated:    6,
	StateReportSent:         7,
	StateCompleted:          8,
	StateCancelled:          -1,
}

// Valid reports whether the state belongs to the closed enum.
func (s WorkflowState) Valid() bool {
	_, ok := stateRank[s]
	return ok
}

// Terminal reports whether no further transitions are allowed.
func (s WorkflowState) Terminal() bool {
	return s == StateCompleted || s == StateCancelled
}

// CanTransitionTo checks the legal-transition table.
func (s WorkflowState) CanTransitionTo(next WorkflowState) bool {
	for _, allowed := range workflowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanCancel reports whether the request may still be cancelled.
func (s WorkflowState) CanCancel() bool {
	return !s.Terminal()
}

// ReachedTesting reports whether the request has progressed to
// TESTING_COMPLETED or any later happy-path state.
func (s WorkflowState) ReachedTesting() bool {
	rank, ok := stateRank[s]
	return ok && rank >= stateRank[StateTestingCompleted]
}

// Urgency captures how quickly a test request must be processed.
type Urgency string

const (
	UrgencyNormal    Urgency = "NORMAL"
	UrgencyUrgent    Urgency = "URGENT"
	UrgencyEmergency Urgency = "EMERGENCY"
)

// CollectionStatus tracks the most recent sample collection attempt.
type CollectionStatus string

const (
	CollectionInProgress  CollectionStatus = "IN_PROGRESS"
	CollectionCompleted   CollectionStatus = "COMPLETED"
	CollectionFailed      CollectionStatus = "FAILED"
	CollectionRescheduled CollectionStatus = "RESCHEDULED"
)

// ReviewDecision enumerates superadmin review outcomes.
type ReviewDecision string

const (
	ReviewPending         ReviewDecision = "PENDING"
	ReviewApproved        ReviewDecision = "APPROVED"
	ReviewRejected        ReviewDecision = "REJECTED"
	ReviewRequiresChanges ReviewDecision = "REQUIRES_CHANGES"
)

// SendMethod enumerates report delivery channels.
type SendMethod string

const (
	SendMethodEmail  SendMethod = "email"
	SendMethodSystem SendMethod = "system"
	SendMethodBoth   SendMethod = "both"
)

// ValidSendMethod reports whether the method is supported.
func ValidSendMethod(m SendMethod) bool {
	return m == SendMethodEmail || m == SendMethodSystem || m == SendMethodBoth
}

// SampleCollection holds collection scheduling and outcome details. Optional
// on the request until a collection is scheduled; persisted as JSONB.
type SampleCollection struct {
	CollectorID string           `json:"collectorId"`
	ScheduledAt time.Time        `json:"scheduledAt"`
	ActualAt    *time.Time       `json:"actualAt,omitempty"`
	Status      CollectionStatus `json:"status,omitempty"`
	Notes       string           `json:"notes,omitempty"`
}

// ReportInfo holds report generation and delivery metadata. GeneratedAt is
// set only once testing has completed; SentAt only after GeneratedAt.
type ReportInfo struct {
	GeneratedAt *time.Time `json:"generatedAt,omitempty"`
	GeneratedBy string     `json:"generatedBy,omitempty"`
	Results     string     `json:"results,omitempty"`
	Conclusion  string     `json:"conclusion,omitempty"`
	Recommend   string     `json:"recommendations,omitempty"`
	SentAt      *time.Time `json:"sentAt,omitempty"`
	SentBy      string     `json:"sentBy,omitempty"`
	SentTo      string     `json:"sentTo,omitempty"`
	SendMethod  SendMethod `json:"sendMethod,omitempty"`
}

// SuperadminReview records the outcome of the pre-assignment review branch.
type SuperadminReview struct {
	Status              ReviewDecision `json:"status"`
	Notes               string         `json:"notes,omitempty"`
	AdditionalTests     []string       `json:"additionalTests,omitempty"`
	PatientInstructions string         `json:"patientInstructions,omitempty"`
	ChangesRequired     string         `json:"changesRequired,omitempty"`
	ReviewedBy          string         `json:"reviewedBy,omitempty"`
	ReviewedAt          *time.Time     `json:"reviewedAt,omitempty"`
}

// TestRequest tracks a single diagnostic test order from creation to report
// delivery. Version backs the optimistic concurrency check applied on every
// state-changing write.
type TestRequest struct {
	ID               string            `db:"id" json:"id"`
	PatientID        string            `db:"patient_id" json:"patientId"`
	DoctorID         string            `db:"doctor_id" json:"doctorId"`
	CenterID         string            `db:"center_id" json:"centerId"`
	TestType         string            `db:"test_type" json:"testType"`
	Urgency          Urgency           `db:"urgency" json:"urgency"`
	Status           WorkflowState     `db:"status" json:"status"`
	SampleCollection *SampleCollection `db:"sample_collection" json:"sampleCollection,omitempty"`
	Report           *ReportInfo       `db:"report" json:"report,omitempty"`
	SuperadminReview *SuperadminReview `db:"superadmin_review" json:"superadminReview,omitempty"`
	CancelReason     *string           `db:"cancel_reason" json:"cancelReason,omitempty"`
	Version          int               `db:"version" json:"version"`
	CreatedBy        string            `db:"created_by" json:"createdBy"`
	CreatedAt        time.Time         `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time         `db:"updated_at" json:"updatedAt"`
}

// TestRequestFilter constrains listing queries.
type TestRequestFilter struct {
	PatientID string
	DoctorID  string
	CenterID  string
	Status    []WorkflowState
	Urgency   Urgency
	Limit     int
	Offset    int
}

// Value marshals the collection details for JSONB persistence.
func (c SampleCollection) Value() (driver.Value, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("marshal sample collection: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the collection struct.
func (c *SampleCollection) Scan(value interface{}) error {
	return scanJSON(value, c, "SampleCollection")
}

// Value marshals report metadata for JSONB persistence.
func (r ReportInfo) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal report info: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the report struct.
func (r *ReportInfo) Scan(value interface{}) error {
	return scanJSON(value, r, "ReportInfo")
}

// Value marshals review metadata for JSONB persistence.
func (r SuperadminReview) Value() (driver.Value, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal superadmin review: %w", err)
	}
	return data, nil
}

// Scan unmarshals JSONB payloads into the review struct.
func (r *SuperadminReview) Scan(value interface{}) error {
	return scanJSON(value, r, "SuperadminReview")
}

func scanJSON(value, dest interface{}, name string) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for %s", value, name)
	}
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal %s: %w", name, err)
	}
	return nil
}
