package models

import "time"

// VerificationStatus is the lifecycle of a submitted verification.
type VerificationStatus string

const (
	StatusSubmitted VerificationStatus = "submitted"
	StatusPending   VerificationStatus = "pending"
	StatusVerified  VerificationStatus = "verified"
	StatusRejected  VerificationStatus = "rejected"
)

// VerificationStatusRecord is written after a successful submission. Its
// presence for a subject short-circuits the flow on the next visit; it is
// removed only by an explicit reapply.
type VerificationStatusRecord struct {
	Status        VerificationStatus    `json:"status"`
	SubmittedAt   time.Time             `json:"submitted_at"`
	SubjectID     string                `json:"subject_id"`
	Flow          FlowKind              `json:"flow"`
	DocumentFlags map[DocumentType]bool `json:"document_flags"`
	PersonalInfo  ProfileDraft          `json:"personal_info_snapshot"`
}
