package models

import "time"

// SubmissionPayload is the single atomic body sent to the verification
// backend: the draft, every encoded document preview and, for the consumer
// flow, the face still.
type SubmissionPayload struct {
	AttemptID   string                  `json:"attempt_id"`
	SubjectID   string                  `json:"subject_id"`
	Flow        FlowKind                `json:"flow"`
	Profile     ProfileDraft            `json:"profile"`
	Documents   map[DocumentType]string `json:"documents"` // type -> base64 preview
	FaceImage   string                  `json:"face_image,omitempty"`
	SubmittedAt time.Time               `json:"submitted_at"`
}

// SubmissionResponse is the verification backend's reply. Any non-2xx
// status or Success == false counts as a failed submission.
type SubmissionResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}
