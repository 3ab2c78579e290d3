package models

import "time"

type StartFlowRequest struct {
	Flow FlowKind `json:"flow"`
}

type StartFlowResponse struct {
	AlreadySubmitted bool                      `json:"already_submitted"`
	Status           *VerificationStatusRecord `json:"status,omitempty"`
	Score            int                       `json:"score"`
	Total            int                       `json:"total"`
}

type FieldUpdateRequest struct {
	Field string `json:"field"`
	Value string `json:"value"`
}

type DocumentUploadRequest struct {
	Type    DocumentType `json:"type"`
	Name    string       `json:"name"`
	Data    string       `json:"data"` // base64 encoded file bytes
	ModTime time.Time    `json:"mtime,omitempty"`
}

type FaceFrameRequest struct {
	Data string `json:"data"` // base64 encoded video frame
}

type SubmitResponse struct {
	Status  *VerificationStatusRecord `json:"status"`
	Message string                    `json:"message,omitempty"`
}
