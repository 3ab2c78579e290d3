package models

// FacePhase is the state of the face capture machine.
type FacePhase string

const (
	FaceIdle       FacePhase = "idle"
	FaceCapturing  FacePhase = "capturing"
	FaceProcessing FacePhase = "processing"
	FaceSuccess    FacePhase = "success"
	FaceFailed     FacePhase = "failed"
)

// FaceAuthState is the externally visible face capture state. Attempts
// counts completed captures and only ever increases.
type FaceAuthState struct {
	Phase    FacePhase `json:"phase"`
	Attempts int       `json:"attempts"`
	Image    string    `json:"image,omitempty"` // base64 encoded still
}
