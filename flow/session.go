package flow

import (
	"fmt"
	"image"
	"sync"

	"go-kyc-intake/document"
	"go-kyc-intake/face"
	"go-kyc-intake/models"
	"go-kyc-intake/validation"
)

// Store is the resumability store slice the session and its subsystems use.
type Store interface {
	StoreEntry(subjectID, entry, value string) error
	RetrieveEntry(subjectID, entry string) (string, error)
	RemoveEntry(subjectID, entry string) error
}

// Session owns all mutable state of one verification attempt: the profile
// draft, the document pipeline and the face subsystem. The resumability
// store is only a best-effort mirror of what the session owns.
type Session struct {
	mu        sync.Mutex
	subjectID string
	variant   Variant
	draft     models.ProfileDraft
	documents *document.Pipeline
	faceAuth  *face.Subsystem
	camera    face.Camera
	hydrated  bool
}

func NewSession(subjectID string, variant Variant, store Store, camera face.Camera, faceCfg face.Config) *Session {
	return &Session{
		subjectID: subjectID,
		variant:   variant,
		documents: document.NewPipeline(subjectID, variant.Documents, store),
		faceAuth:  face.NewSubsystem(subjectID, camera, store, faceCfg),
		camera:    camera,
	}
}

func (s *Session) SubjectID() string { return s.subjectID }

func (s *Session) Variant() Variant { return s.variant }

// Documents exposes the document pipeline.
func (s *Session) Documents() *document.Pipeline { return s.documents }

// Face exposes the face capture subsystem.
func (s *Session) Face() *face.Subsystem { return s.faceAuth }

// Hydrate restores cached document previews and the face still. It must
// complete before the first score computation is considered authoritative,
// otherwise a reload would transiently under-report progress.
func (s *Session) Hydrate() {
	s.mu.Lock()
	if s.hydrated {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.documents.Hydrate()
	if s.variant.RequireFace {
		s.faceAuth.Hydrate()
	}

	s.mu.Lock()
	s.hydrated = true
	s.mu.Unlock()
}

// Hydrated reports whether the first authoritative score is available.
func (s *Session) Hydrated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hydrated
}

// SetField validates and assigns one draft field. The raw value is kept
// even when invalid; only valid values contribute to the score.
func (s *Session) SetField(f validation.Field, value string) validation.Result {
	s.mu.Lock()
	assignField(&s.draft, f, value)
	s.mu.Unlock()
	return validation.Validate(f, value)
}

// SetProfilePicture stores the encoded profile picture on the draft.
func (s *Session) SetProfilePicture(encoded string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft.ProfilePicture = encoded
}

// Draft returns a copy of the current draft.
func (s *Session) Draft() models.ProfileDraft {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// FieldResults returns the tri-state result per scored field, for inline
// form feedback.
func (s *Session) FieldResults() map[string]validation.Result {
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	out := make(map[string]validation.Result, len(s.variant.Fields))
	for _, f := range s.variant.Fields {
		out[f.String()] = validation.Validate(f, fieldValue(draft, f))
	}
	return out
}

// Score recomputes the discrete completion count from current state. It is
// synchronous, deterministic and holds no state of its own.
func (s *Session) Score() int {
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	score := 0
	for _, f := range s.variant.Fields {
		if validation.Validate(f, fieldValue(draft, f)).IsValid {
			score++
		}
	}
	if s.variant.RequireProfilePicture && draft.ProfilePicture != "" {
		score++
	}

	if s.variant.CombinedDocuments {
		// both merchant certificates gate a single unit
		if s.documents.AllUploaded() {
			score++
		}
	} else {
		score += s.documents.UploadedCount()
	}

	if s.variant.RequireFace && s.faceAuth.State().Phase == models.FaceSuccess {
		score++
	}
	return score
}

// Total is the flow-specific maximum N.
func (s *Session) Total() int {
	return s.variant.Total()
}

// IsComplete reports whether every required item is satisfied.
func (s *Session) IsComplete() bool {
	return s.Score() == s.Total()
}

// SubmitReady re-validates the submission gates independently of any UI
// state: completion, every document uploaded and, when the flow requires
// it, face success.
func (s *Session) SubmitReady() error {
	if !s.IsComplete() {
		return fmt.Errorf("verification is incomplete: %d of %d items done", s.Score(), s.Total())
	}
	if !s.documents.AllUploaded() {
		return fmt.Errorf("not all required documents are uploaded")
	}
	if s.variant.RequireFace && s.faceAuth.State().Phase != models.FaceSuccess {
		return fmt.Errorf("face capture has not completed")
	}
	return nil
}

// Payload assembles the atomic submission body.
func (s *Session) Payload(attemptID string) models.SubmissionPayload {
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	payload := models.SubmissionPayload{
		AttemptID: attemptID,
		SubjectID: s.subjectID,
		Flow:      s.variant.Kind,
		Profile:   draft,
		Documents: s.documents.Previews(),
	}
	if s.variant.RequireFace {
		payload.FaceImage = s.faceAuth.State().Image
	}
	return payload
}

// PushFrame forwards a client video frame to the camera. It errors when the
// configured camera does not accept pushed frames.
func (s *Session) PushFrame(frame image.Image) error {
	pusher, ok := s.camera.(face.FramePusher)
	if !ok {
		return fmt.Errorf("camera does not accept pushed frames")
	}
	pusher.Push(frame)
	return nil
}

// fieldValue reads one draft field. The switch is exhaustive over the field
// enum; a new field fails to compile until it is routed here.
func fieldValue(d models.ProfileDraft, f validation.Field) string {
	switch f {
	case validation.FieldFullName:
		return d.FullName
	case validation.FieldEmail:
		return d.Email
	case validation.FieldPhone:
		return d.Phone
	case validation.FieldAddress:
		return d.Address
	case validation.FieldProfession:
		return d.Profession
	case validation.FieldCompanyName:
		return d.CompanyName
	case validation.FieldFatherName:
		return d.FatherName
	}
	return ""
}

func assignField(d *models.ProfileDraft, f validation.Field, value string) {
	switch f {
	case validation.FieldFullName:
		d.FullName = value
	case validation.FieldEmail:
		d.Email = value
	case validation.FieldPhone:
		d.Phone = value
	case validation.FieldAddress:
		d.Address = value
	case validation.FieldProfession:
		d.Profession = value
	case validation.FieldCompanyName:
		d.CompanyName = value
	case validation.FieldFatherName:
		d.FatherName = value
	}
}
