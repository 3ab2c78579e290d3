package face

import (
	"context"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"sync"
	"time"

	"go-kyc-intake/images"
	"go-kyc-intake/models"
)

// CameraAccessError is a retryable camera failure: permission denied,
// stream acquisition failure, or a frame that cannot be drawn.
type CameraAccessError struct {
	Err error
}

func (e *CameraAccessError) Error() string {
	return fmt.Sprintf("camera access failed: %v", e.Err)
}

func (e *CameraAccessError) Unwrap() error {
	return e.Err
}

// Camera is the host-provided capture device. The returned Stream is an
// explicit resource handle owned by the subsystem for the lifetime of one
// capture session; it is never stored anywhere ambient.
type Camera interface {
	RequestStream(ctx context.Context) (Stream, error)
}

// Stream is a live, revocable video stream.
type Stream interface {
	// Frame returns the current video frame.
	Frame() (image.Image, error)
	// Stop releases the underlying tracks. Must be idempotent.
	Stop()
}

// Store persists the captured still so a reload keeps face progress.
type Store interface {
	StoreEntry(subjectID, entry, value string) error
	RetrieveEntry(subjectID, entry string) (string, error)
	RemoveEntry(subjectID, entry string) error
}

const storeEntry = "face"

// Config tunes the subsystem. CheckDelay is the fixed simulated latency
// standing in for a real biometric check; it is a placeholder seam, not a
// security mechanism.
type Config struct {
	CheckDelay time.Duration
}

// Subsystem runs the capture state machine:
// idle -> capturing -> processing -> success, any step may fail.
type Subsystem struct {
	mu        sync.Mutex
	subjectID string
	camera    Camera
	store     Store
	cfg       Config

	state  models.FaceAuthState
	stream Stream
}

func NewSubsystem(subjectID string, camera Camera, store Store, cfg Config) *Subsystem {
	return &Subsystem{
		subjectID: subjectID,
		camera:    camera,
		store:     store,
		cfg:       cfg,
		state:     models.FaceAuthState{Phase: models.FaceIdle},
	}
}

// State returns a snapshot of the externally visible state.
func (s *Subsystem) State() models.FaceAuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Hydrate restores a previously captured still from the store. It runs once
// at session mount, before the first authoritative score computation.
func (s *Subsystem) Hydrate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state.Phase != models.FaceIdle {
		return
	}
	img, err := s.store.RetrieveEntry(s.subjectID, storeEntry)
	if err != nil {
		slog.Warn("Failed to read cached face image, treating as absent", "subject", s.subjectID, "error", err)
		return
	}
	if img == "" {
		return
	}
	s.state.Image = img
	s.state.Phase = models.FaceSuccess
	s.state.Attempts = 1
	slog.Debug("Hydrated face capture from store", "subject", s.subjectID)
}

// Start requests a live video stream. Starting while a capture is already
// underway is a state-guarded no-op, not an error.
func (s *Subsystem) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Phase == models.FaceCapturing || s.state.Phase == models.FaceProcessing {
		s.mu.Unlock()
		slog.Debug("Face capture already in flight, ignoring start", "subject", s.subjectID, "phase", s.state.Phase)
		return nil
	}
	s.mu.Unlock()

	stream, err := s.camera.RequestStream(ctx)
	if err != nil {
		s.mu.Lock()
		s.state.Phase = models.FaceFailed
		s.mu.Unlock()
		slog.Warn("Camera stream acquisition failed", "subject", s.subjectID, "error", err)
		return &CameraAccessError{Err: err}
	}

	s.mu.Lock()
	s.stream = stream
	s.state.Phase = models.FaceCapturing
	s.mu.Unlock()
	slog.Info("Face capture started", "subject", s.subjectID)
	return nil
}

// Capture draws the current video frame into a pixel buffer, encodes it and
// runs the simulated check. It requires the capturing phase.
func (s *Subsystem) Capture(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Phase != models.FaceCapturing {
		phase := s.state.Phase
		s.mu.Unlock()
		return fmt.Errorf("capture requires the capturing phase, current phase is %s", phase)
	}
	stream := s.stream
	s.state.Phase = models.FaceProcessing
	s.mu.Unlock()

	still, err := s.encodeStill(stream)
	if err != nil {
		s.mu.Lock()
		s.state.Phase = models.FaceFailed
		s.mu.Unlock()
		slog.Warn("Face frame capture failed", "subject", s.subjectID, "error", err)
		return &CameraAccessError{Err: err}
	}

	// Simulated latency standing in for the real biometric check.
	select {
	case <-time.After(s.cfg.CheckDelay):
	case <-ctx.Done():
		s.mu.Lock()
		s.state.Phase = models.FaceFailed
		s.mu.Unlock()
		return ctx.Err()
	}

	if err := s.store.StoreEntry(s.subjectID, storeEntry, still); err != nil {
		slog.Warn("Failed to persist face image", "subject", s.subjectID, "error", err)
	}

	s.mu.Lock()
	s.state.Image = still
	s.state.Phase = models.FaceSuccess
	s.state.Attempts++
	attempts := s.state.Attempts
	s.mu.Unlock()

	slog.Info("Face capture succeeded", "subject", s.subjectID, "attempts", attempts)
	return nil
}

// encodeStill draws the current frame into a fresh pixel buffer and encodes
// it as a base64 JPEG still.
func (s *Subsystem) encodeStill(stream Stream) (string, error) {
	if stream == nil {
		return "", fmt.Errorf("no active stream")
	}
	frame, err := stream.Frame()
	if err != nil {
		return "", err
	}

	buffer := image.NewRGBA(frame.Bounds())
	draw.Draw(buffer, buffer.Bounds(), frame, frame.Bounds().Min, draw.Src)

	return images.EncodeJPEGBase64(buffer, images.MaxDimension, images.MaxDimension, images.JPEGQuality)
}

// Stop releases the stream's tracks unconditionally. It is callable from
// any phase and idempotent. An aborted capture returns to idle so Start can
// run again.
func (s *Subsystem) Stop() {
	s.mu.Lock()
	stream := s.stream
	s.stream = nil
	if s.state.Phase == models.FaceCapturing {
		s.state.Phase = models.FaceIdle
	}
	s.mu.Unlock()

	if stream != nil {
		stream.Stop()
		slog.Debug("Camera stream stopped", "subject", s.subjectID)
	}
}

// Reset clears the captured still and its persisted entry, used by reapply.
func (s *Subsystem) Reset() {
	s.Stop()
	s.mu.Lock()
	s.state = models.FaceAuthState{Phase: models.FaceIdle}
	s.mu.Unlock()
	if err := s.store.RemoveEntry(s.subjectID, storeEntry); err != nil {
		slog.Warn("Failed to remove cached face image", "subject", s.subjectID, "error", err)
	}
}
