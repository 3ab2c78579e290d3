package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"go-kyc-intake/flow"
	"go-kyc-intake/models"

	"github.com/google/uuid"
)

const statusEntry = "status"

// ProgressSink receives cosmetic progress updates during a submission. The
// percentage is decoupled from the real network call; the transport exposes
// no granular progress events, so the displayed number only has to feel
// alive, which is why it is random and capped below completion.
type ProgressSink interface {
	PublishProgress(subjectID string, update ProgressUpdate)
}

// ProgressUpdate is the "submission in flight" signal for the presentation
// layer.
type ProgressUpdate struct {
	Percent  int  `json:"percent"`
	InFlight bool `json:"in_flight"`
}

// Submitter owns the terminal success/failure transition of a verification
// attempt: idle -> submitting -> {done, failed}; failed returns to idle
// automatically so retry is just calling Submit again.
type Submitter struct {
	client       SubmissionClient
	store        DraftStorage
	sink         ProgressSink
	tickInterval time.Duration

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewSubmitter(client SubmissionClient, store DraftStorage, sink ProgressSink, tickInterval time.Duration) *Submitter {
	if tickInterval <= 0 {
		tickInterval = 400 * time.Millisecond
	}
	return &Submitter{
		client:       client,
		store:        store,
		sink:         sink,
		tickInterval: tickInterval,
		inFlight:     make(map[string]bool),
	}
}

// Submit re-validates the gates, assembles the atomic payload and posts it.
// On failure all in-memory state is left untouched: the user retries
// without re-uploading anything.
func (s *Submitter) Submit(ctx context.Context, session *flow.Session) (*models.VerificationStatusRecord, error) {
	subjectID := session.SubjectID()

	// The UI's disabled button is advisory; the gates are authoritative here.
	if err := session.SubmitReady(); err != nil {
		return nil, fmt.Errorf("submission gate: %w", err)
	}

	s.mu.Lock()
	if s.inFlight[subjectID] {
		s.mu.Unlock()
		return nil, fmt.Errorf("a submission is already in flight for this subject")
	}
	s.inFlight[subjectID] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inFlight, subjectID)
		s.mu.Unlock()
	}()

	attemptID := uuid.NewString()
	payload := session.Payload(attemptID)

	slog.Info("Submitting verification", "attempt_id", attemptID, "subject", subjectID, "flow", payload.Flow, "documents", len(payload.Documents))

	stopTicker := s.startTicker(subjectID)
	// Cancelled exactly once per attempt, on every path.
	defer stopTicker()

	_, err := s.client.Submit(ctx, payload)
	if err != nil {
		stopTicker()
		s.publish(subjectID, ProgressUpdate{Percent: 0, InFlight: false})
		slog.Warn("Submission failed, state preserved for retry", "attempt_id", attemptID, "subject", subjectID, "error", err)
		return nil, err
	}

	stopTicker()
	s.publish(subjectID, ProgressUpdate{Percent: 100, InFlight: false})

	record := &models.VerificationStatusRecord{
		Status:        models.StatusSubmitted,
		SubmittedAt:   time.Now().UTC(),
		SubjectID:     subjectID,
		Flow:          payload.Flow,
		DocumentFlags: documentFlags(payload),
		PersonalInfo:  payload.Profile,
	}
	if err := saveStatusRecord(s.store, record); err != nil {
		// The backend accepted the submission; a cache miss here only
		// costs the short-circuit on the next visit.
		slog.Warn("Failed to cache verification status record", "subject", subjectID, "error", err)
	}

	slog.Info("Verification submitted", "attempt_id", attemptID, "subject", subjectID)
	return record, nil
}

// InFlight reports whether a submission is currently running for a subject.
func (s *Submitter) InFlight(subjectID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlight[subjectID]
}

// startTicker runs the cosmetic progress ticker: a small random increment
// per tick, capped at 90 until the real call resolves. The returned stop
// function is idempotent and waits for the ticker goroutine to exit, so no
// tick is published after stop returns.
func (s *Submitter) startTicker(subjectID string) func() {
	done := make(chan struct{})
	finished := make(chan struct{})
	var once sync.Once
	stop := func() {
		once.Do(func() {
			close(done)
			<-finished
		})
	}

	s.publish(subjectID, ProgressUpdate{Percent: 0, InFlight: true})

	go func() {
		defer close(finished)
		ticker := time.NewTicker(s.tickInterval)
		defer ticker.Stop()

		percent := 0
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				percent += 3 + rand.Intn(10)
				if percent > 90 {
					percent = 90
				}
				s.publish(subjectID, ProgressUpdate{Percent: percent, InFlight: true})
			}
		}
	}()

	return stop
}

func (s *Submitter) publish(subjectID string, update ProgressUpdate) {
	if s.sink != nil {
		s.sink.PublishProgress(subjectID, update)
	}
}

func documentFlags(payload models.SubmissionPayload) map[models.DocumentType]bool {
	flags := make(map[models.DocumentType]bool, len(payload.Documents))
	for t := range payload.Documents {
		flags[t] = true
	}
	return flags
}

// ------------------------------------------------------------------------------

// loadStatusRecord reads the cached status record, returning nil when the
// subject has none.
func loadStatusRecord(store DraftStorage, subjectID string) (*models.VerificationStatusRecord, error) {
	raw, err := store.RetrieveEntry(subjectID, statusEntry)
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var record models.VerificationStatusRecord
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return nil, fmt.Errorf("corrupt status record: %w", err)
	}
	return &record, nil
}

func saveStatusRecord(store DraftStorage, record *models.VerificationStatusRecord) error {
	raw, err := json.Marshal(record)
	if err != nil {
		return err
	}
	return store.StoreEntry(record.SubjectID, statusEntry, string(raw))
}

// reapply removes the status record and every cached entry for the subject
// so a freshly mounted flow starts from zero.
func reapply(store DraftStorage, subjectID string, documents []models.DocumentType) error {
	if err := store.RemoveEntry(subjectID, statusEntry); err != nil {
		return fmt.Errorf("failed to remove status record: %w", err)
	}
	for _, t := range documents {
		if err := store.RemoveEntry(subjectID, fmt.Sprintf("doc:%s", t)); err != nil {
			slog.Warn("Failed to remove cached preview during reapply", "subject", subjectID, "type", t, "error", err)
		}
	}
	if err := store.RemoveEntry(subjectID, "face"); err != nil {
		slog.Warn("Failed to remove cached face image during reapply", "subject", subjectID, "error", err)
	}
	return nil
}
