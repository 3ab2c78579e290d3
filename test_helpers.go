package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go-kyc-intake/document"
	"go-kyc-intake/face"
	"go-kyc-intake/flow"
	"go-kyc-intake/models"

	"github.com/stretchr/testify/require"
)

// fakeSubmissionClient fails the first failCount submissions and records
// every payload it sees.
type fakeSubmissionClient struct {
	mu        sync.Mutex
	failCount int
	payloads  []models.SubmissionPayload
}

func (c *fakeSubmissionClient) Submit(ctx context.Context, payload models.SubmissionPayload) (*models.SubmissionResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.payloads = append(c.payloads, payload)
	if c.failCount > 0 {
		c.failCount--
		return nil, &SubmissionError{Message: "verification backend unavailable"}
	}
	return &models.SubmissionResponse{Success: true}, nil
}

func (c *fakeSubmissionClient) HealthCheck(ctx context.Context) error {
	return nil
}

func (c *fakeSubmissionClient) submitted() []models.SubmissionPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.SubmissionPayload(nil), c.payloads...)
}

// headerIdentityProvider trusts the X-Subject header, standing in for the
// JWT provider in handler tests.
type headerIdentityProvider struct{}

func (p headerIdentityProvider) CurrentUser(r *http.Request) (*Identity, error) {
	subject := r.Header.Get("X-Subject")
	if subject == "" {
		return nil, fmt.Errorf("missing subject header")
	}
	return &Identity{ID: subject, DisplayName: "Test Subject", EmailVerified: true}, nil
}

// recordingSink collects progress updates per subject.
type recordingSink struct {
	mu      sync.Mutex
	updates map[string][]ProgressUpdate
}

func newRecordingSink() *recordingSink {
	return &recordingSink{updates: make(map[string][]ProgressUpdate)}
}

func (s *recordingSink) PublishProgress(subjectID string, update ProgressUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[subjectID] = append(s.updates[subjectID], update)
}

func (s *recordingSink) last(subjectID string) (ProgressUpdate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	updates := s.updates[subjectID]
	if len(updates) == 0 {
		return ProgressUpdate{}, false
	}
	return updates[len(updates)-1], true
}

type testEnv struct {
	state   *ServerState
	server  *httptest.Server
	client  *fakeSubmissionClient
	storage *InMemoryDraftStorage
	sink    *recordingSink
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	client := &fakeSubmissionClient{}
	storage := NewInMemoryDraftStorage()
	sink := newRecordingSink()

	flows := flow.NewManager(storage, face.Config{CheckDelay: time.Millisecond}, func() face.Camera {
		return face.NewFrameBuffer()
	})

	state := &ServerState{
		flows:     flows,
		storage:   storage,
		submitter: NewSubmitter(client, storage, sink, 10*time.Millisecond),
		identity:  headerIdentityProvider{},
		hub:       NewProgressHub(),
	}

	server := httptest.NewServer(NewRouter(state))
	t.Cleanup(server.Close)

	return &testEnv{state: state, server: server, client: client, storage: storage, sink: sink}
}

func (e *testEnv) request(t *testing.T, method, path, subject string, body any) (*http.Response, []byte) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequest(method, e.server.URL+path, reader)
	require.NoError(t, err)
	if subject != "" {
		req.Header.Set("X-Subject", subject)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	require.NoError(t, resp.Body.Close())

	return resp, buf.Bytes()
}

func (e *testEnv) post(t *testing.T, path, subject string, body any) (*http.Response, []byte) {
	t.Helper()
	return e.request(t, http.MethodPost, path, subject, body)
}

func (e *testEnv) get(t *testing.T, path, subject string) (*http.Response, []byte) {
	t.Helper()
	return e.request(t, http.MethodGet, path, subject, nil)
}

func testImageBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 300, 200))
	// Seeded noise keeps the encoded PNG above the minimum size gate; a
	// smooth gradient compresses below it.
	rng := rand.New(rand.NewSource(42))
	for y := 0; y < 200; y++ {
		for x := 0; x < 300; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: 42, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.GreaterOrEqual(t, buf.Len(), document.MinUploadSize)
	return buf.Bytes()
}

func documentUpload(t *testing.T, docType models.DocumentType) models.DocumentUploadRequest {
	t.Helper()
	return models.DocumentUploadRequest{
		Type: docType,
		Name: string(docType) + ".png",
		Data: base64.StdEncoding.EncodeToString(testImageBytes(t)),
	}
}

// completeConsumerFlow drives a started consumer session to a full score
// through the HTTP API.
func (e *testEnv) completeConsumerFlow(t *testing.T, subject string) {
	t.Helper()

	fields := map[string]string{
		"full_name":   "Amina Rahman",
		"email":       "amina@example.com",
		"phone":       "987-654-3210",
		"address":     "12 Lake View Road, Dhaka",
		"profession":  "Accountant",
		"father_name": "Rahim Rahman",
	}
	for field, value := range fields {
		resp, _ := e.post(t, "/api/flow/field", subject, models.FieldUpdateRequest{Field: field, Value: value})
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	picture := base64.StdEncoding.EncodeToString(testImageBytes(t))
	resp, _ := e.post(t, "/api/flow/field", subject, models.FieldUpdateRequest{Field: "profile_picture", Value: picture})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	for _, docType := range []models.DocumentType{models.DocumentPrimaryID, models.DocumentSecondaryID} {
		resp, body := e.post(t, "/api/flow/document", subject, documentUpload(t, docType))
		require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	}

	resp, _ = e.post(t, "/api/flow/face/frame", subject, models.FaceFrameRequest{
		Data: base64.StdEncoding.EncodeToString(testImageBytes(t)),
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	resp, _ = e.post(t, "/api/flow/face/start", subject, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body := e.post(t, "/api/flow/face/capture", subject, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
}
