package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go-kyc-intake/models"
)

// SubmissionError is a retryable failure of the verification backend call.
// Already-captured draft, document and face state survives it untouched.
type SubmissionError struct {
	Message string
	Err     error
}

func (e *SubmissionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// SubmissionClient sends the finished payload to the verification backend.
type SubmissionClient interface {
	// Submit posts the payload. Any transport error, non-2xx status or
	// success=false body is returned as a *SubmissionError.
	Submit(ctx context.Context, payload models.SubmissionPayload) (*models.SubmissionResponse, error)

	// HealthCheck verifies the verification backend is available.
	HealthCheck(ctx context.Context) error
}

// HttpSubmissionClient implements SubmissionClient against the platform's
// verification endpoint.
type HttpSubmissionClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewHttpSubmissionClient(baseURL string) *HttpSubmissionClient {
	return &HttpSubmissionClient{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *HttpSubmissionClient) Submit(ctx context.Context, payload models.SubmissionPayload) (*models.SubmissionResponse, error) {
	url := fmt.Sprintf("%s/api/verifications", c.baseURL)

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, &SubmissionError{Message: "failed to marshal submission payload", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, &SubmissionError{Message: "failed to create submission request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &SubmissionError{Message: "failed to reach verification endpoint", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		return nil, &SubmissionError{Message: fmt.Sprintf("submission failed with status %d: %s", resp.StatusCode, string(body))}
	}

	var response models.SubmissionResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, &SubmissionError{Message: "failed to decode submission response", Err: err}
	}

	if !response.Success {
		return nil, &SubmissionError{Message: fmt.Sprintf("verification backend rejected the submission: %s", response.Message)}
	}

	slog.Info("Submission accepted by verification backend", "attempt_id", payload.AttemptID, "subject", payload.SubjectID)
	return &response, nil
}

func (c *HttpSubmissionClient) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/api/healthz", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute health check request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("health check failed with status %d: %s", resp.StatusCode, string(body))
	}

	slog.Debug("Verification backend health check passed")
	return nil
}
