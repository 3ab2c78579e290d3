package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go-kyc-intake/document"
	"go-kyc-intake/face"
	"go-kyc-intake/flow"
	"go-kyc-intake/images"
	"go-kyc-intake/models"
	"go-kyc-intake/validation"

	"github.com/gorilla/mux"
)

const ErrorInternal = "error:internal"
const ERR_MARSHAL = "failed to marshal response message"
const ERR_DECODE_BODY = "failed to decode request body"
const ERR_FLOW_NOT_STARTED = "no verification flow in progress"
const ERR_FLOW_START = "failed to start verification flow"
const ERR_STATUS_READ = "failed to read verification status"
const ERR_DOCUMENT_REJECTED = "document rejected"
const ERR_FACE_CAPTURE = "face capture failed"
const ERR_SUBMIT_GATE = "verification is not ready to submit"
const ERR_SUBMIT_FAILED = "submission failed"
const ERR_REAPPLY = "failed to reset verification"

type ServerConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	UseTls         bool   `json:"use_tls,omitempty"`
	TlsPrivKeyPath string `json:"tls_priv_key_path,omitempty"`
	TlsCertPath    string `json:"tls_cert_path,omitempty"`
}

type ServerState struct {
	flows     *flow.Manager
	storage   DraftStorage
	submitter *Submitter
	identity  IdentityProvider
	hub       *ProgressHub
}

type Server struct {
	server *http.Server
	config ServerConfig
}

func (s *Server) ListenAndServe() error {
	if s.config.UseTls {
		slog.Info("Starting server with TLS", "host", s.config.Host, "port", s.config.Port, "cert", s.config.TlsCertPath, "key", s.config.TlsPrivKeyPath)
		return s.server.ListenAndServeTLS(s.config.TlsCertPath, s.config.TlsPrivKeyPath)
	} else {
		slog.Info("Starting server without TLS", "host", s.config.Host, "port", s.config.Port)
		return s.server.ListenAndServe()
	}
}

func (s *Server) Stop() error {
	slog.Info("Shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := s.server.Shutdown(ctx)
	if err != nil {
		slog.Error("Error during server shutdown", "error", err)
	} else {
		slog.Info("Server shut down successfully")
	}
	return err
}

func NewServer(state *ServerState, config ServerConfig) (*Server, error) {
	slog.Info("Creating new server", "host", config.Host, "port", config.Port, "tls", config.UseTls)
	router := NewRouter(state)

	addr := fmt.Sprintf("%v:%v", config.Host, config.Port)
	srv := &http.Server{
		Handler: router,
		Addr:    addr,
		// Good practice: enforce timeouts for servers you create!
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  30 * time.Second,
	}

	slog.Info("Server created successfully", "address", addr)
	return &Server{
		server: srv,
		config: config,
	}, nil
}

// NewRouter wires the intake API. Split from NewServer so tests can mount
// the routes on an httptest server.
func NewRouter(state *ServerState) *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		slog.Debug("Health check request received")
		err := json.NewEncoder(w).Encode(map[string]bool{"ok": true})
		if err != nil {
			slog.Error("failed to write body to http response", "error", err)
		}
	})

	router.HandleFunc("/api/flow/start", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleStartFlow(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/field", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleUpdateField(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/document", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleUploadDocument(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/document/{type}", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleRemoveDocument(state, id, w, r)
	})).Methods(http.MethodDelete)
	router.HandleFunc("/api/flow/face/start", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleFaceStart(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/face/frame", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleFaceFrame(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/face/capture", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleFaceCapture(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/face/stop", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleFaceStop(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/progress", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleProgress(state, id, w, r)
	})).Methods(http.MethodGet)
	router.HandleFunc("/api/flow/progress/ws", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		state.hub.HandleConnection(id.ID, w, r)
	}))
	router.HandleFunc("/api/flow/submit", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleSubmit(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/reapply", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleReapply(state, id, w, r)
	}))
	router.HandleFunc("/api/flow/status", requireIdentity(state.identity, func(id *Identity, w http.ResponseWriter, r *http.Request) {
		handleStatus(state, id, w, r)
	})).Methods(http.MethodGet)

	slog.Debug("Registered all API routes")
	return router
}

func handleStartFlow(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	var request models.StartFlowRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	slog.Info("Received request to start verification flow", "subject", id.ID, "flow", request.Flow)

	// An existing status record short-circuits the flow to the status page.
	record, err := loadStatusRecord(state.storage, id.ID)
	if err != nil {
		slog.Warn("Failed to read cached status record, continuing without", "subject", id.ID, "error", err)
	}
	if record != nil {
		slog.Info("Subject already submitted, short-circuiting", "subject", id.ID, "status", record.Status)
		if err := writeJSON(w, http.StatusOK, models.StartFlowResponse{AlreadySubmitted: true, Status: record}); err != nil {
			respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		}
		return
	}

	session, err := state.flows.Start(id.ID, request.Flow)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid flow", ERR_FLOW_START, err)
		return
	}

	response := models.StartFlowResponse{
		Score: session.Score(),
		Total: session.Total(),
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Verification flow started", "subject", id.ID, "flow", request.Flow, "score", response.Score, "total", response.Total)
}

// currentSession fetches the subject's live session or answers 409.
func currentSession(state *ServerState, id *Identity, w http.ResponseWriter) (*flow.Session, bool) {
	session, ok := state.flows.Get(id.ID)
	if !ok {
		respondWithErr(w, http.StatusConflict, ERR_FLOW_NOT_STARTED, ERR_FLOW_NOT_STARTED, nil)
		return nil, false
	}
	return session, true
}

type fieldUpdateResponse struct {
	Field  string            `json:"field"`
	Result validation.Result `json:"result"`
	Score  int               `json:"score"`
	Total  int               `json:"total"`
}

func handleUpdateField(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	var request models.FieldUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	var result validation.Result
	if request.Field == "profile_picture" {
		// The profile picture is an encoded image, not a validated text field.
		session.SetProfilePicture(request.Value)
		result = validation.Result{IsValid: request.Value != "", State: validation.StateSuccess}
		if request.Value == "" {
			result.State = validation.StateNeutral
		}
	} else {
		field, err := validation.ParseField(request.Field)
		if err != nil {
			respondWithErr(w, http.StatusBadRequest, "unknown field", "field update for unknown field", err)
			return
		}
		result = session.SetField(field, request.Value)
	}

	slog.Debug("Field updated", "subject", id.ID, "field", request.Field, "state", result.State)

	response := fieldUpdateResponse{
		Field:  request.Field,
		Result: result,
		Score:  session.Score(),
		Total:  session.Total(),
	}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

type documentResponse struct {
	Slot  *models.DocumentSlot `json:"slot"`
	Score int                  `json:"score"`
	Total int                  `json:"total"`
}

func handleUploadDocument(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	var request models.DocumentUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	data, err := base64.StdEncoding.DecodeString(request.Data)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid file encoding", ERR_DECODE_BODY, err)
		return
	}

	slog.Info("Received document upload", "subject", id.ID, "type", request.Type, "name", request.Name, "size", len(data))

	slot, err := session.Documents().Accept(document.Upload{
		Type:    request.Type,
		Name:    request.Name,
		Data:    data,
		ModTime: request.ModTime,
	})
	if err != nil {
		var verr *document.ValidationError
		if errors.As(err, &verr) {
			respondWithErr(w, http.StatusBadRequest, verr.Reason, ERR_DOCUMENT_REJECTED, err)
			return
		}
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_DOCUMENT_REJECTED, err)
		return
	}

	response := documentResponse{Slot: slot, Score: session.Score(), Total: session.Total()}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleRemoveDocument(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	docType := models.DocumentType(mux.Vars(r)["type"])
	slog.Info("Removing document", "subject", id.ID, "type", docType)

	if err := session.Documents().Remove(docType); err != nil {
		var verr *document.ValidationError
		if errors.As(err, &verr) {
			respondWithErr(w, http.StatusBadRequest, verr.Reason, ERR_DOCUMENT_REJECTED, err)
			return
		}
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_DOCUMENT_REJECTED, err)
		return
	}

	response := documentResponse{Slot: session.Documents().Slot(docType), Score: session.Score(), Total: session.Total()}
	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleFaceStart(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	if err := session.Face().Start(r.Context()); err != nil {
		var accessErr *face.CameraAccessError
		if errors.As(err, &accessErr) {
			// Retryable: the flow stays usable, the client may call start again.
			respondWithErr(w, http.StatusServiceUnavailable, "camera unavailable, please retry", ERR_FACE_CAPTURE, err)
			return
		}
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_FACE_CAPTURE, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, session.Face().State()); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleFaceFrame(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	var request models.FaceFrameRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid request", ERR_DECODE_BODY, err)
		return
	}

	data, err := base64.StdEncoding.DecodeString(request.Data)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "invalid frame encoding", ERR_DECODE_BODY, err)
		return
	}

	frame, err := images.Decode(data)
	if err != nil {
		respondWithErr(w, http.StatusBadRequest, "frame is not a decodable image", ERR_FACE_CAPTURE, err)
		return
	}

	if err := session.PushFrame(frame); err != nil {
		respondWithErr(w, http.StatusConflict, "camera does not accept frames", ERR_FACE_CAPTURE, err)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func handleFaceCapture(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	if err := session.Face().Capture(r.Context()); err != nil {
		var accessErr *face.CameraAccessError
		if errors.As(err, &accessErr) {
			respondWithErr(w, http.StatusServiceUnavailable, "capture failed, please retry", ERR_FACE_CAPTURE, err)
			return
		}
		respondWithErr(w, http.StatusConflict, "capture is not available in the current state", ERR_FACE_CAPTURE, err)
		return
	}

	if err := writeJSON(w, http.StatusOK, session.Face().State()); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleFaceStop(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	session.Face().Stop()
	if err := writeJSON(w, http.StatusOK, session.Face().State()); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

type progressResponse struct {
	Score     int                          `json:"score"`
	Total     int                          `json:"total"`
	Complete  bool                         `json:"complete"`
	Fields    map[string]validation.Result `json:"fields"`
	Documents []*models.DocumentSlot       `json:"documents"`
	Face      *models.FaceAuthState        `json:"face,omitempty"`
	InFlight  bool                         `json:"submission_in_flight"`
}

func handleProgress(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	response := progressResponse{
		Score:     session.Score(),
		Total:     session.Total(),
		Complete:  session.IsComplete(),
		Fields:    session.FieldResults(),
		Documents: session.Documents().Slots(),
		InFlight:  state.submitter.InFlight(id.ID),
	}
	if session.Variant().RequireFace {
		faceState := session.Face().State()
		// the still itself stays out of progress polling responses
		faceState.Image = ""
		response.Face = &faceState
	}

	if err := writeJSON(w, http.StatusOK, response); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

func handleSubmit(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	session, ok := currentSession(state, id, w)
	if !ok {
		return
	}

	slog.Info("Received submission request", "subject", id.ID)

	record, err := state.submitter.Submit(r.Context(), session)
	if err != nil {
		var subErr *SubmissionError
		if errors.As(err, &subErr) {
			respondWithErr(w, http.StatusBadGateway, "submission failed, please retry", ERR_SUBMIT_FAILED, err)
			return
		}
		respondWithErr(w, http.StatusConflict, ERR_SUBMIT_GATE, ERR_SUBMIT_GATE, err)
		return
	}

	// Success is terminal for the attempt: the draft is discarded and the
	// client navigates to the status surface.
	state.flows.Drop(id.ID)

	if err := writeJSON(w, http.StatusOK, models.SubmitResponse{Status: record}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Submission completed successfully", "subject", id.ID)
}

func handleReapply(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	if !requirePOST(w, r) {
		return
	}

	slog.Info("Received reapply request", "subject", id.ID)

	record, err := loadStatusRecord(state.storage, id.ID)
	if err != nil {
		slog.Warn("Could not read status record during reapply, clearing anyway", "subject", id.ID, "error", err)
	}

	// Clear every cached entry either flow could have written. The record's
	// flow narrows it when available.
	docTypes := []models.DocumentType{
		models.DocumentPrimaryID,
		models.DocumentSecondaryID,
		models.DocumentBusinessCertA,
		models.DocumentBusinessCertB,
	}
	if record != nil {
		if variant, ok := flow.VariantFor(record.Flow); ok {
			docTypes = variant.Documents
		}
	}

	if err := reapply(state.storage, id.ID, docTypes); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_REAPPLY, err)
		return
	}
	state.flows.Drop(id.ID)

	if err := writeJSON(w, http.StatusOK, map[string]bool{"reapplied": true}); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
		return
	}
	slog.Info("Reapply completed, subject may start a fresh flow", "subject", id.ID)
}

func handleStatus(state *ServerState, id *Identity, w http.ResponseWriter, r *http.Request) {
	defer closeRequestBody(r)

	record, err := loadStatusRecord(state.storage, id.ID)
	if err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_STATUS_READ, err)
		return
	}
	if record == nil {
		respondWithErr(w, http.StatusNotFound, "no verification submitted", ERR_STATUS_READ, nil)
		return
	}

	if err := writeJSON(w, http.StatusOK, record); err != nil {
		respondWithErr(w, http.StatusInternalServerError, ErrorInternal, ERR_MARSHAL, err)
	}
}

// helpers ------------

func respondWithErr(w http.ResponseWriter, code int, responseBody string, logMsg string, e error) {
	slog.Error(logMsg, "error", e, "status_code", code, "response_body", responseBody)
	w.WriteHeader(code)
	if _, err := w.Write([]byte(responseBody)); err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
}

func closeRequestBody(r *http.Request) {
	if err := r.Body.Close(); err != nil {
		slog.Error("failed to close request body", "error", err)
	}
}

func requirePOST(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodPost {
		slog.Debug("Non-POST request rejected", "method", r.Method, "path", r.URL.Path)
		respondWithErr(w, http.StatusMethodNotAllowed, "method not allowed", "invalid method", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) error {
	slog.Debug("Writing JSON response", "status_code", status)
	payload, err := json.Marshal(v)
	if err != nil {
		slog.Error("Failed to marshal JSON payload", "error", err)
		return err
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(payload)
	if err != nil {
		slog.Error("failed to write body to http response", "error", err)
	}
	return nil
}
