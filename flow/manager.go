package flow

import (
	"fmt"
	"sync"

	"go-kyc-intake/face"
	"go-kyc-intake/models"
)

// Manager keeps the live session per subject. Concurrent tabs for the same
// subject share one session; the store underneath is last-writer-wins.
type Manager struct {
	mu       sync.Mutex
	store    Store
	faceCfg  face.Config
	camera   func() face.Camera
	sessions map[string]*Session
}

// NewManager builds a manager. newCamera is invoked once per session to
// hand it its own camera device.
func NewManager(store Store, faceCfg face.Config, newCamera func() face.Camera) *Manager {
	return &Manager{
		store:    store,
		faceCfg:  faceCfg,
		camera:   newCamera,
		sessions: make(map[string]*Session),
	}
}

// Start returns the subject's session, creating and hydrating it on first
// use. A later Start with a different flow kind replaces nothing: the
// existing session wins until it is dropped.
func (m *Manager) Start(subjectID string, kind models.FlowKind) (*Session, error) {
	variant, ok := VariantFor(kind)
	if !ok {
		return nil, fmt.Errorf("%q is not a valid flow", kind)
	}

	m.mu.Lock()
	session, exists := m.sessions[subjectID]
	if !exists {
		session = NewSession(subjectID, variant, m.store, m.camera(), m.faceCfg)
		m.sessions[subjectID] = session
	}
	m.mu.Unlock()

	// Hydration runs before the session's first score is authoritative.
	session.Hydrate()
	return session, nil
}

// Get returns the subject's live session, if any.
func (m *Manager) Get(subjectID string) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[subjectID]
	return session, ok
}

// Drop discards the subject's in-memory session, releasing its camera
// stream first. Cached store entries are not touched here.
func (m *Manager) Drop(subjectID string) {
	m.mu.Lock()
	session, ok := m.sessions[subjectID]
	delete(m.sessions, subjectID)
	m.mu.Unlock()
	if ok {
		session.Face().Stop()
	}
}
