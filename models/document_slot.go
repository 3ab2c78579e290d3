package models

import "time"

// DocumentType identifies one required document of a flow variant.
type DocumentType string

const (
	DocumentPrimaryID     DocumentType = "primary-id"
	DocumentSecondaryID   DocumentType = "secondary-id"
	DocumentBusinessCertA DocumentType = "business-cert-a"
	DocumentBusinessCertB DocumentType = "business-cert-b"
)

// SlotStatus is the upload lifecycle state of a document slot.
type SlotStatus string

const (
	SlotPending  SlotStatus = "pending"
	SlotUploaded SlotStatus = "uploaded"
	// SlotVerified is reserved for a server-confirmed state and is never
	// set by this service.
	SlotVerified SlotStatus = "verified"
)

// DocumentMetadata describes an upload whose preview cannot be rendered
// directly (PDF and other non-image files). Size is the exact byte length
// of the original upload.
type DocumentMetadata struct {
	Name    string    `json:"name"`
	Mime    string    `json:"mime"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mtime"`
	Pages   int       `json:"pages,omitempty"`
}

// DocumentSlot tracks one required document.
// Invariant: Status == SlotUploaded iff EncodedPreview != "".
type DocumentSlot struct {
	Type           DocumentType      `json:"type"`
	Status         SlotStatus        `json:"status"`
	EncodedPreview string            `json:"encoded_preview,omitempty"`
	Metadata       *DocumentMetadata `json:"metadata,omitempty"`
}

func (s *DocumentSlot) Uploaded() bool {
	return s.Status == SlotUploaded
}
