package document

import (
	"bytes"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go-kyc-intake/images"
	"go-kyc-intake/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

const (
	MinUploadSize = 1 << 10 // rejects truncated/empty uploads
	MaxUploadSize = 5 << 20
)

// ValidationError is a precondition failure on an upload (wrong type, too
// large, too small). The slot is left unchanged and the reason is meant
// for a dismissible user-facing message.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

var allowedMimes = map[string]bool{
	"image/jpeg":      true,
	"image/png":       true,
	"application/pdf": true,
}

// Store is the slice of the resumability store the pipeline needs. Losing
// the store degrades resumability only; the pipeline never fails on it.
type Store interface {
	StoreEntry(subjectID, entry, value string) error
	RetrieveEntry(subjectID, entry string) (string, error)
	RemoveEntry(subjectID, entry string) error
}

// Upload is one captured file handed to the pipeline. Data is owned by the
// caller and never persisted; only the encoded preview survives.
type Upload struct {
	Type    models.DocumentType
	Name    string
	Data    []byte
	ModTime time.Time
}

// Pipeline owns the document slots of one flow session: it validates and
// compresses uploads, mirrors encoded previews into the resumability store
// and rehydrates slots after a reload.
type Pipeline struct {
	mu        sync.Mutex
	subjectID string
	store     Store
	order     []models.DocumentType
	slots     map[models.DocumentType]*models.DocumentSlot

	// onUploaded fires when a slot transitions to uploaded through Accept.
	// Hydration never fires it, so a reload cannot double-notify.
	onUploaded func(models.DocumentType)
}

func NewPipeline(subjectID string, types []models.DocumentType, store Store) *Pipeline {
	slots := make(map[models.DocumentType]*models.DocumentSlot, len(types))
	for _, t := range types {
		slots[t] = &models.DocumentSlot{Type: t, Status: models.SlotPending}
	}
	return &Pipeline{
		subjectID: subjectID,
		store:     store,
		order:     append([]models.DocumentType(nil), types...),
		slots:     slots,
	}
}

// OnUploaded registers the uploaded-notification callback.
func (p *Pipeline) OnUploaded(fn func(models.DocumentType)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onUploaded = fn
}

func entryKey(t models.DocumentType) string {
	return fmt.Sprintf("doc:%s", t)
}

// Hydrate restores any slot whose store entry already exists, so a reload
// does not force re-upload. Slots that are already uploaded are skipped.
// Store failures are treated as absent entries.
func (p *Pipeline) Hydrate() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for t, slot := range p.slots {
		if slot.Uploaded() {
			continue
		}
		preview, err := p.store.RetrieveEntry(p.subjectID, entryKey(t))
		if err != nil {
			slog.Warn("Failed to read cached preview, treating as absent", "subject", p.subjectID, "type", t, "error", err)
			continue
		}
		if preview == "" {
			continue
		}
		slot.EncodedPreview = preview
		slot.Status = models.SlotUploaded
		slog.Debug("Hydrated document slot from store", "subject", p.subjectID, "type", t)
	}
}

// Accept validates, compresses and stores one upload. On a precondition
// violation it returns a *ValidationError and leaves the slot unchanged.
func (p *Pipeline) Accept(up Upload) (*models.DocumentSlot, error) {
	p.mu.Lock()
	slot, ok := p.slots[up.Type]
	p.mu.Unlock()
	if !ok {
		return nil, &ValidationError{Reason: fmt.Sprintf("document type %q is not part of this flow", up.Type)}
	}

	if len(up.Data) < MinUploadSize {
		return nil, &ValidationError{Reason: "file is too small, it may be truncated or empty"}
	}
	if len(up.Data) > MaxUploadSize {
		return nil, &ValidationError{Reason: "file is too large, the maximum size is 5 MB"}
	}

	mtype := mimetype.Detect(up.Data)
	if !allowedMimes[mtype.String()] {
		return nil, &ValidationError{Reason: fmt.Sprintf("unsupported file type %s, use JPEG, PNG or PDF", mtype.String())}
	}

	preview, metadata := p.encode(up, mtype.String())

	if err := p.store.StoreEntry(p.subjectID, entryKey(up.Type), preview); err != nil {
		// Best effort: a dead store only costs resumability.
		slog.Warn("Failed to persist document preview", "subject", p.subjectID, "type", up.Type, "error", err)
	}

	p.mu.Lock()
	slot.EncodedPreview = preview
	slot.Metadata = metadata
	slot.Status = models.SlotUploaded
	notify := p.onUploaded
	p.mu.Unlock()

	slog.Info("Document uploaded", "subject", p.subjectID, "type", up.Type, "mime", mtype.String(), "size", len(up.Data))

	if notify != nil {
		notify(up.Type)
	}
	return slot, nil
}

// encode produces the stored preview string and, for non-image files, the
// fallback metadata used for preview rendering.
func (p *Pipeline) encode(up Upload, mime string) (string, *models.DocumentMetadata) {
	if mime == "application/pdf" {
		meta := &models.DocumentMetadata{
			Name:    up.Name,
			Mime:    mime,
			Size:    int64(len(up.Data)),
			ModTime: up.ModTime,
		}
		// Page count is informational only; a PDF pdfcpu cannot parse is
		// still accepted.
		if pages, err := api.PageCount(bytes.NewReader(up.Data), model.NewDefaultConfiguration()); err == nil {
			meta.Pages = pages
		} else {
			slog.Debug("Could not determine PDF page count", "name", up.Name, "error", err)
		}
		return images.EncodeOriginal(up.Data), meta
	}

	preview, err := images.Recompress(up.Data)
	if err != nil {
		// Compression failure is never fatal: fall back to the original bytes.
		slog.Warn("Image compression failed, storing original", "subject", p.subjectID, "type", up.Type, "error", err)
		return images.EncodeOriginal(up.Data), &models.DocumentMetadata{
			Name:    up.Name,
			Mime:    mime,
			Size:    int64(len(up.Data)),
			ModTime: up.ModTime,
		}
	}
	return preview, nil
}

// Remove clears the in-memory slot and its persisted entry, returning the
// slot to pending. Removing an already-pending slot is a no-op.
func (p *Pipeline) Remove(t models.DocumentType) error {
	p.mu.Lock()
	slot, ok := p.slots[t]
	if ok {
		slot.EncodedPreview = ""
		slot.Metadata = nil
		slot.Status = models.SlotPending
	}
	p.mu.Unlock()
	if !ok {
		return &ValidationError{Reason: fmt.Sprintf("document type %q is not part of this flow", t)}
	}

	if err := p.store.RemoveEntry(p.subjectID, entryKey(t)); err != nil {
		slog.Warn("Failed to remove cached preview", "subject", p.subjectID, "type", t, "error", err)
	}
	slog.Debug("Document slot reset to pending", "subject", p.subjectID, "type", t)
	return nil
}

// Slot returns the slot for t, or nil when t is not part of this flow.
func (p *Pipeline) Slot(t models.DocumentType) *models.DocumentSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[t]
}

// Slots returns the slots in flow order.
func (p *Pipeline) Slots() []*models.DocumentSlot {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*models.DocumentSlot, 0, len(p.order))
	for _, t := range p.order {
		out = append(out, p.slots[t])
	}
	return out
}

// UploadedCount returns how many slots are uploaded.
func (p *Pipeline) UploadedCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, slot := range p.slots {
		if slot.Uploaded() {
			n++
		}
	}
	return n
}

// AllUploaded reports whether every required document is uploaded.
func (p *Pipeline) AllUploaded() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, slot := range p.slots {
		if !slot.Uploaded() {
			return false
		}
	}
	return true
}

// Previews returns the encoded preview per uploaded document type.
func (p *Pipeline) Previews() map[models.DocumentType]string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[models.DocumentType]string)
	for t, slot := range p.slots {
		if slot.Uploaded() {
			out[t] = slot.EncodedPreview
		}
	}
	return out
}
