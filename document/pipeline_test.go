package document

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"testing"
	"time"

	"go-kyc-intake/models"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	entries map[string]string
	failing bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]string)}
}

func (s *fakeStore) key(subjectID, entry string) string {
	return subjectID + ":" + entry
}

func (s *fakeStore) StoreEntry(subjectID, entry, value string) error {
	if s.failing {
		return fmt.Errorf("store unavailable")
	}
	s.entries[s.key(subjectID, entry)] = value
	return nil
}

func (s *fakeStore) RetrieveEntry(subjectID, entry string) (string, error) {
	if s.failing {
		return "", fmt.Errorf("store unavailable")
	}
	return s.entries[s.key(subjectID, entry)], nil
}

func (s *fakeStore) RemoveEntry(subjectID, entry string) error {
	if s.failing {
		return fmt.Errorf("store unavailable")
	}
	delete(s.entries, s.key(subjectID, entry))
	return nil
}

func testPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	// Seeded noise keeps the encoded PNG above the minimum size gate; a
	// smooth gradient compresses below it.
	rng := rand.New(rand.NewSource(42))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(rng.Intn(256)), G: uint8(rng.Intn(256)), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	require.GreaterOrEqual(t, buf.Len(), MinUploadSize, "test fixture must clear the minimum size gate")
	return buf.Bytes()
}

func decodePreview(t *testing.T, encoded string) []byte {
	t.Helper()
	data, err := base64.StdEncoding.DecodeString(encoded)
	require.NoError(t, err)
	return data
}

func testPDF(minLen int) []byte {
	data := []byte("%PDF-1.4\n%test document\n")
	for len(data) < minLen {
		data = append(data, []byte("0000000000 00000 n\n")...)
	}
	return data
}

func consumerPipeline(store Store) *Pipeline {
	return NewPipeline("subject-1", []models.DocumentType{models.DocumentPrimaryID, models.DocumentSecondaryID}, store)
}

func TestAcceptImageUpload(t *testing.T) {
	store := newFakeStore()
	p := consumerPipeline(store)

	var notified []models.DocumentType
	p.OnUploaded(func(tp models.DocumentType) { notified = append(notified, tp) })

	slot, err := p.Accept(Upload{Type: models.DocumentPrimaryID, Name: "id-front.png", Data: testPNG(t, 300, 200)})
	require.NoError(t, err)
	require.Equal(t, models.SlotUploaded, slot.Status)
	require.NotEmpty(t, slot.EncodedPreview)
	require.Nil(t, slot.Metadata)

	// preview mirrored into the store
	cached, err := store.RetrieveEntry("subject-1", "doc:primary-id")
	require.NoError(t, err)
	require.Equal(t, slot.EncodedPreview, cached)

	require.Equal(t, []models.DocumentType{models.DocumentPrimaryID}, notified)
	require.Equal(t, 1, p.UploadedCount())
	require.False(t, p.AllUploaded())
}

func TestAcceptRejectsTooSmall(t *testing.T) {
	p := consumerPipeline(newFakeStore())

	_, err := p.Accept(Upload{Type: models.DocumentPrimaryID, Name: "x.png", Data: []byte("tiny")})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Reason, "too small")

	// slot untouched
	require.Equal(t, models.SlotPending, p.Slot(models.DocumentPrimaryID).Status)
}

func TestAcceptRejectsTooLarge(t *testing.T) {
	p := consumerPipeline(newFakeStore())

	_, err := p.Accept(Upload{Type: models.DocumentPrimaryID, Name: "x.png", Data: make([]byte, MaxUploadSize+1)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Reason, "too large")
}

func TestAcceptRejectsWrongMime(t *testing.T) {
	p := consumerPipeline(newFakeStore())

	data := make([]byte, MinUploadSize+1)
	copy(data, "GIF89a") // animated formats are not accepted
	_, err := p.Accept(Upload{Type: models.DocumentPrimaryID, Name: "x.gif", Data: data})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Reason, "unsupported file type")
}

func TestAcceptRejectsUnknownType(t *testing.T) {
	p := consumerPipeline(newFakeStore())
	_, err := p.Accept(Upload{Type: models.DocumentBusinessCertA, Name: "x.png", Data: testPNG(t, 300, 200)})
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestAcceptPDFKeepsOriginalBytesAndMetadata(t *testing.T) {
	store := newFakeStore()
	p := NewPipeline("merchant-1", []models.DocumentType{models.DocumentBusinessCertA, models.DocumentBusinessCertB}, store)

	mtime := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	data := testPDF(MinUploadSize + 1)
	slot, err := p.Accept(Upload{Type: models.DocumentBusinessCertA, Name: "certificate.pdf", Data: data, ModTime: mtime})
	require.NoError(t, err)

	require.Equal(t, models.SlotUploaded, slot.Status)
	require.NotNil(t, slot.Metadata)
	require.Equal(t, "certificate.pdf", slot.Metadata.Name)
	require.Equal(t, "application/pdf", slot.Metadata.Mime)
	require.Equal(t, int64(len(data)), slot.Metadata.Size)
	require.Equal(t, mtime, slot.Metadata.ModTime)

	// PDFs are never recompressed: the preview is the original bytes
	require.Equal(t, data, decodePreview(t, slot.EncodedPreview))
}

func TestAcceptSurvivesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	p := consumerPipeline(store)

	slot, err := p.Accept(Upload{Type: models.DocumentPrimaryID, Name: "id.png", Data: testPNG(t, 300, 200)})
	require.NoError(t, err)
	require.Equal(t, models.SlotUploaded, slot.Status)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := newFakeStore()
	p := consumerPipeline(store)

	_, err := p.Accept(Upload{Type: models.DocumentPrimaryID, Name: "id.png", Data: testPNG(t, 300, 200)})
	require.NoError(t, err)

	require.NoError(t, p.Remove(models.DocumentPrimaryID))
	slot := p.Slot(models.DocumentPrimaryID)
	require.Equal(t, models.SlotPending, slot.Status)
	require.Empty(t, slot.EncodedPreview)

	cached, err := store.RetrieveEntry("subject-1", "doc:primary-id")
	require.NoError(t, err)
	require.Empty(t, cached)

	// second removal leaves the slot pending and never throws
	require.NoError(t, p.Remove(models.DocumentPrimaryID))
	require.Equal(t, models.SlotPending, p.Slot(models.DocumentPrimaryID).Status)
}

func TestHydrateRestoresSlotsWithoutNotifying(t *testing.T) {
	store := newFakeStore()
	first := consumerPipeline(store)
	_, err := first.Accept(Upload{Type: models.DocumentPrimaryID, Name: "id.png", Data: testPNG(t, 300, 200)})
	require.NoError(t, err)

	// a fresh pipeline for the same subject simulates a page reload
	second := consumerPipeline(store)
	notified := 0
	second.OnUploaded(func(models.DocumentType) { notified++ })
	second.Hydrate()

	slot := second.Slot(models.DocumentPrimaryID)
	require.Equal(t, models.SlotUploaded, slot.Status)
	require.NotEmpty(t, slot.EncodedPreview)
	require.Equal(t, models.SlotPending, second.Slot(models.DocumentSecondaryID).Status)

	// hydration must not re-fire the uploaded notification
	require.Zero(t, notified)
}

func TestHydrateSurvivesStoreFailure(t *testing.T) {
	store := newFakeStore()
	store.failing = true
	p := consumerPipeline(store)
	p.Hydrate()
	require.Equal(t, models.SlotPending, p.Slot(models.DocumentPrimaryID).Status)
}
