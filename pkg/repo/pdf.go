package repo

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/umutdz/dca/pkg/domain"
)

// PDFRepository is the typed access layer over document metadata and the
// per-user selection pointer. Both live in the document store.
type PDFRepository struct {
	metadata Repository[domain.PDFMetadata, string]
	selected Repository[domain.SelectedPDF, int64]
}

// NewPDFRepository wraps the two document repositories.
func NewPDFRepository(
	metadata Repository[domain.PDFMetadata, string],
	selected Repository[domain.SelectedPDF, int64],
) *PDFRepository {
	return &PDFRepository{metadata: metadata, selected: selected}
}

// PDFEntity describes metadata documents. IDs are fresh UUIDs.
func PDFEntity() Entity[domain.PDFMetadata, string] {
	return Entity[domain.PDFMetadata, string]{
		Name:  "pdf_metadata",
		ID:    func(m domain.PDFMetadata) string { return m.ID },
		SetID: func(m domain.PDFMetadata, id string) domain.PDFMetadata { m.ID = id; return m },
		NewID: uuid.NewString,
	}
}

// SelectedPDFEntity describes selection pointers. The user ID is the
// document ID, so each user holds at most one pointer.
func SelectedPDFEntity() Entity[domain.SelectedPDF, int64] {
	return Entity[domain.SelectedPDF, int64]{
		Name:  "selected_pdfs",
		ID:    func(s domain.SelectedPDF) int64 { return s.UserID },
		SetID: func(s domain.SelectedPDF, id int64) domain.SelectedPDF { s.UserID = id; return s },
	}
}

// CreateMetadata stores a new metadata document, stamping the upload time.
func (r *PDFRepository) CreateMetadata(ctx context.Context, meta domain.PDFMetadata) (domain.PDFMetadata, error) {
	meta.UploadDate = time.Now().UTC()
	return r.metadata.Create(ctx, meta)
}

func (r *PDFRepository) GetMetadata(ctx context.Context, id string) (domain.PDFMetadata, bool, error) {
	return r.metadata.Get(ctx, id)
}

// ListByUser returns the user's documents ordered by upload time.
func (r *PDFRepository) ListByUser(ctx context.Context, userID int64) ([]domain.PDFMetadata, error) {
	docs, err := r.metadata.GetMulti(ctx, 0, DefaultLimit, Filters{"user_id": userID})
	if err != nil {
		return nil, err
	}
	sort.Slice(docs, func(i, j int) bool {
		return docs[i].UploadDate.Before(docs[j].UploadDate)
	})
	return docs, nil
}

// SetText stores the extracted text and marks the document parsed.
func (r *PDFRepository) SetText(ctx context.Context, id, text string) (bool, error) {
	_, ok, err := r.metadata.Update(ctx, id, Fields{
		"text_content": text,
		"parsed":       true,
	})
	return ok, err
}

func (r *PDFRepository) DeleteMetadata(ctx context.Context, id string) (bool, error) {
	return r.metadata.Delete(ctx, id)
}

// SetSelected points the user at a document, replacing any previous choice.
func (r *PDFRepository) SetSelected(ctx context.Context, userID int64, pdfID string) error {
	now := time.Now().UTC()
	_, ok, err := r.selected.Update(ctx, userID, Fields{
		"pdf_id":     pdfID,
		"updated_at": now,
	})
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	_, err = r.selected.Create(ctx, domain.SelectedPDF{
		UserID:    userID,
		PDFID:     pdfID,
		UpdatedAt: now,
	})
	if err == ErrDuplicateKey {
		// Lost the race to a concurrent insert; retry as an update.
		_, _, err = r.selected.Update(ctx, userID, Fields{
			"pdf_id":     pdfID,
			"updated_at": now,
		})
	}
	return err
}

// GetSelected resolves the user's current selection to its metadata.
// A missing pointer or a pointer to a deleted document reads as absent.
func (r *PDFRepository) GetSelected(ctx context.Context, userID int64) (domain.PDFMetadata, bool, error) {
	var zero domain.PDFMetadata
	sel, ok, err := r.selected.Get(ctx, userID)
	if err != nil || !ok {
		return zero, false, err
	}
	return r.metadata.Get(ctx, sel.PDFID)
}
