package service

import (
	"context"
	"strings"

	"github.com/umutdz/dca/internal/util"
	"github.com/umutdz/dca/pkg/domain"
	"github.com/umutdz/dca/pkg/repo"
	"github.com/umutdz/dca/pkg/storage"
)

// Extractor pulls per-page text from a PDF document.
type Extractor func(data []byte) ([]string, error)

// JoinPages merges page texts into one body.
type JoinPages func(pages []string) string

// PDFService manages the upload, parse, and select lifecycle.
type PDFService struct {
	pdfs    *repo.PDFRepository
	blobs   storage.BlobStore
	extract Extractor
	join    JoinPages
}

func NewPDFService(pdfs *repo.PDFRepository, blobs storage.BlobStore, extract Extractor, join JoinPages) *PDFService {
	return &PDFService{pdfs: pdfs, blobs: blobs, extract: extract, join: join}
}

// Upload stores the raw content and records metadata for it. An empty title
// falls back to the filename without its extension. The document starts
// unparsed.
func (s *PDFService) Upload(ctx context.Context, userID int64, title, filename string, data []byte) (domain.PDFMetadata, error) {
	if len(data) == 0 {
		return domain.PDFMetadata{}, domain.ErrMissingField.WithDescription("empty file")
	}
	title = strings.TrimSpace(title)
	if title == "" {
		title = strings.TrimSuffix(filename, ".pdf")
	}
	fileID, err := s.blobs.Store(ctx, data, "application/pdf")
	if err != nil {
		return domain.PDFMetadata{}, domain.ErrPDFUploadFailed.WithDescription(err.Error())
	}
	meta, err := s.pdfs.CreateMetadata(ctx, domain.PDFMetadata{
		UserID:   userID,
		Filename: filename,
		Title:    title,
		FileID:   fileID,
	})
	if err != nil {
		// Do not leave an orphaned blob behind.
		_, _ = s.blobs.Delete(ctx, fileID)
		return domain.PDFMetadata{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	return meta, nil
}

// ListForUser returns the caller's documents.
func (s *PDFService) ListForUser(ctx context.Context, userID int64) ([]domain.PDFMetadata, error) {
	docs, err := s.pdfs.ListByUser(ctx, userID)
	if err != nil {
		return nil, domain.ErrDatabase.WithDescription(err.Error())
	}
	return docs, nil
}

// Get returns one document, enforcing ownership.
func (s *PDFService) Get(ctx context.Context, userID int64, pdfID string) (domain.PDFMetadata, error) {
	meta, ok, err := s.pdfs.GetMetadata(ctx, pdfID)
	if err != nil {
		return domain.PDFMetadata{}, domain.ErrDatabase.WithDescription(err.Error())
	}
	if !ok {
		return domain.PDFMetadata{}, domain.ErrPDFNotFound
	}
	if meta.UserID != userID {
		return domain.PDFMetadata{}, domain.ErrPDFAccessDenied
	}
	return meta, nil
}

// Parse extracts the document text and stores it. It reports false without
// error when the document or its content is missing, or when no page
// yields any text. Pages that fail to decode are skipped.
func (s *PDFService) Parse(ctx context.Context, pdfID string) (bool, error) {
	logger := util.LoggerFromContext(ctx)

	meta, ok, err := s.pdfs.GetMetadata(ctx, pdfID)
	if err != nil {
		return false, domain.ErrDatabase.WithDescription(err.Error())
	}
	if !ok {
		return false, nil
	}
	data, ok, err := s.blobs.Fetch(ctx, meta.FileID)
	if err != nil {
		return false, domain.ErrPDFParseFailed.WithDescription(err.Error())
	}
	if !ok {
		logger.Warn("pdf content missing from blob store", "pdf_id", pdfID, "file_id", meta.FileID)
		return false, nil
	}

	pages, err := s.extract(data)
	if err != nil {
		return false, domain.ErrPDFParseFailed.WithDescription(err.Error())
	}
	empty := 0
	for _, page := range pages {
		if page == "" {
			empty++
		}
	}
	if empty > 0 {
		logger.Warn("skipped unreadable pdf pages", "pdf_id", pdfID, "pages", len(pages), "skipped", empty)
	}
	text := s.join(pages)
	if text == "" {
		return false, nil
	}

	stored, err := s.pdfs.SetText(ctx, pdfID, text)
	if err != nil {
		return false, domain.ErrDatabase.WithDescription(err.Error())
	}
	return stored, nil
}

// Select marks the document as the user's active chat target, parsing it
// first when needed. Selecting a document you do not own is denied.
func (s *PDFService) Select(ctx context.Context, userID int64, pdfID string) (domain.PDFMetadata, error) {
	meta, err := s.Get(ctx, userID, pdfID)
	if err != nil {
		return domain.PDFMetadata{}, err
	}
	if !meta.Parsed {
		parsed, err := s.Parse(ctx, pdfID)
		if err != nil {
			return domain.PDFMetadata{}, err
		}
		if !parsed {
			return domain.PDFMetadata{}, domain.ErrPDFParseFailed.WithDescription("no text could be extracted")
		}
		meta, _, err = s.pdfs.GetMetadata(ctx, pdfID)
		if err != nil {
			return domain.PDFMetadata{}, domain.ErrDatabase.WithDescription(err.Error())
		}
	}
	if err := s.pdfs.SetSelected(ctx, userID, pdfID); err != nil {
		return domain.PDFMetadata{}, domain.ErrPDFSelectionFailed.WithDescription(err.Error())
	}
	return meta, nil
}

// Selected returns the user's active document, if any.
func (s *PDFService) Selected(ctx context.Context, userID int64) (domain.PDFMetadata, bool, error) {
	meta, ok, err := s.pdfs.GetSelected(ctx, userID)
	if err != nil {
		return domain.PDFMetadata{}, false, domain.ErrDatabase.WithDescription(err.Error())
	}
	return meta, ok, nil
}
