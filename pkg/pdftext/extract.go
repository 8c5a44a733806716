// Package pdftext extracts plain text from PDF documents.
package pdftext

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// Pages returns the text of each page in order. A page that cannot be
// decoded yields an empty string instead of failing the whole document;
// only an unreadable document is an error.
func Pages(data []byte) ([]string, error) {
	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	total := reader.NumPage()
	pages := make([]string, 0, total)
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip problematic pages instead of failing entirely.
			pages = append(pages, "")
			continue
		}
		pages = append(pages, Normalize(text))
	}
	return pages, nil
}

// Normalize strips NUL bytes and invalid UTF-8 and collapses whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}
	return strings.Join(strings.Fields(text), " ")
}

// Join merges page texts into one document body, dropping empty pages.
func Join(pages []string) string {
	parts := make([]string, 0, len(pages))
	for _, page := range pages {
		if page != "" {
			parts = append(parts, page)
		}
	}
	return strings.Join(parts, "\n")
}
