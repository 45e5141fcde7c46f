// Package export renders versions and version comparisons to HTML, PDF and
// DOCX, optionally archiving the output in object storage.
package export

import (
	"errors"
	"strings"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// ParseFormat maps a request parameter to a Format. Empty means PDF.
func ParseFormat(value string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(value))) {
	case "", FormatPDF:
		return FormatPDF, nil
	case FormatDOCX:
		return FormatDOCX, nil
	case FormatHTML:
		return FormatHTML, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func (f Format) extension() string {
	return "." + string(f)
}

// Result contains the export output. URL is set when the artifact was
// archived and a download link could be signed.
type Result struct {
	Data      []byte
	Filename  string
	MimeType  string
	ObjectKey string
	URL       string
}

var (
	// ErrContentUnavailable indicates version content could not be rendered.
	ErrContentUnavailable = errors.New("export content unavailable")
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
	ErrUnsupportedFormat     = errors.New("unsupported export format")
	// ErrDocumentMismatch is returned when a comparison spans two documents.
	ErrDocumentMismatch = errors.New("versions belong to different documents")
)
