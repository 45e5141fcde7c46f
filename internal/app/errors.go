package app

import (
	"errors"
	"fmt"
	"net/http"

	"folio/api/internal/blocks"
	"folio/api/internal/export"
	"folio/api/internal/gitrepo"
	"folio/api/internal/history"
	"folio/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

var errHandleNotFound = domainError(http.StatusNotFound, "HANDLE_NOT_FOUND", "Document handle not found", nil)

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, gitrepo.ErrNotMirrored):
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	case errors.Is(err, store.ErrInvalidVersion):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil
	case errors.Is(err, blocks.ErrMalformedContent):
		return http.StatusUnprocessableEntity, "MALFORMED_CONTENT", "Content is not a valid block list", nil
	case errors.Is(err, history.ErrHandleClosed):
		return http.StatusGone, "HANDLE_CLOSED", "Document handle is closed", nil
	case errors.Is(err, history.ErrPersistence):
		return http.StatusServiceUnavailable, "PERSISTENCE_ERROR", "Version could not be saved", map[string]any{"retryable": true}
	case errors.Is(err, export.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf, docx or html", nil
	case errors.Is(err, export.ErrDocumentMismatch):
		return http.StatusUnprocessableEntity, "DOCUMENT_MISMATCH", "Versions belong to different documents", nil
	case errors.Is(err, export.ErrContentUnavailable):
		return http.StatusUnprocessableEntity, "CONTENT_UNAVAILABLE", "Version content cannot be rendered", nil
	case export.IsDependencyMissing(err):
		return http.StatusServiceUnavailable, "EXPORT_UNAVAILABLE", "Export dependencies are not installed", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
