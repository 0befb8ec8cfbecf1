package httpadapter

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
)

// statusClientClosedRequest is the nginx convention for a caller that went
// away before the answer was ready. It is never written to a live client.
const statusClientClosedRequest = 499

func mapErrorToHTTPStatus(err error) int {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case domain.IsKind(err, domain.ErrUnauthorized):
		return http.StatusUnauthorized
	case domain.IsKind(err, domain.ErrDocumentNotFound),
		domain.IsKind(err, domain.ErrNoRelevantDocuments):
		return http.StatusNotFound
	case domain.IsKind(err, domain.ErrGenerationUnavailable),
		domain.IsKind(err, domain.ErrGenerationFailed),
		domain.IsKind(err, domain.ErrTemporary):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, context.Canceled):
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is the machine-readable outcome, also used as the metrics label.
func errorCode(err error) string {
	switch {
	case domain.IsKind(err, domain.ErrInvalidInput):
		return "invalid_request"
	case domain.IsKind(err, domain.ErrUnauthorized):
		return "unauthorized"
	case domain.IsKind(err, domain.ErrDocumentNotFound):
		return "document_not_found"
	case domain.IsKind(err, domain.ErrNoRelevantDocuments):
		return "no_relevant_documents"
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return "generation_unavailable"
	case domain.IsKind(err, domain.ErrGenerationFailed):
		return "generation_failed"
	case domain.IsKind(err, domain.ErrTemporary):
		return "temporarily_unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "client_canceled"
	default:
		return "internal_error"
	}
}

// publicErrorMessage keeps collaborator detail out of 5xx answers. Client
// errors describe the caller's own input and are returned as is.
func publicErrorMessage(err error, status int) string {
	if status < http.StatusInternalServerError && status != statusClientClosedRequest {
		return err.Error()
	}

	var failed *domain.GenerationFailedError
	switch {
	case errors.As(err, &failed):
		return fmt.Sprintf("%s: %s backend answered status %d", domain.ErrGenerationFailed, failed.Backend, failed.StatusCode)
	case domain.IsKind(err, domain.ErrGenerationFailed):
		return domain.ErrGenerationFailed.Error()
	case domain.IsKind(err, domain.ErrGenerationUnavailable):
		return domain.ErrGenerationUnavailable.Error()
	case domain.IsKind(err, domain.ErrTemporary):
		return domain.ErrTemporary.Error()
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request canceled"
	default:
		return "internal processing error"
	}
}
