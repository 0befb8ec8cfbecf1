package ollama

import (
	"context"
	"errors"
	"strings"

	"github.com/kirillkom/clinical-qa/internal/core/domain"
	"github.com/kirillkom/clinical-qa/internal/infrastructure/resilience"
)

// mapGenerationError turns a generate failure into the generation error kinds:
// non-2xx answers and undecodable bodies are failures, everything that never
// reached a response is unavailability. Caller cancellation is passed through.
func mapGenerationError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var statusErr *resilience.HTTPStatusError
	if errors.As(err, &statusErr) {
		return domain.WrapError(domain.ErrGenerationFailed, "ollama generate", &domain.GenerationFailedError{
			Backend:    "ollama",
			StatusCode: statusErr.StatusCode,
			Message:    strings.TrimSpace(statusErr.Body),
		})
	}

	var decodeErr *decodeError
	if errors.As(err, &decodeErr) {
		return domain.WrapError(domain.ErrGenerationFailed, "ollama generate", err)
	}
	return domain.WrapError(domain.ErrGenerationUnavailable, "ollama generate", err)
}

func wrapTemporaryIfNeeded(operation string, err error) error {
	if err == nil {
		return nil
	}
	if domain.IsKind(err, domain.ErrTemporary) {
		return err
	}
	class := resilience.ClassifyHTTPError(err)
	if class.Retryable {
		return domain.WrapError(domain.ErrTemporary, operation, err)
	}
	return err
}
