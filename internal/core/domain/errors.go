package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput          = errors.New("invalid input")
	ErrUnauthorized          = errors.New("unauthorized")
	ErrDocumentNotFound      = errors.New("document not found")
	ErrNoRelevantDocuments   = errors.New("no relevant documents")
	ErrGenerationUnavailable = errors.New("generation unavailable")
	ErrGenerationFailed      = errors.New("generation failed")
	ErrTemporary             = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// GenerationFailedError reports a non-success answer from the generation
// collaborator. It always matches ErrGenerationFailed.
type GenerationFailedError struct {
	Backend    string
	StatusCode int
	Message    string
}

func (e *GenerationFailedError) Error() string {
	if e == nil {
		return ErrGenerationFailed.Error()
	}
	if e.Message == "" {
		return fmt.Sprintf("%s generation status %d", e.Backend, e.StatusCode)
	}
	return fmt.Sprintf("%s generation status %d: %s", e.Backend, e.StatusCode, e.Message)
}

func (e *GenerationFailedError) Unwrap() error {
	return ErrGenerationFailed
}
