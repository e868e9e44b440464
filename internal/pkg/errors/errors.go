package errors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrInvalid      = errors.New("invalid")
	ErrConflict     = errors.New("conflict")
	ErrInternal     = errors.New("internal")

	ErrValidation       = errors.New("validation error")
	ErrExtraction       = errors.New("extraction error")
	ErrUnsupportedType  = &kindError{kind: ErrExtraction, msg: "unsupported file type"}
	ErrExtractionFailed = &kindError{kind: ErrExtraction, msg: "extraction failed"}
	ErrEmbeddingFailure = errors.New("embedding failure")
	ErrStorage          = errors.New("storage error")
	ErrIntegrity        = errors.New("integrity error")
)

// kindError is a sentinel that also matches a broader kind.
type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }

func (e *kindError) Unwrap() error { return e.kind }

// Error carries a sentinel kind together with the underlying cause.
// errors.Is matches both.
type Error struct {
	Kind  error
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Cause == nil {
		return msg
	}
	return msg + ": " + e.Cause.Error()
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

func Wrap(kind, cause error) error {
	if cause == nil {
		return nil
	}
	if errors.Is(cause, kind) {
		return cause
	}
	return &Error{Kind: kind, Cause: cause}
}

// WrapEmbedding marks err as an embedding failure unless it already reports
// an integrity problem, such as a vector of the wrong width.
func WrapEmbedding(err error) error {
	if IsIntegrity(err) {
		return err
	}
	return Wrap(ErrEmbeddingFailure, err)
}

func Wrapf(kind error, format string, args ...interface{}) error {
	return &Error{Kind: kind, Msg: kind.Error() + ": " + fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation)
}

func IsExtraction(err error) bool {
	return errors.Is(err, ErrExtraction)
}

func IsEmbeddingFailure(err error) bool {
	return errors.Is(err, ErrEmbeddingFailure)
}

func IsStorage(err error) bool {
	return errors.Is(err, ErrStorage)
}

func IsIntegrity(err error) bool {
	return errors.Is(err, ErrIntegrity)
}
