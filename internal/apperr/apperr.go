package apperr

import (
	"errors"
	"net/http"
)

// Error kinds. Every error that crosses a package boundary in dok-tok matches
// exactly one of these through errors.Is.
var (
	ErrInvalidParameters   = errors.New("invalid parameters")
	ErrExtractionFailed    = errors.New("extraction failed")
	ErrNoContext           = errors.New("no context")
	ErrUpstreamFailure     = errors.New("upstream failure")
	ErrIndexingFailed      = errors.New("indexing failed")
	ErrUnsupportedFileType = errors.New("unsupported file type")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
)

// Error carries a kind, a message that is safe to show to a client, and the
// underlying cause which is only ever logged.
type Error struct {
	Kind    error
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return e.Message + ": " + e.Err.Error()
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func New(kind error, message string) error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind error, message string, err error) error {
	return &Error{Kind: kind, Message: message, Err: err}
}

type classification struct {
	kind   error
	code   string
	status int
}

var classes = []classification{
	{ErrUnsupportedFileType, "UNSUPPORTED_FILE_TYPE", http.StatusBadRequest},
	{ErrInvalidParameters, "INVALID_PARAMETERS", http.StatusBadRequest},
	{ErrExtractionFailed, "EXTRACTION_FAILED", http.StatusUnprocessableEntity},
	{ErrNoContext, "NO_CONTEXT", http.StatusNotFound},
	{ErrNotFound, "NOT_FOUND", http.StatusNotFound},
	{ErrConflict, "CONFLICT", http.StatusConflict},
	{ErrIndexingFailed, "INDEXING_FAILED", http.StatusBadGateway},
	{ErrUpstreamFailure, "UPSTREAM_FAILURE", http.StatusBadGateway},
}

func classify(err error) (classification, bool) {
	for _, c := range classes {
		if errors.Is(err, c.kind) {
			return c, true
		}
	}
	return classification{}, false
}

// Code returns the stable machine-readable code for err, INTERNAL_ERROR when
// err is not one of ours.
func Code(err error) string {
	if c, ok := classify(err); ok {
		return c.code
	}
	return "INTERNAL_ERROR"
}

// Status maps err to an HTTP status code.
func Status(err error) int {
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// Message returns the client-facing text for err. Causes wrapped inside an
// *Error are never included.
func Message(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if c, ok := classify(err); ok {
		return c.kind.Error()
	}
	return "Internal Server Error"
}
