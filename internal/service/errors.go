package service

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why a generation request failed.
type ErrorKind string

const (
	ErrorKindValidation        ErrorKind = "ValidationError"
	ErrorKindDispatch          ErrorKind = "DispatchError"
	ErrorKindExecutor          ErrorKind = "ExecutorError"
	ErrorKindTimeout           ErrorKind = "Timeout"
	ErrorKindMalformedResponse ErrorKind = "MalformedResponse"
	ErrorKindStorage           ErrorKind = "StorageError"
)

// GenerationError carries an ErrorKind together with the underlying cause.
type GenerationError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *GenerationError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Message != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Message)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	default:
		return string(e.Kind)
	}
}

func (e *GenerationError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches another *GenerationError by kind, so errors.Is(err, ErrTimeout) works.
func (e *GenerationError) Is(target error) bool {
	var other *GenerationError
	if !errors.As(target, &other) || e == nil {
		return false
	}
	return other.Message == "" && other.Err == nil && other.Kind == e.Kind
}

// Detail is the message persisted on the request row.
func (e *GenerationError) Detail() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Kind)
}

// Sentinels for errors.Is checks.
var (
	ErrValidation        = &GenerationError{Kind: ErrorKindValidation}
	ErrDispatch          = &GenerationError{Kind: ErrorKindDispatch}
	ErrExecutor          = &GenerationError{Kind: ErrorKindExecutor}
	ErrTimeout           = &GenerationError{Kind: ErrorKindTimeout}
	ErrMalformedResponse = &GenerationError{Kind: ErrorKindMalformedResponse}
	ErrStorage           = &GenerationError{Kind: ErrorKindStorage}
)

func newGenerationError(kind ErrorKind, message string, err error) *GenerationError {
	return &GenerationError{Kind: kind, Message: message, Err: err}
}

// KindOf returns the ErrorKind carried by err, or "".
func KindOf(err error) ErrorKind {
	var genErr *GenerationError
	if errors.As(err, &genErr) {
		return genErr.Kind
	}
	return ""
}
