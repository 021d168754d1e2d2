package models

import (
	"errors"
	"fmt"
)

var (
	// ErrMatchingMiss means a record found no counterpart above the threshold.
	ErrMatchingMiss = errors.New("no match above threshold")
	// ErrPersistenceFailure means a store operation failed after retries.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrExternalService means the geocoder or embedding service failed.
	ErrExternalService = errors.New("external service failure")
	// ErrDataIntegrity means a record violated an assumption but was processed anyway.
	ErrDataIntegrity = errors.New("data integrity warning")
	// ErrMissingCoordinates means a unified record could not be located.
	ErrMissingCoordinates = errors.New("no coordinates in linked sources or entity")
)

// RecordError ties an error class to the record it happened on.
type RecordError struct {
	Kind   error
	Ref    RecordRef
	Detail string
	Err    error
}

func (e *RecordError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Kind, e.Ref)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *RecordError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewRecordError builds a RecordError.
func NewRecordError(kind error, ref RecordRef, detail string, err error) *RecordError {
	return &RecordError{Kind: kind, Ref: ref, Detail: detail, Err: err}
}

// IntegrityWarning is a non-fatal DataIntegrity finding surfaced in logs and reports.
type IntegrityWarning struct {
	Ref    RecordRef `json:"ref"`
	Kind   string    `json:"kind"`
	Detail string    `json:"detail"`
}

func (w IntegrityWarning) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrDataIntegrity, w.Ref, w.Detail)
}

func (w IntegrityWarning) Unwrap() error {
	return ErrDataIntegrity
}
