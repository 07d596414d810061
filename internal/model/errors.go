package model

import (
	"errors"
)

// ErrorKind classifies job failures for callers and progress records.
type ErrorKind string

const (
	ErrorKindValidation            ErrorKind = "validation"
	ErrorKindQuotaExceeded         ErrorKind = "quota_exceeded"
	ErrorKindTranscriptUnavailable ErrorKind = "transcript_unavailable"
	ErrorKindSummarization         ErrorKind = "summarization"
	ErrorKindTransientProvider     ErrorKind = "transient_provider"
	ErrorKindInternal              ErrorKind = "internal"
)

// JobError carries a user-safe Message alongside the underlying cause.
// Only Message may be shown to callers; Err is for server logs.
type JobError struct {
	Kind    ErrorKind
	Message string
	Err     error
	// Code is an optional machine-readable hint (e.g. "sign_in_required").
	Code string
}

func (e *JobError) Error() string {
	if e.Err != nil {
		return string(e.Kind) + ": " + e.Message + ": " + e.Err.Error()
	}
	return string(e.Kind) + ": " + e.Message
}

func (e *JobError) Unwrap() error {
	return e.Err
}

// Validation reports a malformed source reference or request.
func Validation(msg string, err error) *JobError {
	return &JobError{Kind: ErrorKindValidation, Message: msg, Err: err}
}

// QuotaExceeded reports that the identity has no remaining slots. code
// distinguishes "sign_in_required" from "upgrade_required".
func QuotaExceeded(msg, code string) *JobError {
	return &JobError{Kind: ErrorKindQuotaExceeded, Message: msg, Code: code}
}

// TranscriptUnavailable reports an exhausted provider chain.
func TranscriptUnavailable(err error) *JobError {
	return &JobError{
		Kind:    ErrorKindTranscriptUnavailable,
		Message: "We couldn't get a transcript for this video. It may not have captions available.",
		Err:     err,
	}
}

// Summarization reports a failure of the derivation step.
func Summarization(err error) *JobError {
	return &JobError{
		Kind:    ErrorKindSummarization,
		Message: "Something went wrong while generating your summary. Please try again.",
		Err:     err,
	}
}

// TransientProvider wraps a single provider's soft failure. It never leaves
// the acquisition chain.
func TransientProvider(provider string, err error) *JobError {
	return &JobError{Kind: ErrorKindTransientProvider, Message: provider + " failed", Err: err}
}

// KindOf returns the kind of the first JobError in err's chain, or
// ErrorKindInternal.
func KindOf(err error) ErrorKind {
	var je *JobError
	if errors.As(err, &je) {
		return je.Kind
	}
	return ErrorKindInternal
}

// PublicMessage returns a message that is safe to show to callers.
func PublicMessage(err error) string {
	var je *JobError
	if errors.As(err, &je) && je.Kind != ErrorKindTransientProvider {
		return je.Message
	}
	return "Something went wrong. Please try again."
}
