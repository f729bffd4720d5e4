package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/gurre/sqs-s3-pipeline/fetcher"
	"github.com/gurre/sqs-s3-pipeline/record"
)

// ErrorKind classifies a per-message processing failure. Callers route on
// the kind: NotFound and Fatal suggest dead-letter handling, Transient and
// Deadline resolve themselves through queue redelivery.
type ErrorKind int

const (
	KindUnknown   ErrorKind = iota
	KindNotFound            // Referenced bucket/key does not exist
	KindTransient           // Retryable store or transport condition
	KindFatal               // Permission or configuration problem
	KindNoData              // Neither artifacts nor inline payload present
	KindSchema              // A record violated the schema
	KindMalformed           // Bytes could not be decoded
	KindHandler             // Caller-supplied handler failed or panicked
	KindDeadline            // Processing exceeded the visibility budget
)

// String returns the kind's name.
func (k ErrorKind) String() string {
	switch k {
	case KindNotFound:
		return "NotFound"
	case KindTransient:
		return "Transient"
	case KindFatal:
		return "Fatal"
	case KindNoData:
		return "NoData"
	case KindSchema:
		return "SchemaValidation"
	case KindMalformed:
		return "MalformedBytes"
	case KindHandler:
		return "Handler"
	case KindDeadline:
		return "Deadline"
	}
	return "Unknown"
}

// Error is the structured per-message failure captured into a Result. It
// carries the kind, the originating message identifier for manual
// reprocessing, and the wrapped cause.
type Error struct {
	Kind      ErrorKind
	MessageID string
	Err       error
}

func (e *Error) Error() string {
	return fmt.Sprintf("message %s: %s: %v", e.MessageID, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// classify maps an error from any pipeline stage onto the error taxonomy.
func classify(messageID string, err error) *Error {
	kind := KindUnknown

	var notFound *fetcher.NotFoundError
	var transient *fetcher.TransientError
	var fatal *fetcher.FatalError
	var schemaErr *record.SchemaError
	var malformed *record.MalformedError

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = KindDeadline
	case errors.Is(err, record.ErrNoData):
		kind = KindNoData
	case errors.As(err, &notFound):
		kind = KindNotFound
	case errors.As(err, &transient):
		kind = KindTransient
	case errors.As(err, &fatal):
		kind = KindFatal
	case errors.As(err, &schemaErr):
		kind = KindSchema
	case errors.As(err, &malformed):
		kind = KindMalformed
	default:
		// Unclassified errors come from transport internals; redelivery
		// is the safe disposition
		kind = KindTransient
	}

	return &Error{Kind: kind, MessageID: messageID, Err: err}
}
