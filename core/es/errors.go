package es

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrBlankStreamID = errors.New("stream id is blank")
	ErrIDTooLong     = errors.New("id too long")
	ErrNoEvents      = errors.New("no events to append")

	// ErrConcurrencyViolation is matched by every *UnexpectedStreamStateError.
	ErrConcurrencyViolation = errors.New("unexpected stream state")
	// ErrVersionConflict is returned by a Backend when its compare-and-append lost a race.
	ErrVersionConflict = errors.New("version conflict")

	ErrEventOrdering  = errors.New("event ordering violation")
	ErrPastEvent      = fmt.Errorf("%w: cannot apply past event", ErrEventOrdering)
	ErrVersionGap     = fmt.Errorf("%w: version gap", ErrEventOrdering)
	ErrStreamMismatch = fmt.Errorf("%w: stream mismatch", ErrEventOrdering)

	ErrHandlerNotFound       = errors.New("handler not found")
	ErrAggregateTypeMismatch = errors.New("aggregate type mismatch")

	ErrSerialization         = errors.New("serialization failure")
	ErrTypeNotFound          = fmt.Errorf("%w: type not found", ErrSerialization)
	ErrDeserializationFailed = fmt.Errorf("%w: deserialization failed", ErrSerialization)

	ErrPartialCommit      = errors.New("partial commit")
	ErrPublishInterrupted = errors.New("publication interrupted after commit")
)

// UnexpectedStreamStateError reports a failed StreamExpectation.
// The caller has to reload the aggregate and retry the business operation.
type UnexpectedStreamStateError struct {
	StreamID StreamID
	Expected StreamExpectation
	Observed Version
}

func (e *UnexpectedStreamStateError) Error() string {
	return fmt.Sprintf(
		"%s: stream=%s expected=%s observed_version=%d",
		ErrConcurrencyViolation, e.StreamID, e.Expected, e.Observed,
	)
}

func (e *UnexpectedStreamStateError) Unwrap() error { return ErrConcurrencyViolation }

// EventOrderingError is returned when an event cannot be applied to an aggregate.
type EventOrderingError struct {
	StreamID       StreamID
	CurrentVersion Version
	EventStreamID  StreamID
	EventVersion   Version
	Err            error
}

func (e *EventOrderingError) Error() string {
	return fmt.Sprintf(
		"%s: aggregate=%s@%d event=%s@%d",
		e.Err, e.StreamID, e.CurrentVersion, e.EventStreamID, e.EventVersion,
	)
}

func (e *EventOrderingError) Unwrap() error { return e.Err }

// SerializationError carries the offending type name and raw payload.
type SerializationError struct {
	TypeName string
	Payload  []byte
	Err      error
}

func (e *SerializationError) Error() string {
	return fmt.Sprintf("%s: type=%q payload=%q", e.Err, e.TypeName, truncate(string(e.Payload), 256))
}

func (e *SerializationError) Unwrap() error { return e.Err }

// PartialCommitError is returned by backends that are only atomic per stream when
// a unit of work failed after some of its streams were already durably committed.
type PartialCommitError struct {
	Committed []StreamID
	Failed    StreamID
	Err       error
}

func (e *PartialCommitError) Error() string {
	committed := make([]string, len(e.Committed))
	for i, id := range e.Committed {
		committed[i] = id.String()
	}
	return fmt.Sprintf(
		"%s: committed=[%s] failed=%s: %s",
		ErrPartialCommit, strings.Join(committed, ","), e.Failed, e.Err,
	)
}

func (e *PartialCommitError) Unwrap() []error { return []error{ErrPartialCommit, e.Err} }

// HandlerNotFound is the error an Aggregate returns from the default branch of its Handle switch.
func HandlerNotFound(a Aggregate, e Event) error {
	return fmt.Errorf("%w: aggregate %s has no handler for %s (%T)", ErrHandlerNotFound, a.AggregateType(), e.Type(), e.Payload)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
