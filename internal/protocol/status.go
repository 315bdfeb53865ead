package protocol

import (
	"fmt"

	"github.com/google/uuid"
)

// CorrelationID joins a request on the requests queue to its reply on the
// responses queue and to the task record tracking it.
type CorrelationID string

// NewCorrelationID mints a fresh, globally unique correlation identifier.
func NewCorrelationID() CorrelationID {
	return CorrelationID(uuid.NewString())
}

// String returns the identifier as a plain string.
func (id CorrelationID) String() string {
	return string(id)
}

// Kind identifies which variant of Status is populated.
type Kind string

// Possible status kinds
const (
	KindPending    Kind = "pending"
	KindInProgress Kind = "in_progress"
	KindSuccess    Kind = "success"
	KindFailure    Kind = "failure"
)

// Status is the lifecycle state of one task.
//
// Data is only meaningful for InProgress (the raw upload, possibly absent);
// Text holds the decoded string for Success and the reason for Failure.
type Status struct {
	Kind Kind
	Data []byte
	Text string
}

// Pending is the state a task is registered in at submission time.
func Pending() Status {
	return Status{Kind: KindPending}
}

// InProgress carries the optional raw payload being processed.
func InProgress(data []byte) Status {
	return Status{Kind: KindInProgress, Data: data}
}

// Success carries the decoded text.
func Success(text string) Status {
	return Status{Kind: KindSuccess, Text: text}
}

// Failure carries a human-readable reason.
func Failure(reason string) Status {
	return Status{Kind: KindFailure, Text: reason}
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s.Kind == KindSuccess || s.Kind == KindFailure
}

// CanTransitionTo reports whether moving from s to next is a forward move.
// Statuses only advance: Pending, then InProgress, then one terminal status.
func (s Status) CanTransitionTo(next Status) bool {
	return next.rank() > s.rank()
}

func (s Status) rank() int {
	switch s.Kind {
	case KindPending:
		return 0
	case KindInProgress:
		return 1
	case KindSuccess, KindFailure:
		return 2
	default:
		return -1
	}
}

// Clone returns a copy that shares no memory with s.
func (s Status) Clone() Status {
	if s.Data != nil {
		s.Data = append([]byte(nil), s.Data...)
	}
	return s
}

// String renders the status for logs and listings.
func (s Status) String() string {
	switch s.Kind {
	case KindPending:
		return "Pending"
	case KindInProgress:
		if s.Data == nil {
			return "InProgress"
		}
		return fmt.Sprintf("InProgress(%d bytes)", len(s.Data))
	case KindSuccess:
		return fmt.Sprintf("Success(%s)", s.Text)
	case KindFailure:
		return fmt.Sprintf("Failure(%s)", s.Text)
	default:
		return fmt.Sprintf("Unknown(%s)", string(s.Kind))
	}
}
