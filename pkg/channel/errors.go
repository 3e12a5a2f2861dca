package channel

import (
	"errors"
	"fmt"
)

// ErrorKind is a stable classification of a platform client failure.
type ErrorKind string

const (
	ErrorTopicMissing  ErrorKind = "topic_missing"
	ErrorDuplicateName ErrorKind = "duplicate_name"
	ErrorRejected      ErrorKind = "rejected"
	ErrorUnavailable   ErrorKind = "unavailable"
)

// Error represents a categorized platform client failure. Clients classify
// raw API errors at their boundary so retry policy never inspects message text.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}

	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// NewError creates a categorized platform error.
func NewError(kind ErrorKind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the stable kind of err, or an empty kind for uncategorized errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}

	var categorized *Error
	if errors.As(err, &categorized) {
		return categorized.Kind
	}

	return ""
}

// IsTopicMissing reports whether the destination no longer knows the target topic.
func IsTopicMissing(err error) bool {
	return KindOf(err) == ErrorTopicMissing
}

// IsDuplicateName reports whether topic creation collided with an existing name.
func IsDuplicateName(err error) bool {
	return KindOf(err) == ErrorDuplicateName
}
