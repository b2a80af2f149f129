package events

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingRoutingKey is returned when an event has no guild, channel or user id,
	// or when a subscription is requested for an empty topic.
	ErrMissingRoutingKey = errors.New("event doesn't contain any id")

	// ErrBusUninitialized is returned when the bus is used before Initialize completes.
	// Seeing it means the caller is wired incorrectly.
	ErrBusUninitialized = errors.New("event bus not initialized")

	// ErrBusClosed is returned when the bus is used after Close.
	ErrBusClosed = errors.New("event bus closed")

	// ErrPublish matches every *PublishError.
	ErrPublish = errors.New("publish failed")
)

// PublishError reports a broker failure while publishing to a topic.
// Publishing is never retried automatically.
type PublishError struct {
	Topic string
	Err   error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish to %q failed: %v", e.Topic, e.Err)
}

func (e *PublishError) Unwrap() []error {
	return []error{ErrPublish, e.Err}
}
