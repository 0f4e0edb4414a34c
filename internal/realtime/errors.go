package realtime

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation rejects bad input before any state change or store call.
	ErrValidation = errors.New("validation error")
	// ErrStoreUnavailable means the persistent store could not serve a request.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrWriteFailed means a durable insert was rejected.
	ErrWriteFailed = errors.New("write failed")
	// ErrSubscriptionFailed means a room channel could not be opened.
	ErrSubscriptionFailed = errors.New("subscription failed")

	// ErrRoomChanged is returned by resolutions that completed after the
	// active room moved on; their result was not applied.
	ErrRoomChanged = errors.New("active room changed")
	// ErrNotConnected is returned when publishing without a live channel.
	ErrNotConnected = errors.New("no live room channel")
	// ErrNoIdentity is returned when an operation needs a signed in user.
	ErrNoIdentity = errors.New("no authenticated user")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func storeUnavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}

// WriteFailedError carries the reason a durable message insert failed.
type WriteFailedError struct {
	MessageId string
	Reason    error
}

func (e *WriteFailedError) Error() string {
	return fmt.Sprintf("%s: message %q: %v", ErrWriteFailed, e.MessageId, e.Reason)
}

func (e *WriteFailedError) Unwrap() []error {
	return []error{ErrWriteFailed, e.Reason}
}

// SubscriptionFailedError carries the transport's reason for rejecting a room channel.
type SubscriptionFailedError struct {
	RoomId string
	Err    error
}

func (e *SubscriptionFailedError) Error() string {
	return fmt.Sprintf("%s: room %q: %v", ErrSubscriptionFailed, e.RoomId, e.Err)
}

func (e *SubscriptionFailedError) Unwrap() []error {
	return []error{ErrSubscriptionFailed, e.Err}
}
