package errs

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden covers permission, role and mute violations.
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound covers missing rooms, messages and members.
	ErrNotFound = errors.New("not found")
	// ErrRoomFull means the room's max_members cap is reached.
	ErrRoomFull = errors.New("room full")
	// ErrConflict covers duplicate joins and already-recorded views.
	ErrConflict = errors.New("conflict")
	// ErrTransient covers store/transport I/O failures. Callers may retry.
	ErrTransient = errors.New("transient failure")
	// ErrInvalidArgument covers malformed timer durations, empty content, etc.
	ErrInvalidArgument = errors.New("invalid argument")
)

func Forbidden(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrForbidden)...)
}

func NotFound(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrNotFound)...)
}

func Invalid(format string, args ...any) error {
	return fmt.Errorf(format+": %w", append(args, ErrInvalidArgument)...)
}

// Transient wraps a low-level store/transport error so callers can
// distinguish retryable failures with errors.Is(err, ErrTransient)
// while keeping the cause in the message.
func Transient(op string, err error) error {
	return fmt.Errorf("%s: %v: %w", op, err, ErrTransient)
}

func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
