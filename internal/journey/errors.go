package journey

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionExpired is returned when the feed reports zero trains, which
	// is how it signals an invalid or expired session token.
	ErrSessionExpired = errors.New("feed session expired")

	// ErrFormatMismatch is returned when a stop row does not carry the four
	// expected time fields.
	ErrFormatMismatch = errors.New("route format mismatch")

	// ErrEmptyRoute is returned for a detail document with no stop rows.
	ErrEmptyRoute = errors.New("route has no stops")

	// ErrDisambiguation is returned when a bare time cannot be placed on a
	// calendar day close enough to the reference instant.
	ErrDisambiguation = errors.New("cannot disambiguate time")
)

// TransportError wraps a failed request to the upstream feed.
type TransportError struct {
	Op      string
	TrainID int64
	Err     error
}

func (e *TransportError) Error() string {
	if e.TrainID != 0 {
		return fmt.Sprintf("%s train %d: %v", e.Op, e.TrainID, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransport reports whether err is, or wraps, a *TransportError.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
