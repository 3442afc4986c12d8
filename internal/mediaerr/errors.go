// ABOUTME: Tagged error kinds for decode, scan and refresh operations
// ABOUTME: Provides Kind, a wrapping Error type, sentinels and IsX helpers
package mediaerr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure so callers can branch without string matching.
type Kind int

const (
	KindUnknown Kind = iota
	// KindResourceUnavailable: storage lookup failed, not a regular file, or the stream could not be opened.
	KindResourceUnavailable
	// KindUnsupportedFormat: no enabled plugin claims the resource.
	KindUnsupportedFormat
	// KindMalformedContainer: container header or sizes are inconsistent.
	KindMalformedContainer
	// KindBackendInitFailure: a plugin could not initialize its backend.
	KindBackendInitFailure
	// KindIOFailure: a read or seek failed mid-operation.
	KindIOFailure
	// KindCancelled: a STOP command interrupted the operation.
	KindCancelled
)

var kindNames = [...]string{
	KindUnknown:             "unknown",
	KindResourceUnavailable: "resource unavailable",
	KindUnsupportedFormat:   "unsupported format",
	KindMalformedContainer:  "malformed container",
	KindBackendInitFailure:  "backend init failure",
	KindIOFailure:           "i/o failure",
	KindCancelled:           "cancelled",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

var (
	ErrResourceUnavailable = errors.New("media: resource unavailable")
	ErrUnsupportedFormat   = errors.New("media: unsupported format")
	ErrMalformedContainer  = errors.New("media: malformed container")
	ErrBackendInitFailure  = errors.New("media: backend init failure")
	ErrIOFailure           = errors.New("media: i/o failure")
	ErrCancelled           = errors.New("media: cancelled")
)

var sentinels = map[Kind]error{
	KindResourceUnavailable: ErrResourceUnavailable,
	KindUnsupportedFormat:   ErrUnsupportedFormat,
	KindMalformedContainer:  ErrMalformedContainer,
	KindBackendInitFailure:  ErrBackendInitFailure,
	KindIOFailure:           ErrIOFailure,
	KindCancelled:           ErrCancelled,
}

// Error carries the failing operation, the resource it ran on and a kind.
type Error struct {
	Kind Kind
	Op   string
	URI  string
	Err  error
}

// E builds a tagged error. err may be nil.
func E(kind Kind, op, uri string, err error) *Error {
	return &Error{Kind: kind, Op: op, URI: uri, Err: err}
}

func (e *Error) Error() string {
	msg := e.Op
	if e.URI != "" {
		msg += " " + e.URI
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the sentinel of the error's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the outermost tagged error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for k, s := range sentinels {
		if errors.Is(err, s) {
			return k
		}
	}
	return KindUnknown
}

func IsResourceUnavailable(err error) bool { return errors.Is(err, ErrResourceUnavailable) }
func IsUnsupportedFormat(err error) bool   { return errors.Is(err, ErrUnsupportedFormat) }
func IsMalformedContainer(err error) bool  { return errors.Is(err, ErrMalformedContainer) }
func IsBackendInitFailure(err error) bool  { return errors.Is(err, ErrBackendInitFailure) }
func IsIOFailure(err error) bool           { return errors.Is(err, ErrIOFailure) }
func IsCancelled(err error) bool           { return errors.Is(err, ErrCancelled) }
