package notesapi

import (
	"errors"
	"fmt"
)

// Kind classifies a failed remote call.
type Kind int

const (
	// KindTransport covers timeouts, refused connections and other network
	// failures.
	KindTransport Kind = iota + 1

	// KindBusiness is a well-formed response reporting a domain error
	// (non-2xx status or an error envelope).
	KindBusiness

	// KindDecode is a 2xx response whose body could not be understood.
	KindDecode
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindBusiness:
		return "business"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is returned by every Client method on failure.
type Error struct {
	Op      string // e.g. "create_note"
	Kind    Kind
	Status  int    // HTTP status, 0 for transport failures
	Message string // server-provided detail, if any
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Status != 0 && e.Message != "":
		return fmt.Sprintf("notesapi: %s: %s failure (status %d): %s", e.Op, e.Kind, e.Status, e.Message)
	case e.Status != 0:
		return fmt.Sprintf("notesapi: %s: %s failure (status %d)", e.Op, e.Kind, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("notesapi: %s: %s failure: %v", e.Op, e.Kind, e.Err)
	default:
		return fmt.Sprintf("notesapi: %s: %s failure: %s", e.Op, e.Kind, e.Message)
	}
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the Kind of err, or 0 if err is not an *Error.
func KindOf(err error) Kind {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Kind
	}
	return 0
}

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return KindOf(err) == KindTransport }

// IsBusiness reports whether err is a business failure reported by the API.
func IsBusiness(err error) bool { return KindOf(err) == KindBusiness }
