package device

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnreachable covers transport failures and timeouts. Callers may retry.
	ErrUnreachable = errors.New("device unreachable")
	// ErrRejected means the device answered with a non-success status.
	ErrRejected = errors.New("device rejected request")
)

// Error describes a failed protocol call. The device's own status fields are
// kept verbatim for diagnostics.
type Error struct {
	Op            string
	Device        string
	HTTPStatus    int
	StatusCode    int
	StatusString  string
	SubStatusCode string
	ErrorMsg      string
	// Kind is ErrUnreachable or ErrRejected.
	Kind error
	Err  error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "device %s: %s: %v", e.Device, e.Op, e.Kind)
	if e.HTTPStatus != 0 {
		fmt.Fprintf(&b, " (http %d)", e.HTTPStatus)
	}
	if detail := e.Detail(); detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

// Detail joins the status fields the device returned.
func (e *Error) Detail() string {
	var parts []string
	if e.StatusString != "" {
		parts = append(parts, e.StatusString)
	}
	if e.SubStatusCode != "" {
		parts = append(parts, e.SubStatusCode)
	}
	if e.ErrorMsg != "" {
		parts = append(parts, e.ErrorMsg)
	}
	return strings.Join(parts, " / ")
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns a short message for reports: the device's status string when it
// sent one, otherwise the error text.
func Reason(err error) string {
	var de *Error
	if errors.As(err, &de) {
		if detail := de.Detail(); detail != "" {
			return detail
		}
		if de.Err != nil {
			return fmt.Sprintf("%v: %v", de.Kind, de.Err)
		}
		return de.Kind.Error()
	}
	return err.Error()
}

// IsUnreachable reports whether err is a transport failure.
func IsUnreachable(err error) bool {
	return errors.Is(err, ErrUnreachable)
}
