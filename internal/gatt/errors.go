package gatt

import (
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// ErrorKind classifies a failed remote operation.
type ErrorKind string

const (
	// ConnectionUnavailable means the handle to the remote object could not be opened.
	ConnectionUnavailable ErrorKind = "connection_unavailable"
	// TransportFailure means the daemon answered the call with an error, or with nothing.
	TransportFailure ErrorKind = "transport_error"
	// ProtocolMismatch means a reply or notification had an unexpected type signature.
	ProtocolMismatch ErrorKind = "protocol_mismatch"
	// RemoteDisconnect means the operation was skipped because the peripheral is known
	// to drop the link when it is attempted.
	RemoteDisconnect ErrorKind = "remote_disconnect"
)

// OpError describes a failed operation on a remote object.
type OpError struct {
	Kind ErrorKind
	Op   string
	Path dbus.ObjectPath
	Err  error
}

// Error implements the error interface
func (e *OpError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := string(e.Kind)
	if e.Op != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Op, e.Path, e.Kind)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Is allows errors.Is to compare OpError values by Kind
func (e *OpError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*OpError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func (e *OpError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Predefined sentinel errors, one per kind
var (
	ErrConnectionUnavailable = &OpError{Kind: ConnectionUnavailable}
	ErrTransport             = &OpError{Kind: TransportFailure}
	ErrProtocolMismatch      = &OpError{Kind: ProtocolMismatch}
	ErrReadDenied            = &OpError{Kind: RemoteDisconnect}
)

var (
	// ErrNullReply is wrapped when the daemon returns neither a reply nor an error.
	ErrNullReply = errors.New("null reply")
	// ErrNoConnector is wrapped when an object was built without a connector, e.g. a null characteristic.
	ErrNoConnector = errors.New("no connector")
	// ErrNilCallback is returned by Notify when no callback is supplied.
	ErrNilCallback = errors.New("notify callback is nil")
)

// IsKind reports whether err is an OpError of the given kind
func IsKind(err error, kind ErrorKind) bool {
	var oerr *OpError
	if errors.As(err, &oerr) {
		return oerr.Kind == kind
	}
	return false
}
