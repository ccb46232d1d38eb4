package gatt

import (
	"io"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
)

// Connector opens handles to objects exported by the Bluetooth daemon.
type Connector interface {
	// Connect opens a handle scoped to one object path and one interface.
	Connect(path dbus.ObjectPath, iface string) (Handle, error)
}

// Handle is an open connection to a single remote object.
//
// Call blocks until the daemon replies; there is no timeout. A nil reply with a
// nil error means the daemon answered with nothing at all.
type Handle interface {
	Call(method string, args codec.Tuple) (codec.Tuple, error)
	// Watch registers the listener for property changes of the object, replacing
	// any previous one. The listener receives the changed-properties dictionary.
	Watch(listener func(changed codec.Value)) error
	// Unwatch removes the listener registration.
	Unwatch()
	// Close releases the handle. A closed handle must not be used again.
	Close() error
}

// RemoteObject is a lazily connected proxy for one object on one interface.
// It is not safe for concurrent use; confine it to one goroutine.
type RemoteObject struct {
	path      dbus.ObjectPath
	iface     string
	connector Connector
	logger    *logrus.Logger

	handle    Handle
	listening bool
}

// NewRemoteObject creates a proxy. No connection is made until the first call.
func NewRemoteObject(connector Connector, path dbus.ObjectPath, iface string, logger *logrus.Logger) *RemoteObject {
	if logger == nil {
		logger = discardLogger()
	}
	return &RemoteObject{
		path:      path,
		iface:     iface,
		connector: connector,
		logger:    logger,
	}
}

// Path returns the object path.
func (o *RemoteObject) Path() dbus.ObjectPath { return o.path }

// Interface returns the interface name the proxy is scoped to.
func (o *RemoteObject) Interface() string { return o.iface }

// Connected reports whether a handle is currently open.
func (o *RemoteObject) Connected() bool { return o.handle != nil }

// Subscribed reports whether a property-change listener is registered.
func (o *RemoteObject) Subscribed() bool { return o.listening }

// EnsureConnected opens the handle if there is none. A failure is logged and
// leaves the proxy unconnected; the next call tries again.
func (o *RemoteObject) EnsureConnected() error {
	if o.handle != nil {
		return nil
	}

	if o.connector == nil {
		return o.connectFailed(ErrNoConnector)
	}

	h, err := o.connector.Connect(o.path, o.iface)
	if err != nil {
		return o.connectFailed(err)
	}
	if h == nil {
		return o.connectFailed(ErrNullReply)
	}

	o.handle = h
	return nil
}

func (o *RemoteObject) connectFailed(err error) error {
	o.logger.WithFields(logrus.Fields{
		"path":      o.path,
		"interface": o.iface,
		"error":     err,
	}).Error("Error getting D-Bus proxy")
	return &OpError{Kind: ConnectionUnavailable, Op: "connect", Path: o.path, Err: err}
}

// Call invokes method on the remote object and waits for the reply.
func (o *RemoteObject) Call(method string, args codec.Tuple) (codec.Tuple, error) {
	if err := o.EnsureConnected(); err != nil {
		return nil, err
	}
	if args == nil {
		args = codec.Tuple{}
	}

	reply, err := o.handle.Call(method, args)
	if err != nil {
		o.logger.WithFields(logrus.Fields{
			"path":   o.path,
			"method": method,
			"error":  err,
		}).Info("Error calling remote method")
		return nil, &OpError{Kind: TransportFailure, Op: method, Path: o.path, Err: err}
	}
	if reply == nil {
		o.logger.WithFields(logrus.Fields{
			"path":   o.path,
			"method": method,
		}).Warn("Null result when calling remote method")
		return nil, &OpError{Kind: TransportFailure, Op: method, Path: o.path, Err: ErrNullReply}
	}
	return reply, nil
}

// Subscribe registers listener for property changes, replacing any previous one.
func (o *RemoteObject) Subscribe(listener func(changed codec.Value)) error {
	if err := o.EnsureConnected(); err != nil {
		return err
	}
	if err := o.handle.Watch(listener); err != nil {
		o.logger.WithFields(logrus.Fields{
			"path":  o.path,
			"error": err,
		}).Info("Error watching property changes")
		return &OpError{Kind: TransportFailure, Op: "watch", Path: o.path, Err: err}
	}
	o.listening = true
	return nil
}

// Unsubscribe calls stopMethod on the remote object, ignoring its outcome beyond
// logging, and removes the listener. It does nothing when no listener is registered.
func (o *RemoteObject) Unsubscribe(stopMethod string) {
	if !o.listening || o.handle == nil {
		o.listening = false
		return
	}

	// Call already logs failures.
	_, _ = o.Call(stopMethod, nil)

	o.handle.Unwatch()
	o.listening = false
}

// Close drops the listener registration and releases the handle. It does not call
// any remote method.
func (o *RemoteObject) Close() {
	if o.handle == nil {
		return
	}
	if o.listening {
		o.handle.Unwatch()
		o.listening = false
	}
	if err := o.handle.Close(); err != nil {
		o.logger.WithFields(logrus.Fields{
			"path":  o.path,
			"error": err,
		}).Debug("Error releasing D-Bus proxy")
	}
	o.handle = nil
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
