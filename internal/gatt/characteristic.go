package gatt

import (
	"errors"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
)

// Characteristic is a GATT characteristic exported by BlueZ.
//
// The zero value is a null characteristic: Valid reports false and every remote
// operation fails with ErrConnectionUnavailable. A Characteristic is not safe for
// concurrent use. Notification callbacks run on whatever goroutine the connector
// delivers property changes on; the bluez connector posts them to an event loop,
// and the characteristic should be confined to that loop.
type Characteristic struct {
	uuid        string
	path        dbus.ObjectPath
	servicePath dbus.ObjectPath
	flags       Flags

	client *Client
	remote *RemoteObject
	notify func([]byte)
}

// Path returns the object path.
func (c *Characteristic) Path() dbus.ObjectPath { return c.path }

// UUID returns the characteristic UUID, or "" for a null characteristic.
func (c *Characteristic) UUID() string { return c.uuid }

// Flags returns the capability flags.
func (c *Characteristic) Flags() Flags { return c.flags }

// HasFlag reports whether the characteristic advertises flag.
func (c *Characteristic) HasFlag(flag string) bool { return c.flags.Has(flag) }

// Service returns the object path of the owning service.
func (c *Characteristic) Service() dbus.ObjectPath { return c.servicePath }

// Valid reports whether this is a populated characteristic.
func (c *Characteristic) Valid() bool { return c != nil && c.uuid != "" }

// Subscribed reports whether a notification subscription is active.
func (c *Characteristic) Subscribed() bool {
	return c.remote != nil && c.remote.Subscribed()
}

// Read reads the current value. The read is skipped when the UUID is on the
// client's deny-list. On failure the returned slice is empty, never nil, and the
// error tells a failed read apart from a genuinely empty value.
func (c *Characteristic) Read() ([]byte, error) {
	if c.client != nil && c.client.denyList.Contains(c.uuid) {
		c.log().WithFields(logrus.Fields{
			"uuid": c.uuid,
			"path": c.path,
		}).Debug("Skipping read of deny-listed characteristic")
		return []byte{}, &OpError{Kind: RemoteDisconnect, Op: methodReadValue, Path: c.path}
	}

	reply, err := c.call(methodReadValue, codec.EncodeReadArgs(0))
	if err != nil {
		return []byte{}, err
	}

	data, err := codec.DecodeByteArrayReply(reply)
	if err != nil {
		c.log().WithFields(logrus.Fields{
			"path":  c.path,
			"error": err,
		}).Warn("Incorrect type signature when reading")
		return []byte{}, &OpError{Kind: ProtocolMismatch, Op: methodReadValue, Path: c.path, Err: err}
	}
	return data, nil
}

// Write writes data with an acknowledged write request.
func (c *Characteristic) Write(data []byte) error {
	return c.write(data, codec.WriteRequest)
}

// Command writes data with an unacknowledged write command. Only the local
// call has to succeed; the peripheral does not confirm it.
func (c *Characteristic) Command(data []byte) error {
	return c.write(data, codec.WriteCommand)
}

func (c *Characteristic) write(data []byte, mode codec.WriteMode) error {
	reply, err := c.call(methodWriteValue, codec.EncodeWriteArgs(data, mode))
	if err != nil {
		return err
	}
	if err := codec.DecodeEmptyReply(reply); err != nil {
		c.log().WithFields(logrus.Fields{
			"path":  c.path,
			"mode":  mode,
			"error": err,
		}).Warn("Incorrect type signature when writing")
		return &OpError{Kind: ProtocolMismatch, Op: methodWriteValue, Path: c.path, Err: err}
	}
	return nil
}

// Notify subscribes to value changes and calls fn with each new value, once per
// change. When a subscription is already active only the callback is replaced.
func (c *Characteristic) Notify(fn func([]byte)) error {
	if fn == nil {
		return ErrNilCallback
	}
	if c.Subscribed() {
		c.notify = fn
		return nil
	}

	reply, err := c.call(methodStartNotify, nil)
	if err != nil {
		return err
	}
	if err := codec.DecodeEmptyReply(reply); err != nil {
		c.log().WithFields(logrus.Fields{
			"path":  c.path,
			"error": err,
		}).Warn("Incorrect return type signature for StartNotify")
		return &OpError{Kind: ProtocolMismatch, Op: methodStartNotify, Path: c.path, Err: err}
	}

	c.notify = fn
	if err := c.remote.Subscribe(c.onPropertiesChanged); err != nil {
		c.notify = nil
		// The daemon is notifying but nobody listens; undo it.
		_, _ = c.remote.Call(methodStopNotify, nil)
		return err
	}
	return nil
}

// StopNotify ends the subscription, if any. The remote StopNotify call is best
// effort. Calling it without an active subscription does nothing.
func (c *Characteristic) StopNotify() {
	if !c.Subscribed() {
		return
	}
	c.remote.Unsubscribe(methodStopNotify)
	c.notify = nil
}

// Close stops notifications and releases the connection. The characteristic
// keeps its identity and reconnects lazily if used again.
func (c *Characteristic) Close() {
	c.StopNotify()
	if c.remote != nil {
		c.remote.Close()
		c.remote = nil
	}
}

// CopyFrom makes c a copy of o. Any connection or subscription held by c is torn
// down first, and none is carried over from o.
func (c *Characteristic) CopyFrom(o *Characteristic) {
	c.Close()
	if o == nil {
		*c = Characteristic{}
		return
	}
	c.uuid = o.uuid
	c.path = o.path
	c.servicePath = o.servicePath
	c.flags = o.flags.clone()
	c.client = o.client
	c.notify = nil
}

// Clone returns an unconnected copy of c.
func (c *Characteristic) Clone() *Characteristic {
	n := &Characteristic{}
	n.CopyFrom(c)
	return n
}

func (c *Characteristic) onPropertiesChanged(changed codec.Value) {
	data, ok, err := codec.DecodeChangeNotification(changed)
	if err != nil {
		msg := "Changed Value is not a byte array"
		var m *codec.MismatchError
		if errors.As(err, &m) && m.What == codec.WhatChangedProperties {
			msg = "Incorrect type signature when changed property"
		}
		c.log().WithFields(logrus.Fields{
			"path":  c.path,
			"error": err,
		}).Warn(msg)
		return
	}
	if !ok {
		return
	}
	if fn := c.notify; fn != nil {
		fn(data)
	}
}

func (c *Characteristic) call(method string, args codec.Tuple) (codec.Tuple, error) {
	if c.client == nil {
		return nil, &OpError{Kind: ConnectionUnavailable, Op: method, Path: c.path, Err: ErrNoConnector}
	}
	if c.remote == nil {
		c.remote = c.client.remote(c.path, CharacteristicInterface)
	}
	return c.remote.Call(method, args)
}

func (c *Characteristic) log() *logrus.Logger {
	if c.client == nil {
		return discardLogger()
	}
	return c.client.logger
}
