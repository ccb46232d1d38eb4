package gatt

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
)

// Descriptor is a GATT descriptor exported by BlueZ. It supports Read and Write
// only; descriptors are not notification sources. The zero value is a null descriptor.
type Descriptor struct {
	uuid     string
	path     dbus.ObjectPath
	charPath dbus.ObjectPath

	client *Client
	remote *RemoteObject
}

// Path returns the object path.
func (d *Descriptor) Path() dbus.ObjectPath { return d.path }

// UUID returns the descriptor UUID, or "" for a null descriptor.
func (d *Descriptor) UUID() string { return d.uuid }

// Characteristic returns the object path of the owning characteristic.
func (d *Descriptor) Characteristic() dbus.ObjectPath { return d.charPath }

// Valid reports whether this is a populated descriptor.
func (d *Descriptor) Valid() bool { return d != nil && d.uuid != "" }

// Read reads the descriptor value. On failure the returned slice is empty.
func (d *Descriptor) Read() ([]byte, error) {
	reply, err := d.call(methodReadValue, codec.EncodeReadArgs(0))
	if err != nil {
		return []byte{}, err
	}

	data, err := codec.DecodeByteArrayReply(reply)
	if err != nil {
		d.log().WithFields(logrus.Fields{
			"path":  d.path,
			"error": err,
		}).Warn("Incorrect type signature when reading descriptor")
		return []byte{}, &OpError{Kind: ProtocolMismatch, Op: methodReadValue, Path: d.path, Err: err}
	}
	return data, nil
}

// Write writes data with an acknowledged write request.
func (d *Descriptor) Write(data []byte) error {
	reply, err := d.call(methodWriteValue, codec.EncodeWriteArgs(data, codec.WriteRequest))
	if err != nil {
		return err
	}
	if err := codec.DecodeEmptyReply(reply); err != nil {
		d.log().WithFields(logrus.Fields{
			"path":  d.path,
			"error": err,
		}).Warn("Incorrect type signature when writing descriptor")
		return &OpError{Kind: ProtocolMismatch, Op: methodWriteValue, Path: d.path, Err: err}
	}
	return nil
}

// Close releases the connection.
func (d *Descriptor) Close() {
	if d.remote != nil {
		d.remote.Close()
		d.remote = nil
	}
}

// CopyFrom makes d an unconnected copy of o, releasing d's own connection first.
func (d *Descriptor) CopyFrom(o *Descriptor) {
	d.Close()
	if o == nil {
		*d = Descriptor{}
		return
	}
	d.uuid = o.uuid
	d.path = o.path
	d.charPath = o.charPath
	d.client = o.client
}

func (d *Descriptor) call(method string, args codec.Tuple) (codec.Tuple, error) {
	if d.client == nil {
		return nil, &OpError{Kind: ConnectionUnavailable, Op: method, Path: d.path, Err: ErrNoConnector}
	}
	if d.remote == nil {
		d.remote = d.client.remote(d.path, DescriptorInterface)
	}
	return d.remote.Call(method, args)
}

func (d *Descriptor) log() *logrus.Logger {
	if d.client == nil {
		return discardLogger()
	}
	return d.client.logger
}
