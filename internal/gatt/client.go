package gatt

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
)

// BlueZ interface names.
const (
	CharacteristicInterface = "org.bluez.GattCharacteristic1"
	DescriptorInterface     = "org.bluez.GattDescriptor1"
)

// Remote method names shared by characteristics and descriptors.
const (
	methodReadValue   = "ReadValue"
	methodWriteValue  = "WriteValue"
	methodStartNotify = "StartNotify"
	methodStopNotify  = "StopNotify"
)

// Client holds what every characteristic and descriptor built from it shares:
// the connector to the daemon, the logger, and the read deny-list.
type Client struct {
	connector Connector
	logger    *logrus.Logger
	denyList  DenyList
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *logrus.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDenyList replaces the default read deny-list.
func WithDenyList(d DenyList) ClientOption {
	return func(c *Client) {
		c.denyList = d
	}
}

// NewClient creates a client using connector for all remote calls.
func NewClient(connector Connector, opts ...ClientOption) *Client {
	c := &Client{
		connector: connector,
		logger:    discardLogger(),
		denyList:  DefaultDenyList(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Logger returns the client's logger.
func (c *Client) Logger() *logrus.Logger { return c.logger }

// DenyList returns the read deny-list.
func (c *Client) DenyList() DenyList { return c.denyList }

// Characteristic builds a characteristic from its object path and property bag.
func (c *Client) Characteristic(path dbus.ObjectPath, props *codec.Dict) *Characteristic {
	ch := &Characteristic{path: path, client: c}
	props.Each(func(key string, v codec.Value) bool {
		switch key {
		case "UUID":
			ch.uuid = c.stringProperty(path, key, v)
		case "Flags":
			if s, ok := v.(codec.Strings); ok {
				ch.flags = NewFlags(s...)
			} else {
				c.badProperty(path, key, "as", v)
			}
		case "Service":
			ch.servicePath = dbus.ObjectPath(c.stringProperty(path, key, v))
		}
		return true
	})
	return ch
}

// Descriptor builds a descriptor from its object path and property bag.
func (c *Client) Descriptor(path dbus.ObjectPath, props *codec.Dict) *Descriptor {
	d := &Descriptor{path: path, client: c}
	props.Each(func(key string, v codec.Value) bool {
		switch key {
		case "UUID":
			d.uuid = c.stringProperty(path, key, v)
		case "Characteristic":
			d.charPath = dbus.ObjectPath(c.stringProperty(path, key, v))
		}
		return true
	})
	return d
}

func (c *Client) remote(path dbus.ObjectPath, iface string) *RemoteObject {
	return NewRemoteObject(c.connector, path, iface, c.logger)
}

// stringProperty accepts both strings and object paths.
func (c *Client) stringProperty(path dbus.ObjectPath, key string, v codec.Value) string {
	switch s := v.(type) {
	case codec.String:
		return string(s)
	case codec.ObjectPath:
		return string(s)
	}
	c.badProperty(path, key, "s", v)
	return ""
}

func (c *Client) badProperty(path dbus.ObjectPath, key, expected string, v codec.Value) {
	actual := "?"
	if v != nil {
		actual = v.Signature()
	}
	c.logger.WithFields(logrus.Fields{
		"path":     path,
		"property": key,
		"expected": expected,
		"actual":   actual,
	}).Warn("Ignoring property with unexpected type")
}
