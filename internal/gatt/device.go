package gatt

import (
	"sort"

	"github.com/godbus/dbus/v5"
)

// Device is a connected peripheral as reported by discovery.
type Device struct {
	Path     dbus.ObjectPath
	Name     string
	Services map[dbus.ObjectPath]*Service
}

// Service is a primary or secondary GATT service of a Device.
type Service struct {
	UUID            string
	Path            dbus.ObjectPath
	Characteristics []*Characteristic
	// Descriptors are keyed by the path of the characteristic they belong to.
	Descriptors map[dbus.ObjectPath][]*Descriptor
}

// SortedServices returns the services ordered by object path.
func (d *Device) SortedServices() []*Service {
	out := make([]*Service, 0, len(d.Services))
	for _, s := range d.Services {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Path < out[j].Path
	})
	return out
}

// Close releases every connection held by the device's characteristics and descriptors.
func (d *Device) Close() {
	for _, s := range d.Services {
		for _, c := range s.Characteristics {
			c.Close()
		}
		for _, ds := range s.Descriptors {
			for _, desc := range ds {
				desc.Close()
			}
		}
	}
}
