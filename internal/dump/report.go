package dump

import (
	"github.com/godbus/dbus/v5"
)

// ReadStatus tells what happened when a value was read.
type ReadStatus string

const (
	ReadValue   ReadStatus = "value"
	ReadDenied  ReadStatus = "denied"
	ReadFailed  ReadStatus = "error"
	ReadSkipped ReadStatus = "skipped"
)

// Event names used in JSON output.
const (
	EventDevice = "device"
	EventNotify = "notify"
)

// DeviceReport is everything dumped for one device.
type DeviceReport struct {
	Event    string          `json:"event"`
	Name     string          `json:"name"`
	Path     dbus.ObjectPath `json:"path"`
	Services []ServiceReport `json:"services"`
}

type ServiceReport struct {
	UUID            string                 `json:"uuid"`
	Path            dbus.ObjectPath        `json:"path"`
	Name            string                 `json:"name,omitempty"`
	Characteristics []CharacteristicReport `json:"characteristics"`
}

type CharacteristicReport struct {
	UUID        string             `json:"uuid"`
	Path        dbus.ObjectPath    `json:"path"`
	Name        string             `json:"name,omitempty"`
	Flags       []string           `json:"flags"`
	Subscribed  bool               `json:"subscribed"`
	Read        ReadStatus         `json:"read"`
	Value       string             `json:"value,omitempty"`
	Printable   string             `json:"printable,omitempty"`
	Descriptors []DescriptorReport `json:"descriptors,omitempty"`
}

type DescriptorReport struct {
	UUID      string          `json:"uuid"`
	Path      dbus.ObjectPath `json:"path"`
	Name      string          `json:"name,omitempty"`
	Read      ReadStatus      `json:"read"`
	Value     string          `json:"value,omitempty"`
	Printable string          `json:"printable,omitempty"`
}

// NotifyReport is one notification.
type NotifyReport struct {
	Event string          `json:"event"`
	UUID  string          `json:"uuid"`
	Path  dbus.ObjectPath `json:"path"`
	Value string          `json:"value"`
}
