// Package bluez connects the GATT layer to bluetoothd over the system D-Bus.
//
// SystemConnector implements gatt.Connector with one shared bus connection and a
// handle per object. Discovery turns the daemon's object tree into gatt.Device
// values and reports devices as their services resolve or go away.
package bluez

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	bluezapi "github.com/muka/go-bluetooth/bluez"
	"github.com/srg/gattdump/internal/eventloop"
)

// BlueZ interfaces used by discovery.
const (
	DeviceInterface  = "org.bluez.Device1"
	ServiceInterface = "org.bluez.GattService1"
)

// Root is the namespace every BlueZ object lives under.
const Root dbus.ObjectPath = "/org/bluez"

var propertiesChangedMember = strings.TrimPrefix(bluezapi.PropertiesChanged, bluezapi.PropertiesInterface+".")

// Bus is the part of a D-Bus connection this package needs. Method calls are
// always addressed to the BlueZ service.
type Bus interface {
	// Call invokes method (qualified with its interface) on the object at path and
	// blocks until the reply arrives.
	Call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call
	AddMatchSignal(options ...dbus.MatchOption) error
	RemoveMatchSignal(options ...dbus.MatchOption) error
	Signal(ch chan<- *dbus.Signal)
	RemoveSignal(ch chan<- *dbus.Signal)
	Close() error
}

// Poster queues work on the event loop. Send waits while the loop's queue is
// full, so signal forwarders slow down instead of losing changes.
type Poster interface {
	Send(ctx context.Context, ev eventloop.Event) error
}

// systemBus adapts a godbus connection.
type systemBus struct {
	*dbus.Conn
}

// DialSystemBus opens a private connection to the system bus.
func DialSystemBus() (Bus, error) {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &systemBus{Conn: conn}, nil
}

func (b *systemBus) Call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	return b.Object(bluezapi.OrgBluezInterface, path).Call(method, 0, args...)
}

// PropertiesChangedFor extracts the changed-properties dictionary from sig if it
// is a PropertiesChanged signal for iface on path.
func PropertiesChangedFor(sig *dbus.Signal, path dbus.ObjectPath, iface string) (map[string]dbus.Variant, bool) {
	if sig == nil || sig.Path != path || sig.Name != bluezapi.PropertiesChanged || len(sig.Body) < 2 {
		return nil, false
	}
	if name, ok := sig.Body[0].(string); !ok || name != iface {
		return nil, false
	}
	changed, ok := sig.Body[1].(map[string]dbus.Variant)
	return changed, ok
}

func propertiesMatch(path dbus.ObjectPath) []dbus.MatchOption {
	return []dbus.MatchOption{
		dbus.WithMatchObjectPath(path),
		dbus.WithMatchInterface(bluezapi.PropertiesInterface),
		dbus.WithMatchMember(propertiesChangedMember),
	}
}
