package testutils

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/godbus/dbus/v5"
	"github.com/srg/gattdump/internal/gatt"
)

const (
	deviceInterface  = "org.bluez.Device1"
	serviceInterface = "org.bluez.GattService1"
)

// ManagedObjects mirrors the reply of ObjectManager.GetManagedObjects.
type ManagedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// DescriptorConfig describes a descriptor of a mocked peripheral.
type DescriptorConfig struct {
	UUID  string `json:"uuid"`
	Value []byte `json:"value,omitempty"`
}

// CharacteristicConfig describes a characteristic of a mocked peripheral.
type CharacteristicConfig struct {
	UUID        string             `json:"uuid"`
	Flags       string             `json:"flags,omitempty"` // e.g. "read,notify"
	Value       []byte             `json:"value,omitempty"`
	Descriptors []DescriptorConfig `json:"descriptors,omitempty"`
}

// ServiceConfig describes a service of a mocked peripheral.
type ServiceConfig struct {
	UUID            string                 `json:"uuid"`
	Characteristics []CharacteristicConfig `json:"characteristics,omitempty"`
}

// PeripheralConfig is the complete profile of a mocked peripheral.
type PeripheralConfig struct {
	Address  string          `json:"address"`
	Name     string          `json:"name"`
	Services []ServiceConfig `json:"services"`
}

// PeripheralBuilder lays out a peripheral the way BlueZ exports it: a device
// object with service, characteristic and descriptor children numbered by
// attribute handle.
type PeripheralBuilder struct {
	adapter  dbus.ObjectPath
	profile  PeripheralConfig
	resolved bool
}

// NewPeripheralBuilder creates a builder for a peripheral on hci0.
func NewPeripheralBuilder() *PeripheralBuilder {
	return &PeripheralBuilder{
		adapter: "/org/bluez/hci0",
		profile: PeripheralConfig{
			Address: "AA:BB:CC:DD:EE:FF",
		},
		resolved: true,
	}
}

// WithAddress sets the device address.
func (b *PeripheralBuilder) WithAddress(addr string) *PeripheralBuilder {
	b.profile.Address = addr
	return b
}

// WithName sets the device name.
func (b *PeripheralBuilder) WithName(name string) *PeripheralBuilder {
	b.profile.Name = name
	return b
}

// WithServicesResolved sets the ServicesResolved property of the device.
func (b *PeripheralBuilder) WithServicesResolved(resolved bool) *PeripheralBuilder {
	b.resolved = resolved
	return b
}

// WithService appends a service.
func (b *PeripheralBuilder) WithService(uuid string) *PeripheralBuilder {
	b.profile.Services = append(b.profile.Services, ServiceConfig{UUID: uuid})
	return b
}

// WithCharacteristic appends a characteristic to the last service.
func (b *PeripheralBuilder) WithCharacteristic(uuid, flags string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithCharacteristic: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	svc.Characteristics = append(svc.Characteristics, CharacteristicConfig{
		UUID:  uuid,
		Flags: flags,
		Value: value,
	})
	return b
}

// WithDescriptor appends a descriptor to the last characteristic.
func (b *PeripheralBuilder) WithDescriptor(uuid string, value []byte) *PeripheralBuilder {
	if len(b.profile.Services) == 0 {
		panic("WithDescriptor: no service added yet, call WithService first")
	}
	svc := &b.profile.Services[len(b.profile.Services)-1]
	if len(svc.Characteristics) == 0 {
		panic("WithDescriptor: no characteristic added yet, call WithCharacteristic first")
	}
	ch := &svc.Characteristics[len(svc.Characteristics)-1]
	ch.Descriptors = append(ch.Descriptors, DescriptorConfig{UUID: uuid, Value: value})
	return b
}

// FromJSON replaces the profile with one decoded from JSON.
func (b *PeripheralBuilder) FromJSON(jsonStrFmt string, args ...interface{}) *PeripheralBuilder {
	jsonStr := fmt.Sprintf(jsonStrFmt, args...)

	var cfg PeripheralConfig
	if err := json.Unmarshal([]byte(jsonStr), &cfg); err != nil {
		panic(fmt.Sprintf("PeripheralBuilder.FromJSON: failed to unmarshal: %v", err))
	}
	if cfg.Address == "" {
		cfg.Address = b.profile.Address
	}
	b.profile = cfg
	return b
}

// DevicePath returns the object path of the device.
func (b *PeripheralBuilder) DevicePath() dbus.ObjectPath {
	return b.adapter + dbus.ObjectPath("/dev_"+strings.ReplaceAll(b.profile.Address, ":", "_"))
}

// Build exports every attribute of the peripheral on bus and returns the
// matching managed-objects tree.
func (b *PeripheralBuilder) Build(bus *FakeBus) ManagedObjects {
	dev := b.DevicePath()
	objects := ManagedObjects{
		dev: {
			deviceInterface: {
				"Address":          dbus.MakeVariant(b.profile.Address),
				"Name":             dbus.MakeVariant(b.profile.Name),
				"Connected":        dbus.MakeVariant(true),
				"ServicesResolved": dbus.MakeVariant(b.resolved),
				"Adapter":          dbus.MakeVariant(b.adapter),
			},
		},
	}

	// BlueZ names children after their attribute handle.
	handle := 0x000a
	for _, svc := range b.profile.Services {
		svcPath := dev + dbus.ObjectPath(fmt.Sprintf("/service%04x", handle))
		handle++
		objects[svcPath] = map[string]map[string]dbus.Variant{
			serviceInterface: {
				"UUID":    dbus.MakeVariant(svc.UUID),
				"Device":  dbus.MakeVariant(dev),
				"Primary": dbus.MakeVariant(true),
			},
		}

		for _, ch := range svc.Characteristics {
			charPath := svcPath + dbus.ObjectPath(fmt.Sprintf("/char%04x", handle))
			handle += 2
			objects[charPath] = map[string]map[string]dbus.Variant{
				gatt.CharacteristicInterface: {
					"UUID":    dbus.MakeVariant(ch.UUID),
					"Service": dbus.MakeVariant(svcPath),
					"Flags":   dbus.MakeVariant(splitFlags(ch.Flags)),
					"Value":   dbus.MakeVariant(append([]byte{}, ch.Value...)),
				},
			}
			if bus != nil {
				bus.AddObject(charPath, gatt.CharacteristicInterface, ch.Value)
			}

			for _, d := range ch.Descriptors {
				descPath := charPath + dbus.ObjectPath(fmt.Sprintf("/desc%04x", handle))
				handle++
				objects[descPath] = map[string]map[string]dbus.Variant{
					gatt.DescriptorInterface: {
						"UUID":           dbus.MakeVariant(d.UUID),
						"Characteristic": dbus.MakeVariant(charPath),
					},
				}
				if bus != nil {
					bus.AddObject(descPath, gatt.DescriptorInterface, d.Value)
				}
			}
		}
	}
	return objects
}

// SortedPaths returns the paths of objects implementing iface in path order.
func SortedPaths(objects ManagedObjects, iface string) []dbus.ObjectPath {
	var out []dbus.ObjectPath
	for path, ifaces := range objects {
		if _, ok := ifaces[iface]; ok {
			out = append(out, path)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func splitFlags(flags string) []string {
	out := []string{}
	for _, f := range strings.Split(flags, ",") {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
