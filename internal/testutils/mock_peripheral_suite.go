package testutils

import (
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/bledb"
	"github.com/srg/gattdump/internal/codec"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/stretchr/testify/suite"
)

// PeripheralSuite provides a fake daemon populated with a mocked peripheral.
//
// By default the peripheral exposes the Battery Service (180f) with a readable,
// notifying Battery Level (2a19) at 50%. Configure a different profile before
// calling the parent SetupTest:
//
//	func (s *MySuite) SetupTest() {
//	    s.WithPeripheral().
//	        WithService("180d").
//	        WithCharacteristic("2a37", "read,notify", []byte{80})
//
//	    s.PeripheralSuite.SetupTest()
//	}
type PeripheralSuite struct {
	suite.Suite

	Helper *TestHelper
	Logger *logrus.Logger

	Bus     *FakeBus
	Objects ManagedObjects
	Client  *gatt.Client

	PeripheralBuilder *PeripheralBuilder
}

// SetupTest builds the configured peripheral on a fresh fake daemon.
func (s *PeripheralSuite) SetupTest() {
	s.Helper = NewTestHelper(s.T())
	s.Logger = s.Helper.Logger

	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = defaultPeripheral()
	}

	s.Bus = NewFakeBus()
	s.Objects = s.PeripheralBuilder.Build(s.Bus)
	s.Client = gatt.NewClient(s.Bus, gatt.WithLogger(s.Logger))
}

// TearDownTest resets the profile so the next test starts from the default.
func (s *PeripheralSuite) TearDownTest() {
	s.PeripheralBuilder = nil
}

// WithPeripheral returns the builder for configuring a custom profile.
func (s *PeripheralSuite) WithPeripheral() *PeripheralBuilder {
	if s.PeripheralBuilder == nil {
		s.PeripheralBuilder = NewPeripheralBuilder()
	}
	return s.PeripheralBuilder
}

// Characteristic builds the first characteristic with the given UUID.
func (s *PeripheralSuite) Characteristic(uuid string) *gatt.Characteristic {
	path := s.pathOf(gatt.CharacteristicInterface, uuid)
	return s.Client.Characteristic(path, codec.DictFromDBus(s.Objects[path][gatt.CharacteristicInterface]))
}

// Descriptor builds the first descriptor with the given UUID.
func (s *PeripheralSuite) Descriptor(uuid string) *gatt.Descriptor {
	path := s.pathOf(gatt.DescriptorInterface, uuid)
	return s.Client.Descriptor(path, codec.DictFromDBus(s.Objects[path][gatt.DescriptorInterface]))
}

func (s *PeripheralSuite) pathOf(iface, uuid string) dbus.ObjectPath {
	want := bledb.NormalizeUUID(uuid)
	for _, path := range SortedPaths(s.Objects, iface) {
		v, ok := s.Objects[path][iface]["UUID"].Value().(string)
		if ok && bledb.NormalizeUUID(v) == want {
			return path
		}
	}
	s.FailNow("no object with UUID " + uuid + " on " + iface)
	return ""
}

func defaultPeripheral() *PeripheralBuilder {
	return NewPeripheralBuilder().FromJSON(`
	{
		"name": "Battery",
		"services": [
			{
				"uuid": "0000180f-0000-1000-8000-00805f9b34fb",
				"characteristics": [
					{ "uuid": "00002a19-0000-1000-8000-00805f9b34fb", "flags": "read,notify", "value": [50] }
				]
			}
		]
	}`)
}
