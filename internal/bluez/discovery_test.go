package bluez

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/eventloop"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/srg/gattdump/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

func mergeObjects(sets ...ManagedObjects) ManagedObjects {
	out := ManagedObjects{}
	for _, s := range sets {
		for k, v := range s {
			out[k] = v
		}
	}
	return out
}

func heartRateMonitor() *testutils.PeripheralBuilder {
	return testutils.NewPeripheralBuilder().
		WithName("HRM").
		WithService("180d").
		WithCharacteristic("2a37", "notify", nil).
		WithDescriptor("2902", []byte{0, 0}).
		WithCharacteristic("2a38", "read", []byte{1}).
		WithService("180f").
		WithCharacteristic("2a19", "read,notify", []byte{50})
}

func TestBuildDevices_GroupsTree(t *testing.T) {
	// GOAL: Verify the flat object tree is grouped into device → service → characteristic → descriptor
	//
	// TEST SCENARIO: one resolved peripheral with two services → one device, characteristics in path order, descriptor under its characteristic

	objects := heartRateMonitor().Build(nil)
	client := gatt.NewClient(nil)

	devices := BuildDevices(objects, client, "")

	require.Len(t, devices, 1)
	dev := devices[0]
	assert.Equal(t, "HRM", dev.Name)
	assert.Equal(t, dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF"), dev.Path)

	services := dev.SortedServices()
	require.Len(t, services, 2)
	assert.Equal(t, "180d", services[0].UUID)
	assert.Equal(t, "180f", services[1].UUID)

	hr := services[0]
	require.Len(t, hr.Characteristics, 2)
	assert.Equal(t, "2a37", hr.Characteristics[0].UUID())
	assert.Equal(t, "2a38", hr.Characteristics[1].UUID())
	assert.Equal(t, hr.Path, hr.Characteristics[0].Service())

	descs := hr.Descriptors[hr.Characteristics[0].Path()]
	require.Len(t, descs, 1)
	assert.Equal(t, "2902", descs[0].UUID())
	assert.Empty(t, hr.Descriptors[hr.Characteristics[1].Path()])
}

func TestBuildDevices_Filters(t *testing.T) {
	resolved := heartRateMonitor().Build(nil)
	unresolved := testutils.NewPeripheralBuilder().
		WithAddress("11:22:33:44:55:66").
		WithServicesResolved(false).
		WithService("1800").
		Build(nil)
	objects := mergeObjects(resolved, unresolved)
	client := gatt.NewClient(nil)

	devices := BuildDevices(objects, client, "")
	require.Len(t, devices, 1, "devices without resolved services MUST be skipped")

	assert.Len(t, BuildDevices(objects, client, "/org/bluez/hci0"), 1)
	assert.Empty(t, BuildDevices(objects, client, "/org/bluez/hci1"), "adapter filter MUST apply")
}

func TestBuildDevices_NameFallback(t *testing.T) {
	objects := testutils.NewPeripheralBuilder().WithService("1800").Build(nil)

	devices := BuildDevices(objects, gatt.NewClient(nil), "")

	require.Len(t, devices, 1)
	assert.Equal(t, "AA:BB:CC:DD:EE:FF", devices[0].Name, "an unnamed device MUST fall back to its address")
}

func TestClassify(t *testing.T) {
	dev := dbus.ObjectPath("/org/bluez/hci0/dev_AA")

	tests := []struct {
		name string
		sig  *dbus.Signal
		want Change
		ok   bool
	}{
		{
			name: "services resolved",
			sig:  propertiesChanged(dev, DeviceInterface, map[string]dbus.Variant{"ServicesResolved": dbus.MakeVariant(true)}),
			want: Change{Kind: DeviceResolved, Path: dev},
			ok:   true,
		},
		{
			name: "services unresolved",
			sig:  propertiesChanged(dev, DeviceInterface, map[string]dbus.Variant{"ServicesResolved": dbus.MakeVariant(false)}),
			want: Change{Kind: DeviceGone, Path: dev},
			ok:   true,
		},
		{
			name: "unrelated device property",
			sig:  propertiesChanged(dev, DeviceInterface, map[string]dbus.Variant{"RSSI": dbus.MakeVariant(int16(-40))}),
		},
		{
			name: "characteristic value change",
			sig:  propertiesChanged(dev+"/service000a/char000b", gatt.CharacteristicInterface, map[string]dbus.Variant{"Value": dbus.MakeVariant([]byte{1})}),
		},
		{
			name: "device added resolved",
			sig: interfacesAdded(dev, map[string]map[string]dbus.Variant{
				DeviceInterface: {"ServicesResolved": dbus.MakeVariant(true)},
			}),
			want: Change{Kind: DeviceResolved, Path: dev},
			ok:   true,
		},
		{
			name: "device added unresolved",
			sig: interfacesAdded(dev, map[string]map[string]dbus.Variant{
				DeviceInterface: {"ServicesResolved": dbus.MakeVariant(false)},
			}),
		},
		{
			name: "service added",
			sig: interfacesAdded(dev+"/service000a", map[string]map[string]dbus.Variant{
				ServiceInterface: {},
			}),
		},
		{
			name: "device removed",
			sig:  interfacesRemoved(dev, "org.freedesktop.DBus.Properties", DeviceInterface),
			want: Change{Kind: DeviceGone, Path: dev},
			ok:   true,
		},
		{
			name: "characteristic removed",
			sig:  interfacesRemoved(dev+"/service000a/char000b", gatt.CharacteristicInterface),
		},
		{
			name: "malformed body",
			sig:  &dbus.Signal{Name: "org.freedesktop.DBus.ObjectManager.InterfacesRemoved", Body: []interface{}{"x"}},
		},
		{
			name: "nil",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Classify(tt.sig)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

// recordingHandler is only touched on the event loop.
type recordingHandler struct {
	added   []*gatt.Device
	removed []dbus.ObjectPath
}

func (h *recordingHandler) OnDeviceAdded(dev *gatt.Device)       { h.added = append(h.added, dev) }
func (h *recordingHandler) OnDeviceRemoved(path dbus.ObjectPath) { h.removed = append(h.removed, path) }

type staticSource struct {
	mu      sync.Mutex
	objects ManagedObjects
	err     error
	calls   int
}

func (s *staticSource) GetManagedObjects() (ManagedObjects, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.objects, s.err
}

func (s *staticSource) set(objects ManagedObjects) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects = objects
}

type DiscoveryTestSuite struct {
	suite.Suite

	helper  *testutils.TestHelper
	bus     *fakeBus
	source  *staticSource
	handler *recordingHandler
	loop    *eventloop.Loop
	done    <-chan struct{}
	disc    *Discovery
}

func (s *DiscoveryTestSuite) SetupTest() {
	s.helper = testutils.NewTestHelper(s.T())
	s.bus = newFakeBus()
	s.source = &staticSource{objects: heartRateMonitor().Build(nil)}
	s.handler = &recordingHandler{}

	loop, err := eventloop.New(64, s.helper.Logger)
	s.Require().NoError(err)
	s.loop = loop
	s.done = loop.Start(context.Background())

	disc, err := NewDiscovery(DiscoveryConfig{
		Source:  s.source,
		Bus:     s.bus,
		Client:  gatt.NewClient(nil),
		Poster:  s.loop,
		Handler: s.handler,
		Logger:  s.helper.Logger,
	})
	s.Require().NoError(err)
	s.disc = disc
}

func (s *DiscoveryTestSuite) TearDownTest() {
	s.disc.Stop()
	s.loop.Stop()
	<-s.done
}

// snapshot reads the handler state on the loop.
func (s *DiscoveryTestSuite) snapshot() (added int, removed []dbus.ObjectPath) {
	s.Require().NoError(s.loop.Invoke(context.Background(), func() {
		added = len(s.handler.added)
		removed = append([]dbus.ObjectPath{}, s.handler.removed...)
	}))
	return added, removed
}

func (s *DiscoveryTestSuite) eventually(cond func() bool, msg string) {
	s.Eventually(cond, 2*time.Second, 10*time.Millisecond, msg)
}

func (s *DiscoveryTestSuite) TestStartReportsResolvedDevicesOnce() {
	s.Require().NoError(s.disc.Start(context.Background()))

	added, _ := s.snapshot()
	s.Equal(1, added)

	adds, _ := s.bus.matchCounts()
	s.Equal(3, adds, "MUST subscribe to InterfacesAdded, InterfacesRemoved and device PropertiesChanged")

	// A second scan finds nothing new.
	s.Require().NoError(s.loop.Invoke(context.Background(), s.disc.Scan))
	added, _ = s.snapshot()
	s.Equal(1, added, "a known device MUST NOT be reported twice")
}

func (s *DiscoveryTestSuite) TestRemovalAndReappearance() {
	// GOAL: Verify device removal and re-resolution drive the handler
	//
	// TEST SCENARIO: start → InterfacesRemoved(Device1) → removed callback → ServicesResolved=true → added again

	s.Require().NoError(s.disc.Start(context.Background()))
	dev := heartRateMonitor().DevicePath()

	s.Equal(1, s.bus.emit(interfacesRemoved(dev, DeviceInterface)))
	s.eventually(func() bool {
		_, removed := s.snapshot()
		return len(removed) == 1
	}, "removal MUST be reported")

	_, removed := s.snapshot()
	s.Equal([]dbus.ObjectPath{dev}, removed)

	s.bus.emit(propertiesChanged(dev, DeviceInterface, map[string]dbus.Variant{"ServicesResolved": dbus.MakeVariant(true)}))
	s.eventually(func() bool {
		added, _ := s.snapshot()
		return added == 2
	}, "a re-resolved device MUST be reported again")
}

func (s *DiscoveryTestSuite) TestUnknownRemovalIgnored() {
	s.Require().NoError(s.disc.Start(context.Background()))

	s.Require().NoError(s.loop.Invoke(context.Background(), func() {
		s.disc.Apply(Change{Kind: DeviceGone, Path: "/org/bluez/hci0/dev_00"})
	}))

	_, removed := s.snapshot()
	s.Empty(removed)
}

func (s *DiscoveryTestSuite) TestLateResolution() {
	s.source.set(ManagedObjects{})
	s.Require().NoError(s.disc.Start(context.Background()))

	added, _ := s.snapshot()
	s.Zero(added)

	s.source.set(heartRateMonitor().Build(nil))
	s.bus.emit(interfacesAdded(heartRateMonitor().DevicePath(), map[string]map[string]dbus.Variant{
		DeviceInterface: {"ServicesResolved": dbus.MakeVariant(true)},
	}))

	s.eventually(func() bool {
		added, _ := s.snapshot()
		return added == 1
	}, "device MUST be reported once its services resolve")
}

func (s *DiscoveryTestSuite) TestSourceFailureIsLogged() {
	s.source.err = errors.New("bluetoothd not running")

	s.Require().NoError(s.disc.Start(context.Background()))
	added, _ := s.snapshot()

	s.Zero(added)
	s.Contains(s.helper.Messages(logrus.ErrorLevel), "Failed to list managed objects")
}

func (s *DiscoveryTestSuite) TestStopUnsubscribes() {
	s.Require().NoError(s.disc.Start(context.Background()))
	s.Error(s.disc.Start(context.Background()), "second Start MUST fail")

	s.disc.Stop()
	s.disc.Stop()

	adds, removes := s.bus.matchCounts()
	s.Equal(adds, removes)
	s.Zero(s.bus.listeners())
}

func TestDiscoveryTestSuite(t *testing.T) {
	suite.Run(t, new(DiscoveryTestSuite))
}

func TestNewDiscovery_RequiresCollaborators(t *testing.T) {
	_, err := NewDiscovery(DiscoveryConfig{})
	assert.Error(t, err)

	_, err = NewDiscovery(DiscoveryConfig{Source: &staticSource{}, Client: gatt.NewClient(nil), Handler: &recordingHandler{}})
	assert.ErrorContains(t, err, "event loop")
}
