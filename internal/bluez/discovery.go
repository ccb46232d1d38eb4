package bluez

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/godbus/dbus/v5"
	bluezapi "github.com/muka/go-bluetooth/bluez"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/srg/gattdump/internal/groutine"
)

// ManagedObjects is the reply of ObjectManager.GetManagedObjects.
type ManagedObjects = map[dbus.ObjectPath]map[string]map[string]dbus.Variant

// ObjectSource returns a snapshot of the daemon's object tree.
type ObjectSource interface {
	GetManagedObjects() (ManagedObjects, error)
}

// ObjectManagerSource returns the daemon's object manager.
func ObjectManagerSource() (ObjectSource, error) {
	om, err := bluezapi.GetObjectManager()
	if err != nil {
		return nil, fmt.Errorf("get object manager: %w", err)
	}
	return om, nil
}

// Handler receives device events. Both methods run on the event loop.
type Handler interface {
	OnDeviceAdded(dev *gatt.Device)
	OnDeviceRemoved(path dbus.ObjectPath)
}

// ChangeKind tells what a signal means for a device.
type ChangeKind int

const (
	// DeviceResolved means the device's services are available.
	DeviceResolved ChangeKind = iota + 1
	// DeviceGone means the device's services are no longer usable.
	DeviceGone
)

func (k ChangeKind) String() string {
	switch k {
	case DeviceResolved:
		return "resolved"
	case DeviceGone:
		return "gone"
	default:
		return "unknown"
	}
}

// Change is a device-level event derived from a bus signal.
type Change struct {
	Kind ChangeKind
	Path dbus.ObjectPath
}

// Classify maps a bus signal onto a device change. Signals that say nothing
// about device service resolution are reported as not ok.
func Classify(sig *dbus.Signal) (Change, bool) {
	if sig == nil {
		return Change{}, false
	}

	switch sig.Name {
	case bluezapi.PropertiesChanged:
		changed, ok := PropertiesChangedFor(sig, sig.Path, DeviceInterface)
		if !ok {
			return Change{}, false
		}
		resolved, ok := changed["ServicesResolved"].Value().(bool)
		if !ok {
			return Change{}, false
		}
		if resolved {
			return Change{Kind: DeviceResolved, Path: sig.Path}, true
		}
		return Change{Kind: DeviceGone, Path: sig.Path}, true

	case bluezapi.InterfacesAdded:
		if len(sig.Body) < 2 {
			return Change{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return Change{}, false
		}
		ifaces, ok := sig.Body[1].(map[string]map[string]dbus.Variant)
		if !ok {
			return Change{}, false
		}
		props, ok := ifaces[DeviceInterface]
		if !ok {
			return Change{}, false
		}
		if resolved, _ := props["ServicesResolved"].Value().(bool); resolved {
			return Change{Kind: DeviceResolved, Path: path}, true
		}
		return Change{}, false

	case bluezapi.InterfacesRemoved:
		if len(sig.Body) < 2 {
			return Change{}, false
		}
		path, ok := sig.Body[0].(dbus.ObjectPath)
		if !ok {
			return Change{}, false
		}
		ifaces, ok := sig.Body[1].([]string)
		if !ok {
			return Change{}, false
		}
		for _, iface := range ifaces {
			if iface == DeviceInterface {
				return Change{Kind: DeviceGone, Path: path}, true
			}
		}
	}
	return Change{}, false
}

// BuildDevices groups a managed-objects snapshot into devices whose services
// have been resolved. A non-empty adapter keeps only devices on that adapter.
// Devices are ordered by path.
func BuildDevices(objects ManagedObjects, client *gatt.Client, adapter dbus.ObjectPath) []*gatt.Device {
	paths := make([]dbus.ObjectPath, 0, len(objects))
	for p := range objects {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool { return paths[i] < paths[j] })

	devices := make(map[dbus.ObjectPath]*gatt.Device)
	services := make(map[dbus.ObjectPath]*gatt.Service)
	charService := make(map[dbus.ObjectPath]*gatt.Service)

	// Parents sort before their children, so one pass per level is enough.
	for _, p := range paths {
		props, ok := objects[p][DeviceInterface]
		if !ok {
			continue
		}
		if resolved, _ := props["ServicesResolved"].Value().(bool); !resolved {
			continue
		}
		if adapter != "" {
			if a, _ := props["Adapter"].Value().(dbus.ObjectPath); a != adapter {
				continue
			}
		}
		devices[p] = &gatt.Device{
			Path:     p,
			Name:     deviceName(props),
			Services: make(map[dbus.ObjectPath]*gatt.Service),
		}
	}

	for _, p := range paths {
		props, ok := objects[p][ServiceInterface]
		if !ok {
			continue
		}
		devPath, _ := props["Device"].Value().(dbus.ObjectPath)
		dev, ok := devices[devPath]
		if !ok {
			continue
		}
		uuid, _ := props["UUID"].Value().(string)
		svc := &gatt.Service{
			UUID:        uuid,
			Path:        p,
			Descriptors: make(map[dbus.ObjectPath][]*gatt.Descriptor),
		}
		dev.Services[p] = svc
		services[p] = svc
	}

	for _, p := range paths {
		props, ok := objects[p][gatt.CharacteristicInterface]
		if !ok {
			continue
		}
		c := client.Characteristic(p, codec.DictFromDBus(props))
		svc, ok := services[c.Service()]
		if !ok || !c.Valid() {
			continue
		}
		svc.Characteristics = append(svc.Characteristics, c)
		charService[p] = svc
	}

	for _, p := range paths {
		props, ok := objects[p][gatt.DescriptorInterface]
		if !ok {
			continue
		}
		d := client.Descriptor(p, codec.DictFromDBus(props))
		svc, ok := charService[d.Characteristic()]
		if !ok || !d.Valid() {
			continue
		}
		svc.Descriptors[d.Characteristic()] = append(svc.Descriptors[d.Characteristic()], d)
	}

	out := make([]*gatt.Device, 0, len(devices))
	for _, p := range paths {
		if dev, ok := devices[p]; ok {
			out = append(out, dev)
		}
	}
	return out
}

func deviceName(props map[string]dbus.Variant) string {
	for _, key := range []string{"Name", "Alias", "Address"} {
		if s, ok := props[key].Value().(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// DiscoveryConfig configures a Discovery.
type DiscoveryConfig struct {
	Source  ObjectSource
	Bus     Bus
	Client  *gatt.Client
	Poster  Poster
	Handler Handler
	// Adapter restricts discovery to one adapter, e.g. /org/bluez/hci0.
	Adapter dbus.ObjectPath
	Logger  *logrus.Logger
}

// Discovery reports devices to a Handler. Everything it does after Start runs
// on the event loop, including the initial scan.
type Discovery struct {
	cfg    DiscoveryConfig
	logger *logrus.Logger

	// loop-confined
	known map[dbus.ObjectPath]bool

	mu      sync.Mutex
	signals chan *dbus.Signal
	cancel  context.CancelFunc
	done    <-chan struct{}
}

// NewDiscovery validates cfg and creates a Discovery.
func NewDiscovery(cfg DiscoveryConfig) (*Discovery, error) {
	switch {
	case cfg.Source == nil:
		return nil, errors.New("discovery: object source is required")
	case cfg.Client == nil:
		return nil, errors.New("discovery: GATT client is required")
	case cfg.Poster == nil:
		return nil, errors.New("discovery: event loop is required")
	case cfg.Handler == nil:
		return nil, errors.New("discovery: handler is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = discardLogger()
	}
	return &Discovery{
		cfg:    cfg,
		logger: logger,
		known:  make(map[dbus.ObjectPath]bool),
	}, nil
}

// Start subscribes to device signals, when a bus is configured, and queues the
// initial scan.
func (d *Discovery) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.signals != nil {
		return errors.New("discovery already started")
	}

	if d.cfg.Bus != nil {
		for _, rule := range d.matchRules() {
			if err := d.cfg.Bus.AddMatchSignal(rule...); err != nil {
				d.removeMatches()
				return fmt.Errorf("subscribe to device signals: %w", err)
			}
		}
		ch := make(chan *dbus.Signal, signalBuffer)
		fwdCtx, cancel := context.WithCancel(ctx)
		d.cfg.Bus.Signal(ch)
		d.signals = ch
		d.cancel = cancel
		d.done = groutine.Go(fwdCtx, "discovery", func(ctx context.Context) {
			d.forward(ctx, ch)
		})
	}

	return d.cfg.Poster.Send(ctx, d.Scan)
}

// Stop unsubscribes from device signals and waits for the signal goroutine.
// Changes already posted to the loop still run.
func (d *Discovery) Stop() {
	d.mu.Lock()
	if d.signals == nil {
		d.mu.Unlock()
		return
	}
	d.removeMatches()
	d.cfg.Bus.RemoveSignal(d.signals)
	d.cancel()
	d.signals = nil
	done := d.done
	d.mu.Unlock()

	<-done
}

// Scan reads the object tree and reports every resolved device not reported yet.
// It must run on the event loop.
func (d *Discovery) Scan() {
	objects, err := d.cfg.Source.GetManagedObjects()
	if err != nil {
		d.logger.WithError(err).Error("Failed to list managed objects")
		return
	}

	for _, dev := range BuildDevices(objects, d.cfg.Client, d.cfg.Adapter) {
		if d.known[dev.Path] {
			continue
		}
		d.known[dev.Path] = true
		d.logger.WithFields(logrus.Fields{
			"path":     dev.Path,
			"name":     dev.Name,
			"services": len(dev.Services),
		}).Debug("Device services resolved")
		d.cfg.Handler.OnDeviceAdded(dev)
	}
}

// Apply handles one change. It must run on the event loop.
func (d *Discovery) Apply(ch Change) {
	switch ch.Kind {
	case DeviceResolved:
		if !d.known[ch.Path] {
			d.Scan()
		}
	case DeviceGone:
		if !d.known[ch.Path] {
			return
		}
		delete(d.known, ch.Path)
		d.logger.WithField("path", ch.Path).Debug("Device removed")
		d.cfg.Handler.OnDeviceRemoved(ch.Path)
	}
}

func (d *Discovery) forward(ctx context.Context, ch <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			change, relevant := Classify(sig)
			if !relevant || !d.inScope(change.Path) {
				continue
			}
			if err := d.cfg.Poster.Send(ctx, func() { d.Apply(change) }); err != nil {
				d.logger.WithError(err).Debug("Dropping device change")
			}
		}
	}
}

func (d *Discovery) inScope(path dbus.ObjectPath) bool {
	if d.cfg.Adapter == "" {
		return true
	}
	return strings.HasPrefix(string(path), string(d.cfg.Adapter)+"/")
}

func (d *Discovery) matchRules() [][]dbus.MatchOption {
	omMember := func(full string) string {
		return strings.TrimPrefix(full, bluezapi.ObjectManagerInterface+".")
	}
	return [][]dbus.MatchOption{
		{
			dbus.WithMatchInterface(bluezapi.ObjectManagerInterface),
			dbus.WithMatchMember(omMember(bluezapi.InterfacesAdded)),
		},
		{
			dbus.WithMatchInterface(bluezapi.ObjectManagerInterface),
			dbus.WithMatchMember(omMember(bluezapi.InterfacesRemoved)),
		},
		{
			dbus.WithMatchPathNamespace(Root),
			dbus.WithMatchInterface(bluezapi.PropertiesInterface),
			dbus.WithMatchMember(propertiesChangedMember),
			dbus.WithMatchArg(0, DeviceInterface),
		},
	}
}

func (d *Discovery) removeMatches() {
	for _, rule := range d.matchRules() {
		if err := d.cfg.Bus.RemoveMatchSignal(rule...); err != nil {
			d.logger.WithError(err).Debug("Error removing signal match")
		}
	}
}
