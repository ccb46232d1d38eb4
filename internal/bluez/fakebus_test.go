package bluez

import (
	"sync"

	"github.com/godbus/dbus/v5"
)

type busCall struct {
	Path   dbus.ObjectPath
	Method string
	Args   []interface{}
}

// fakeBus records calls and match rules and lets tests inject signals.
type fakeBus struct {
	mu       sync.Mutex
	calls    []busCall
	replies  map[string]*dbus.Call
	addErr   error
	adds     int
	removes  int
	channels []chan<- *dbus.Signal
	closes   int
}

func newFakeBus() *fakeBus {
	return &fakeBus{replies: make(map[string]*dbus.Call)}
}

// reply scripts the answer to method; a nil call means no reply at all.
func (b *fakeBus) reply(method string, call *dbus.Call) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies[method] = call
}

func (b *fakeBus) Call(path dbus.ObjectPath, method string, args ...interface{}) *dbus.Call {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, busCall{Path: path, Method: method, Args: args})
	if r, ok := b.replies[method]; ok {
		return r
	}
	return &dbus.Call{Body: []interface{}{}}
}

func (b *fakeBus) AddMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.adds++
	return b.addErr
}

func (b *fakeBus) RemoveMatchSignal(...dbus.MatchOption) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removes++
	return nil
}

func (b *fakeBus) Signal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.channels = append(b.channels, ch)
}

func (b *fakeBus) RemoveSignal(ch chan<- *dbus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, c := range b.channels {
		if c == ch {
			b.channels = append(b.channels[:i], b.channels[i+1:]...)
			return
		}
	}
}

func (b *fakeBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

// emit sends sig to every registered channel and reports how many got it.
func (b *fakeBus) emit(sig *dbus.Signal) int {
	b.mu.Lock()
	chans := append([]chan<- *dbus.Signal{}, b.channels...)
	b.mu.Unlock()

	for _, ch := range chans {
		ch <- sig
	}
	return len(chans)
}

func (b *fakeBus) recorded() []busCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]busCall{}, b.calls...)
}

func (b *fakeBus) matchCounts() (adds, removes int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.adds, b.removes
}

func (b *fakeBus) listeners() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.channels)
}

func propertiesChanged(path dbus.ObjectPath, iface string, changed map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: "org.freedesktop.DBus.Properties.PropertiesChanged",
		Body: []interface{}{iface, changed, []string{}},
	}
}

func interfacesAdded(path dbus.ObjectPath, ifaces map[string]map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: "/",
		Name: "org.freedesktop.DBus.ObjectManager.InterfacesAdded",
		Body: []interface{}{path, ifaces},
	}
}

func interfacesRemoved(path dbus.ObjectPath, ifaces ...string) *dbus.Signal {
	return &dbus.Signal{
		Path: "/",
		Name: "org.freedesktop.DBus.ObjectManager.InterfacesRemoved",
		Body: []interface{}{path, ifaces},
	}
}
