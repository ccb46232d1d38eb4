package testutils

import (
	"errors"
	"fmt"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/srg/gattdump/internal/codec"
	"github.com/srg/gattdump/internal/gatt"
)

var (
	// ErrUnknownObject is returned by Connect for a path that was never added.
	ErrUnknownObject = errors.New("no such object")
	// ErrUnknownMethod is returned by Call for a method the fake daemon does not implement.
	ErrUnknownMethod = errors.New("unknown method")
)

// FakeObject is an attribute exported by the fake daemon.
type FakeObject struct {
	Path      dbus.ObjectPath
	Interface string
	Value     []byte
	Notifying bool
}

// RecordedCall is one method invocation seen by the fake daemon.
type RecordedCall struct {
	Path   dbus.ObjectPath
	Method string
	Args   codec.Tuple
}

type callKey struct {
	path   dbus.ObjectPath
	method string
}

type scripted struct {
	reply codec.Tuple
	err   error
	null  bool
}

// FakeBus is an in-memory stand-in for the Bluetooth daemon. It implements
// gatt.Connector. ReadValue returns the stored value, WriteValue stores it, and
// StartNotify/StopNotify toggle Notifying. Any call can be overridden with a
// scripted reply, error or null reply.
type FakeBus struct {
	mu         sync.Mutex
	objects    map[dbus.ObjectPath]*FakeObject
	calls      []RecordedCall
	connects   map[dbus.ObjectPath]int
	closes     map[dbus.ObjectPath]int
	connectErr map[dbus.ObjectPath]error
	script     map[callKey]scripted
	watchers   map[dbus.ObjectPath]func(codec.Value)
}

var _ gatt.Connector = (*FakeBus)(nil)

// NewFakeBus creates an empty fake daemon.
func NewFakeBus() *FakeBus {
	return &FakeBus{
		objects:    make(map[dbus.ObjectPath]*FakeObject),
		connects:   make(map[dbus.ObjectPath]int),
		closes:     make(map[dbus.ObjectPath]int),
		connectErr: make(map[dbus.ObjectPath]error),
		script:     make(map[callKey]scripted),
		watchers:   make(map[dbus.ObjectPath]func(codec.Value)),
	}
}

// AddObject exports an attribute with the given initial value.
func (b *FakeBus) AddObject(path dbus.ObjectPath, iface string, value []byte) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[path] = &FakeObject{Path: path, Interface: iface, Value: append([]byte{}, value...)}
	return b
}

// FailConnect makes every Connect to path fail with err.
func (b *FakeBus) FailConnect(path dbus.ObjectPath, err error) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connectErr[path] = err
	return b
}

// FailCall makes method on path fail with err.
func (b *FakeBus) FailCall(path dbus.ObjectPath, method string, err error) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script[callKey{path, method}] = scripted{err: err}
	return b
}

// ReplyWith makes method on path answer with reply regardless of state.
func (b *FakeBus) ReplyWith(path dbus.ObjectPath, method string, reply codec.Tuple) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script[callKey{path, method}] = scripted{reply: reply}
	return b
}

// NullReply makes method on path answer with no reply at all.
func (b *FakeBus) NullReply(path dbus.ObjectPath, method string) *FakeBus {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.script[callKey{path, method}] = scripted{null: true}
	return b
}

// Connect implements gatt.Connector.
func (b *FakeBus) Connect(path dbus.ObjectPath, iface string) (gatt.Handle, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.connects[path]++
	if err := b.connectErr[path]; err != nil {
		return nil, err
	}
	obj, ok := b.objects[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownObject, path)
	}
	if obj.Interface != iface {
		return nil, fmt.Errorf("%w: %s does not implement %s", ErrUnknownObject, path, iface)
	}
	return &fakeHandle{bus: b, path: path}, nil
}

// Emit delivers a property change for path to its watcher, if any. It reports
// whether a watcher received it. The watcher runs on the caller's goroutine.
func (b *FakeBus) Emit(path dbus.ObjectPath, changed codec.Value) bool {
	b.mu.Lock()
	fn := b.watchers[path]
	b.mu.Unlock()

	if fn == nil {
		return false
	}
	fn(changed)
	return true
}

// EmitValue delivers a change of the Value property.
func (b *FakeBus) EmitValue(path dbus.ObjectPath, data []byte) bool {
	return b.Emit(path, codec.NewDict(codec.Pair{Key: codec.PropertyValue, Value: codec.Bytes(data)}))
}

// Calls returns every recorded call in order.
func (b *FakeBus) Calls() []RecordedCall {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]RecordedCall(nil), b.calls...)
}

// CallCount returns how often method was invoked on path.
func (b *FakeBus) CallCount(path dbus.ObjectPath, method string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, c := range b.calls {
		if c.Path == path && c.Method == method {
			n++
		}
	}
	return n
}

// TotalCalls returns the number of method calls across all objects.
func (b *FakeBus) TotalCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Connects returns how many handles were requested for path.
func (b *FakeBus) Connects(path dbus.ObjectPath) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects[path]
}

// Closes returns how many handles for path were closed.
func (b *FakeBus) Closes(path dbus.ObjectPath) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes[path]
}

// Watching reports whether a property-change watcher is registered for path.
func (b *FakeBus) Watching(path dbus.ObjectPath) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.watchers[path] != nil
}

// Object returns a snapshot of the exported attribute at path.
func (b *FakeBus) Object(path dbus.ObjectPath) (FakeObject, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[path]
	if !ok {
		return FakeObject{}, false
	}
	cp := *obj
	cp.Value = append([]byte{}, obj.Value...)
	return cp, true
}

type fakeHandle struct {
	bus  *FakeBus
	path dbus.ObjectPath
}

func (h *fakeHandle) Call(method string, args codec.Tuple) (codec.Tuple, error) {
	b := h.bus
	b.mu.Lock()
	defer b.mu.Unlock()

	b.calls = append(b.calls, RecordedCall{Path: h.path, Method: method, Args: args})

	if s, ok := b.script[callKey{h.path, method}]; ok {
		switch {
		case s.err != nil:
			return nil, s.err
		case s.null:
			return nil, nil
		default:
			return s.reply, nil
		}
	}

	obj := b.objects[h.path]
	switch method {
	case "ReadValue":
		return codec.Tuple{codec.Bytes(append([]byte{}, obj.Value...))}, nil
	case "WriteValue":
		data, _, err := codec.DecodeWriteArgs(args)
		if err != nil {
			return nil, err
		}
		obj.Value = data
		return codec.Tuple{}, nil
	case "StartNotify":
		obj.Notifying = true
		return codec.Tuple{}, nil
	case "StopNotify":
		obj.Notifying = false
		return codec.Tuple{}, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
}

func (h *fakeHandle) Watch(listener func(changed codec.Value)) error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	h.bus.watchers[h.path] = listener
	return nil
}

func (h *fakeHandle) Unwatch() {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	delete(h.bus.watchers, h.path)
}

func (h *fakeHandle) Close() error {
	h.bus.mu.Lock()
	defer h.bus.mu.Unlock()
	h.bus.closes[h.path]++
	return nil
}
