package mocks

import (
	"github.com/godbus/dbus/v5"
	"github.com/srg/gattdump/internal/codec"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/stretchr/testify/mock"
)

// MockConnector implements gatt.Connector for testing.
type MockConnector struct {
	mock.Mock
}

func (m *MockConnector) Connect(path dbus.ObjectPath, iface string) (gatt.Handle, error) {
	args := m.Called(path, iface)
	h, _ := args.Get(0).(gatt.Handle)
	return h, args.Error(1)
}

// MockHandle implements gatt.Handle for testing.
type MockHandle struct {
	mock.Mock
}

func (m *MockHandle) Call(method string, in codec.Tuple) (codec.Tuple, error) {
	args := m.Called(method, in)
	out, _ := args.Get(0).(codec.Tuple)
	return out, args.Error(1)
}

func (m *MockHandle) Watch(listener func(changed codec.Value)) error {
	args := m.Called(listener)
	return args.Error(0)
}

func (m *MockHandle) Unwatch() {
	m.Called()
}

func (m *MockHandle) Close() error {
	args := m.Called()
	return args.Error(0)
}
