package gatt_test

import (
	"errors"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/srg/gattdump/internal/testutils"
	"github.com/srg/gattdump/internal/testutils/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const objPath = dbus.ObjectPath("/org/bluez/hci0/dev_AA_BB_CC_DD_EE_FF/service000a/char000b")

func newRemote(t *testing.T) (*gatt.RemoteObject, *mocks.MockConnector, *mocks.MockHandle, *testutils.TestHelper) {
	helper := testutils.NewTestHelper(t)
	connector := &mocks.MockConnector{}
	handle := &mocks.MockHandle{}
	connector.On("Connect", objPath, gatt.CharacteristicInterface).Return(handle, nil)

	r := gatt.NewRemoteObject(connector, objPath, gatt.CharacteristicInterface, helper.Logger)
	return r, connector, handle, helper
}

func TestRemoteObject_LazyConnect(t *testing.T) {
	r, connector, handle, _ := newRemote(t)

	assert.False(t, r.Connected(), "proxy MUST NOT connect on construction")
	connector.AssertNotCalled(t, "Connect", mock.Anything, mock.Anything)

	handle.On("Call", "ReadValue", mock.Anything).Return(codec.Tuple{codec.Bytes{1}}, nil).Twice()

	_, err := r.Call("ReadValue", codec.EncodeReadArgs(0))
	require.NoError(t, err)
	_, err = r.Call("ReadValue", codec.EncodeReadArgs(0))
	require.NoError(t, err)

	assert.True(t, r.Connected())
	connector.AssertNumberOfCalls(t, "Connect", 1)
	handle.AssertExpectations(t)
}

func TestRemoteObject_NilArgsBecomeEmptyTuple(t *testing.T) {
	r, _, handle, _ := newRemote(t)
	handle.On("Call", "StartNotify", codec.Tuple{}).Return(codec.Tuple{}, nil).Once()

	reply, err := r.Call("StartNotify", nil)

	require.NoError(t, err)
	assert.Empty(t, reply)
	handle.AssertExpectations(t)
}

func TestRemoteObject_ConnectFailure(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	connector := &mocks.MockConnector{}
	connector.On("Connect", objPath, gatt.CharacteristicInterface).Return(nil, errors.New("no bus"))

	r := gatt.NewRemoteObject(connector, objPath, gatt.CharacteristicInterface, helper.Logger)
	_, err := r.Call("ReadValue", nil)

	assert.ErrorIs(t, err, gatt.ErrConnectionUnavailable)
	assert.False(t, r.Connected())
	assert.Equal(t, []string{"Error getting D-Bus proxy"}, helper.Messages(logrus.ErrorLevel))
}

func TestRemoteObject_NilHandleIsFailure(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	connector := &mocks.MockConnector{}
	connector.On("Connect", objPath, gatt.CharacteristicInterface).Return(nil, nil)

	r := gatt.NewRemoteObject(connector, objPath, gatt.CharacteristicInterface, helper.Logger)

	err := r.EnsureConnected()

	assert.ErrorIs(t, err, gatt.ErrConnectionUnavailable)
	assert.ErrorIs(t, err, gatt.ErrNullReply)
	assert.False(t, r.Connected())
	assert.Equal(t, []string{"Error getting D-Bus proxy"}, helper.Messages(logrus.ErrorLevel),
		"a nil handle MUST be logged like any other connection failure")
}

func TestRemoteObject_NoConnector(t *testing.T) {
	helper := testutils.NewTestHelper(t)
	r := gatt.NewRemoteObject(nil, objPath, gatt.CharacteristicInterface, helper.Logger)

	err := r.EnsureConnected()

	assert.ErrorIs(t, err, gatt.ErrConnectionUnavailable)
	assert.ErrorIs(t, err, gatt.ErrNoConnector)
	assert.Equal(t, []string{"Error getting D-Bus proxy"}, helper.Messages(logrus.ErrorLevel))
}

func TestRemoteObject_CallFailures(t *testing.T) {
	t.Run("transport error", func(t *testing.T) {
		r, _, handle, helper := newRemote(t)
		handle.On("Call", "ReadValue", mock.Anything).Return(nil, errors.New("org.bluez.Error.Failed"))

		_, err := r.Call("ReadValue", nil)

		assert.True(t, gatt.IsKind(err, gatt.TransportFailure))
		assert.Equal(t, []string{"Error calling remote method"}, helper.Messages(logrus.InfoLevel))
		assert.True(t, r.Connected(), "a failed call MUST keep the handle")
	})

	t.Run("null reply", func(t *testing.T) {
		r, _, handle, helper := newRemote(t)
		handle.On("Call", "ReadValue", mock.Anything).Return(nil, nil)

		_, err := r.Call("ReadValue", nil)

		assert.ErrorIs(t, err, gatt.ErrNullReply)
		assert.True(t, gatt.IsKind(err, gatt.TransportFailure))
		assert.Equal(t, []string{"Null result when calling remote method"}, helper.Messages(logrus.WarnLevel))
	})
}

func TestRemoteObject_SubscribeLifecycle(t *testing.T) {
	r, _, handle, _ := newRemote(t)
	handle.On("Watch", mock.Anything).Return(nil).Once()
	handle.On("Call", "StopNotify", codec.Tuple{}).Return(codec.Tuple{}, nil).Once()
	handle.On("Unwatch").Return().Once()
	handle.On("Close").Return(nil).Once()

	require.NoError(t, r.Subscribe(func(codec.Value) {}))
	assert.True(t, r.Subscribed())

	r.Unsubscribe("StopNotify")
	r.Unsubscribe("StopNotify")
	assert.False(t, r.Subscribed())

	r.Close()
	r.Close()
	assert.False(t, r.Connected())

	handle.AssertExpectations(t)
}

func TestRemoteObject_UnsubscribeIgnoresStopFailure(t *testing.T) {
	r, _, handle, _ := newRemote(t)
	handle.On("Watch", mock.Anything).Return(nil)
	handle.On("Call", "StopNotify", mock.Anything).Return(nil, errors.New("not notifying"))
	handle.On("Unwatch").Return()

	require.NoError(t, r.Subscribe(func(codec.Value) {}))
	r.Unsubscribe("StopNotify")

	assert.False(t, r.Subscribed(), "listener MUST be removed even when StopNotify fails")
	handle.AssertCalled(t, "Unwatch")
}

func TestRemoteObject_CloseDropsListenerWithoutRemoteCall(t *testing.T) {
	r, _, handle, helper := newRemote(t)
	handle.On("Watch", mock.Anything).Return(nil)
	handle.On("Unwatch").Return().Once()
	handle.On("Close").Return(errors.New("already closed")).Once()

	require.NoError(t, r.Subscribe(func(codec.Value) {}))
	r.Close()

	handle.AssertNotCalled(t, "Call", mock.Anything, mock.Anything)
	handle.AssertExpectations(t)
	assert.False(t, r.Subscribed())
	assert.Equal(t, []string{"Error releasing D-Bus proxy"}, helper.Messages(logrus.DebugLevel))
}

func TestRemoteObject_WatchFailure(t *testing.T) {
	r, _, handle, _ := newRemote(t)
	handle.On("Watch", mock.Anything).Return(errors.New("match rule rejected"))

	err := r.Subscribe(func(codec.Value) {})

	assert.ErrorIs(t, err, gatt.ErrTransport)
	assert.False(t, r.Subscribed())
}
