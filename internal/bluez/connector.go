package bluez

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/godbus/dbus/v5"
	bluezapi "github.com/muka/go-bluetooth/bluez"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/codec"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/srg/gattdump/internal/groutine"
)

// signalBuffer is the per-handle backlog of undelivered signals.
const signalBuffer = 64

// ErrNoReply is returned when the bus hands back no call at all.
var ErrNoReply = errors.New("no reply from bus")

// ErrClosed is returned by Connect after Close.
var ErrClosed = errors.New("connector closed")

// SystemConnector implements gatt.Connector on top of one shared bus connection.
// The connection is opened on the first Connect.
type SystemConnector struct {
	mu     sync.Mutex
	dial   func() (Bus, error)
	bus    Bus
	closed bool

	poster Poster
	logger *logrus.Logger
}

var _ gatt.Connector = (*SystemConnector)(nil)

// ConnectorOption configures a SystemConnector.
type ConnectorOption func(*SystemConnector)

// WithDialer replaces DialSystemBus.
func WithDialer(dial func() (Bus, error)) ConnectorOption {
	return func(c *SystemConnector) { c.dial = dial }
}

// WithBus uses an already open bus. The connector takes ownership of it.
func WithBus(bus Bus) ConnectorOption {
	return func(c *SystemConnector) { c.bus = bus }
}

// WithPoster delivers property changes through p instead of on the signal goroutine.
func WithPoster(p Poster) ConnectorOption {
	return func(c *SystemConnector) { c.poster = p }
}

// WithLogger sets the logger. A nil logger discards output.
func WithLogger(logger *logrus.Logger) ConnectorOption {
	return func(c *SystemConnector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewSystemConnector creates a connector. No connection is made until it is needed.
func NewSystemConnector(opts ...ConnectorOption) *SystemConnector {
	c := &SystemConnector{
		dial:   DialSystemBus,
		logger: discardLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bus returns the shared connection, opening it if needed.
func (c *SystemConnector) Bus() (Bus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, ErrClosed
	}
	if c.bus != nil {
		return c.bus, nil
	}

	bus, err := c.dial()
	if err != nil {
		return nil, err
	}
	c.bus = bus
	c.logger.Debug("Connected to system bus")
	return bus, nil
}

// Connect opens a handle on path after checking the object exposes iface.
func (c *SystemConnector) Connect(path dbus.ObjectPath, iface string) (gatt.Handle, error) {
	bus, err := c.Bus()
	if err != nil {
		return nil, err
	}

	call := bus.Call(path, bluezapi.PropertiesInterface+".GetAll", iface)
	if call == nil {
		return nil, fmt.Errorf("load %s properties of %s: %w", iface, path, ErrNoReply)
	}
	if call.Err != nil {
		return nil, fmt.Errorf("load %s properties of %s: %w", iface, path, call.Err)
	}

	return &objectHandle{
		bus:    bus,
		path:   path,
		iface:  iface,
		poster: c.poster,
		logger: c.logger,
	}, nil
}

// Close closes the shared connection. Handles opened from it stop working.
func (c *SystemConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if c.bus == nil {
		return nil
	}
	err := c.bus.Close()
	c.bus = nil
	return err
}

// objectHandle is a gatt.Handle for one object on one interface.
type objectHandle struct {
	bus    Bus
	path   dbus.ObjectPath
	iface  string
	poster Poster
	logger *logrus.Logger

	mu       sync.Mutex
	listener func(changed codec.Value)
	signals  chan *dbus.Signal
	cancel   context.CancelFunc
	closed   bool
}

func (h *objectHandle) Call(method string, args codec.Tuple) (codec.Tuple, error) {
	if h.isClosed() {
		return nil, ErrClosed
	}
	call := h.bus.Call(h.path, h.iface+"."+method, args.Args()...)
	if call == nil {
		return nil, nil
	}
	if call.Err != nil {
		return nil, call.Err
	}
	return codec.FromBody(call.Body), nil
}

func (h *objectHandle) Watch(listener func(changed codec.Value)) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return ErrClosed
	}
	h.listener = listener
	if h.signals != nil {
		return nil
	}

	if err := h.bus.AddMatchSignal(propertiesMatch(h.path)...); err != nil {
		h.listener = nil
		return fmt.Errorf("add match for %s: %w", h.path, err)
	}

	ch := make(chan *dbus.Signal, signalBuffer)
	ctx, cancel := context.WithCancel(context.Background())
	h.bus.Signal(ch)
	h.signals = ch
	h.cancel = cancel

	groutine.Go(ctx, "signals:"+string(h.path), func(ctx context.Context) {
		h.forward(ctx, ch)
	})
	return nil
}

func (h *objectHandle) Unwatch() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.unwatchLocked()
}

func (h *objectHandle) unwatchLocked() {
	h.listener = nil
	if h.signals == nil {
		return
	}

	if err := h.bus.RemoveMatchSignal(propertiesMatch(h.path)...); err != nil {
		h.logger.WithFields(logrus.Fields{
			"path":  h.path,
			"error": err,
		}).Debug("Error removing signal match")
	}
	h.bus.RemoveSignal(h.signals)
	h.cancel()
	h.signals = nil
	h.cancel = nil
}

func (h *objectHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.unwatchLocked()
	h.closed = true
	return nil
}

func (h *objectHandle) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *objectHandle) forward(ctx context.Context, ch <-chan *dbus.Signal) {
	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-ch:
			if !ok {
				return
			}
			changed, match := PropertiesChangedFor(sig, h.path, h.iface)
			if !match {
				continue
			}
			h.deliver(ctx, codec.DictFromDBus(changed))
		}
	}
}

// deliver runs the listener registered at delivery time, so changes that arrive
// after Unwatch are dropped. With a poster it blocks while the loop is
// saturated, until ctx ends.
func (h *objectHandle) deliver(ctx context.Context, changed codec.Value) {
	run := func() {
		h.mu.Lock()
		fn := h.listener
		h.mu.Unlock()
		if fn != nil {
			fn(changed)
		}
	}

	if h.poster == nil {
		run()
		return
	}
	if err := h.poster.Send(ctx, run); err != nil {
		h.logger.WithFields(logrus.Fields{
			"path":  h.path,
			"error": err,
		}).Debug("Dropping property change")
	}
}

func discardLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
