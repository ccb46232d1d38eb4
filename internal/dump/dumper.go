// Package dump prints the GATT database of discovered devices: every service,
// every characteristic with its flags and current value, and each notification
// as it arrives.
package dump

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/cornelk/hashmap"
	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/srg/gattdump/internal/bledb"
	"github.com/srg/gattdump/internal/gatt"
)

// Format selects the output encoding.
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
)

// Options controls what is dumped.
type Options struct {
	// AllDevices dumps every device instead of only the first one.
	AllDevices bool
	// ReadDescriptors reads and prints descriptors under their characteristic.
	ReadDescriptors bool
	// KnownNames annotates UUIDs with their assigned names.
	KnownNames bool
	Format     Format
	Color      bool
}

// Dumper implements the discovery handler. OnDeviceAdded, OnDeviceRemoved,
// Close and notification callbacks must all run on the same event loop.
type Dumper struct {
	out    io.Writer
	opts   Options
	logger *logrus.Logger
	colors palette

	// subscribed characteristics by path; readable from any goroutine
	subscribed *hashmap.Map[dbus.ObjectPath, *gatt.Characteristic]
	dumped     int
}

// New creates a Dumper writing to out.
func New(out io.Writer, opts Options, logger *logrus.Logger) *Dumper {
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	if opts.Format == "" {
		opts.Format = FormatText
	}
	return &Dumper{
		out:        out,
		opts:       opts,
		logger:     logger,
		colors:     newPalette(opts.Color),
		subscribed: hashmap.New[dbus.ObjectPath, *gatt.Characteristic](),
	}
}

// Subscriptions returns the number of active notification subscriptions.
func (d *Dumper) Subscriptions() int {
	return d.subscribed.Len()
}

// Dumped returns how many devices have been dumped.
func (d *Dumper) Dumped() int {
	return d.dumped
}

// OnDeviceAdded reads and subscribes to the device's characteristics and prints
// the result. Unless AllDevices is set, only the first device is dumped.
func (d *Dumper) OnDeviceAdded(dev *gatt.Device) {
	if d.dumped > 0 && !d.opts.AllDevices {
		d.logger.WithField("path", dev.Path).Debug("Ignoring device, only the first one is dumped")
		dev.Close()
		return
	}
	d.dumped++

	report := d.inspect(dev)
	if d.opts.Format == FormatJSON {
		d.writeJSON(report)
		return
	}
	d.writeText(report)
}

// OnDeviceRemoved stops the notifications of the device's characteristics.
func (d *Dumper) OnDeviceRemoved(path dbus.ObjectPath) {
	prefix := string(path) + "/"
	n := d.release(func(p dbus.ObjectPath) bool {
		return strings.HasPrefix(string(p), prefix)
	})
	d.logger.WithFields(logrus.Fields{
		"path":          path,
		"notifications": n,
	}).Info("Device removed")
}

// Close stops every active notification.
func (d *Dumper) Close() {
	n := d.release(func(dbus.ObjectPath) bool { return true })
	d.logger.WithField("notifications", n).Debug("Dumper closed")
}

func (d *Dumper) release(match func(dbus.ObjectPath) bool) int {
	var paths []dbus.ObjectPath
	d.subscribed.Range(func(p dbus.ObjectPath, _ *gatt.Characteristic) bool {
		if match(p) {
			paths = append(paths, p)
		}
		return true
	})

	for _, p := range paths {
		if c, ok := d.subscribed.Get(p); ok {
			c.Close()
		}
		d.subscribed.Del(p)
	}
	return len(paths)
}

func (d *Dumper) inspect(dev *gatt.Device) DeviceReport {
	report := DeviceReport{
		Event:    EventDevice,
		Name:     dev.Name,
		Path:     dev.Path,
		Services: []ServiceReport{},
	}

	for _, svc := range dev.SortedServices() {
		sr := ServiceReport{
			UUID:            svc.UUID,
			Path:            svc.Path,
			Name:            d.name(bledb.LookupService, svc.UUID),
			Characteristics: []CharacteristicReport{},
		}
		for _, c := range svc.Characteristics {
			sr.Characteristics = append(sr.Characteristics, d.inspectCharacteristic(c, svc.Descriptors[c.Path()]))
		}
		for _, descs := range svc.Descriptors {
			for _, desc := range descs {
				desc.Close()
			}
		}
		report.Services = append(report.Services, sr)
	}
	return report
}

func (d *Dumper) inspectCharacteristic(c *gatt.Characteristic, descs []*gatt.Descriptor) CharacteristicReport {
	cr := CharacteristicReport{
		UUID:  c.UUID(),
		Path:  c.Path(),
		Name:  d.name(bledb.LookupCharacteristic, c.UUID()),
		Flags: append([]string{}, c.Flags()...),
		Read:  ReadSkipped,
	}

	if c.HasFlag(gatt.FlagNotify) {
		if err := c.Notify(func(data []byte) { d.onNotify(c, data) }); err != nil {
			d.logger.WithFields(logrus.Fields{
				"uuid":  c.UUID(),
				"path":  c.Path(),
				"error": err,
			}).Warn("Failed to subscribe to notifications")
		} else {
			cr.Subscribed = true
			d.subscribed.Set(c.Path(), c)
		}
	}

	if c.HasFlag(gatt.FlagRead) {
		data, err := c.Read()
		cr.Read = readStatus(err)
		if cr.Read == ReadValue {
			cr.Value = HexDump(data)
			cr.Printable = Printable(data)
		}
	}

	if d.opts.ReadDescriptors {
		for _, desc := range descs {
			dr := DescriptorReport{
				UUID: desc.UUID(),
				Path: desc.Path(),
				Name: d.name(bledb.LookupDescriptor, desc.UUID()),
			}
			data, err := desc.Read()
			dr.Read = readStatus(err)
			if dr.Read == ReadValue {
				dr.Value = HexDump(data)
				dr.Printable = Printable(data)
			}
			cr.Descriptors = append(cr.Descriptors, dr)
		}
	}

	// Keep the handle only while notifications are flowing.
	if !cr.Subscribed {
		c.Close()
	}
	return cr
}

func readStatus(err error) ReadStatus {
	switch {
	case err == nil:
		return ReadValue
	case gatt.IsKind(err, gatt.RemoteDisconnect):
		return ReadDenied
	default:
		return ReadFailed
	}
}

func (d *Dumper) name(lookup func(string) string, uuid string) string {
	if !d.opts.KnownNames {
		return ""
	}
	return lookup(uuid)
}

func (d *Dumper) onNotify(c *gatt.Characteristic, data []byte) {
	if d.opts.Format == FormatJSON {
		d.encode(NotifyReport{
			Event: EventNotify,
			UUID:  c.UUID(),
			Path:  c.Path(),
			Value: HexDump(data),
		})
		return
	}
	d.printf("%s %s %s %s\n", d.colors.notify.Sprint("Notify:"), c.UUID(), c.Path(), HexDump(data))
}

func (d *Dumper) writeJSON(report DeviceReport) {
	d.encode(report)
}

func (d *Dumper) encode(v interface{}) {
	if err := json.NewEncoder(d.out).Encode(v); err != nil {
		d.logger.WithError(err).Error("Failed to write JSON output")
	}
}

func (d *Dumper) writeText(report DeviceReport) {
	d.printf("%s with %d services\n", report.Name, len(report.Services))

	for _, svc := range report.Services {
		d.printf("   %s %s\n", label(svc.UUID, svc.Name), svc.Path)

		for _, c := range svc.Characteristics {
			var sb strings.Builder
			fmt.Fprintf(&sb, "      %s %s [%s] ", label(c.UUID, c.Name), c.Path, strings.Join(c.Flags, ", "))
			if c.Subscribed {
				sb.WriteString(d.colors.subscribed.Sprint("[subscribed]"))
				sb.WriteByte(' ')
			}
			switch c.Read {
			case ReadDenied:
				sb.WriteString(" " + d.colors.denied.Sprint("<not read>"))
			case ReadFailed:
				sb.WriteString(" " + d.colors.failed.Sprint("<read failed>"))
			case ReadValue:
				fmt.Fprintf(&sb, "%s \"%s\"", c.Value, c.Printable)
			}
			sb.WriteByte('\n')
			d.printf("%s", sb.String())

			for _, desc := range c.Descriptors {
				d.printf("         %s %s %s\n", label(desc.UUID, desc.Name), desc.Path, descriptorValue(desc, d.colors))
			}
		}
	}
}

func descriptorValue(desc DescriptorReport, colors palette) string {
	switch desc.Read {
	case ReadValue:
		return fmt.Sprintf("%s \"%s\"", desc.Value, desc.Printable)
	case ReadDenied:
		return colors.denied.Sprint("<not read>")
	default:
		return colors.failed.Sprint("<read failed>")
	}
}

func label(uuid, name string) string {
	if name == "" {
		return uuid
	}
	return fmt.Sprintf("%s (%s)", uuid, name)
}

func (d *Dumper) printf(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(d.out, format, args...); err != nil {
		d.logger.WithError(err).Error("Failed to write output")
	}
}
