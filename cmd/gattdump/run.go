package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/godbus/dbus/v5"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/gattdump/internal/bluez"
	"github.com/srg/gattdump/internal/dump"
	"github.com/srg/gattdump/internal/eventloop"
	"github.com/srg/gattdump/internal/gatt"
	"github.com/srg/gattdump/pkg/config"
	"golang.org/x/sys/unix"
)

func runDump(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := configureLogger(cmd)
	if err != nil {
		return err
	}

	colored, err := dump.ColorEnabled(cfg.Color, os.Stdout)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), unix.SIGINT, unix.SIGTERM)
	defer stop()

	s := &session{
		cfg:    cfg,
		logger: logger,
		out:    cmd.OutOrStdout(),
		color:  colored,
		dial:   bluez.DialSystemBus,
		source: bluez.ObjectManagerSource,
	}
	return s.run(ctx)
}

// session wires the bus, the event loop, discovery and the dumper for one run.
type session struct {
	cfg    *config.Config
	logger *logrus.Logger
	out    io.Writer
	color  bool

	dial   func() (bluez.Bus, error)
	source func() (bluez.ObjectSource, error)
}

// run dumps devices until ctx is cancelled, then stops every notification and
// closes the bus connection.
func (s *session) run(ctx context.Context) error {
	loop, err := eventloop.New(s.cfg.QueueSize, s.logger)
	if err != nil {
		return err
	}

	connector := bluez.NewSystemConnector(
		bluez.WithDialer(s.dial),
		bluez.WithPoster(loop),
		bluez.WithLogger(s.logger),
	)
	defer func() {
		if err := connector.Close(); err != nil {
			s.logger.WithError(err).Debug("Failed to close system bus")
		}
	}()

	bus, err := connector.Bus()
	if err != nil {
		return fmt.Errorf("connect to system bus: %w", err)
	}
	source, err := s.source()
	if err != nil {
		return err
	}

	client := gatt.NewClient(connector,
		gatt.WithDenyList(s.cfg.Denied()),
		gatt.WithLogger(s.logger),
	)
	dumper := dump.New(s.out, s.cfg.DumpOptions(s.color), s.logger)

	discovery, err := bluez.NewDiscovery(bluez.DiscoveryConfig{
		Source:  source,
		Bus:     bus,
		Client:  client,
		Poster:  loop,
		Handler: dumper,
		Adapter: dbus.ObjectPath(s.cfg.Adapter),
		Logger:  s.logger,
	})
	if err != nil {
		return err
	}
	if err := discovery.Start(ctx); err != nil {
		return err
	}

	s.logger.WithField("deny_list", s.cfg.Denied().UUIDs()).Debug("Dumping devices")
	runErr := loop.Run(ctx)

	if dump.Format(s.cfg.Format) == dump.FormatText {
		fmt.Fprintln(s.out, "Stopping...")
	}
	discovery.Stop()
	// The loop has returned, so nothing else touches the dumper any more.
	dumper.Close()

	if overruns := loop.Overruns(); overruns > 0 {
		s.logger.WithField("dropped", overruns).Warn("Events were dropped during the run")
	}
	if runErr != nil && ctx.Err() == nil {
		return runErr
	}
	return nil
}
