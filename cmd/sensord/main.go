// Package main runs the sensor daemon: it multiplexes access from many
// client processes to the device's physical sensors over the control bus
// and a local sample socket.
package main

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.viam.com/utils"

	"github.com/sensorfw/sensord/bus"
	"github.com/sensorfw/sensord/calibration"
	"github.com/sensorfw/sensord/config"
	"github.com/sensorfw/sensord/ipc"
	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/plugins"

	// the compiled-in plugin sets
	_ "github.com/sensorfw/sensord/plugins/accelerometer"
	_ "github.com/sensorfw/sensord/plugins/iioadaptor"
	_ "github.com/sensorfw/sensord/plugins/magnetometer"
)

var logger = golog.NewDevelopmentLogger("sensord")

func main() {
	utils.ContextualMain(mainWithArgs, logger)
}

func mainWithArgs(ctx context.Context, args []string, logger golog.Logger) error {
	app := &cli.App{
		Name:  "sensord",
		Usage: "sensor multiplexing daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "configuration file"},
			&cli.StringFlag{Name: "socket", Usage: "sample socket path"},
			&cli.StringFlag{Name: "bus-name", Usage: "well-known control service name"},
			&cli.BoolFlag{Name: "session-bus", Usage: "use the session bus instead of the system bus"},
			&cli.BoolFlag{Name: "debug", Usage: "debug logging"},
		},
		Action: func(c *cli.Context) error {
			return runDaemon(ctx, c, logger)
		},
	}
	return app.RunContext(ctx, args)
}

func runDaemon(ctx context.Context, c *cli.Context, logger golog.Logger) (err error) {
	cfg := config.Default()
	if path := c.String("config"); path != "" {
		cfg, err = config.Read(path)
		if err != nil {
			return err
		}
	}
	if socket := c.String("socket"); socket != "" {
		cfg.SocketPath = socket
	}
	if name := c.String("bus-name"); name != "" {
		cfg.BusName = name
	}
	if c.Bool("session-bus") {
		cfg.SessionBus = true
	}
	if c.Bool("debug") {
		cfg.LogLevel = "debug"
	}

	level := zap.NewAtomicLevelAt(logLevel(cfg.LogLevel))
	zcfg := zap.NewDevelopmentConfig()
	zcfg.Level = level
	zl, err := zcfg.Build()
	if err != nil {
		return err
	}
	logger = zl.Sugar()

	m := manager.New(logger)
	defer func() {
		err = multierr.Combine(err, m.Close())
	}()
	loader := plugins.NewLoader(m, logger)
	m.SetPluginLoader(loader.Load)

	sockets := ipc.NewHandler(cfg.SocketPath, logger)
	sockets.OnLost(m.LostClient)
	m.SetSocketHandler(sockets)
	if err := sockets.Listen(); err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, sockets.Close())
	}()
	logger.Infow("sample socket up", "path", cfg.SocketPath)

	svc := bus.New(m, cfg.BusName, logger)
	if cfg.SessionBus {
		err = svc.ConnectSessionBus()
	} else {
		err = svc.ConnectSystemBus()
	}
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, svc.Close())
	}()
	m.SetTransport(svc)
	if err := m.RegisterService(); err != nil {
		return err
	}
	logger.Infow("control service up", "name", cfg.BusName)

	powerWatcher := bus.NewPowerWatcher(svc.Conn(), m, logger)
	if err := powerWatcher.Start(); err != nil {
		logger.Warnw("power watcher unavailable", "error", err)
	} else {
		defer powerWatcher.Close()
	}

	// plugin failures leave the rest of the daemon up
	loadedMagnetometer := false
	for _, name := range cfg.Plugins {
		if err := m.LoadPlugin(name); err != nil {
			logger.Errorw("plugin load failed", "plugin", name, "error", err)
			continue
		}
		if name == "magnetometer" {
			loadedMagnetometer = true
		}
	}
	for id, props := range cfg.Adaptors {
		if err := m.SetAdaptorProperties(id, props); err != nil {
			logger.Warnw("adaptor override ignored", "adaptor", id, "error", err)
		}
	}

	if loadedMagnetometer {
		handler := calibration.NewHandler(m, clock.New(), calibration.Config{
			Schedule: cfg.CalibrationSchedule,
		}, logger)
		if err := handler.Start(); err != nil {
			logger.Warnw("background calibration unavailable", "error", err)
		} else {
			defer func() {
				err = multierr.Combine(err, handler.Close())
			}()
		}
	}

	if path := c.String("config"); path != "" {
		watcher, watchErr := config.NewWatcher(path, func(newCfg *config.Config) {
			level.SetLevel(logLevel(newCfg.LogLevel))
			logger.Infow("config reloaded; only the log level applies live", "level", newCfg.LogLevel)
		}, logger)
		if watchErr != nil {
			logger.Warnw("config watch unavailable", "error", watchErr)
		} else {
			defer func() {
				err = multierr.Combine(err, watcher.Close())
			}()
		}
	}

	notifyStatusSignals(ctx, m, logger)

	<-ctx.Done()
	logger.Info("shutting down")
	return nil
}

func logLevel(name string) zapcore.Level {
	switch name {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// statusDump renders the registry for the operator signal handler.
func statusDump(m *manager.Manager) string {
	return fmt.Sprintf("Registry status:\n%s", m.PrintStatus())
}
