//go:build unix

package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/edaniels/golog"
	"go.viam.com/utils"
	"golang.org/x/sys/unix"

	"github.com/sensorfw/sensord/manager"
)

// notifyStatusSignals dumps the registry to the log on SIGUSR1.
func notifyStatusSignals(ctx context.Context, m *manager.Manager, logger golog.Logger) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, unix.SIGUSR1)
	utils.PanicCapturingGo(func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				return
			case <-ch:
				logger.Info(statusDump(m))
			}
		}
	})
}
