//go:build !unix

package main

import (
	"context"

	"github.com/edaniels/golog"

	"github.com/sensorfw/sensord/manager"
)

// notifyStatusSignals is a no-op where SIGUSR1 does not exist.
func notifyStatusSignals(ctx context.Context, m *manager.Manager, logger golog.Logger) {}
