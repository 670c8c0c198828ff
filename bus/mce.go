package bus

import (
	"context"
	"sync"

	"github.com/edaniels/golog"
	"github.com/godbus/dbus/v5"
	"go.viam.com/utils"

	"github.com/sensorfw/sensord/manager"
)

// Signal names of the mode-control entity broadcasting display and
// power-save transitions.
const (
	mceSignalInterface = "com.nokia.mce.signal"
	displayMember      = "display_status_ind"
	psmMember          = "powersave_mode_ind"

	displayStateOff = "off"
)

// PowerWatcher forwards display-state and power-save-mode bus signals to
// the manager's power hooks.
type PowerWatcher struct {
	conn   *dbus.Conn
	m      *manager.Manager
	logger golog.Logger
	ch     chan *dbus.Signal

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// NewPowerWatcher returns a watcher on the given connection, typically the
// one the control service already holds.
func NewPowerWatcher(conn *dbus.Conn, m *manager.Manager, logger golog.Logger) *PowerWatcher {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &PowerWatcher{
		conn:       conn,
		m:          m,
		logger:     logger,
		ch:         make(chan *dbus.Signal, 16),
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}
}

// Start subscribes to the display and power-save signals and begins
// dispatching them.
func (w *PowerWatcher) Start() error {
	if err := w.conn.AddMatchSignal(
		dbus.WithMatchInterface(mceSignalInterface),
		dbus.WithMatchMember(displayMember),
	); err != nil {
		return err
	}
	if err := w.conn.AddMatchSignal(
		dbus.WithMatchInterface(mceSignalInterface),
		dbus.WithMatchMember(psmMember),
	); err != nil {
		return err
	}
	w.conn.Signal(w.ch)

	w.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() {
		for {
			select {
			case <-w.cancelCtx.Done():
				return
			case sig, ok := <-w.ch:
				if !ok {
					return
				}
				w.handleSignal(sig)
			}
		}
	}, w.activeBackgroundWorkers.Done)
	return nil
}

// handleSignal translates one bus signal into a manager hook. Signals with
// unexpected shapes are dropped.
func (w *PowerWatcher) handleSignal(sig *dbus.Signal) {
	if sig == nil || len(sig.Body) == 0 {
		return
	}
	switch sig.Name {
	case mceSignalInterface + "." + displayMember:
		state, ok := sig.Body[0].(string)
		if !ok {
			w.logger.Debugw("unexpected display signal body", "body", sig.Body)
			return
		}
		w.m.SetDisplayState(state != displayStateOff)
	case mceSignalInterface + "." + psmMember:
		on, ok := sig.Body[0].(bool)
		if !ok {
			w.logger.Debugw("unexpected power-save signal body", "body", sig.Body)
			return
		}
		w.m.SetPSMState(on)
	}
}

// Close stops dispatching. The shared connection is left open for its
// owner.
func (w *PowerWatcher) Close() {
	w.cancelFunc()
	w.conn.RemoveSignal(w.ch)
	w.activeBackgroundWorkers.Wait()
}
