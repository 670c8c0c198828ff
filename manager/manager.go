// Package manager implements the core of the sensor daemon: the instance
// registries for logical sensors, processing chains and device adaptors,
// session arbitration, reference-counted sharing, the cross-goroutine
// sample write pipe, property arbitration, client liveness teardown and the
// display/power-save hooks.
//
// All registry state is mutated only under the manager's lock (the control
// context). Sample producers never touch it; they talk to the write pipe
// alone.
package manager

import (
	"context"
	"fmt"
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"
	"go.viam.com/utils"

	"github.com/sensorfw/sensord"
)

// A SocketHandler is the manager's view of the sample socket layer. The
// real implementation lives in the ipc package.
type SocketHandler interface {
	// Write delivers one payload on a session's socket.
	Write(sessionID int64, payload []byte) bool
	// RemoveSession drops a session's socket.
	RemoveSession(sessionID int64)
	// PID translates a session to its peer process ID.
	PID(sessionID int64) (int, error)
}

// A Transport is the manager's view of the control-surface naming layer.
// The real implementation lives in the bus package.
type Transport interface {
	// Connected reports whether the transport is usable at all.
	Connected() bool
	// RegisterManagerObject publishes the manager's remote object.
	RegisterManagerObject(m *Manager) error
	// RegisterServiceName claims the daemon's well-known service name.
	RegisterServiceName() error
	// RegisterSensorObject publishes a live sensor's remote object.
	RegisterSensorObject(s sensord.Sensor) error
	// UnregisterSensorObject withdraws a sensor's remote object.
	UnregisterSensorObject(id string)
}

// PowerEvent is broadcast to subscribers on display and power-save-mode
// transitions.
type PowerEvent int

const (
	// StopCalibration tells background calibration to pause.
	StopCalibration PowerEvent = iota
	// ResumeCalibration tells background calibration to continue.
	ResumeCalibration
	// DisplayOn announces the display turning on.
	DisplayOn
)

const writePipeDepth = 128

type writeRecord struct {
	sessionID int64
	payload   []byte
}

// Manager is the daemon core. One instance exists per process; everything
// else (transport, socket handler, plugins) hangs off it.
type Manager struct {
	mu     sync.Mutex
	logger golog.Logger

	sensorInstances  map[string]*sensorInstanceEntry
	chainInstances   map[string]*chainInstanceEntry
	adaptorInstances map[string]*adaptorInstanceEntry

	sessionCounter int64

	properties propertyTable

	sockets      SocketHandler
	transport    Transport
	pluginLoader func(name string) error

	displayOn bool
	psmState  bool

	pipe chan writeRecord

	errMu       sync.Mutex
	lastErrCode ErrorCode
	lastErrMsg  string
	errSubs     map[int]func(ErrorCode)
	nextErrSub  int

	powerSubs    map[int]func(PowerEvent)
	nextPowerSub int

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns a manager with empty registries and a running write pipe.
// Attach a socket handler and transport before serving clients.
func New(logger golog.Logger) *Manager {
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	m := &Manager{
		logger:           logger,
		sensorInstances:  map[string]*sensorInstanceEntry{},
		chainInstances:   map[string]*chainInstanceEntry{},
		adaptorInstances: map[string]*adaptorInstanceEntry{},
		properties:       newPropertyTable(),
		displayOn:        true,
		pipe:             make(chan writeRecord, writePipeDepth),
		errSubs:          map[int]func(ErrorCode){},
		powerSubs:        map[int]func(PowerEvent){},
		cancelCtx:        cancelCtx,
		cancelFunc:       cancelFunc,
	}
	m.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(m.drainWritePipe, m.activeBackgroundWorkers.Done)
	return m
}

// SetSocketHandler attaches the sample socket layer. Must be called before
// clients connect.
func (m *Manager) SetSocketHandler(h SocketHandler) {
	m.mu.Lock()
	m.sockets = h
	m.mu.Unlock()
}

// SetTransport attaches the control transport. Must be called before
// RegisterService.
func (m *Manager) SetTransport(t Transport) {
	m.mu.Lock()
	m.transport = t
	m.mu.Unlock()
}

// SetPluginLoader attaches the plugin loader LoadPlugin delegates to.
func (m *Manager) SetPluginLoader(fn func(name string) error) {
	m.mu.Lock()
	m.pluginLoader = fn
	m.mu.Unlock()
}

// RegisterService publishes the manager object and claims the daemon's
// service name on the control transport.
func (m *Manager) RegisterService() error {
	m.clearError()
	m.mu.Lock()
	t := m.transport
	m.mu.Unlock()
	if t == nil || !t.Connected() {
		return m.setError(NotConnected, "control transport is not connected")
	}
	if err := t.RegisterManagerObject(m); err != nil {
		return m.setError(CanNotRegisterObject, "cannot register manager object: %v", err)
	}
	if err := t.RegisterServiceName(); err != nil {
		return m.setError(CanNotRegisterService, "cannot register service name: %v", err)
	}
	return nil
}

// LoadPlugin loads a named plugin set (factories plus registry entries)
// through the attached loader.
func (m *Manager) LoadPlugin(name string) error {
	m.clearError()
	m.mu.Lock()
	loader := m.pluginLoader
	m.mu.Unlock()
	if loader == nil {
		return m.setError(CanNotRegisterObject, "no plugin loader attached")
	}
	if err := loader(name); err != nil {
		return m.setError(CanNotRegisterObject, "%v", err)
	}
	return nil
}

// Sensor returns the live instance registered under a parameter-free
// identifier, if any.
func (m *Manager) Sensor(id string) (sensord.Sensor, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.sensorInstances[id]
	if !ok || entry.sensor == nil {
		return nil, false
	}
	return entry.sensor, true
}

func (m *Manager) nextSessionIDLocked() int64 {
	m.sessionCounter++
	return m.sessionCounter
}

// LastError returns the code and message of the most recent failure, or
// NoError after a successful operation.
func (m *Manager) LastError() (ErrorCode, string) {
	m.errMu.Lock()
	defer m.errMu.Unlock()
	return m.lastErrCode, m.lastErrMsg
}

// ErrorCodeInt returns the last error code as an integer for the control
// surface.
func (m *Manager) ErrorCodeInt() int {
	code, _ := m.LastError()
	return int(code)
}

// ErrorString returns the last error message for the control surface.
func (m *Manager) ErrorString() string {
	_, msg := m.LastError()
	return msg
}

// OnError subscribes to asynchronous error notifications. Handlers run on
// the failing goroutine and must not call back into the manager.
func (m *Manager) OnError(fn func(ErrorCode)) (cancel func()) {
	m.errMu.Lock()
	id := m.nextErrSub
	m.nextErrSub++
	m.errSubs[id] = fn
	m.errMu.Unlock()
	return func() {
		m.errMu.Lock()
		delete(m.errSubs, id)
		m.errMu.Unlock()
	}
}

// clearError resets the last-error slot; every public operation starts with
// it.
func (m *Manager) clearError() {
	m.errMu.Lock()
	m.lastErrCode = NoError
	m.lastErrMsg = ""
	m.errMu.Unlock()
}

// setError records a failure and notifies subscribers.
func (m *Manager) setError(code ErrorCode, format string, args ...interface{}) *Error {
	msg := fmt.Sprintf(format, args...)
	m.logger.Warnw("manager error", "code", code.String(), "error", msg)
	m.errMu.Lock()
	m.lastErrCode = code
	m.lastErrMsg = msg
	subs := make([]func(ErrorCode), 0, len(m.errSubs))
	for _, fn := range m.errSubs {
		subs = append(subs, fn)
	}
	m.errMu.Unlock()
	for _, fn := range subs {
		fn(code)
	}
	return &Error{Code: code, Message: msg}
}

// Close shuts the write pipe down and tears down any instances still held.
// Sensors still bound to sessions at this point are a client bug; they are
// logged and destroyed anyway.
func (m *Manager) Close() error {
	m.cancelFunc()
	m.activeBackgroundWorkers.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()

	var err error
	for id, entry := range m.sensorInstances {
		if entry.sensor == nil {
			continue
		}
		m.logger.Warnw("sensor not released at shutdown", "sensor", id)
		entry.controllingSession = sensord.InvalidSessionID
		entry.listenSessions = nil
		err = multierr.Combine(err, entry.sensor.Close())
		entry.sensor = nil
	}
	for id, entry := range m.chainInstances {
		if entry.chain == nil {
			continue
		}
		m.logger.Warnw("chain not released at shutdown", "chain", id)
		err = multierr.Combine(err, entry.chain.Close())
		entry.chain = nil
		entry.refcount = 0
	}
	for id, entry := range m.adaptorInstances {
		if entry.adaptor == nil {
			continue
		}
		m.logger.Warnw("adaptor not released at shutdown", "adaptor", id)
		entry.adaptor.Stop()
		entry.adaptor = nil
		entry.refcount = 0
	}
	return err
}
