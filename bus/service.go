// Package bus publishes the daemon's control surface on D-Bus: the manager
// object, one object per live logical sensor, the asynchronous error
// signal, and the watcher translating display/power-save signals into
// manager hooks.
package bus

import (
	"strings"
	"sync"

	"github.com/edaniels/golog"
	"github.com/godbus/dbus/v5"
	"github.com/pkg/errors"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/manager"
)

const (
	// DefaultServiceName is the well-known bus name claimed by the daemon.
	DefaultServiceName = "org.sensorfw.Sensord"

	managerPath      dbus.ObjectPath = "/SensorManager"
	managerInterface                 = "local.SensorManager"
	sensorInterface                  = "local.SensorChannel"
	errorSignalName                  = managerInterface + ".errorSignal"
)

// Service exposes a manager over one D-Bus connection. It implements
// manager.Transport.
type Service struct {
	mu           sync.Mutex
	conn         *dbus.Conn
	name         string
	logger       golog.Logger
	m            *manager.Manager
	cancelErrSub func()
}

// New returns a service publishing under the given well-known name.
func New(m *manager.Manager, name string, logger golog.Logger) *Service {
	if name == "" {
		name = DefaultServiceName
	}
	return &Service{name: name, logger: logger, m: m}
}

// ConnectSystemBus attaches the service to the system bus.
func (s *Service) ConnectSystemBus() error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return errors.Wrap(err, "cannot connect to system bus")
	}
	s.attach(conn)
	return nil
}

// ConnectSessionBus attaches the service to the session bus, for
// development runs without system bus policy in place.
func (s *Service) ConnectSessionBus() error {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return errors.Wrap(err, "cannot connect to session bus")
	}
	s.attach(conn)
	return nil
}

func (s *Service) attach(conn *dbus.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

// Conn returns the underlying connection, shared with the power watcher.
func (s *Service) Conn() *dbus.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

// Connected implements manager.Transport.
func (s *Service) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && s.conn.Connected()
}

// RegisterManagerObject implements manager.Transport: it exports the
// manager's remote object and wires the error signal.
func (s *Service) RegisterManagerObject(m *manager.Manager) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	if err := conn.Export(managerObject{m}, managerPath, managerInterface); err != nil {
		return err
	}
	s.mu.Lock()
	if s.cancelErrSub == nil {
		s.cancelErrSub = m.OnError(func(code manager.ErrorCode) {
			if err := conn.Emit(managerPath, errorSignalName, int32(code)); err != nil {
				s.logger.Debugw("error signal emit failed", "error", err)
			}
		})
	}
	s.mu.Unlock()
	return nil
}

// RegisterServiceName implements manager.Transport.
func (s *Service) RegisterServiceName() error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	reply, err := conn.RequestName(s.name, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.Errorf("name %q already taken", s.name)
	}
	return nil
}

// RegisterSensorObject implements manager.Transport: each live sensor gets
// its own object under the manager path.
func (s *Service) RegisterSensorObject(sensor sensord.Sensor) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("not connected")
	}
	return conn.Export(sensorObject{sensor}, sensorPath(sensor.ID()), sensorInterface)
}

// UnregisterSensorObject implements manager.Transport.
func (s *Service) UnregisterSensorObject(id string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return
	}
	if err := conn.Export(nil, sensorPath(id), sensorInterface); err != nil {
		s.logger.Debugw("sensor object unexport failed", "sensor", id, "error", err)
	}
}

// Close releases the error subscription and the bus connection.
func (s *Service) Close() error {
	s.mu.Lock()
	cancel := s.cancelErrSub
	s.cancelErrSub = nil
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// sensorPath maps a registry identifier to an object path, replacing the
// characters D-Bus forbids.
func sensorPath(id string) dbus.ObjectPath {
	var b strings.Builder
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	return managerPath + dbus.ObjectPath("/"+b.String())
}

// managerObject is the D-Bus shape of the manager's control surface.
// Failed requests surface through the returned sentinel values plus the
// manager's error slot, mirroring the remote API.
type managerObject struct {
	m *manager.Manager
}

func (o managerObject) LoadPlugin(name string) (bool, *dbus.Error) {
	return o.m.LoadPlugin(name) == nil, nil
}

func (o managerObject) RequestControlSensor(id string) (int32, *dbus.Error) {
	sessionID, err := o.m.RequestControlSensor(id)
	if err != nil {
		return int32(sensord.InvalidSessionID), nil
	}
	return int32(sessionID), nil
}

func (o managerObject) RequestListenSensor(id string) (int32, *dbus.Error) {
	sessionID, err := o.m.RequestListenSensor(id)
	if err != nil {
		return int32(sensord.InvalidSessionID), nil
	}
	return int32(sessionID), nil
}

func (o managerObject) ReleaseSensor(id string, sessionID int32) (bool, *dbus.Error) {
	return o.m.ReleaseSensor(id, int64(sessionID)) == nil, nil
}

func (o managerObject) ErrorCodeInt() (int32, *dbus.Error) {
	return int32(o.m.ErrorCodeInt()), nil
}

func (o managerObject) ErrorString() (string, *dbus.Error) {
	return o.m.ErrorString(), nil
}

func (o managerObject) GetPSMState() (bool, *dbus.Error) {
	return o.m.PSMState(), nil
}

// sensorObject is the D-Bus shape of one live sensor's control surface.
type sensorObject struct {
	s sensord.Sensor
}

func (o sensorObject) Start(sessionID int32) (bool, *dbus.Error) {
	return o.s.Start(int64(sessionID)), nil
}

func (o sensorObject) Stop(sessionID int32) (bool, *dbus.Error) {
	return o.s.Stop(int64(sessionID)), nil
}

func (o sensorObject) SetInterval(sessionID, intervalMS int32) (bool, *dbus.Error) {
	return o.s.SetInterval(int64(sessionID), int(intervalMS)) == nil, nil
}

func (o sensorObject) SetDataRate(sessionID, rateHz int32) (bool, *dbus.Error) {
	return o.s.SetDataRate(int64(sessionID), int(rateHz)) == nil, nil
}

func (o sensorObject) SetStandbyOverride(sessionID int32, on bool) (bool, *dbus.Error) {
	return o.s.SetStandbyOverride(int64(sessionID), on), nil
}

func (o sensorObject) RequestDataRange(sessionID int32, min, max, resolution float64) (bool, *dbus.Error) {
	o.s.RequestDataRange(int64(sessionID), sensord.DataRange{Min: min, Max: max, Resolution: resolution})
	return true, nil
}

func (o sensorObject) Reset() (bool, *dbus.Error) {
	return o.s.Reset(), nil
}
