package bus

import (
	"fmt"
	"testing"

	"github.com/edaniels/golog"
	"github.com/godbus/dbus/v5"
	"go.viam.com/test"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/registry"
)

func newBusTestManager(t *testing.T) (*manager.Manager, string) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	m := manager.New(logger)
	t.Cleanup(func() {
		test.That(t, m.Close(), test.ShouldBeNil)
	})

	sensorType := fmt.Sprintf("bus-sensor/%s", t.Name())
	registry.RegisterSensor(sensorType, func(id string, deps sensord.Deps, w sensord.Writer, logger golog.Logger) (sensord.Sensor, error) {
		return newStubSensor(id, w), nil
	})
	test.That(t, m.RegisterSensorEntry("accel", sensorType), test.ShouldBeNil)
	return m, sensorType
}

// stubSensor is just enough of a sensor for surface tests.
type stubSensor struct {
	id      string
	writer  sensord.Writer
	started map[int64]bool
	resets  int
}

func newStubSensor(id string, w sensord.Writer) *stubSensor {
	return &stubSensor{id: id, writer: w, started: map[int64]bool{}}
}

func (s *stubSensor) ID() string    { return s.id }
func (s *stubSensor) Valid() bool   { return true }
func (s *stubSensor) Running() bool { return len(s.started) > 0 }

func (s *stubSensor) Start(sessionID int64) bool {
	s.started[sessionID] = true
	return true
}

func (s *stubSensor) Stop(sessionID int64) bool {
	delete(s.started, sessionID)
	return true
}

func (s *stubSensor) SetInterval(sessionID int64, intervalMS int) error {
	if intervalMS <= 0 {
		return fmt.Errorf("bad interval %d", intervalMS)
	}
	return nil
}

func (s *stubSensor) RemoveIntervalRequest(sessionID int64) {}

func (s *stubSensor) SetDataRate(sessionID int64, rateHz int) error { return nil }

func (s *stubSensor) RequestDataRange(sessionID int64, r sensord.DataRange) {}

func (s *stubSensor) RemoveDataRangeRequest(sessionID int64) {}

func (s *stubSensor) SetStandbyOverride(sessionID int64, on bool) bool { return true }

func (s *stubSensor) Reset() bool {
	s.resets++
	return true
}

func (s *stubSensor) Close() error { return nil }

func TestManagerObjectSurface(t *testing.T) {
	m, _ := newBusTestManager(t)
	obj := managerObject{m}

	sid, derr := obj.RequestListenSensor("accel")
	test.That(t, derr, test.ShouldBeNil)
	test.That(t, sid, test.ShouldEqual, int32(1))

	// failures surface as the sentinel plus the error slot
	bad, derr := obj.RequestControlSensor("nope")
	test.That(t, derr, test.ShouldBeNil)
	test.That(t, bad, test.ShouldEqual, int32(sensord.InvalidSessionID))
	code, _ := obj.ErrorCodeInt()
	test.That(t, code, test.ShouldEqual, int32(manager.IdNotRegistered))
	msg, _ := obj.ErrorString()
	test.That(t, msg, test.ShouldNotBeEmpty)

	ok, derr := obj.ReleaseSensor("accel", sid)
	test.That(t, derr, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)

	ok, _ = obj.ReleaseSensor("accel", 999)
	test.That(t, ok, test.ShouldBeFalse)

	psm, _ := obj.GetPSMState()
	test.That(t, psm, test.ShouldBeFalse)
	m.SetPSMState(true)
	psm, _ = obj.GetPSMState()
	test.That(t, psm, test.ShouldBeTrue)
}

func TestSensorObjectSurface(t *testing.T) {
	m, _ := newBusTestManager(t)

	sid, err := m.RequestControlSensor("accel")
	test.That(t, err, test.ShouldBeNil)
	s, ok := m.Sensor("accel")
	test.That(t, ok, test.ShouldBeTrue)
	obj := sensorObject{s}

	started, _ := obj.Start(int32(sid))
	test.That(t, started, test.ShouldBeTrue)
	test.That(t, s.Running(), test.ShouldBeTrue)

	okRes, _ := obj.SetInterval(int32(sid), 50)
	test.That(t, okRes, test.ShouldBeTrue)
	okRes, _ = obj.SetInterval(int32(sid), -1)
	test.That(t, okRes, test.ShouldBeFalse)

	okRes, _ = obj.SetStandbyOverride(int32(sid), true)
	test.That(t, okRes, test.ShouldBeTrue)

	okRes, _ = obj.RequestDataRange(int32(sid), -8, 8, 1)
	test.That(t, okRes, test.ShouldBeTrue)

	okRes, _ = obj.Reset()
	test.That(t, okRes, test.ShouldBeTrue)

	stopped, _ := obj.Stop(int32(sid))
	test.That(t, stopped, test.ShouldBeTrue)

	test.That(t, m.ReleaseSensor("accel", sid), test.ShouldBeNil)
}

func TestSensorPath(t *testing.T) {
	test.That(t, sensorPath("accelerometersensor"), test.ShouldEqual,
		dbus.ObjectPath("/SensorManager/accelerometersensor"))
	// forbidden characters are flattened
	test.That(t, sensorPath("weird-id.1"), test.ShouldEqual,
		dbus.ObjectPath("/SensorManager/weird_id_1"))
}

func TestPowerWatcherSignals(t *testing.T) {
	m, _ := newBusTestManager(t)
	logger := golog.NewTestLogger(t)
	w := NewPowerWatcher(nil, m, logger)

	w.handleSignal(&dbus.Signal{
		Name: mceSignalInterface + "." + displayMember,
		Body: []interface{}{"off"},
	})
	test.That(t, m.DisplayStateOn(), test.ShouldBeFalse)

	w.handleSignal(&dbus.Signal{
		Name: mceSignalInterface + "." + displayMember,
		Body: []interface{}{"on"},
	})
	test.That(t, m.DisplayStateOn(), test.ShouldBeTrue)

	// dimmed still counts as visible
	w.handleSignal(&dbus.Signal{
		Name: mceSignalInterface + "." + displayMember,
		Body: []interface{}{"dimmed"},
	})
	test.That(t, m.DisplayStateOn(), test.ShouldBeTrue)

	w.handleSignal(&dbus.Signal{
		Name: mceSignalInterface + "." + psmMember,
		Body: []interface{}{true},
	})
	test.That(t, m.PSMState(), test.ShouldBeTrue)

	// malformed bodies are dropped
	w.handleSignal(&dbus.Signal{
		Name: mceSignalInterface + "." + psmMember,
		Body: []interface{}{"not-a-bool"},
	})
	test.That(t, m.PSMState(), test.ShouldBeTrue)
	w.handleSignal(nil)
}
