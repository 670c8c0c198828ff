package calibration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/registry"
	"github.com/sensorfw/sensord/sensor"
)

// calSensor is a magnetometer stand-in with an adjustable level.
type calSensor struct {
	*sensor.Channel
	mu    sync.Mutex
	level int
}

func (s *calSensor) CalibrationLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *calSensor) setLevel(level int) {
	s.mu.Lock()
	s.level = level
	s.mu.Unlock()
}

// calAdaptor records applied properties.
type calAdaptor struct {
	mu    sync.Mutex
	props map[string]int
}

func (a *calAdaptor) Name() string { return "magnetometeradaptor" }

func (a *calAdaptor) Start() bool { return true }

func (a *calAdaptor) Stop() {}

func (a *calAdaptor) Standby() bool { return true }

func (a *calAdaptor) Resume() bool { return true }

func (a *calAdaptor) SetScreenBlanked(blanked bool) {}

func (a *calAdaptor) Running() bool { return true }

func (a *calAdaptor) SetProperty(name string, value int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.props[name] = value
	return true
}

func (a *calAdaptor) Property(name string) (int, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.props[name]
	return v, ok
}

func setupCalibration(t *testing.T) (*manager.Manager, *Handler, *calSensor, *calAdaptor, *clock.Mock) {
	t.Helper()
	logger := golog.NewTestLogger(t)
	m := manager.New(logger)
	t.Cleanup(func() {
		test.That(t, m.Close(), test.ShouldBeNil)
	})

	sensorType := fmt.Sprintf("cal-sensor/%s", t.Name())
	adaptorType := fmt.Sprintf("cal-adaptor/%s", t.Name())
	var mu sync.Mutex
	var built *calSensor
	registry.RegisterSensor(sensorType, func(id string, deps sensord.Deps, w sensord.Writer, logger golog.Logger) (sensord.Sensor, error) {
		s := &calSensor{Channel: sensor.NewChannel(id, w, logger)}
		mu.Lock()
		built = s
		mu.Unlock()
		return s, nil
	})
	registry.RegisterAdaptor(adaptorType, func(id string, logger golog.Logger) (sensord.Adaptor, error) {
		return &calAdaptor{props: map[string]int{}}, nil
	})
	test.That(t, m.RegisterSensorEntry(DefaultSensorID, sensorType), test.ShouldBeNil)
	test.That(t, m.RegisterAdaptorEntry(DefaultAdaptorID, adaptorType, nil), test.ShouldBeNil)

	a, err := m.RequestAdaptor(DefaultAdaptorID)
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, m.ReleaseAdaptor(DefaultAdaptorID), test.ShouldBeNil)
	})

	mock := clock.NewMock()
	h := NewHandler(m, mock, Config{Duration: 30 * time.Second}, logger)
	test.That(t, h.Start(), test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, h.Close(), test.ShouldBeNil)
	})

	mu.Lock()
	defer mu.Unlock()
	return m, h, built, a.(*calAdaptor), mock
}

func TestPollStartsBurstWhenDegraded(t *testing.T) {
	m, h, mag, a, mock := setupCalibration(t)

	mag.setLevel(1)
	h.Poll()

	v, ok := a.Property(sensor.DataRateProperty)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, DefaultRateHz)

	// the burst ends after its duration
	mock.Add(31 * time.Second)
	test.That(t, m.EffectivePropertyValue(sensor.DataRateProperty, DefaultAdaptorID), test.ShouldEqual, 0)
}

func TestPollSkipsWhenCalibrated(t *testing.T) {
	m, h, mag, a, _ := setupCalibration(t)

	mag.setLevel(DefaultMaxLevel)
	h.Poll()

	_, ok := a.Property(sensor.DataRateProperty)
	test.That(t, ok, test.ShouldBeFalse)
	test.That(t, m.EffectivePropertyValue(sensor.DataRateProperty, DefaultAdaptorID), test.ShouldEqual, 0)
}

func TestPowerGating(t *testing.T) {
	m, h, mag, _, _ := setupCalibration(t)
	mag.setLevel(0)

	// display off stops calibration and cancels any burst
	m.SetDisplayState(false)
	h.Poll()
	test.That(t, m.EffectivePropertyValue(sensor.DataRateProperty, DefaultAdaptorID), test.ShouldEqual, 0)

	// display on resumes
	m.SetDisplayState(true)
	h.Poll()
	test.That(t, m.EffectivePropertyValue(sensor.DataRateProperty, DefaultAdaptorID), test.ShouldEqual, DefaultRateHz)

	// power-save mode stops it again and clears the running burst
	m.SetPSMState(true)
	test.That(t, m.EffectivePropertyValue(sensor.DataRateProperty, DefaultAdaptorID), test.ShouldEqual, 0)
	h.Poll()
	test.That(t, m.EffectivePropertyValue(sensor.DataRateProperty, DefaultAdaptorID), test.ShouldEqual, 0)
}

func TestCloseReleasesSession(t *testing.T) {
	logger := golog.NewTestLogger(t)
	m := manager.New(logger)
	defer func() {
		test.That(t, m.Close(), test.ShouldBeNil)
	}()

	sensorType := fmt.Sprintf("cal-sensor/%s", t.Name())
	registry.RegisterSensor(sensorType, func(id string, deps sensord.Deps, w sensord.Writer, logger golog.Logger) (sensord.Sensor, error) {
		return &calSensor{Channel: sensor.NewChannel(id, w, logger)}, nil
	})
	test.That(t, m.RegisterSensorEntry(DefaultSensorID, sensorType), test.ShouldBeNil)

	h := NewHandler(m, clock.NewMock(), Config{}, logger)
	test.That(t, h.Start(), test.ShouldBeNil)
	s, ok := m.Sensor(DefaultSensorID)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, s.Running(), test.ShouldBeTrue)

	test.That(t, h.Close(), test.ShouldBeNil)
	_, ok = m.Sensor(DefaultSensorID)
	test.That(t, ok, test.ShouldBeFalse)
}
