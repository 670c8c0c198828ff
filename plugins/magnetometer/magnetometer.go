// Package magnetometer bundles the magnetometer sensor. On top of the
// shared XYZ chain machinery it tracks a coarse calibration level from the
// stability of the field magnitude, which the background calibration
// handler polls.
package magnetometer

import (
	"math"
	"sync"

	"github.com/edaniels/golog"
	"go.uber.org/multierr"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/adaptor"
	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/plugins"
	"github.com/sensorfw/sensord/plugins/accelerometer"
	"github.com/sensorfw/sensord/plugins/iioadaptor"
	"github.com/sensorfw/sensord/registry"
	"github.com/sensorfw/sensord/sensor"
)

// Registry identifiers contributed by this plugin.
const (
	SensorID  = "magnetometersensor"
	ChainID   = "magnetometerchain"
	AdaptorID = "magnetometeradaptor"

	sensorType = "magnetometersensor"
	chainType  = "magnetometerchain"

	// MaxCalibrationLevel is a fully calibrated sensor.
	MaxCalibrationLevel = 3

	defaultIntervalMS = 1000
	defaultAddress    = 0x0E

	// relative magnitude deviation treated as a disturbance
	disturbanceRatio = 0.2
	// steady samples needed to gain one calibration level
	steadyPerLevel = 8
)

func init() {
	registry.RegisterChain(chainType, func(id string, deps sensord.Deps, logger golog.Logger) (sensord.Chain, error) {
		return accelerometer.NewChainForAdaptor(id, AdaptorID, deps, logger)
	})
	registry.RegisterSensor(sensorType, NewSensor)
	plugins.Register(plugins.Plugin{
		Name:     "magnetometer",
		Requires: []string{"iioadaptor"},
		Register: func(m *manager.Manager) error {
			if err := m.RegisterAdaptorEntry(AdaptorID, iioadaptor.TypeTag, map[string]int{
				iioadaptor.PollIntervalProperty: defaultIntervalMS,
				iioadaptor.AddressProperty:      defaultAddress,
			}); err != nil {
				return err
			}
			if err := m.RegisterChainEntry(ChainID, chainType); err != nil {
				return err
			}
			return m.RegisterSensorEntry(SensorID, sensorType)
		},
	})
}

// Sensor is the magnetometer logical sensor channel.
type Sensor struct {
	*sensor.Channel
	deps  sensord.Deps
	chain sensord.Chain
	unsub func()

	mu     sync.Mutex
	mean   float64
	level  int
	steady int
}

// NewSensor constructs the magnetometer sensor, borrowing its chain for
// its lifetime.
func NewSensor(id string, deps sensord.Deps, w sensord.Writer, logger golog.Logger) (sensord.Sensor, error) {
	ch := sensor.NewChannel(id, w, logger)
	ch.SetDescription("magnetic field intensity in x, y, and z axes")
	if ch.EffectiveInterval() == 0 {
		ch.SetDefaultInterval(defaultIntervalMS)
	}
	ch.SetDefaultRange(sensord.DataRange{Min: -4096, Max: 4095, Resolution: 1})
	ch.IntroduceAvailableRange(sensord.DataRange{Min: -4096, Max: 4095, Resolution: 1})
	ch.IntroduceAvailableInterval(sensord.DataRange{Min: 20, Max: 2000, Resolution: 0})

	chainRef, err := deps.RequestChain(ChainID)
	if err != nil {
		return nil, err
	}
	s := &Sensor{Channel: ch, deps: deps, chain: chainRef}
	s.SetValid(chainRef.Valid())

	ch.SetDataRateAdaptor(AdaptorID)
	ch.IntervalSink(func(ms int) {
		chainRef.SetProperty(iioadaptor.PollIntervalProperty, ms)
	})
	ch.StandbySink(func(on bool) {
		v := 0
		if on {
			v = 1
		}
		chainRef.SetProperty(adaptor.StandbyOverrideProperty, v)
	})
	ch.RangeSink(func(r sensord.DataRange) {
		chainRef.SetProperty(accelerometer.RangeProperty, int(r.Max))
	})
	s.unsub = chainRef.Subscribe(s.onSample)

	if ms := ch.EffectiveInterval(); ms > 0 {
		chainRef.SetProperty(iioadaptor.PollIntervalProperty, ms)
	}
	return s, nil
}

// onSample updates the calibration estimate and forwards the sample to the
// active sessions.
func (s *Sensor) onSample(sample sensord.Sample) {
	magnitude := math.Sqrt(float64(sample.X)*float64(sample.X) +
		float64(sample.Y)*float64(sample.Y) +
		float64(sample.Z)*float64(sample.Z))

	s.mu.Lock()
	if s.mean == 0 {
		s.mean = magnitude
	}
	deviation := math.Abs(magnitude-s.mean) / math.Max(s.mean, 1)
	s.mean = 0.9*s.mean + 0.1*magnitude
	if deviation > disturbanceRatio {
		s.level = 0
		s.steady = 0
	} else if s.level < MaxCalibrationLevel {
		s.steady++
		if s.steady >= steadyPerLevel {
			s.steady = 0
			s.level++
		}
	}
	s.mu.Unlock()

	s.Emit(sample)
}

// CalibrationLevel reports the current estimate, 0 (uncalibrated) through
// MaxCalibrationLevel.
func (s *Sensor) CalibrationLevel() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

// Start begins delivery for the session, spinning the chain up on the
// first one.
func (s *Sensor) Start(sessionID int64) bool {
	if !s.Channel.Start(sessionID) {
		return false
	}
	return s.chain.Start()
}

// Stop ends delivery for the session, spinning the chain down with the
// last one.
func (s *Sensor) Stop(sessionID int64) bool {
	if !s.Channel.Stop(sessionID) {
		return false
	}
	return s.chain.Stop()
}

// Reset discards the calibration estimate.
func (s *Sensor) Reset() bool {
	s.mu.Lock()
	s.mean = 0
	s.level = 0
	s.steady = 0
	s.mu.Unlock()
	return true
}

// Close returns the borrowed chain.
func (s *Sensor) Close() error {
	s.unsub()
	return multierr.Combine(s.Channel.Close(), s.deps.ReleaseChain(ChainID))
}
