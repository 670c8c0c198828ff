// Package accelerometer bundles the accelerometer sensor: a logical sensor
// channel fed by a downsampling chain over the shared accelerometer device
// adaptor.
package accelerometer

import (
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/adaptor"
	"github.com/sensorfw/sensord/chain"
	"github.com/sensorfw/sensord/filter"
	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/plugins"
	"github.com/sensorfw/sensord/plugins/iioadaptor"
	"github.com/sensorfw/sensord/registry"
	"github.com/sensorfw/sensord/sensor"
)

// Registry identifiers contributed by this plugin.
const (
	SensorID  = "accelerometersensor"
	ChainID   = "accelerometerchain"
	AdaptorID = "accelerometeradaptor"

	sensorType = "accelerometersensor"
	chainType  = "accelerometerchain"

	// DownsampleFilterName is shared with other XYZ sensor plugins.
	DownsampleFilterName = "downsamplefilter"

	// RangeProperty forwards the effective data range to the device.
	RangeProperty = "range"

	defaultIntervalMS    = 100
	downsampleBufferSize = 4
)

func init() {
	registry.RegisterFilter(DownsampleFilterName, func() sensord.Filter {
		return filter.NewDownsample(downsampleBufferSize, 0)
	})
	registry.RegisterChain(chainType, NewChain)
	registry.RegisterSensor(sensorType, NewSensor)
	plugins.Register(plugins.Plugin{
		Name:     "accelerometer",
		Requires: []string{"iioadaptor"},
		Register: func(m *manager.Manager) error {
			if err := m.RegisterAdaptorEntry(AdaptorID, iioadaptor.TypeTag, map[string]int{
				iioadaptor.PollIntervalProperty: defaultIntervalMS,
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

// Chain couples the accelerometer adaptor to subscribers through a
// downsampling filter.
type Chain struct {
	*chain.Base
	deps      sensord.Deps
	adaptorID string

	mu     sync.Mutex
	source sensord.SampleSource
	flt    sensord.Filter
	unsub  func()
}

// NewChain constructs the accelerometer chain, borrowing the device
// adaptor for its lifetime.
func NewChain(id string, deps sensord.Deps, logger golog.Logger) (sensord.Chain, error) {
	return NewChainForAdaptor(id, AdaptorID, deps, logger)
}

// NewChainForAdaptor builds a downsampling XYZ chain over any
// sample-producing adaptor; sibling sensor plugins reuse it.
func NewChainForAdaptor(id, adaptorID string, deps sensord.Deps, logger golog.Logger) (sensord.Chain, error) {
	a, err := deps.RequestAdaptor(adaptorID)
	if err != nil {
		return nil, err
	}
	source, ok := a.(sensord.SampleSource)
	if !ok {
		err := errors.Errorf("adaptor %q produces no samples", adaptorID)
		return nil, multierr.Combine(err, deps.ReleaseAdaptor(adaptorID))
	}
	flt, err := deps.Filter(DownsampleFilterName)
	if err != nil {
		return nil, multierr.Combine(err, deps.ReleaseAdaptor(adaptorID))
	}

	c := &Chain{
		Base:      chain.NewBase(id, logger),
		deps:      deps,
		adaptorID: adaptorID,
		source:    source,
		flt:       flt,
	}
	c.OnFirstStart(func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.unsub = c.source.Subscribe(c.process)
		return true
	})
	c.OnLastStop(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.unsub != nil {
			c.unsub()
			c.unsub = nil
		}
	})
	c.PropertySink(func(name string, value int) {
		a.SetProperty(name, value)
	})
	return c, nil
}

// process runs on the adaptor's producer goroutine; the filter sees one
// producer only.
func (c *Chain) process(s sensord.Sample) {
	out, ok := c.flt.Process(s)
	if !ok {
		return
	}
	c.Publish(out)
}

// Close detaches from the adaptor and returns the borrowed reference.
func (c *Chain) Close() error {
	c.mu.Lock()
	if c.unsub != nil {
		c.unsub()
		c.unsub = nil
	}
	c.mu.Unlock()
	return c.deps.ReleaseAdaptor(c.adaptorID)
}

// Sensor is the accelerometer logical sensor channel.
type Sensor struct {
	*sensor.Channel
	deps    sensord.Deps
	chainID string
	chain   sensord.Chain
	unsub   func()
}

// NewSensor constructs the accelerometer sensor, borrowing its chain for
// its lifetime.
func NewSensor(id string, deps sensord.Deps, w sensord.Writer, logger golog.Logger) (sensord.Sensor, error) {
	ch := sensor.NewChannel(id, w, logger)
	ch.SetDescription("x, y, and z axes accelerometer values")
	if ch.EffectiveInterval() == 0 {
		ch.SetDefaultInterval(defaultIntervalMS)
	}
	ch.SetDefaultRange(sensord.DataRange{Min: -32768, Max: 32767, Resolution: 1})
	ch.IntroduceAvailableRange(sensord.DataRange{Min: -32768, Max: 32767, Resolution: 1})
	ch.IntroduceAvailableInterval(sensord.DataRange{Min: 10, Max: 1000, Resolution: 0})

	chainRef, err := deps.RequestChain(ChainID)
	if err != nil {
		return nil, err
	}
	s := &Sensor{Channel: ch, deps: deps, chainID: ChainID, chain: chainRef}
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
		chainRef.SetProperty(RangeProperty, int(r.Max))
	})
	s.unsub = chainRef.Subscribe(s.Emit)

	// push the construction-time interval down to the device
	if ms := ch.EffectiveInterval(); ms > 0 {
		chainRef.SetProperty(iioadaptor.PollIntervalProperty, ms)
	}
	return s, nil
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

// Close returns the borrowed chain.
func (s *Sensor) Close() error {
	s.unsub()
	return multierr.Combine(s.Channel.Close(), s.deps.ReleaseChain(s.chainID))
}
