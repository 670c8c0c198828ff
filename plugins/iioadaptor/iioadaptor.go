// Package iioadaptor provides the bundled device adaptor: it polls a
// three-axis device behind an I2C register window and publishes raw
// samples. Sensor plugins register their device entries against this type.
package iioadaptor

import (
	"context"
	"encoding/binary"
	"sync"
	"time"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/utils"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/adaptor"
	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/plugins"
	"github.com/sensorfw/sensord/registry"
)

// TypeTag names this adaptor family in the factory tables.
const TypeTag = "iioadaptor"

// Properties understood by the adaptor.
const (
	// PollIntervalProperty is the polling period in milliseconds.
	PollIntervalProperty = "poll_interval"
	// DataRateProperty is a rate in Hz; setting it rewrites the poll
	// interval.
	DataRateProperty = "datarate"
	// AddressProperty is the device's I2C address.
	AddressProperty = "i2c_address"
	// RegisterProperty is the first axis data register.
	RegisterProperty = "data_register"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultAddress      = 0x1D
	defaultRegister     = 0x28
)

func init() {
	registry.RegisterAdaptor(TypeTag, func(id string, logger golog.Logger) (sensord.Adaptor, error) {
		return New(id, logger), nil
	})
	// the plugin only contributes the factory; device entries come from
	// the sensor plugins requiring it
	plugins.Register(plugins.Plugin{
		Name:     "iioadaptor",
		Register: func(*manager.Manager) error { return nil },
	})
}

// Adaptor polls one I2C device on its own worker goroutine.
type Adaptor struct {
	*adaptor.Base
	logger golog.Logger

	mu         sync.Mutex
	bus        i2c.BusCloser
	dev        *i2c.Dev
	readSample func() (sensord.Sample, error)
	subs       map[int]func(sensord.Sample)
	nextSubID  int

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup
}

// New returns an adaptor for the given device entry identifier.
func New(id string, logger golog.Logger) *Adaptor {
	a := &Adaptor{
		Base:   adaptor.NewBase(id, logger),
		logger: logger,
		subs:   map[int]func(sensord.Sample){},
	}
	a.OnPropertyChange(func(name string, value int) {
		// a rate request rewrites the polling period
		if name == DataRateProperty && value > 0 {
			a.Base.SetProperty(PollIntervalProperty, 1000/value)
		}
	})
	return a
}

// newWithReader returns an adaptor reading through the given function
// instead of hardware.
func newWithReader(id string, logger golog.Logger, read func() (sensord.Sample, error)) *Adaptor {
	a := New(id, logger)
	a.readSample = read
	return a
}

// Start brings the device up and begins polling.
func (a *Adaptor) Start() bool {
	a.mu.Lock()
	if a.readSample == nil {
		if err := a.openHardware(); err != nil {
			a.mu.Unlock()
			a.logger.Warnw("cannot open device", "adaptor", a.Name(), "error", err)
			return false
		}
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	a.cancelCtx = cancelCtx
	a.cancelFunc = cancelFunc
	a.mu.Unlock()

	a.Base.Start()
	a.activeBackgroundWorkers.Add(1)
	utils.ManagedGo(func() { a.poll(cancelCtx) }, a.activeBackgroundWorkers.Done)
	return true
}

func (a *Adaptor) openHardware() error {
	if _, err := host.Init(); err != nil {
		return errors.Wrap(err, "host init failed")
	}
	bus, err := i2creg.Open("")
	if err != nil {
		return errors.Wrap(err, "cannot open i2c bus")
	}
	addr := defaultAddress
	if v, ok := a.Property(AddressProperty); ok {
		addr = v
	}
	a.bus = bus
	a.dev = &i2c.Dev{Bus: bus, Addr: uint16(addr)}
	a.readSample = a.readHardware
	return nil
}

func (a *Adaptor) readHardware() (sensord.Sample, error) {
	reg := defaultRegister
	if v, ok := a.Property(RegisterProperty); ok {
		reg = v
	}
	var raw [6]byte
	if err := a.dev.Tx([]byte{byte(reg)}, raw[:]); err != nil {
		return sensord.Sample{}, err
	}
	return sensord.Sample{
		Timestamp: uint64(time.Now().UnixMicro()),
		X:         int32(int16(binary.LittleEndian.Uint16(raw[0:]))),
		Y:         int32(int16(binary.LittleEndian.Uint16(raw[2:]))),
		Z:         int32(int16(binary.LittleEndian.Uint16(raw[4:]))),
	}, nil
}

func (a *Adaptor) poll(ctx context.Context) {
	for {
		interval := defaultPollInterval
		if v, ok := a.Property(PollIntervalProperty); ok && v > 0 {
			interval = time.Duration(v) * time.Millisecond
		}
		if !utils.SelectContextOrWait(ctx, interval) {
			return
		}
		if a.InStandby() {
			continue
		}
		s, err := a.readSample()
		if err != nil {
			a.logger.Debugw("device read failed", "adaptor", a.Name(), "error", err)
			continue
		}
		a.publish(s)
	}
}

func (a *Adaptor) publish(s sensord.Sample) {
	a.mu.Lock()
	fns := make([]func(sensord.Sample), 0, len(a.subs))
	for _, fn := range a.subs {
		fns = append(fns, fn)
	}
	a.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Subscribe implements sensord.SampleSource.
func (a *Adaptor) Subscribe(fn func(sensord.Sample)) func() {
	a.mu.Lock()
	id := a.nextSubID
	a.nextSubID++
	a.subs[id] = fn
	a.mu.Unlock()
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Stop halts polling and releases the device.
func (a *Adaptor) Stop() {
	a.mu.Lock()
	cancel := a.cancelFunc
	a.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	a.activeBackgroundWorkers.Wait()

	a.mu.Lock()
	if a.bus != nil {
		utils.UncheckedError(a.bus.Close())
		a.bus = nil
		a.dev = nil
		a.readSample = nil
	}
	a.mu.Unlock()
	a.Base.Stop()
}
