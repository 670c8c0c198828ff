package accelerometer

import (
	"sync"
	"testing"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/adaptor"
	"github.com/sensorfw/sensord/filter"
	"github.com/sensorfw/sensord/plugins/iioadaptor"
)

// sourceAdaptor is an in-memory sample-producing adaptor.
type sourceAdaptor struct {
	*adaptor.Base
	mu        sync.Mutex
	subs      map[int]func(sensord.Sample)
	nextSubID int
}

func newSourceAdaptor(name string, logger golog.Logger) *sourceAdaptor {
	return &sourceAdaptor{
		Base: adaptor.NewBase(name, logger),
		subs: map[int]func(sensord.Sample){},
	}
}

func (a *sourceAdaptor) Subscribe(fn func(sensord.Sample)) func() {
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

func (a *sourceAdaptor) push(s sensord.Sample) {
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

// fakeDeps satisfies sensord.Deps over in-memory adaptors.
type fakeDeps struct {
	logger   golog.Logger
	adaptors map[string]sensord.Adaptor
	chains   map[string]sensord.Chain

	released         []string
	releasedAdaptors []string
}

func newFakeDeps(logger golog.Logger) *fakeDeps {
	return &fakeDeps{
		logger:   logger,
		adaptors: map[string]sensord.Adaptor{},
		chains:   map[string]sensord.Chain{},
	}
}

func (d *fakeDeps) RequestChain(id string) (sensord.Chain, error) {
	if ch, ok := d.chains[id]; ok {
		return ch, nil
	}
	ch, err := NewChainForAdaptor(id, AdaptorID, d, d.logger)
	if err != nil {
		return nil, err
	}
	d.chains[id] = ch
	return ch, nil
}

func (d *fakeDeps) ReleaseChain(id string) error {
	ch, ok := d.chains[id]
	if !ok {
		return errors.Errorf("unknown chain %q", id)
	}
	delete(d.chains, id)
	d.released = append(d.released, id)
	return ch.Close()
}

func (d *fakeDeps) RequestAdaptor(id string) (sensord.Adaptor, error) {
	a, ok := d.adaptors[id]
	if !ok {
		return nil, errors.Errorf("unknown adaptor %q", id)
	}
	return a, nil
}

func (d *fakeDeps) ReleaseAdaptor(id string) error {
	d.releasedAdaptors = append(d.releasedAdaptors, id)
	return nil
}

func (d *fakeDeps) Filter(name string) (sensord.Filter, error) {
	if name != DownsampleFilterName {
		return nil, errors.Errorf("unknown filter %q", name)
	}
	return filter.NewDownsample(1, 0), nil
}

type captureWriter struct {
	mu     sync.Mutex
	writes map[int64][][]byte
	props  map[string]int
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{writes: map[int64][][]byte{}, props: map[string]int{}}
}

func (w *captureWriter) Write(sessionID int64, payload []byte) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	buf := make([]byte, len(payload))
	copy(buf, payload)
	w.writes[sessionID] = append(w.writes[sessionID], buf)
	return true
}

func (w *captureWriter) SetPropertyRequest(sessionID int64, property, adaptorID string, value int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.props[property+"/"+adaptorID] = value
}

func (w *captureWriter) ClearPropertyRequests(sessionID int64) {}

func (w *captureWriter) sessionWrites(sessionID int64) [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.writes[sessionID]))
	copy(out, w.writes[sessionID])
	return out
}

func TestChainFiltersAndForwards(t *testing.T) {
	logger := golog.NewTestLogger(t)
	deps := newFakeDeps(logger)
	src := newSourceAdaptor(AdaptorID, logger)
	deps.adaptors[AdaptorID] = src

	ch, err := NewChainForAdaptor(ChainID, AdaptorID, deps, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ch.Valid(), test.ShouldBeTrue)

	var got []sensord.Sample
	var mu sync.Mutex
	cancel := ch.Subscribe(func(s sensord.Sample) {
		mu.Lock()
		got = append(got, s)
		mu.Unlock()
	})
	defer cancel()

	// nothing flows before the chain starts
	src.push(sensord.Sample{Timestamp: 1, X: 10})
	mu.Lock()
	test.That(t, got, test.ShouldBeEmpty)
	mu.Unlock()

	test.That(t, ch.Start(), test.ShouldBeTrue)
	src.push(sensord.Sample{Timestamp: 2, X: 20})
	mu.Lock()
	test.That(t, got, test.ShouldHaveLength, 1)
	test.That(t, got[0].X, test.ShouldEqual, 20)
	mu.Unlock()

	// properties land on the adaptor
	ch.SetProperty(iioadaptor.PollIntervalProperty, 50)
	v, ok := src.Property(iioadaptor.PollIntervalProperty)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 50)

	test.That(t, ch.Stop(), test.ShouldBeTrue)
	src.push(sensord.Sample{Timestamp: 3, X: 30})
	mu.Lock()
	test.That(t, got, test.ShouldHaveLength, 1)
	mu.Unlock()

	test.That(t, ch.Close(), test.ShouldBeNil)
	test.That(t, deps.releasedAdaptors, test.ShouldResemble, []string{AdaptorID})
}

func TestChainWithoutSampleSource(t *testing.T) {
	logger := golog.NewTestLogger(t)
	deps := newFakeDeps(logger)
	deps.adaptors[AdaptorID] = adaptor.NewBase(AdaptorID, logger)

	_, err := NewChainForAdaptor(ChainID, AdaptorID, deps, logger)
	test.That(t, err, test.ShouldNotBeNil)
	// the borrowed adaptor was returned on the failure path
	test.That(t, deps.releasedAdaptors, test.ShouldResemble, []string{AdaptorID})
}

func TestSensorEndToEnd(t *testing.T) {
	logger := golog.NewTestLogger(t)
	deps := newFakeDeps(logger)
	src := newSourceAdaptor(AdaptorID, logger)
	deps.adaptors[AdaptorID] = src
	w := newCaptureWriter()

	s, err := NewSensor(SensorID, deps, w, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.Valid(), test.ShouldBeTrue)

	// construction pushed the default interval down to the device
	v, ok := src.Property(iioadaptor.PollIntervalProperty)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, defaultIntervalMS)

	test.That(t, s.Start(5), test.ShouldBeTrue)
	src.push(sensord.Sample{Timestamp: 100, X: 1, Y: 2, Z: 3})

	writes := w.sessionWrites(5)
	test.That(t, writes, test.ShouldHaveLength, 1)
	sample, err := sensord.UnmarshalSample(writes[0])
	test.That(t, err, test.ShouldBeNil)
	test.That(t, sample, test.ShouldResemble, sensord.Sample{Timestamp: 100, X: 1, Y: 2, Z: 3})

	// a session interval request lands on the device
	test.That(t, s.SetInterval(5, 20), test.ShouldBeNil)
	v, _ = src.Property(iioadaptor.PollIntervalProperty)
	test.That(t, v, test.ShouldEqual, 20)

	// standby override reaches the device too
	test.That(t, s.SetStandbyOverride(5, true), test.ShouldBeTrue)
	v, _ = src.Property(adaptor.StandbyOverrideProperty)
	test.That(t, v, test.ShouldEqual, 1)

	test.That(t, s.Stop(5), test.ShouldBeTrue)
	src.push(sensord.Sample{Timestamp: 101})
	test.That(t, w.sessionWrites(5), test.ShouldHaveLength, 1)

	test.That(t, s.Close(), test.ShouldBeNil)
	test.That(t, deps.released, test.ShouldResemble, []string{ChainID})
	test.That(t, deps.releasedAdaptors, test.ShouldResemble, []string{AdaptorID})
}

func TestSensorIntervalParameter(t *testing.T) {
	logger := golog.NewTestLogger(t)
	deps := newFakeDeps(logger)
	src := newSourceAdaptor(AdaptorID, logger)
	deps.adaptors[AdaptorID] = src
	w := newCaptureWriter()

	s, err := NewSensor(SensorID+";interval=25", deps, w, logger)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, s.ID(), test.ShouldEqual, SensorID)

	v, ok := src.Property(iioadaptor.PollIntervalProperty)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, v, test.ShouldEqual, 25)
	test.That(t, s.Close(), test.ShouldBeNil)
}
