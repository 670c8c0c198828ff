package chain

import (
	"testing"

	"github.com/edaniels/golog"
	"go.viam.com/test"

	"github.com/sensorfw/sensord"
)

func TestBaseStartCounting(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := NewBase("testchain", logger)

	var firstStarts, lastStops int
	b.OnFirstStart(func() bool {
		firstStarts++
		return true
	})
	b.OnLastStop(func() {
		lastStops++
	})

	test.That(t, b.Running(), test.ShouldBeFalse)
	test.That(t, b.Start(), test.ShouldBeTrue)
	test.That(t, b.Start(), test.ShouldBeTrue)
	test.That(t, firstStarts, test.ShouldEqual, 1)
	test.That(t, b.Running(), test.ShouldBeTrue)

	test.That(t, b.Stop(), test.ShouldBeTrue)
	test.That(t, lastStops, test.ShouldEqual, 0)
	test.That(t, b.Stop(), test.ShouldBeTrue)
	test.That(t, lastStops, test.ShouldEqual, 1)
	test.That(t, b.Running(), test.ShouldBeFalse)

	// stop without start is ignored
	test.That(t, b.Stop(), test.ShouldBeFalse)
	test.That(t, lastStops, test.ShouldEqual, 1)
}

func TestBasePublishSubscribe(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := NewBase("testchain", logger)

	var got []sensord.Sample
	cancel := b.Subscribe(func(s sensord.Sample) {
		got = append(got, s)
	})

	b.Publish(sensord.Sample{Timestamp: 1, X: 10})
	test.That(t, got, test.ShouldHaveLength, 1)
	test.That(t, got[0].X, test.ShouldEqual, 10)

	cancel()
	cancel() // safe to call twice
	b.Publish(sensord.Sample{Timestamp: 2})
	test.That(t, got, test.ShouldHaveLength, 1)
}

func TestBaseProperties(t *testing.T) {
	logger := golog.NewTestLogger(t)
	b := NewBase("testchain", logger)

	// without a sink, properties are dropped
	b.SetProperty("interval", 50)

	var gotName string
	var gotValue int
	b.PropertySink(func(name string, value int) {
		gotName, gotValue = name, value
	})
	b.SetProperty("interval", 100)
	test.That(t, gotName, test.ShouldEqual, "interval")
	test.That(t, gotValue, test.ShouldEqual, 100)
}
