// Package chain provides the base implementation shared by processing
// chains: start counting, sample fan-out to subscribers and property
// forwarding toward the chain's sources.
package chain

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/sensorfw/sensord"
)

// Base carries the bookkeeping common to all chains. Concrete chains embed
// it, hook OnFirstStart/OnLastStop to drive their sources and call Publish
// for every produced sample.
type Base struct {
	mu         sync.Mutex
	id         string
	logger     golog.Logger
	valid      bool
	startCount int
	subs       map[int]func(sensord.Sample)
	nextSubID  int

	// onFirstStart and onLastStop run (without the lock) when the start
	// count moves away from and back to zero.
	onFirstStart func() bool
	onLastStop   func()

	// propertySink, when set, receives properties forwarded down the
	// pipeline, usually ending at a device adaptor.
	propertySink func(name string, value int)
}

// NewBase returns a valid base chain.
func NewBase(id string, logger golog.Logger) *Base {
	return &Base{
		id:     id,
		logger: logger,
		valid:  true,
		subs:   map[int]func(sensord.Sample){},
	}
}

// OnFirstStart sets the hook run when the first Start arrives.
func (b *Base) OnFirstStart(fn func() bool) {
	b.mu.Lock()
	b.onFirstStart = fn
	b.mu.Unlock()
}

// OnLastStop sets the hook run when the last Stop arrives.
func (b *Base) OnLastStop(fn func()) {
	b.mu.Lock()
	b.onLastStop = fn
	b.mu.Unlock()
}

// PropertySink sets the property forwarding target.
func (b *Base) PropertySink(fn func(name string, value int)) {
	b.mu.Lock()
	b.propertySink = fn
	b.mu.Unlock()
}

// ID returns the chain's registry identifier.
func (b *Base) ID() string {
	return b.id
}

// Valid reports whether construction fully succeeded.
func (b *Base) Valid() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.valid
}

// SetValid overrides the validity flag; chains whose sources are missing
// mark themselves invalid during construction.
func (b *Base) SetValid(valid bool) {
	b.mu.Lock()
	b.valid = valid
	b.mu.Unlock()
}

// Running reports whether the chain has more starters than stoppers.
func (b *Base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.startCount > 0
}

// Start increments the start count, running the first-start hook on the
// transition from zero. Further starts are counted only.
func (b *Base) Start() bool {
	b.mu.Lock()
	b.startCount++
	first := b.startCount == 1
	hook := b.onFirstStart
	b.mu.Unlock()
	if first && hook != nil {
		return hook()
	}
	return true
}

// Stop decrements the start count, running the last-stop hook on the
// transition to zero. Stops beyond starts are ignored.
func (b *Base) Stop() bool {
	b.mu.Lock()
	if b.startCount == 0 {
		b.mu.Unlock()
		return false
	}
	b.startCount--
	last := b.startCount == 0
	hook := b.onLastStop
	b.mu.Unlock()
	if last && hook != nil {
		hook()
	}
	return true
}

// SetProperty forwards a property to the chain's sink.
func (b *Base) SetProperty(name string, value int) {
	b.mu.Lock()
	sink := b.propertySink
	b.mu.Unlock()
	if sink != nil {
		sink(name, value)
	}
}

// Subscribe attaches a sample subscriber and returns its cancel function.
func (b *Base) Subscribe(fn func(sensord.Sample)) func() {
	b.mu.Lock()
	id := b.nextSubID
	b.nextSubID++
	b.subs[id] = fn
	b.mu.Unlock()
	return func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers a sample to every subscriber. Safe from producer
// threads.
func (b *Base) Publish(s sensord.Sample) {
	b.mu.Lock()
	fns := make([]func(sensord.Sample), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(s)
	}
}

// Close is a no-op on the base; chains that acquired adaptors release them
// in their own Close.
func (b *Base) Close() error {
	return nil
}
