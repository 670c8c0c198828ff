// Package adaptor provides the base implementation shared by device
// adaptors: the property bag, the standby/resume latch and the screen-blank
// state the manager's power hooks drive.
package adaptor

import (
	"sync"

	"github.com/edaniels/golog"

	"github.com/sensorfw/sensord"
)

// StandbyOverrideProperty, when set to a positive value on an adaptor, makes
// Standby refuse so the device keeps producing while the display is blanked.
const StandbyOverrideProperty = "standby_override"

// Base carries the bookkeeping common to all device adaptors. Concrete
// adaptors embed it and override Start/Stop with hardware bring-up, calling
// through to the embedded methods to keep the latches in sync.
type Base struct {
	mu            sync.Mutex
	name          string
	logger        golog.Logger
	props         map[string]int
	running       bool
	inStandby     bool
	screenBlanked bool

	// applyProperty, when set, is invoked (without the lock) after a
	// property value changes so the embedder can push it to hardware.
	applyProperty func(name string, value int)
}

// NewBase returns a base adaptor with an empty property bag.
func NewBase(name string, logger golog.Logger) *Base {
	return &Base{
		name:   name,
		logger: logger,
		props:  map[string]int{},
	}
}

// OnPropertyChange sets the hook run after each accepted property change.
func (b *Base) OnPropertyChange(fn func(name string, value int)) {
	b.mu.Lock()
	b.applyProperty = fn
	b.mu.Unlock()
}

// Name returns the adaptor's registered name.
func (b *Base) Name() string {
	return b.name
}

// Start marks the adaptor running.
func (b *Base) Start() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = true
	return true
}

// Stop marks the adaptor stopped.
func (b *Base) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = false
}

// Running reports whether the adaptor has been started and not stopped.
func (b *Base) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.running
}

// Standby puts the adaptor into standby unless a standby override is in
// force. Returns whether standby was entered.
func (b *Base) Standby() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.props[StandbyOverrideProperty] > 0 {
		b.logger.Debugw("standby refused by override", "adaptor", b.name)
		return false
	}
	b.inStandby = true
	return true
}

// Resume leaves standby. Returns whether the adaptor was in standby.
func (b *Base) Resume() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	wasStandby := b.inStandby
	b.inStandby = false
	return wasStandby
}

// InStandby reports the standby latch.
func (b *Base) InStandby() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inStandby
}

// SetScreenBlanked records the display state as pushed by the power hooks.
func (b *Base) SetScreenBlanked(blanked bool) {
	b.mu.Lock()
	b.screenBlanked = blanked
	b.mu.Unlock()
}

// ScreenBlanked reports the recorded display state.
func (b *Base) ScreenBlanked() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.screenBlanked
}

// SetProperty stores a named integer property and runs the change hook.
func (b *Base) SetProperty(name string, value int) bool {
	b.mu.Lock()
	b.props[name] = value
	apply := b.applyProperty
	b.mu.Unlock()
	if apply != nil {
		apply(name, value)
	}
	return true
}

// Property returns a stored property value.
func (b *Base) Property(name string) (int, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.props[name]
	return v, ok
}

// ApplyPropertyMap stores every property of the given bag, in no particular
// order. The manager applies an adaptor's registered bag before Start.
func ApplyPropertyMap(a sensord.Adaptor, props map[string]int) {
	for name, value := range props {
		a.SetProperty(name, value)
	}
}
