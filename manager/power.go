package manager

import "github.com/sensorfw/sensord"

// SubscribePowerEvents subscribes to calibration and display broadcasts.
// Handlers run on the notifying goroutine; they may call back into the
// manager.
func (m *Manager) SubscribePowerEvents(fn func(PowerEvent)) (cancel func()) {
	m.mu.Lock()
	id := m.nextPowerSub
	m.nextPowerSub++
	m.powerSubs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.powerSubs, id)
		m.mu.Unlock()
	}
}

// SetDisplayState latches the display state. Display off broadcasts
// StopCalibration and puts every present adaptor on standby behind a
// blanked screen; display on reverses both, resuming calibration unless
// power-save mode holds it down.
func (m *Manager) SetDisplayState(on bool) {
	m.logger.Debugw("display state changed", "on", on)

	m.mu.Lock()
	m.displayOn = on
	psm := m.psmState
	adaptors := m.presentAdaptorsLocked()
	subs := m.powerSubsLocked()
	m.mu.Unlock()

	if on {
		if !psm {
			broadcast(subs, ResumeCalibration)
		}
		broadcast(subs, DisplayOn)
	} else {
		broadcast(subs, StopCalibration)
	}

	for _, a := range adaptors {
		if on {
			a.SetScreenBlanked(false)
			a.Resume()
		} else {
			a.SetScreenBlanked(true)
			a.Standby()
		}
	}
}

// SetPSMState latches power-save mode, gating background calibration.
func (m *Manager) SetPSMState(on bool) {
	m.mu.Lock()
	m.psmState = on
	display := m.displayOn
	subs := m.powerSubsLocked()
	m.mu.Unlock()

	if on {
		broadcast(subs, StopCalibration)
	} else if display {
		broadcast(subs, ResumeCalibration)
	}
}

// PSMState reports the power-save-mode latch.
func (m *Manager) PSMState() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.psmState
}

// DisplayStateOn reports the display latch.
func (m *Manager) DisplayStateOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.displayOn
}

func (m *Manager) presentAdaptorsLocked() []sensord.Adaptor {
	adaptors := make([]sensord.Adaptor, 0, len(m.adaptorInstances))
	for _, entry := range m.adaptorInstances {
		if entry.adaptor != nil {
			adaptors = append(adaptors, entry.adaptor)
		}
	}
	return adaptors
}

func (m *Manager) powerSubsLocked() []func(PowerEvent) {
	subs := make([]func(PowerEvent), 0, len(m.powerSubs))
	for _, fn := range m.powerSubs {
		subs = append(subs, fn)
	}
	return subs
}

func broadcast(subs []func(PowerEvent), ev PowerEvent) {
	for _, fn := range subs {
		fn(ev)
	}
}
