package manager

import (
	"go.viam.com/utils"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/idutil"
	"github.com/sensorfw/sensord/registry"
)

// RequestControlSensor binds a fresh session as the sensor's single
// controller, constructing the sensor if no session holds it yet. The
// identifier may carry construction parameters; they are stripped for the
// registry lookup and honoured by the factory.
func (m *Manager) RequestControlSensor(id string) (int64, error) {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()

	cleanID := idutil.CleanID(id)
	entry, ok := m.sensorInstances[cleanID]
	if !ok {
		return sensord.InvalidSessionID, m.setError(IdNotRegistered,
			"requested control sensor id %q not registered", cleanID)
	}
	if entry.controllingSession >= 0 {
		return sensord.InvalidSessionID, m.setError(AlreadyUnderControl,
			"requested sensor already under control")
	}

	sessionID := m.nextSessionIDLocked()
	if len(entry.listenSessions) > 0 {
		// sensor already alive for listeners; no reconstruction
		entry.controllingSession = sessionID
		return sessionID, nil
	}
	if err := m.addSensorLocked(entry, cleanID, id, sessionID, true); err != nil {
		return sensord.InvalidSessionID, err
	}
	return sessionID, nil
}

// RequestListenSensor binds a fresh session as one of the sensor's
// listeners, constructing the sensor if no session holds it yet.
func (m *Manager) RequestListenSensor(id string) (int64, error) {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()

	cleanID := idutil.CleanID(id)
	entry, ok := m.sensorInstances[cleanID]
	if !ok {
		return sensord.InvalidSessionID, m.setError(IdNotRegistered,
			"requested listen sensor id %q not registered", cleanID)
	}

	sessionID := m.nextSessionIDLocked()
	if len(entry.listenSessions) > 0 || entry.controllingSession >= 0 {
		entry.listenSessions = append(entry.listenSessions, sessionID)
		return sessionID, nil
	}
	if err := m.addSensorLocked(entry, cleanID, id, sessionID, false); err != nil {
		return sensord.InvalidSessionID, err
	}
	return sessionID, nil
}

// ReleaseSensor unbinds a session from a sensor, tearing the sensor down
// when the last session leaves. The identifier must be parameter-free.
// Once the sensor is found holding at least one session, the session's
// socket is dropped whatever the outcome of the session bookkeeping, even
// for a bogus session. A parameterised or unknown identifier, or a sensor
// with no session at all, returns an error and leaves the socket alone.
func (m *Manager) ReleaseSensor(id string, sessionID int64) error {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()

	if idutil.HasParameters(id) {
		return m.setError(IdNotRegistered,
			"release identifier %q must not carry parameters", id)
	}
	entry, ok := m.sensorInstances[id]
	if !ok {
		return m.setError(IdNotRegistered, "requested sensor id %q not registered", id)
	}

	// the departing session's requests go away no matter what
	for _, key := range m.properties.clearRequests(sessionID) {
		m.applyPropertyLocked(key.property, key.adaptorID)
	}
	if entry.sensor != nil {
		entry.sensor.SetStandbyOverride(sessionID, false)
		entry.sensor.RemoveIntervalRequest(sessionID)
		entry.sensor.RemoveDataRangeRequest(sessionID)
	}

	if entry.controllingSession < 0 && len(entry.listenSessions) == 0 {
		return m.setError(NotInstantiated,
			"sensor has not been instantiated, no session to release")
	}

	var relErr error
	switch {
	case entry.controllingSession == sessionID:
		entry.controllingSession = sensord.InvalidSessionID
		if len(entry.listenSessions) == 0 {
			m.removeSensorLocked(id, entry)
		}
	case containsSession(entry.listenSessions, sessionID):
		entry.listenSessions = removeSession(entry.listenSessions, sessionID)
		if len(entry.listenSessions) == 0 && entry.controllingSession == sensord.InvalidSessionID {
			m.removeSensorLocked(id, entry)
		}
	default:
		relErr = m.setError(NotInstantiated, "invalid session %d, no session to release", sessionID)
	}

	if m.sockets != nil {
		m.sockets.RemoveSession(sessionID)
	}
	return relErr
}

// addSensorLocked constructs the sensor via its factory with the full
// parameter-bearing identifier, registers it on the transport and binds the
// session. On any failure the instance is discarded and the entry is left
// untouched.
func (m *Manager) addSensorLocked(entry *sensorInstanceEntry, cleanID, fullID string, sessionID int64, controlling bool) error {
	ctor := registry.SensorLookup(entry.typ)
	if ctor == nil {
		return m.setError(FactoryNotRegistered,
			"factory for sensor type %q not registered", entry.typ)
	}

	s, err := ctor(fullID, depsView{m}, m, m.logger)
	if err != nil {
		return m.setError(NotInstantiated, "sensor %q could not be constructed: %v", cleanID, err)
	}
	if s == nil || !s.Valid() {
		if s != nil {
			utils.UncheckedError(s.Close())
		}
		return m.setError(NotInstantiated, "constructed sensor %q is not valid", cleanID)
	}

	if m.transport != nil {
		if err := m.transport.RegisterSensorObject(s); err != nil {
			utils.UncheckedError(s.Close())
			return m.setError(CanNotRegisterObject,
				"cannot register sensor object %q: %v", cleanID, err)
		}
	}

	entry.sensor = s
	if controlling {
		entry.controllingSession = sessionID
	} else {
		entry.listenSessions = append(entry.listenSessions, sessionID)
	}
	return nil
}

// removeSensorLocked unregisters the sensor from the transport namespace
// and destroys the instance. The sensor's Close releases the chains and
// adaptors it requested.
func (m *Manager) removeSensorLocked(id string, entry *sensorInstanceEntry) {
	if m.transport != nil {
		m.transport.UnregisterSensorObject(id)
	}
	if err := entry.sensor.Close(); err != nil {
		m.logger.Errorw("error closing sensor", "sensor", id, "error", err)
	}
	entry.sensor = nil
	m.logger.Debugw("sensor instance destroyed", "sensor", id)
}

func containsSession(sessions []int64, sessionID int64) bool {
	for _, s := range sessions {
		if s == sessionID {
			return true
		}
	}
	return false
}

func removeSession(sessions []int64, sessionID int64) []int64 {
	out := sessions[:0]
	for _, s := range sessions {
		if s != sessionID {
			out = append(out, s)
		}
	}
	return out
}
