package manager

import "github.com/sensorfw/sensord"

// LostClient tears down the session a disconnected client held. The socket
// layer calls it when a session's socket closes. Only the first matching
// entry is processed; a session is bound to at most one sensor by
// construction. Cleanup is best-effort.
func (m *Manager) LostClient(sessionID int64) {
	m.mu.Lock()
	var foundID string
	var foundSensor sensord.Sensor
	for id, entry := range m.sensorInstances {
		if entry.controllingSession == sessionID || containsSession(entry.listenSessions, sessionID) {
			foundID = id
			foundSensor = entry.sensor
			break
		}
	}
	m.mu.Unlock()

	if foundID == "" {
		m.logger.Debugw("lost session held no sensor", "session", sessionID)
		return
	}
	m.logger.Debugw("lost session detected", "session", sessionID, "sensor", foundID)

	if foundSensor != nil {
		foundSensor.Stop(sessionID)
	}
	if err := m.ReleaseSensor(foundID, sessionID); err != nil {
		m.logger.Debugw("error releasing lost session", "session", sessionID, "error", err)
	}
}
