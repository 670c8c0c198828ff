package manager

import (
	"github.com/pkg/errors"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/idutil"
)

// sensorInstanceEntry is the registry slot of one logical sensor. The
// instance is present iff a controlling session is set or the listen set is
// non-empty.
type sensorInstanceEntry struct {
	typ                string
	sensor             sensord.Sensor
	controllingSession int64
	listenSessions     []int64
}

// chainInstanceEntry is the registry slot of one shared chain. The instance
// is present iff the refcount is positive.
type chainInstanceEntry struct {
	typ      string
	chain    sensord.Chain
	refcount int
}

// adaptorInstanceEntry is the registry slot of one shared device adaptor.
// The property bag is applied at instantiation time, before Start.
type adaptorInstanceEntry struct {
	typ      string
	adaptor  sensord.Adaptor
	refcount int
	props    map[string]int
}

// RegisterSensorEntry creates the registry slot binding a sensor identifier
// to its factory type tag. Slots are never removed. A duplicate identifier
// keeps the first registration.
func (m *Manager) RegisterSensorEntry(id, typeTag string) error {
	if idutil.HasParameters(id) {
		return errors.Errorf("sensor registry identifier %q must not carry parameters", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sensorInstances[id]; ok {
		m.logger.Warnw("sensor identifier already registered", "sensor", id)
		return nil
	}
	m.sensorInstances[id] = &sensorInstanceEntry{
		typ:                typeTag,
		controllingSession: sensord.InvalidSessionID,
	}
	return nil
}

// RegisterChainEntry creates the registry slot binding a chain identifier
// to its factory type tag.
func (m *Manager) RegisterChainEntry(id, typeTag string) error {
	if idutil.HasParameters(id) {
		return errors.Errorf("chain identifier %q must not carry parameters", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chainInstances[id]; ok {
		m.logger.Warnw("chain identifier already registered", "chain", id)
		return nil
	}
	m.chainInstances[id] = &chainInstanceEntry{typ: typeTag}
	return nil
}

// RegisterAdaptorEntry creates the registry slot binding an adaptor
// identifier to its factory type tag, with the static property bag applied
// to instances before start.
func (m *Manager) RegisterAdaptorEntry(id, typeTag string, props map[string]int) error {
	if idutil.HasParameters(id) {
		return errors.Errorf("adaptor identifier %q must not carry parameters", id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.adaptorInstances[id]; ok {
		m.logger.Warnw("adaptor identifier already registered", "adaptor", id)
		return nil
	}
	bag := map[string]int{}
	for k, v := range props {
		bag[k] = v
	}
	m.adaptorInstances[id] = &adaptorInstanceEntry{typ: typeTag, props: bag}
	return nil
}

// SetAdaptorProperties merges configuration overrides into an adaptor's
// registered property bag. Overrides affect instances created afterwards.
func (m *Manager) SetAdaptorProperties(id string, props map[string]int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.adaptorInstances[id]
	if !ok {
		return errors.Errorf("unknown adaptor id %q", id)
	}
	for k, v := range props {
		entry.props[k] = v
	}
	return nil
}
