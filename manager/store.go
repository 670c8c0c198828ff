package manager

import (
	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/idutil"
	"github.com/sensorfw/sensord/registry"
)

// depsView is the construction-time manager handle given to sensor and
// chain factories. The control context already holds the manager lock when
// a factory (or an instance's Close) runs, so these call the locked
// internals directly.
type depsView struct {
	m *Manager
}

func (d depsView) RequestChain(id string) (sensord.Chain, error) {
	return d.m.requestChainLocked(id)
}

func (d depsView) ReleaseChain(id string) error {
	return d.m.releaseChainLocked(id)
}

func (d depsView) RequestAdaptor(id string) (sensord.Adaptor, error) {
	return d.m.requestAdaptorLocked(id)
}

func (d depsView) ReleaseAdaptor(id string) error {
	return d.m.releaseAdaptorLocked(id)
}

func (d depsView) Filter(name string) (sensord.Filter, error) {
	return d.m.instantiateFilter(name)
}

// RequestChain returns a borrowed reference to the shared chain instance,
// constructing it on first request. Each request must be paired with a
// ReleaseChain.
func (m *Manager) RequestChain(id string) (sensord.Chain, error) {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestChainLocked(id)
}

// ReleaseChain returns a borrowed chain reference; the instance is
// destroyed when the last one comes back.
func (m *Manager) ReleaseChain(id string) error {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseChainLocked(id)
}

// RequestAdaptor returns a borrowed reference to the shared adaptor
// instance, constructing and starting it on first request.
func (m *Manager) RequestAdaptor(id string) (sensord.Adaptor, error) {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requestAdaptorLocked(id)
}

// ReleaseAdaptor returns a borrowed adaptor reference; the instance is
// stopped and destroyed when the last one comes back.
func (m *Manager) ReleaseAdaptor(id string) error {
	m.clearError()
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.releaseAdaptorLocked(id)
}

// InstantiateFilter constructs a fresh filter by name. Filters are not
// shared; the caller owns the instance.
func (m *Manager) InstantiateFilter(name string) (sensord.Filter, error) {
	return m.instantiateFilter(name)
}

func (m *Manager) requestChainLocked(id string) (sensord.Chain, error) {
	entry, ok := m.chainInstances[id]
	if !ok {
		return nil, m.setError(IdNotRegistered, "unknown chain id %q", id)
	}
	if entry.chain != nil {
		entry.refcount++
		return entry.chain, nil
	}

	ctor := registry.ChainLookup(entry.typ)
	if ctor == nil {
		return nil, m.setError(FactoryNotRegistered, "unknown chain type %q", entry.typ)
	}
	ch, err := ctor(id, depsView{m}, m.logger)
	if err != nil {
		return nil, m.setError(NotInstantiated, "chain %q could not be constructed: %v", id, err)
	}
	m.logger.Debugw("new chain instance created", "chain", id)
	entry.chain = ch
	entry.refcount = 1
	return ch, nil
}

func (m *Manager) releaseChainLocked(id string) error {
	entry, ok := m.chainInstances[id]
	if !ok {
		return m.setError(IdNotRegistered, "unknown chain id %q", id)
	}
	if entry.chain == nil {
		return m.setError(NotInstantiated, "chain %q not instantiated, cannot release", id)
	}
	entry.refcount--
	if entry.refcount <= 0 {
		if err := entry.chain.Close(); err != nil {
			m.logger.Errorw("error closing chain", "chain", id, "error", err)
		}
		entry.chain = nil
		entry.refcount = 0
	}
	return nil
}

func (m *Manager) requestAdaptorLocked(id string) (sensord.Adaptor, error) {
	if idutil.HasParameters(id) {
		return nil, m.setError(IdNotRegistered,
			"adaptor identifier %q must not carry parameters", id)
	}
	entry, ok := m.adaptorInstances[id]
	if !ok {
		return nil, m.setError(IdNotRegistered, "unknown adaptor id %q", id)
	}
	if entry.adaptor != nil {
		entry.refcount++
		return entry.adaptor, nil
	}

	ctor := registry.AdaptorLookup(entry.typ)
	if ctor == nil {
		return nil, m.setError(FactoryNotRegistered, "unknown adaptor type %q", entry.typ)
	}
	da, err := ctor(id, m.logger)
	if err != nil {
		return nil, m.setError(NotInstantiated, "adaptor %q could not be constructed: %v", id, err)
	}
	for name, value := range entry.props {
		da.SetProperty(name, value)
	}
	if !da.Start() {
		// slot stays empty; a later request retries construction
		return nil, m.setError(AdaptorNotStarted, "adaptor %q can not be started", id)
	}
	m.logger.Debugw("new adaptor instance created", "adaptor", id)
	entry.adaptor = da
	entry.refcount = 1
	return da, nil
}

func (m *Manager) releaseAdaptorLocked(id string) error {
	if idutil.HasParameters(id) {
		return m.setError(IdNotRegistered,
			"adaptor identifier %q must not carry parameters", id)
	}
	entry, ok := m.adaptorInstances[id]
	if !ok {
		return m.setError(IdNotRegistered, "unknown adaptor id %q", id)
	}
	if entry.adaptor == nil {
		return m.setError(NotInstantiated, "adaptor %q not instantiated, cannot release", id)
	}
	entry.refcount--
	if entry.refcount <= 0 {
		entry.adaptor.Stop()
		entry.adaptor = nil
		entry.refcount = 0
	}
	return nil
}

func (m *Manager) instantiateFilter(name string) (sensord.Filter, error) {
	ctor := registry.FilterLookup(name)
	if ctor == nil {
		m.logger.Warnw("filter not found", "filter", name)
		return nil, &Error{Code: FactoryNotRegistered, Message: "unknown filter " + name}
	}
	return ctor(), nil
}
