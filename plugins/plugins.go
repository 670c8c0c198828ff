// Package plugins holds the compiled-in plugin sets and the loader that
// materialises their registry entries on a manager. A plugin's factories
// are registered into the global factory tables at package init; loading a
// plugin creates the registry slots (and those of its requirements) on the
// target manager.
package plugins

import (
	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensorfw/sensord/manager"
)

// A Plugin names a loadable set of registry entries and its requirements.
type Plugin struct {
	Name     string
	Requires []string
	Register func(m *manager.Manager) error
}

var pluginRegistry = map[string]Plugin{}

// Register adds a plugin to the compiled-in set.
func Register(p Plugin) {
	if p.Name == "" || p.Register == nil {
		panic(errors.New("plugin must have a name and a register function"))
	}
	if _, old := pluginRegistry[p.Name]; old {
		panic(errors.Errorf("trying to register two plugins with same name %s", p.Name))
	}
	pluginRegistry[p.Name] = p
}

// Lookup finds a plugin by name.
func Lookup(name string) (Plugin, bool) {
	p, ok := pluginRegistry[name]
	return p, ok
}

// Loader loads plugins onto one manager, at most once each, requirements
// first.
type Loader struct {
	m       *manager.Manager
	logger  golog.Logger
	loaded  map[string]bool
	loading map[string]bool
}

// NewLoader returns a loader for the given manager.
func NewLoader(m *manager.Manager, logger golog.Logger) *Loader {
	return &Loader{
		m:       m,
		logger:  logger,
		loaded:  map[string]bool{},
		loading: map[string]bool{},
	}
}

// Load loads a plugin and everything it requires. Loading an already
// loaded plugin is a no-op.
func (l *Loader) Load(name string) error {
	if l.loaded[name] {
		return nil
	}
	if l.loading[name] {
		return errors.Errorf("plugin dependency cycle through %q", name)
	}
	p, ok := Lookup(name)
	if !ok {
		return errors.Errorf("unknown plugin %q", name)
	}
	l.loading[name] = true
	defer delete(l.loading, name)

	for _, req := range p.Requires {
		if err := l.Load(req); err != nil {
			return errors.Wrapf(err, "loading requirement of %q", name)
		}
	}
	if err := p.Register(l.m); err != nil {
		return errors.Wrapf(err, "registering plugin %q", name)
	}
	l.loaded[name] = true
	l.logger.Debugw("plugin loaded", "plugin", name)
	return nil
}
