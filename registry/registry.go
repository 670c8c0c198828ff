// Package registry operates the global factory tables of the sensor daemon.
//
// Plugins populate the tables at load time; they are never mutated
// afterwards, so lookups are safe without synchronization from the control
// context.
package registry

import (
	"github.com/pkg/errors"

	"github.com/sensorfw/sensord"
)

// all factory tables
var (
	sensorFactories  = map[string]sensord.CreateSensor{}
	chainFactories   = map[string]sensord.CreateChain{}
	adaptorFactories = map[string]sensord.CreateAdaptor{}
	filterFactories  = map[string]sensord.CreateFilter{}
)

// RegisterSensor registers a sensor type tag to a factory.
func RegisterSensor(typeTag string, creator sensord.CreateSensor) {
	if _, old := sensorFactories[typeTag]; old {
		panic(errors.Errorf("trying to register two sensor factories with same type %s", typeTag))
	}
	if creator == nil {
		panic(errors.Errorf("cannot register a nil sensor factory for type %s", typeTag))
	}
	sensorFactories[typeTag] = creator
}

// RegisterChain registers a chain type tag to a factory.
func RegisterChain(typeTag string, creator sensord.CreateChain) {
	if _, old := chainFactories[typeTag]; old {
		panic(errors.Errorf("trying to register two chain factories with same type %s", typeTag))
	}
	if creator == nil {
		panic(errors.Errorf("cannot register a nil chain factory for type %s", typeTag))
	}
	chainFactories[typeTag] = creator
}

// RegisterAdaptor registers an adaptor type tag to a factory.
func RegisterAdaptor(typeTag string, creator sensord.CreateAdaptor) {
	if _, old := adaptorFactories[typeTag]; old {
		panic(errors.Errorf("trying to register two adaptor factories with same type %s", typeTag))
	}
	if creator == nil {
		panic(errors.Errorf("cannot register a nil adaptor factory for type %s", typeTag))
	}
	adaptorFactories[typeTag] = creator
}

// RegisterFilter registers a filter name to a factory.
func RegisterFilter(name string, creator sensord.CreateFilter) {
	if _, old := filterFactories[name]; old {
		panic(errors.Errorf("trying to register two filter factories with same name %s", name))
	}
	if creator == nil {
		panic(errors.Errorf("cannot register a nil filter factory for name %s", name))
	}
	filterFactories[name] = creator
}

// SensorLookup looks up a sensor factory by type tag. nil is returned if
// there is no factory registered.
func SensorLookup(typeTag string) sensord.CreateSensor {
	return sensorFactories[typeTag]
}

// ChainLookup looks up a chain factory by type tag. nil is returned if
// there is no factory registered.
func ChainLookup(typeTag string) sensord.CreateChain {
	return chainFactories[typeTag]
}

// AdaptorLookup looks up an adaptor factory by type tag. nil is returned if
// there is no factory registered.
func AdaptorLookup(typeTag string) sensord.CreateAdaptor {
	return adaptorFactories[typeTag]
}

// FilterLookup looks up a filter factory by name. nil is returned if there
// is no factory registered.
func FilterLookup(name string) sensord.CreateFilter {
	return filterFactories[name]
}
