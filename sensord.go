// Package sensord defines the shared abstractions of the sensor daemon: the
// logical sensor, processing chain, device adaptor and filter families, plus
// the narrow views of the manager that instances are given.
//
// Logical sensors compose chains and adaptors; chains compose adaptors and
// filters. All sharing is reference counted by the manager. Instances hold
// borrowed references downward only, so refcounts on the leaves suffice.
package sensord

import (
	"github.com/edaniels/golog"
)

// InvalidSessionID is the reserved "no session" sentinel. Real session IDs
// are assigned from a strictly increasing counter starting at 1.
const InvalidSessionID int64 = -1

// A Sensor is a logical sensor channel: the user-visible object a client
// session is bound to. At most one session controls a sensor at a time; any
// number of sessions may listen.
type Sensor interface {
	// ID returns the registry identifier the sensor is stored under,
	// stripped of any construction parameters.
	ID() string

	// Valid reports whether construction fully succeeded. Invalid sensors
	// are discarded by the manager without being registered anywhere.
	Valid() bool

	// Running reports whether any session has started the sensor.
	Running() bool

	Start(sessionID int64) bool
	Stop(sessionID int64) bool

	// SetInterval requests a sample interval in milliseconds on behalf of a
	// session. The smallest interval across sessions wins.
	SetInterval(sessionID int64, intervalMS int) error
	RemoveIntervalRequest(sessionID int64)

	// SetDataRate requests a rate in Hz on behalf of a session. Rates are
	// arbitrated through the manager's property handler; the highest wins.
	SetDataRate(sessionID int64, rateHz int) error

	RequestDataRange(sessionID int64, r DataRange)
	RemoveDataRangeRequest(sessionID int64)

	// SetStandbyOverride requests that the sensor's sources keep producing
	// while the display is blanked. Any session requesting an override
	// keeps it in force.
	SetStandbyOverride(sessionID int64, on bool) bool

	Reset() bool

	// Close releases the chains and adaptors the sensor acquired during
	// construction. The manager calls it once both session sets are empty.
	Close() error
}

// A Chain is a reusable processing pipeline shared across sensors by
// refcount. A chain typically reads one or more adaptors, runs samples
// through filters and republishes them.
type Chain interface {
	ID() string
	Valid() bool
	Running() bool
	Start() bool
	Stop() bool

	// SetProperty forwards a named integer property down the pipeline,
	// usually terminating at a device adaptor.
	SetProperty(name string, value int)

	SampleSource

	// Close releases resources acquired during construction. The manager
	// calls it when the refcount drops to zero.
	Close() error
}

// An Adaptor speaks to one hardware device and emits raw samples. Adaptors
// are shared across chains by refcount and started once on first request.
type Adaptor interface {
	Name() string

	// Start brings the hardware up. A false return leaves the adaptor
	// unusable and the manager discards it.
	Start() bool
	Stop()

	// Standby and Resume track display blanking. Standby may refuse (and
	// return false) when a standby override is in force.
	Standby() bool
	Resume() bool
	SetScreenBlanked(blanked bool)

	SetProperty(name string, value int) bool
	Property(name string) (int, bool)

	Running() bool
}

// A Filter transforms one sample into at most one output sample. Filters are
// stateless to the manager; chains own and drive them.
type Filter interface {
	Process(s Sample) (Sample, bool)
}

// A SampleSource lets downstream stages subscribe to produced samples. The
// returned cancel function detaches the subscriber and is safe to call more
// than once.
type SampleSource interface {
	Subscribe(fn func(Sample)) (cancel func())
}

// Deps is the construction-time view of the manager handed to sensor and
// chain factories. It is only valid while the control context runs the
// factory or the instance's Close; instances must acquire everything they
// need during construction and release it in Close.
type Deps interface {
	RequestChain(id string) (Chain, error)
	ReleaseChain(id string) error
	RequestAdaptor(id string) (Adaptor, error)
	ReleaseAdaptor(id string) error
	Filter(name string) (Filter, error)
}

// Writer is the runtime view of the manager handed to sensors. Its methods
// are safe from any goroutine, including sample-producing worker threads.
type Writer interface {
	// Write copies payload and queues it for delivery on the session's
	// sample socket. It returns false if the daemon is shutting down or
	// the copy could not be queued.
	Write(sessionID int64, payload []byte) bool

	// SetPropertyRequest records a session-scoped integer property request
	// against an adaptor. The highest value across sessions is applied.
	SetPropertyRequest(sessionID int64, property, adaptorID string, value int)

	// ClearPropertyRequests drops all property requests made by a session.
	ClearPropertyRequests(sessionID int64)
}

// Factory callables. Populated into the registry by plugins at startup and
// never mutated thereafter.
type (
	// CreateSensor constructs a logical sensor. The identifier carries any
	// client-supplied parameters; deps is valid for the duration of the
	// call and again during Close.
	CreateSensor func(id string, deps Deps, w Writer, logger golog.Logger) (Sensor, error)

	// CreateChain constructs a processing chain.
	CreateChain func(id string, deps Deps, logger golog.Logger) (Chain, error)

	// CreateAdaptor constructs a device adaptor. The manager applies the
	// registered property bag and calls Start before sharing it.
	CreateAdaptor func(id string, logger golog.Logger) (Adaptor, error)

	// CreateFilter constructs a fresh filter instance.
	CreateFilter func() Filter
)
