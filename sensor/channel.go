// Package sensor provides the base implementation shared by logical sensor
// channels: session start tracking, interval and data-range arbitration,
// standby overrides and sample write-out through the manager.
package sensor

import (
	"strconv"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"

	"github.com/sensorfw/sensord"
	"github.com/sensorfw/sensord/idutil"
)

// DataRateProperty is the adaptor property that session data-rate requests
// arbitrate through the manager's property handler.
const DataRateProperty = "datarate"

type rangeRequest struct {
	sessionID int64
	r         sensord.DataRange
}

// Channel carries the per-session bookkeeping common to all logical
// sensors. Concrete sensors embed it, wire the sinks to their chain during
// construction and call Emit for every produced sample.
type Channel struct {
	mu     sync.Mutex
	id     string
	params map[string]string
	writer sensord.Writer
	logger golog.Logger

	valid       bool
	description string

	active map[int64]bool

	intervalRequests map[int64]int
	defaultInterval  int

	rangeRequests []rangeRequest
	defaultRange  sensord.DataRange

	standbyRequests map[int64]bool

	availableIntervals []sensord.DataRange
	availableRanges    []sensord.DataRange

	// dataRateAdaptor names the adaptor SetDataRate requests target; empty
	// disables data-rate arbitration for this sensor.
	dataRateAdaptor string

	intervalSink func(intervalMS int)
	standbySink  func(on bool)
	rangeSink    func(r sensord.DataRange)
}

// NewChannel returns a valid channel for the given full identifier. Any
// identifier parameters are parsed; an "interval" parameter becomes the
// channel's default interval.
func NewChannel(id string, w sensord.Writer, logger golog.Logger) *Channel {
	c := &Channel{
		id:               idutil.CleanID(id),
		params:           idutil.Parameters(id),
		writer:           w,
		logger:           logger,
		valid:            true,
		active:           map[int64]bool{},
		intervalRequests: map[int64]int{},
		standbyRequests:  map[int64]bool{},
	}
	if v, ok := c.params["interval"]; ok {
		ms, err := strconv.Atoi(v)
		if err != nil || ms <= 0 {
			logger.Warnw("ignoring bad interval parameter", "sensor", c.id, "value", v)
		} else {
			c.defaultInterval = ms
		}
	}
	return c
}

// ID returns the parameter-free registry identifier.
func (c *Channel) ID() string {
	return c.id
}

// Param returns an identifier parameter by key.
func (c *Channel) Param(key string) (string, bool) {
	v, ok := c.params[key]
	return v, ok
}

// Valid reports whether construction fully succeeded.
func (c *Channel) Valid() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.valid
}

// SetValid overrides the validity flag.
func (c *Channel) SetValid(valid bool) {
	c.mu.Lock()
	c.valid = valid
	c.mu.Unlock()
}

// SetDescription sets the human-readable sensor description.
func (c *Channel) SetDescription(desc string) {
	c.mu.Lock()
	c.description = desc
	c.mu.Unlock()
}

// Description returns the human-readable sensor description.
func (c *Channel) Description() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.description
}

// SetDefaultInterval sets the interval used when no session requests one.
func (c *Channel) SetDefaultInterval(ms int) {
	c.mu.Lock()
	c.defaultInterval = ms
	c.mu.Unlock()
}

// SetDefaultRange sets the range used when no session requests one.
func (c *Channel) SetDefaultRange(r sensord.DataRange) {
	c.mu.Lock()
	c.defaultRange = r
	c.mu.Unlock()
}

// IntroduceAvailableInterval advertises a supported interval span.
func (c *Channel) IntroduceAvailableInterval(r sensord.DataRange) {
	c.mu.Lock()
	c.availableIntervals = append(c.availableIntervals, r)
	c.mu.Unlock()
}

// IntroduceAvailableRange advertises a supported data range.
func (c *Channel) IntroduceAvailableRange(r sensord.DataRange) {
	c.mu.Lock()
	c.availableRanges = append(c.availableRanges, r)
	c.mu.Unlock()
}

// AvailableIntervals lists the advertised interval spans.
func (c *Channel) AvailableIntervals() []sensord.DataRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sensord.DataRange, len(c.availableIntervals))
	copy(out, c.availableIntervals)
	return out
}

// AvailableRanges lists the advertised data ranges.
func (c *Channel) AvailableRanges() []sensord.DataRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]sensord.DataRange, len(c.availableRanges))
	copy(out, c.availableRanges)
	return out
}

// IntervalSink sets the target effective interval changes are pushed to.
func (c *Channel) IntervalSink(fn func(intervalMS int)) {
	c.mu.Lock()
	c.intervalSink = fn
	c.mu.Unlock()
}

// StandbySink sets the target effective standby overrides are pushed to.
func (c *Channel) StandbySink(fn func(on bool)) {
	c.mu.Lock()
	c.standbySink = fn
	c.mu.Unlock()
}

// RangeSink sets the target effective data ranges are pushed to.
func (c *Channel) RangeSink(fn func(r sensord.DataRange)) {
	c.mu.Lock()
	c.rangeSink = fn
	c.mu.Unlock()
}

// SetDataRateAdaptor names the adaptor data-rate requests arbitrate
// against.
func (c *Channel) SetDataRateAdaptor(adaptorID string) {
	c.mu.Lock()
	c.dataRateAdaptor = adaptorID
	c.mu.Unlock()
}

// Start marks the session active. The channel runs while any session is
// active. Starting an already active session reports false so embedders
// keep their source start counts balanced.
func (c *Channel) Start(sessionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active[sessionID] {
		return false
	}
	c.active[sessionID] = true
	return true
}

// Stop marks the session inactive.
func (c *Channel) Stop(sessionID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active[sessionID] {
		return false
	}
	delete(c.active, sessionID)
	return true
}

// Running reports whether any session is active.
func (c *Channel) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active) > 0
}

// SetInterval records a session's interval request in milliseconds. The
// smallest request across sessions is the effective interval.
func (c *Channel) SetInterval(sessionID int64, intervalMS int) error {
	if intervalMS <= 0 {
		return errors.Errorf("invalid interval %d ms for sensor %q", intervalMS, c.id)
	}
	c.mu.Lock()
	c.intervalRequests[sessionID] = intervalMS
	effective, sink := c.effectiveIntervalLocked()
	c.mu.Unlock()
	if sink != nil {
		sink(effective)
	}
	return nil
}

// RemoveIntervalRequest drops a session's interval request and re-resolves
// the effective interval.
func (c *Channel) RemoveIntervalRequest(sessionID int64) {
	c.mu.Lock()
	if _, ok := c.intervalRequests[sessionID]; !ok {
		c.mu.Unlock()
		return
	}
	delete(c.intervalRequests, sessionID)
	effective, sink := c.effectiveIntervalLocked()
	c.mu.Unlock()
	if sink != nil {
		sink(effective)
	}
}

func (c *Channel) effectiveIntervalLocked() (int, func(int)) {
	if len(c.intervalRequests) == 0 {
		return c.defaultInterval, c.intervalSink
	}
	effective := 0
	for _, ms := range c.intervalRequests {
		if effective == 0 || ms < effective {
			effective = ms
		}
	}
	return effective, c.intervalSink
}

// EffectiveInterval returns the interval currently in force.
func (c *Channel) EffectiveInterval() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	effective, _ := c.effectiveIntervalLocked()
	return effective
}

// SetDataRate records a session's rate request through the manager's
// property handler; the highest rate across sessions wins.
func (c *Channel) SetDataRate(sessionID int64, rateHz int) error {
	if rateHz <= 0 {
		return errors.Errorf("invalid data rate %d Hz for sensor %q", rateHz, c.id)
	}
	c.mu.Lock()
	adaptorID := c.dataRateAdaptor
	w := c.writer
	c.mu.Unlock()
	if adaptorID == "" {
		return errors.Errorf("sensor %q does not arbitrate a data rate", c.id)
	}
	w.SetPropertyRequest(sessionID, DataRateProperty, adaptorID, rateHz)
	return nil
}

// RequestDataRange records a session's data-range request. The earliest
// live request is the effective range.
func (c *Channel) RequestDataRange(sessionID int64, r sensord.DataRange) {
	c.mu.Lock()
	replaced := false
	for i, req := range c.rangeRequests {
		if req.sessionID == sessionID {
			c.rangeRequests[i].r = r
			replaced = true
			break
		}
	}
	if !replaced {
		c.rangeRequests = append(c.rangeRequests, rangeRequest{sessionID, r})
	}
	effective, sink := c.effectiveRangeLocked()
	c.mu.Unlock()
	if sink != nil {
		sink(effective)
	}
}

// RemoveDataRangeRequest drops a session's data-range request.
func (c *Channel) RemoveDataRangeRequest(sessionID int64) {
	c.mu.Lock()
	found := false
	for i, req := range c.rangeRequests {
		if req.sessionID == sessionID {
			c.rangeRequests = append(c.rangeRequests[:i], c.rangeRequests[i+1:]...)
			found = true
			break
		}
	}
	if !found {
		c.mu.Unlock()
		return
	}
	effective, sink := c.effectiveRangeLocked()
	c.mu.Unlock()
	if sink != nil {
		sink(effective)
	}
}

func (c *Channel) effectiveRangeLocked() (sensord.DataRange, func(sensord.DataRange)) {
	if len(c.rangeRequests) > 0 {
		return c.rangeRequests[0].r, c.rangeSink
	}
	return c.defaultRange, c.rangeSink
}

// EffectiveRange returns the data range currently in force.
func (c *Channel) EffectiveRange() sensord.DataRange {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, _ := c.effectiveRangeLocked()
	return r
}

// SetStandbyOverride records a session's standby-override request. The
// override stays in force while any session requests it.
func (c *Channel) SetStandbyOverride(sessionID int64, on bool) bool {
	c.mu.Lock()
	if on {
		c.standbyRequests[sessionID] = true
	} else {
		delete(c.standbyRequests, sessionID)
	}
	effective := len(c.standbyRequests) > 0
	sink := c.standbySink
	c.mu.Unlock()
	if sink == nil {
		return false
	}
	sink(effective)
	return true
}

// Reset restores default operation. The base has nothing to restore.
func (c *Channel) Reset() bool {
	return true
}

// Emit marshals the sample once and writes it to every active session's
// socket through the manager. Safe from producer threads.
func (c *Channel) Emit(s sensord.Sample) {
	payload := s.Marshal()
	c.mu.Lock()
	sessions := make([]int64, 0, len(c.active))
	for id := range c.active {
		sessions = append(sessions, id)
	}
	w := c.writer
	c.mu.Unlock()
	for _, id := range sessions {
		if !w.Write(id, payload) {
			c.logger.Debugw("sample dropped", "sensor", c.id, "session", id)
		}
	}
}

// Close is a no-op on the base; concrete sensors release their chains and
// adaptors in their own Close.
func (c *Channel) Close() error {
	return nil
}
