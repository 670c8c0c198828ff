// Package calibration runs background magnetometer calibration: it holds
// an internal listen session on the magnetometer, periodically checks the
// calibration level and, when degraded, temporarily raises the device data
// rate so the sensor can settle. The manager's power hooks gate the whole
// process.
package calibration

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/sensorfw/sensord/manager"
	"github.com/sensorfw/sensord/sensor"
)

// Calibrable is what the handler needs from a sensor to judge calibration.
type Calibrable interface {
	CalibrationLevel() int
}

// Defaults for Config.
const (
	DefaultSensorID  = "magnetometersensor"
	DefaultAdaptorID = "magnetometeradaptor"
	DefaultSchedule  = "@every 15m"
	DefaultRateHz    = 10
	DefaultDuration  = 30 * time.Second
	DefaultMaxLevel  = 3
)

// Config tunes the handler.
type Config struct {
	SensorID  string
	AdaptorID string
	// Schedule is a cron expression for the periodic level check.
	Schedule string
	// RateHz is the data rate requested while calibrating.
	RateHz int
	// Duration is how long one calibration burst lasts.
	Duration time.Duration
	// MaxLevel is the level treated as fully calibrated.
	MaxLevel int
}

func (c *Config) fillDefaults() {
	if c.SensorID == "" {
		c.SensorID = DefaultSensorID
	}
	if c.AdaptorID == "" {
		c.AdaptorID = DefaultAdaptorID
	}
	if c.Schedule == "" {
		c.Schedule = DefaultSchedule
	}
	if c.RateHz == 0 {
		c.RateHz = DefaultRateHz
	}
	if c.Duration == 0 {
		c.Duration = DefaultDuration
	}
	if c.MaxLevel == 0 {
		c.MaxLevel = DefaultMaxLevel
	}
}

// Handler is the background calibration worker.
type Handler struct {
	m      *manager.Manager
	logger golog.Logger
	clk    clock.Clock
	cfg    Config
	cron   *cron.Cron

	mu          sync.Mutex
	sessionID   int64
	active      bool
	cancelPower func()
	burstTimer  *clock.Timer
}

// NewHandler returns an idle handler; Start brings it up.
func NewHandler(m *manager.Manager, clk clock.Clock, cfg Config, logger golog.Logger) *Handler {
	cfg.fillDefaults()
	return &Handler{m: m, logger: logger, clk: clk, cfg: cfg}
}

// Start opens the internal session and begins the periodic level checks.
func (h *Handler) Start() error {
	sessionID, err := h.m.RequestListenSensor(h.cfg.SensorID)
	if err != nil {
		return errors.Wrap(err, "cannot open calibration session")
	}
	s, ok := h.m.Sensor(h.cfg.SensorID)
	if !ok {
		releaseErr := h.m.ReleaseSensor(h.cfg.SensorID, sessionID)
		return errors.Errorf("calibration sensor vanished (release: %v)", releaseErr)
	}
	s.Start(sessionID)

	h.mu.Lock()
	h.sessionID = sessionID
	h.active = h.m.DisplayStateOn() && !h.m.PSMState()
	h.mu.Unlock()

	h.cancelPower = h.m.SubscribePowerEvents(h.onPowerEvent)

	h.cron = cron.New()
	if _, err := h.cron.AddFunc(h.cfg.Schedule, h.Poll); err != nil {
		return errors.Wrapf(err, "bad calibration schedule %q", h.cfg.Schedule)
	}
	h.cron.Start()
	h.logger.Debugw("calibration handler started",
		"sensor", h.cfg.SensorID, "schedule", h.cfg.Schedule)
	return nil
}

// onPowerEvent follows the manager's calibration gating broadcasts.
func (h *Handler) onPowerEvent(ev manager.PowerEvent) {
	switch ev {
	case manager.StopCalibration:
		h.mu.Lock()
		h.active = false
		timer := h.burstTimer
		h.burstTimer = nil
		sessionID := h.sessionID
		h.mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		h.m.ClearPropertyRequests(sessionID)
	case manager.ResumeCalibration:
		h.mu.Lock()
		h.active = true
		h.mu.Unlock()
	case manager.DisplayOn:
	}
}

// Poll checks the calibration level once and starts a burst when it is
// degraded. Runs from the cron schedule; safe to call directly.
func (h *Handler) Poll() {
	h.mu.Lock()
	active := h.active
	sessionID := h.sessionID
	h.mu.Unlock()
	if !active {
		return
	}

	s, ok := h.m.Sensor(h.cfg.SensorID)
	if !ok {
		return
	}
	calibrable, ok := s.(Calibrable)
	if !ok {
		h.logger.Warnw("calibration sensor reports no level", "sensor", h.cfg.SensorID)
		return
	}
	level := calibrable.CalibrationLevel()
	if level >= h.cfg.MaxLevel {
		return
	}

	h.logger.Debugw("starting calibration burst", "level", level, "rate", h.cfg.RateHz)
	h.m.SetPropertyRequest(sessionID, sensor.DataRateProperty, h.cfg.AdaptorID, h.cfg.RateHz)

	h.mu.Lock()
	if h.burstTimer != nil {
		h.burstTimer.Stop()
	}
	h.burstTimer = h.clk.AfterFunc(h.cfg.Duration, func() {
		h.m.ClearPropertyRequests(sessionID)
	})
	h.mu.Unlock()
}

// Close stops the schedule and releases the internal session.
func (h *Handler) Close() error {
	if h.cron != nil {
		h.cron.Stop()
	}
	if h.cancelPower != nil {
		h.cancelPower()
	}

	h.mu.Lock()
	timer := h.burstTimer
	h.burstTimer = nil
	sessionID := h.sessionID
	h.mu.Unlock()
	if timer != nil {
		timer.Stop()
	}
	if sessionID <= 0 {
		return nil
	}
	h.m.ClearPropertyRequests(sessionID)
	if s, ok := h.m.Sensor(h.cfg.SensorID); ok {
		s.Stop(sessionID)
	}
	return h.m.ReleaseSensor(h.cfg.SensorID, sessionID)
}
