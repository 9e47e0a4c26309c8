package mqttbridge

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/config"
	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/frozen"
	"github.com/opensleep/podcore/internal/presence"
	"github.com/opensleep/podcore/internal/sensor"
)

// calibrationSamples is K in spec.md §4.4's "collects 30 samples" (E2).
const calibrationSamples = 30

// Dispatcher is C4.6's action consumer: it parses and validates the five
// actions/* grammars, mutates Config under Store's lock, persists,
// publishes a result, and enqueues any derived subsystem command.
// Grounded on the teacher's workflow.ActionManager (RegisterHandler /
// ExecuteAction dispatch table with per-action metrics and error
// reporting), generalized from its trigger-condition model to podcore's
// fixed five-action grammar.
type Dispatcher struct {
	store     *config.Store
	publisher *Publisher
	detector  *presence.Detector

	enqueueFrozen func(frozen.Command) error
	enqueueSensor func(sensor.Command) error

	mu         sync.Mutex
	calibrator *presence.Calibrator
}

// NewDispatcher wires a Dispatcher to the config store, the publisher
// used to emit result/* messages, the presence detector that a
// calibration result feeds back into, and the two subsystems' command
// queues.
func NewDispatcher(store *config.Store, pub *Publisher, detector *presence.Detector, enqueueFrozen func(frozen.Command) error, enqueueSensor func(sensor.Command) error) *Dispatcher {
	return &Dispatcher{
		store:         store,
		publisher:     pub,
		detector:      detector,
		enqueueFrozen: enqueueFrozen,
		enqueueSensor: enqueueSensor,
	}
}

// Handle processes one inbound actions/<name> message, publishing a
// result/{action,status,message} triple unconditionally (spec.md §6,
// §7 "Config: validation failure in action parsing -> no mutation,
// publish result/{status:error,message:<reason>}").
func (d *Dispatcher) Handle(ctx context.Context, action string, payload []byte) {
	value := strings.TrimSpace(string(payload))

	var err error
	switch action {
	case ActionCalibrate:
		err = d.handleCalibrate()
	case ActionSetAwayMode:
		err = d.handleSetAwayMode(value)
	case ActionSetPrime:
		err = d.handleSetPrime(value)
	case ActionSetProfile:
		err = d.handleSetProfile(value)
	case ActionSetPresenceConfig:
		err = d.handleSetPresenceConfig(value)
	default:
		err = fmt.Errorf("unknown action %q", action)
	}

	if err != nil {
		logger.Warn("mqttbridge: action %s failed: %v", action, err)
		d.publisher.PublishResult(ctx, action, "error", err.Error())
		return
	}
	d.publisher.OnConfigChange(d.store.Get())
	d.publisher.PublishResult(ctx, action, "success", "")
}

// handleCalibrate starts a calibration run if one isn't already in
// progress (spec.md §4.3 "a Calibrate command triggers a coordinated
// hand-off to C4 rather than doing work inside C3"). It enqueues the
// sensor-side CmdCalibrate so the MCU streams capacitance at the rate
// the calibrator expects; FeedCalibrationSample does the accumulation
// as samples arrive from the sensor manager's packet stream.
func (d *Dispatcher) handleCalibrate() error {
	d.mu.Lock()
	if d.calibrator != nil {
		d.mu.Unlock()
		return fmt.Errorf("calibration already in progress")
	}
	d.calibrator = presence.NewCalibrator(calibrationSamples)
	d.mu.Unlock()

	if d.enqueueSensor != nil {
		if err := d.enqueueSensor(sensor.Command{Kind: sensor.CmdCalibrate}); err != nil {
			d.mu.Lock()
			d.calibrator = nil
			d.mu.Unlock()
			return fmt.Errorf("enqueue calibrate: %w", err)
		}
	}
	return nil
}

// FeedCalibrationSample forwards one capacitance sample to the
// in-progress calibration, if any, and commits the resulting baselines
// to the config store once K samples have been collected (spec.md
// scenario E2). The caller (internal/app's loop over the sensor
// manager's capacitance sample channel) must call this unconditionally; it is
// a no-op when no calibration is running.
func (d *Dispatcher) FeedCalibrationSample(s domain.CapacitanceSample) {
	d.mu.Lock()
	cal := d.calibrator
	if cal == nil {
		d.mu.Unlock()
		return
	}
	baselines, done := cal.Add(s)
	if done {
		d.calibrator = nil
	}
	d.mu.Unlock()

	if !done {
		return
	}
	if err := d.store.SetPresenceBaselines(baselines); err != nil {
		logger.Warn("mqttbridge: calibration baseline commit failed: %v", err)
		return
	}
	d.detector.SetConfig(d.store.Get().PresenceConfig())
	d.publisher.OnConfigChange(d.store.Get())
}

func (d *Dispatcher) handleSetAwayMode(value string) error {
	away, err := strconv.ParseBool(value)
	if err != nil {
		return fmt.Errorf("invalid away mode value %q", value)
	}
	if err := d.store.SetAwayMode(away); err != nil {
		return err
	}
	return nil
}

func (d *Dispatcher) handleSetPrime(value string) error {
	return d.store.SetPrimeTime(value)
}

func (d *Dispatcher) handleSetProfile(value string) error {
	// TARGET.FIELD=VALUE
	eq := strings.IndexByte(value, '=')
	if eq < 0 {
		return fmt.Errorf("malformed set_profile payload %q", value)
	}
	key, val := value[:eq], value[eq+1:]
	dot := strings.IndexByte(key, '.')
	if dot < 0 {
		return fmt.Errorf("malformed set_profile key %q", key)
	}
	target, field := key[:dot], key[dot+1:]
	return d.store.SetProfileField(target, field, val)
}

func (d *Dispatcher) handleSetPresenceConfig(value string) error {
	eq := strings.IndexByte(value, '=')
	if eq < 0 {
		return fmt.Errorf("malformed set_presence_config payload %q", value)
	}
	return d.store.SetPresenceConfigField(value[:eq], value[eq+1:])
}

// Subscribe registers this dispatcher's Handle method against every
// actions/* topic on client.
func (d *Dispatcher) Subscribe(ctx context.Context, client MQTTClient) error {
	for _, action := range AllActions() {
		act := action
		topic := actionTopic(act)
		if err := client.Subscribe(topic, func(_ string, payload []byte) {
			d.Handle(ctx, act, payload)
		}); err != nil {
			return fmt.Errorf("mqttbridge: subscribe %s: %w", topic, err)
		}
	}
	return nil
}
