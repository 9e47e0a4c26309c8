// Package app wires C1 through C5 plus the MQTT and I²C plumbing into a
// single running process, owning the root context, the shutdown
// WaitGroup, and signal handling. Grounded on the teacher's
// internal/daemon.Daemon.Start/Stop/waitForShutdown.
package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/config"
	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/frozen"
	"github.com/opensleep/podcore/internal/i2cdevices"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/mqttbridge"
	"github.com/opensleep/podcore/internal/presence"
	"github.com/opensleep/podcore/internal/profile"
	"github.com/opensleep/podcore/internal/sensor"
	"github.com/opensleep/podcore/internal/serialport"
)

// frozenBaud is spec.md §6's "Frozen serial: ... 38400 baud, fixed".
const frozenBaud = 38400

// TGrace bounds how long shutdown may take (spec.md §5 "no task may
// block shutdown for more than T_grace").
const TGrace = 2 * time.Second

// Hardware is the optional I²C collaborator set; any field left nil
// disables that capability (useful for bench testing without the LED
// or GPIO expander wired up).
type Hardware struct {
	LED      *i2cdevices.LEDDriver
	Expander *i2cdevices.Expander
}

// Options configures the App's constituent parts. OpenFunc defaults to
// a real OS serial open; override in tests.
type Options struct {
	Store      *config.Store
	Metrics    *metrics.Registry
	MQTTClient mqttbridge.MQTTClient
	Device     mqttbridge.Device
	Hardware   Hardware
	OpenFunc   serialport.OpenFunc
	Location   string // IANA timezone name; "" means time.Local
}

// App owns every task's lifecycle.
type App struct {
	store    *config.Store
	metrics  *metrics.Registry
	location *time.Location

	frozenLink *serialport.Link
	sensorLink *serialport.Link
	frozenMgr  *frozen.Manager
	sensorMgr  *sensor.Manager
	detector   *presence.Detector
	engine     *profile.Engine

	publisher  *mqttbridge.Publisher
	dispatcher *mqttbridge.Dispatcher
	mqttClient mqttbridge.MQTTClient

	hw Hardware

	samples chan domain.CapacitanceSample
	ledCh   chan frozen.LEDState

	wg sync.WaitGroup
}

// New builds an App from Options. It does not open any device or
// connect to the broker; call Run to start everything.
func New(opts Options) *App {
	loc := time.Local
	if opts.Location != "" {
		if l, err := time.LoadLocation(opts.Location); err == nil {
			loc = l
		} else {
			logger.Warn("app: unknown timezone %q, using local: %v", opts.Location, err)
		}
	}

	cfg := opts.Store.Get()

	a := &App{
		store:      opts.Store,
		metrics:    opts.Metrics,
		location:   loc,
		mqttClient: opts.MQTTClient,
		hw:         opts.Hardware,
		samples:    make(chan domain.CapacitanceSample, 64),
		ledCh:      make(chan frozen.LEDState, 4),
	}

	openFunc := opts.OpenFunc
	a.frozenLink = serialport.New("frozen", cfg.Serial.FrozenDevice, openFunc, time.Duration(cfg.Serial.PollTimeoutMS)*time.Millisecond)
	a.sensorLink = serialport.New("sensor", cfg.Serial.SensorDevice, openFunc, time.Duration(cfg.Serial.PollTimeoutMS)*time.Millisecond)

	a.detector = presence.New(cfg.PresenceConfig())
	a.engine = profile.New()

	a.publisher = mqttbridge.NewPublisher(opts.MQTTClient, opts.Metrics, opts.Device, mqttbridge.DefaultPublisherOptions())
	a.frozenMgr = frozen.New(a.frozenLink, opts.Metrics, frozen.DefaultOptions(), a.publisher.OnFrozenState, a.ledCh)
	a.sensorMgr = sensor.New(a.sensorLink, opts.Metrics, sensor.DefaultOptions(), a.onSensorState, a.samples)
	a.dispatcher = mqttbridge.NewDispatcher(a.store, a.publisher, a.detector, a.frozenMgr.Enqueue, a.sensorMgr.Enqueue)

	return a
}

// onSensorState fans a SensorState change out to the publisher and
// (spec.md §4.4) feeds the presence detector nothing directly — presence
// is derived from the capacitance sample stream, not SensorState.
func (a *App) onSensorState(s sensor.State) {
	a.publisher.OnSensorState(s)
}

// Run starts every task and blocks until ctx is cancelled or a shutdown
// signal arrives, then drains everything within TGrace.
func (a *App) Run(ctx context.Context) error {
	if err := a.frozenLink.Open(frozenBaud); err != nil {
		return fmt.Errorf("app: open frozen link: %w", err)
	}

	if err := a.mqttClient.Connect(); err != nil {
		return fmt.Errorf("app: mqtt connect: %w", err)
	}
	if err := a.dispatcher.Subscribe(ctx, a.mqttClient); err != nil {
		return fmt.Errorf("app: mqtt subscribe: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.frozenMgr.Run(runCtx) }()

	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.sensorMgr.Run(runCtx) }()

	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.runPresence(runCtx) }()

	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.runProfileEngine(runCtx) }()

	a.wg.Add(1)
	go func() { defer a.wg.Done(); a.publisher.Run(runCtx) }()

	if a.hw.LED != nil {
		a.wg.Add(1)
		go func() { defer a.wg.Done(); a.runLED(runCtx) }()
	}

	if watcher, err := fsnotify.NewWatcher(); err != nil {
		logger.Warn("app: config watcher unavailable: %v", err)
	} else if err := watcher.Add(a.store.Path()); err != nil {
		logger.Warn("app: config watcher: %v", err)
		watcher.Close()
	} else {
		a.wg.Add(1)
		go func() { defer a.wg.Done(); defer watcher.Close(); a.runConfigWatch(runCtx, watcher) }()
	}

	a.publisher.Announce(runCtx)

	a.waitForShutdown(ctx, cancel)
	return a.shutdown()
}

// waitForShutdown blocks until ctx is cancelled or SIGINT/SIGTERM
// arrives, then cancels the run context (grounded on the teacher's
// Daemon.waitForShutdown).
func (a *App) waitForShutdown(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case <-ctx.Done():
		logger.Info("app: context cancelled, shutting down")
	case sig := <-sigCh:
		logger.Info("app: received signal %v, shutting down", sig)
	}
	cancel()
}

func (a *App) shutdown() error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(TGrace):
		logger.Warn("app: shutdown exceeded grace period, proceeding anyway")
	}

	a.mqttClient.Disconnect()
	_ = a.frozenLink.Close()
	_ = a.sensorLink.Close()
	logger.Info("app: stopped")
	return nil
}

// runPresence drains the sensor manager's capacitance sample stream,
// feeding it to both the live Detector and any in-progress calibration
// (spec.md §4.4, scenario E2's hand-off from C3 to C4).
func (a *App) runPresence(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-a.samples:
			if !ok {
				return
			}
			a.dispatcher.FeedCalibrationSample(s)
			if state, changed := a.detector.Feed(s); changed {
				a.publisher.OnPresenceState(state)
				a.metrics.PresenceFlips.WithLabelValues("any").Inc()
			}
		}
	}
}

// runProfileEngine ticks C5 on a fixed period, translating its output
// into enqueues against the two subsystem managers.
func (a *App) runProfileEngine(ctx context.Context) {
	const tickInterval = 30 * time.Second
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().In(a.location)
			cfg := a.store.Get().EngineConfig()
			frozenCmds, sensorCmds := a.engine.Tick(now, cfg, a.frozenMgr.State())
			for _, c := range frozenCmds {
				if err := a.frozenMgr.Enqueue(c); err != nil {
					logger.Warn("app: engine frozen enqueue: %v", err)
				}
			}
			for _, c := range sensorCmds {
				if err := a.sensorMgr.Enqueue(c); err != nil {
					logger.Warn("app: engine sensor enqueue: %v", err)
				}
			}
		}
	}
}

// runConfigWatch reloads the config store whenever its backing file is
// written out-of-band (an operator hand-editing the YAML), re-publishing
// the result and hot-swapping the presence detector's thresholds the same
// way an actions/set_presence_config mutation would.
func (a *App) runConfigWatch(ctx context.Context, watcher *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := a.store.Load(); err != nil {
				logger.Warn("app: config reload: %v", err)
				continue
			}
			cfg := a.store.Get()
			a.detector.SetConfig(cfg.PresenceConfig())
			a.publisher.OnConfigChange(cfg)
			logger.Info("app: config reloaded from %s", a.store.Path())
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.Warn("app: config watcher: %v", err)
		}
	}
}

// runLED mirrors C2's coarse LED state into the physical IS31FL3194
// driver, translating config-selected patterns for idle/active.
func (a *App) runLED(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-a.ledCh:
			if !ok {
				return
			}
			cfg := a.store.Get()
			if err := a.hw.LED.SetCurrentBand(cfg.CurrentBand()); err != nil {
				logger.Warn("app: led current band: %v", err)
			}
			pattern := cfg.IdlePattern()
			if s != frozen.LEDIdle {
				pattern = cfg.ActivePattern()
			}
			if err := a.hw.LED.SetPattern(pattern); err != nil {
				logger.Warn("app: led pattern: %v", err)
			}
		}
	}
}
