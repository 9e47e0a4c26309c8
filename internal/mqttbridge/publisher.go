package mqttbridge

import (
	"context"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/config"
	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/frozen"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/presence"
	"github.com/opensleep/podcore/internal/sensor"
)

// Device identifies this pod on the device/{name,version,label} topics
// (spec.md §6).
type Device struct {
	Name    string
	Version string
	Label   string
}

// PublisherOptions tunes the Publisher's coalescing/rate-limiting.
type PublisherOptions struct {
	FlushInterval time.Duration // how often pending state is checked for a flush
	RateLimit     rate.Limit    // max sustained publishes/sec to the broker
	RateBurst     int
}

// DefaultPublisherOptions matches spec.md §4.3's "at most one publish
// per T_pub" order of magnitude, applied here across all four state
// sources rather than per-subsystem.
func DefaultPublisherOptions() PublisherOptions {
	return PublisherOptions{
		FlushInterval: 200 * time.Millisecond,
		RateLimit:     20,
		RateBurst:     20,
	}
}

// Publisher is spec.md §4.6's state publisher: it observes FrozenState,
// SensorState, PresenceState, and Config changes and emits them to MQTT
// under the §6 topic tree. Each On* call is non-blocking (the
// subsystem managers that call it must never stall their hot path);
// Run's own goroutine does the actual (rate-limited) network I/O.
type Publisher struct {
	client  MQTTClient
	metrics *metrics.Registry
	opts    PublisherOptions
	limiter *rate.Limiter
	device  Device

	mu          sync.Mutex
	frozenState frozen.State
	frozenDirty bool
	sensorState sensor.State
	sensorDirty bool
	presState   presence.State
	presDirty   bool
	cfg         *config.Config
	cfgDirty    bool
}

// NewPublisher creates a Publisher bound to an already-constructed
// MQTTClient (connection lifecycle is owned by the caller/app).
func NewPublisher(client MQTTClient, reg *metrics.Registry, device Device, opts PublisherOptions) *Publisher {
	return &Publisher{
		client:  client,
		metrics: reg,
		opts:    opts,
		limiter: rate.NewLimiter(opts.RateLimit, opts.RateBurst),
		device:  device,
	}
}

// OnFrozenState records a FrozenState change for the next flush.
func (p *Publisher) OnFrozenState(s frozen.State) {
	p.mu.Lock()
	p.frozenState = s
	p.frozenDirty = true
	p.mu.Unlock()
}

// OnSensorState records a SensorState change for the next flush.
func (p *Publisher) OnSensorState(s sensor.State) {
	p.mu.Lock()
	p.sensorState = s
	p.sensorDirty = true
	p.mu.Unlock()
}

// OnPresenceState records a PresenceState change for the next flush.
func (p *Publisher) OnPresenceState(s presence.State) {
	p.mu.Lock()
	p.presState = s
	p.presDirty = true
	p.mu.Unlock()
}

// OnConfigChange records a Config change for the next flush.
func (p *Publisher) OnConfigChange(c *config.Config) {
	p.mu.Lock()
	p.cfg = c
	p.cfgDirty = true
	p.mu.Unlock()
}

// Announce publishes retained "online" and the device/* triple; call
// once after the MQTT client connects (spec.md §6).
func (p *Publisher) Announce(ctx context.Context) {
	p.publish(ctx, TopicAvailability, "online", true)
	p.publish(ctx, deviceTopic("name"), p.device.Name, true)
	p.publish(ctx, deviceTopic("version"), p.device.Version, true)
	p.publish(ctx, deviceTopic("label"), p.device.Label, true)
}

// Run flushes coalesced state changes to MQTT until ctx is cancelled.
// Because each On* setter overwrites rather than queues, a burst of
// changes within one FlushInterval yields exactly one publish carrying
// the latest value (spec.md §5 "coalesces but never reorders").
func (p *Publisher) Run(ctx context.Context) {
	ticker := time.NewTicker(p.opts.FlushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.flush(ctx)
		}
	}
}

func (p *Publisher) flush(ctx context.Context) {
	p.mu.Lock()
	var frozenState frozen.State
	var sensorState sensor.State
	var presState presence.State
	var cfg *config.Config
	flushFrozen, flushSensor, flushPres, flushCfg := p.frozenDirty, p.sensorDirty, p.presDirty, p.cfgDirty
	if flushFrozen {
		frozenState = p.frozenState
		p.frozenDirty = false
	}
	if flushSensor {
		sensorState = p.sensorState
		p.sensorDirty = false
	}
	if flushPres {
		presState = p.presState
		p.presDirty = false
	}
	if flushCfg {
		cfg = p.cfg
		p.cfgDirty = false
	}
	p.mu.Unlock()

	if flushFrozen {
		p.publishFrozen(ctx, frozenState)
	}
	if flushSensor {
		p.publishSensor(ctx, sensorState)
	}
	if flushPres {
		p.publishPresence(ctx, presState)
	}
	if flushCfg {
		p.publishConfig(ctx, cfg)
	}
}

func (p *Publisher) publishFrozen(ctx context.Context, s frozen.State) {
	p.publish(ctx, frozenTopic("mode"), s.Mode.String(), true)
	p.publish(ctx, frozenTopic("hwinfo"), s.HardwareInfo, true)
	p.publish(ctx, frozenTopic("left_temp"), strconv.Itoa(int(s.LeftTemp)), false)
	p.publish(ctx, frozenTopic("right_temp"), strconv.Itoa(int(s.RightTemp)), false)
	p.publish(ctx, frozenTopic("heatsink_temp"), strconv.Itoa(int(s.HeatsinkTemp)), false)
	p.publish(ctx, frozenTopic("left_target_temp"), targetString(s.LeftTarget), false)
	p.publish(ctx, frozenTopic("right_target_temp"), targetString(s.RightTarget), false)
}

func targetString(t *domain.Centidegrees) string {
	if t == nil {
		return "disabled"
	}
	return strconv.Itoa(int(*t))
}

func (p *Publisher) publishSensor(ctx context.Context, s sensor.State) {
	p.publish(ctx, sensorTopic("mode"), s.Mode.String(), true)
	p.publish(ctx, sensorTopic("hwinfo"), s.HardwareInfo, true)
	p.publish(ctx, sensorTopic("piezo_ok"), strconv.FormatBool(s.PiezoOK), false)
	p.publish(ctx, sensorTopic("vibration_enabled"), strconv.FormatBool(s.VibrationEnabled), false)
	p.publish(ctx, sensorTopic("bed_temp"), strconv.Itoa(int(s.BedTemp)), false)
	p.publish(ctx, sensorTopic("ambient_temp"), strconv.Itoa(int(s.AmbientTemp)), false)
	p.publish(ctx, sensorTopic("humidity"), strconv.FormatFloat(s.HumidityPct, 'f', -1, 64), false)
	p.publish(ctx, sensorTopic("mcu_temp"), strconv.Itoa(int(s.McuTemp)), false)
}

func (p *Publisher) publishPresence(ctx context.Context, s presence.State) {
	p.publish(ctx, presenceTopic("any"), strconv.FormatBool(s.Any), false)
	p.publish(ctx, presenceTopic("left"), strconv.FormatBool(s.Left), false)
	p.publish(ctx, presenceTopic("right"), strconv.FormatBool(s.Right), false)
}

func (p *Publisher) publishConfig(ctx context.Context, c *config.Config) {
	if c == nil {
		return
	}
	p.publish(ctx, configTopic("timezone"), c.Timezone, true)
	p.publish(ctx, configTopic("away_mode"), strconv.FormatBool(c.AwayMode), true)
	p.publish(ctx, configTopic("prime_time"), c.PrimeTime, true)
	p.publish(ctx, configTopic("profile/left/sleep"), c.Profile.Left.Sleep, true)
	p.publish(ctx, configTopic("profile/left/wake"), c.Profile.Left.Wake, true)
	p.publish(ctx, configTopic("profile/left/alarm"), c.Profile.Left.Alarm, true)
	p.publish(ctx, configTopic("profile/right/sleep"), c.Profile.Right.Sleep, true)
	p.publish(ctx, configTopic("profile/right/wake"), c.Profile.Right.Wake, true)
	p.publish(ctx, configTopic("profile/right/alarm"), c.Profile.Right.Alarm, true)
}

// PublishResult publishes the result/{action,status,message} triple
// spec.md §6 requires after every action.
func (p *Publisher) PublishResult(ctx context.Context, action, status, message string) {
	p.publish(ctx, resultTopic("action"), action, false)
	p.publish(ctx, resultTopic("status"), status, false)
	p.publish(ctx, resultTopic("message"), message, false)
}

func (p *Publisher) publish(ctx context.Context, topic, payload string, retain bool) {
	if err := p.limiter.Wait(ctx); err != nil {
		return
	}
	start := time.Now()
	if err := p.client.Publish(topic, []byte(payload), retain); err != nil {
		logger.Warn("mqttbridge: publish %s failed: %v", topic, err)
		return
	}
	p.metrics.PublishLatency.Observe(time.Since(start).Seconds())
}
