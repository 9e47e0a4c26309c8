package mqttbridge

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensleep/podcore/internal/config"
	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/frozen"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/presence"
	"github.com/opensleep/podcore/internal/sensor"
)

var testMetrics = metrics.New()

// fakeClient is an in-memory MQTTClient recording every publish, used
// in place of a real broker (grounded on the teacher's MockMQTTClient).
type fakeClient struct {
	mu        sync.Mutex
	published map[string]string
	log       []string
	handlers  map[string]func(string, []byte)
}

func newFakeClient() *fakeClient {
	return &fakeClient{published: map[string]string{}, handlers: map[string]func(string, []byte){}}
}

func (f *fakeClient) Connect() error    { return nil }
func (f *fakeClient) Disconnect()       {}
func (f *fakeClient) IsConnected() bool { return true }

func (f *fakeClient) Publish(topic string, payload []byte, retain bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[topic] = string(payload)
	f.log = append(f.log, topic)
	return nil
}

func (f *fakeClient) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeClient) Unsubscribe(topic string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, topic)
	return nil
}

func (f *fakeClient) get(topic string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.published[topic]
	return v, ok
}

func (f *fakeClient) deliver(topic string, payload string) {
	f.mu.Lock()
	h := f.handlers[topic]
	f.mu.Unlock()
	if h != nil {
		h(topic, []byte(payload))
	}
}

// Property 5/11-adjacent: bursts of state changes within one flush
// window coalesce into a single publish carrying the latest value.
func TestPublisherCoalescesBurstsIntoOnePublish(t *testing.T) {
	client := newFakeClient()
	pub := NewPublisher(client, testMetrics, Device{Name: "pod"}, PublisherOptions{
		FlushInterval: 10 * time.Millisecond,
		RateLimit:     1000,
		RateBurst:     1000,
	})

	for i := 0; i < 5; i++ {
		pub.OnFrozenState(frozen.State{Mode: domain.ModeFirmware, LeftTemp: domain.Centidegrees(2000 + i)})
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pub.Run(ctx)

	require.Eventually(t, func() bool {
		v, ok := client.get(frozenTopic("left_temp"))
		return ok && v == "2004"
	}, time.Second, 5*time.Millisecond)

	client.mu.Lock()
	leftTempPublishes := 0
	for _, topic := range client.log {
		if topic == frozenTopic("left_temp") {
			leftTempPublishes++
		}
	}
	client.mu.Unlock()
	assert.Equal(t, 1, leftTempPublishes)
}

func TestDispatcherSetAwayModeRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, store.Load())

	client := newFakeClient()
	pub := NewPublisher(client, testMetrics, Device{Name: "pod"}, DefaultPublisherOptions())
	disp := NewDispatcher(store, pub, presence.New(store.Get().PresenceConfig()), nil, nil)

	disp.Handle(context.Background(), ActionSetAwayMode, []byte("true"))

	assert.True(t, store.Get().AwayMode)
	status, ok := client.get(resultTopic("status"))
	require.True(t, ok)
	assert.Equal(t, "success", status)
}

// Scenario E4: a malformed set_prime payload must not mutate config and
// must publish an error result with the documented message.
func TestDispatcherRejectsBadPrimeTime(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, store.Load())
	before := store.Get().PrimeTime

	client := newFakeClient()
	pub := NewPublisher(client, testMetrics, Device{Name: "pod"}, DefaultPublisherOptions())
	disp := NewDispatcher(store, pub, presence.New(store.Get().PresenceConfig()), nil, nil)

	disp.Handle(context.Background(), ActionSetPrime, []byte("5:00"))

	assert.Equal(t, before, store.Get().PrimeTime)
	status, _ := client.get(resultTopic("status"))
	assert.Equal(t, "error", status)
	msg, _ := client.get(resultTopic("message"))
	assert.Contains(t, msg, "invalid time format")
}

// Property 10: set_profile both.sleep=20:30 persists and
// reports success.
func TestDispatcherSetProfileBothSides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	store := config.NewStore(path)
	require.NoError(t, store.Load())

	client := newFakeClient()
	pub := NewPublisher(client, testMetrics, Device{Name: "pod"}, DefaultPublisherOptions())
	disp := NewDispatcher(store, pub, presence.New(store.Get().PresenceConfig()), nil, nil)

	disp.Handle(context.Background(), ActionSetProfile, []byte("both.sleep=20:30"))

	status, _ := client.get(resultTopic("status"))
	assert.Equal(t, "success", status)

	reloaded := config.NewStore(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, "20:30", reloaded.Get().Profile.Left.Sleep)
	assert.Equal(t, "20:30", reloaded.Get().Profile.Right.Sleep)
}

// Scenario E2: calibrate collects K samples and writes per-pad means.
func TestDispatcherCalibrateWritesBaselines(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, store.Load())

	client := newFakeClient()
	pub := NewPublisher(client, testMetrics, Device{Name: "pod"}, DefaultPublisherOptions())
	det := presence.New(store.Get().PresenceConfig())

	var enqueued []sensor.Command
	disp := NewDispatcher(store, pub, det, nil, func(c sensor.Command) error {
		enqueued = append(enqueued, c)
		return nil
	})

	disp.Handle(context.Background(), ActionCalibrate, nil)
	require.Len(t, enqueued, 1)
	assert.Equal(t, sensor.CmdCalibrate, enqueued[0].Kind)

	for i := 0; i < calibrationSamples; i++ {
		disp.FeedCalibrationSample(domain.CapacitanceSample{Pads: [6]uint16{100, 100, 100, 100, 100, 100}})
	}

	assert.Equal(t, [6]uint16{100, 100, 100, 100, 100, 100}, store.Get().Presence.Baselines)
}

func TestDispatcherSubscribesAllActionTopics(t *testing.T) {
	dir := t.TempDir()
	store := config.NewStore(filepath.Join(dir, "config.yaml"))
	require.NoError(t, store.Load())

	client := newFakeClient()
	pub := NewPublisher(client, testMetrics, Device{Name: "pod"}, DefaultPublisherOptions())
	disp := NewDispatcher(store, pub, presence.New(store.Get().PresenceConfig()), nil, nil)

	require.NoError(t, disp.Subscribe(context.Background(), client))

	for _, action := range AllActions() {
		client.mu.Lock()
		_, ok := client.handlers[actionTopic(action)]
		client.mu.Unlock()
		assert.True(t, ok, action)
	}

	// The default is false, so delivering true shows the message was routed.
	client.deliver(actionTopic(ActionSetAwayMode), "true")
	assert.Eventually(t, func() bool {
		return store.Get().AwayMode
	}, time.Second, 5*time.Millisecond)
}
