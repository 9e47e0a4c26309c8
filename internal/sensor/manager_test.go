package sensor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/serialport"
)

// fakePort is an in-memory serialport.Port; see internal/frozen's twin for
// the same shape (no shared test helper across packages, to keep each
// package's tests free-standing the way the daemon/workflow tests are).
type fakePort struct {
	mu      sync.Mutex
	timeout time.Duration
	queued  []byte
}

func newFakePort() *fakePort {
	return &fakePort{timeout: time.Second}
}

func (p *fakePort) Write(b []byte) (int, error) { return len(b), nil }

func (p *fakePort) Read(buf []byte) (int, error) {
	deadline := time.Now().Add(p.timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		if len(p.queued) > 0 {
			n := copy(buf, p.queued)
			p.queued = p.queued[n:]
			p.mu.Unlock()
			return n, nil
		}
		p.mu.Unlock()
		time.Sleep(2 * time.Millisecond)
	}
	return 0, nil
}

func (p *fakePort) push(b []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.queued = append(p.queued, b...)
}

func (p *fakePort) SetReadTimeout(d time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.timeout = d
	return nil
}

func (p *fakePort) Close() error { return nil }

var testMetrics = metrics.New()

func testLink(t *testing.T, port *fakePort) *serialport.Link {
	t.Helper()
	l := serialport.New("sensor-test", "fake", func(string, int) (serialport.Port, error) {
		return port, nil
	}, 20*time.Millisecond)
	require.NoError(t, l.Open(38400))
	return l
}

func fastOptions() Options {
	o := DefaultOptions()
	o.TProbe = 20 * time.Millisecond
	o.TSilent = 150 * time.Millisecond
	o.TPub = 30 * time.Millisecond
	o.TCmd = 40 * time.Millisecond
	o.NRetry = 1
	o.RetryBase = 5 * time.Millisecond
	o.TickInterval = 5 * time.Millisecond
	o.ErrorWindow = 100 * time.Millisecond
	o.ErrorThresh = 3
	return o
}

// Property 11: no capacitance sample is forwarded before ModeChanged
// reports Firmware.
func TestManagerGatesTelemetryUntilFirmware(t *testing.T) {
	port := newFakePort()
	link := testLink(t, port)

	samples := make(chan domain.CapacitanceSample, 8)
	var mu sync.Mutex
	var publishCount int
	onState := func(State) {
		mu.Lock()
		defer mu.Unlock()
		publishCount++
	}

	mgr := New(link, testMetrics, fastOptions(), onState, samples)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { mgr.stream(ctx) }()

	cap := make([]byte, 12)
	port.push(serialport.Encode(serialport.Frame{Type: opCapacitance, Payload: cap}))

	time.Sleep(30 * time.Millisecond)
	select {
	case <-samples:
		t.Fatal("capacitance sample forwarded before Firmware mode")
	default:
	}

	port.push(serialport.Encode(serialport.Frame{Type: opModeChanged, Payload: []byte{2}}))
	require.Eventually(t, func() bool {
		return mgr.State().Mode == domain.ModeFirmware
	}, 500*time.Millisecond, 5*time.Millisecond)

	port.push(serialport.Encode(serialport.Frame{Type: opCapacitance, Payload: cap}))
	assert.Eventually(t, func() bool {
		select {
		case <-samples:
			return true
		default:
			return false
		}
	}, 500*time.Millisecond, 5*time.Millisecond)
}

// Telemetry publishes coalesce to at most one per TPub window.
func TestManagerCoalescesTelemetryPublishes(t *testing.T) {
	port := newFakePort()
	link := testLink(t, port)

	var mu sync.Mutex
	publishCount := 0
	onState := func(State) {
		mu.Lock()
		defer mu.Unlock()
		publishCount++
	}

	opts := fastOptions()
	mgr := New(link, testMetrics, opts, onState, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { mgr.stream(ctx) }()

	port.push(serialport.Encode(serialport.Frame{Type: opModeChanged, Payload: []byte{2}}))
	require.Eventually(t, func() bool {
		return mgr.State().Mode == domain.ModeFirmware
	}, 500*time.Millisecond, 5*time.Millisecond)

	telemetry := make([]byte, 8)
	for i := 0; i < 10; i++ {
		port.push(serialport.Encode(serialport.Frame{Type: opTelemetry, Payload: telemetry}))
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	count := publishCount
	mu.Unlock()
	// ModeChanged forces one publish, telemetry coalesces to at most a
	// couple more within the short window above — well under 10.
	assert.Less(t, count, 6)
}
