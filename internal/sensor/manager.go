package sensor

import (
	"context"
	"sync"
	"time"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/serialport"
)

// Options tunes C3's timing constants (spec.md §4.1, §4.3).
type Options struct {
	QueueCapacity int
	Bauds         []int // tried in order during discovery; spec.md §4.1
	TProbe        time.Duration
	TSilent       time.Duration // idle-link threshold that re-enters discovery
	TPub          time.Duration // telemetry publish coalescing window
	TCmd          time.Duration
	NRetry        int
	RetryBase     time.Duration
	TickInterval  time.Duration
	ErrorWindow   time.Duration // sliding window for decode-error-rate tracking
	ErrorThresh   int           // errors within ErrorWindow that trigger re-discovery
}

// DefaultOptions matches spec.md's stated orders of magnitude (bootloader
// 38400 / firmware 115200 on /dev/ttymxc2, T_probe/T_silent unspecified
// precisely, chosen here in the same ballpark as C2's constants).
func DefaultOptions() Options {
	return Options{
		QueueCapacity: 16,
		Bauds:         []int{38400, 115200},
		TProbe:        300 * time.Millisecond,
		TSilent:       3 * time.Second,
		TPub:          time.Second,
		TCmd:          2 * time.Second,
		NRetry:        3,
		RetryBase:     250 * time.Millisecond,
		TickInterval:  50 * time.Millisecond,
		ErrorWindow:   3 * time.Second,
		ErrorThresh:   5,
	}
}

// Manager is C3: discovers the Sensor MCU's mode, streams telemetry once
// in Firmware mode, and forwards capacitance samples to the presence
// detector (C4).
type Manager struct {
	opts    Options
	link    *serialport.Link
	metrics *metrics.Registry
	queue   *commandQueue

	onState func(State)
	samples chan<- domain.CapacitanceSample

	mu    sync.RWMutex
	state State

	idMu  sync.Mutex
	idSeq uint32

	wg sync.WaitGroup
}

// New creates a Manager. samples receives a CapacitanceSample per reading
// while in Firmware mode; callers must not block on it (use a buffered
// channel sized for bursts).
func New(link *serialport.Link, reg *metrics.Registry, opts Options, onState func(State), samples chan<- domain.CapacitanceSample) *Manager {
	return &Manager{
		opts:    opts,
		link:    link,
		metrics: reg,
		queue:   newCommandQueue(opts.QueueCapacity),
		onState: onState,
		samples: samples,
	}
}

// Enqueue submits a command, returning ErrBusy if the queue is full.
func (m *Manager) Enqueue(cmd Command) error {
	_, err := m.queue.Enqueue(cmd)
	return err
}

// State returns a snapshot of the current SensorState.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run drives discovery and streaming until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		if err := m.discover(ctx); err != nil {
			logger.Warn("sensor: discovery failed: %v", err)
			if ctx.Err() != nil {
				return
			}
			time.Sleep(200 * time.Millisecond)
			continue
		}
		m.metrics.LinkDiscoveries.WithLabelValues("sensor").Inc()
		if !m.stream(ctx) {
			return
		}
		// stream() returned because it wants re-discovery (link flap); loop.
	}
}

func (m *Manager) discover(ctx context.Context) error {
	_, err := serialport.Discover(m.link, m.opts.Bauds, nil, m.opts.TProbe)
	return err
}

// stream runs the Firmware-mode telemetry loop. Returns false if ctx was
// cancelled (caller should stop), true if it wants to re-enter discovery
// (link flap per spec.md E5).
func (m *Manager) stream(ctx context.Context) bool {
	packets := make(chan Packet, 64)
	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()

	m.wg.Add(1)
	go m.readLoop(readerCtx, packets)

	var inFlight *inFlightCmd
	lastRecv := time.Now()
	lastPublish := time.Time{}
	var errTimes []time.Time

	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return false

		case pkt, ok := <-packets:
			if !ok {
				m.wg.Wait()
				return true
			}
			lastRecv = time.Now()
			if pkt.Kind == PacketUnknown {
				errTimes = append(errTimes, time.Now())
				errTimes = pruneErrors(errTimes, m.opts.ErrorWindow)
				if len(errTimes) > m.opts.ErrorThresh {
					logger.Warn("sensor: decode error rate exceeded, re-discovering")
					cancelReader()
					m.wg.Wait()
					return true
				}
			}
			m.handlePacket(pkt, &inFlight, &lastPublish)

		case <-ticker.C:
			now := time.Now()

			if now.Sub(lastRecv) >= m.opts.TSilent {
				logger.Warn("sensor: link silent for %s, re-discovering", m.opts.TSilent)
				cancelReader()
				m.wg.Wait()
				return true
			}

			if inFlight != nil && now.After(inFlight.deadline) {
				inFlight = m.handleCommandTimeout(inFlight)
			}

			if inFlight == nil {
				if cmd, ok := m.queue.Dequeue(); ok {
					inFlight = m.send(cmd, 0)
				}
			}
		}
	}
}

func pruneErrors(times []time.Time, window time.Duration) []time.Time {
	cutoff := time.Now().Add(-window)
	out := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			out = append(out, t)
		}
	}
	return out
}

type inFlightCmd struct {
	cmd      Command
	id       uint32
	deadline time.Time
	attempt  int
}

func (m *Manager) nextCommandID() uint32 {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.idSeq++
	return m.idSeq
}

func (m *Manager) send(cmd Command, attempt int) *inFlightCmd {
	id := m.nextCommandID()
	frame := EncodeCommand(cmd, id)
	if err := m.link.Send(frame); err != nil {
		logger.Warn("sensor: send failed: %v", err)
	}
	return &inFlightCmd{cmd: cmd, id: id, deadline: time.Now().Add(m.opts.TCmd), attempt: attempt}
}

func (m *Manager) handleCommandTimeout(cur *inFlightCmd) *inFlightCmd {
	m.metrics.CommandRetries.WithLabelValues("sensor").Inc()
	if cur.attempt >= m.opts.NRetry {
		m.metrics.CommandFailures.WithLabelValues("sensor").Inc()
		logger.Error("sensor: command %d exhausted retries", cur.id)
		return nil
	}
	backoff := m.opts.RetryBase << uint(cur.attempt)
	time.Sleep(backoff)
	return m.send(cur.cmd, cur.attempt+1)
}

func (m *Manager) handlePacket(pkt Packet, inFlight **inFlightCmd, lastPublish *time.Time) {
	switch pkt.Kind {
	case PacketHardwareInfo:
		m.mu.Lock()
		m.state.HardwareInfo = pkt.HardwareInfo
		m.mu.Unlock()
		m.publish(lastPublish, true)

	case PacketModeChanged:
		m.mu.Lock()
		m.state.Mode = pkt.Mode
		m.mu.Unlock()
		m.publish(lastPublish, true)

	case PacketCapacitance:
		// Mode gating (spec.md property 11): only forward/publish
		// telemetry once Firmware mode has been confirmed.
		if m.State().Mode != domain.ModeFirmware {
			return
		}
		if m.samples != nil {
			select {
			case m.samples <- pkt.Capacitance:
			default:
			}
		}

	case PacketPiezo:
		if m.State().Mode != domain.ModeFirmware {
			return
		}
		m.mu.Lock()
		m.state.PiezoOK = true
		m.mu.Unlock()
		m.publish(lastPublish, false)

	case PacketTelemetry:
		if m.State().Mode != domain.ModeFirmware {
			return
		}
		m.mu.Lock()
		m.state.BedTemp = pkt.BedTemp
		m.state.AmbientTemp = pkt.AmbientTemp
		m.state.HumidityPct = pkt.HumidityPct
		m.state.McuTemp = pkt.McuTemp
		m.mu.Unlock()
		m.publish(lastPublish, false)

	case PacketAck:
		if *inFlight != nil && (*inFlight).id == pkt.CmdID {
			*inFlight = nil
		}

	case PacketNack:
		if *inFlight != nil && (*inFlight).id == pkt.CmdID {
			logger.Warn("sensor: nack for command %d: %s", pkt.CmdID, pkt.NackReason)
			*inFlight = m.handleCommandTimeout(*inFlight)
		}

	case PacketUnknown:
		m.metrics.ProtocolErrors.WithLabelValues("sensor").Inc()
	}
}

// publish coalesces high-frequency telemetry changes to at most one
// publish per TPub (spec.md §4.3); force bypasses the window for
// high-value transitions (hwinfo, mode) that should never be dropped.
func (m *Manager) publish(lastPublish *time.Time, force bool) {
	if m.onState == nil {
		return
	}
	now := time.Now()
	if !force && now.Sub(*lastPublish) < m.opts.TPub {
		return
	}
	*lastPublish = now
	m.onState(m.State())
}

func (m *Manager) readLoop(ctx context.Context, out chan<- Packet) {
	defer m.wg.Done()
	defer close(out)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		frame, err := m.link.Recv()
		if err != nil {
			if err == serialport.ErrTimeout {
				continue
			}
			select {
			case out <- Packet{Kind: PacketUnknown}:
			case <-ctx.Done():
				return
			}
			continue
		}
		pkt, err := DecodePacket(frame)
		if err != nil {
			select {
			case out <- Packet{Kind: PacketUnknown}:
			case <-ctx.Done():
				return
			}
			continue
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return
		}
	}
}
