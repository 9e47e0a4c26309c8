package frozen

import (
	"context"
	"sync"
	"time"

	"github.com/opensleep/podcore/internal/common/logger"
	"github.com/opensleep/podcore/internal/domain"
	"github.com/opensleep/podcore/internal/metrics"
	"github.com/opensleep/podcore/internal/serialport"
)

// Options tunes C2's timing constants (spec.md §4.2 names these in
// "order of X" terms; these are podcore's concrete choices).
type Options struct {
	QueueCapacity int
	TAlive        time.Duration // anti-sleep keepalive period
	TWake         time.Duration // wait for any packet after a wake ping
	TCmd          time.Duration // ack timeout
	NRetry        int
	RetryBase     time.Duration // exponential backoff base
	TickInterval  time.Duration // main loop resolution
}

// DefaultOptions matches the orders of magnitude in spec.md §4.2.
func DefaultOptions() Options {
	return Options{
		QueueCapacity: 16,
		TAlive:        10 * time.Second,
		TWake:         500 * time.Millisecond,
		TCmd:          2 * time.Second,
		NRetry:        3,
		RetryBase:     250 * time.Millisecond,
		TickInterval:  50 * time.Millisecond,
	}
}

// Manager is C2: owns the Frozen serial link, keeps it alive, serializes
// outgoing commands, and decodes incoming packets into a State.
type Manager struct {
	opts    Options
	link    *serialport.Link
	metrics *metrics.Registry
	queue   *commandQueue

	onState func(State)
	ledCh   chan<- LEDState

	mu    sync.RWMutex
	state State

	idMu sync.Mutex
	idSeq uint32

	wg sync.WaitGroup
}

// New creates a Manager bound to a Link. onState is invoked (from the
// manager's own goroutine; callers must not block) whenever State
// changes. ledCh receives coarse LED state transitions and must not
// block the manager (spec.md §4.2 "LED coupling") — pass a buffered
// channel.
func New(link *serialport.Link, reg *metrics.Registry, opts Options, onState func(State), ledCh chan<- LEDState) *Manager {
	return &Manager{
		opts:    opts,
		link:    link,
		metrics: reg,
		queue:   newCommandQueue(opts.QueueCapacity),
		onState: onState,
		ledCh:   ledCh,
	}
}

// Enqueue submits a command, returning ErrBusy if the queue is full.
func (m *Manager) Enqueue(cmd Command) error {
	_, err := m.queue.Enqueue(cmd)
	return err
}

// State returns a snapshot of the current FrozenState.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Run drives the manager until ctx is cancelled, then drains and
// returns. Run blocks; call it from its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	packets := make(chan Packet, 32)
	readerCtx, cancelReader := context.WithCancel(ctx)
	defer cancelReader()

	m.wg.Add(1)
	go m.readLoop(readerCtx, packets)

	var inFlight *inFlightCmd
	lastActivity := time.Now()

	ticker := time.NewTicker(m.opts.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.wg.Wait()
			return

		case pkt, ok := <-packets:
			if !ok {
				continue
			}
			m.handlePacket(pkt, &inFlight)

		case <-ticker.C:
			now := time.Now()

			if inFlight != nil && now.After(inFlight.deadline) {
				m.handleCommandTimeout(&inFlight)
			}

			if inFlight == nil {
				if cmd, ok := m.queue.Dequeue(); ok {
					lastActivity = now
					inFlight = m.dispatch(cmd, 0)
				} else if now.Sub(lastActivity) >= m.opts.TAlive {
					m.sendPing()
					lastActivity = now
				}
			}
		}
	}
}

type inFlightCmd struct {
	cmd      Command
	id       uint32
	deadline time.Time
	attempt  int
}

// dispatch wakes a possibly sleepy peer (spec.md §4.2 "Anti-sleep") before
// the first attempt of every newly dequeued command (retries skip the
// wake), then sends cmd and starts tracking its ack deadline.
func (m *Manager) dispatch(cmd Command, attempt int) *inFlightCmd {
	if attempt == 0 {
		m.wakeBeforeCommand()
	}
	return m.send(cmd, attempt)
}

func (m *Manager) send(cmd Command, attempt int) *inFlightCmd {
	id := m.nextCommandID()
	frame := EncodeCommand(cmd, id)
	if err := m.link.Send(frame); err != nil {
		logger.Warn("frozen: send failed: %v", err)
	}
	if cmd.Kind == CmdSetSideTarget {
		m.setLED(LEDActive)
	} else if cmd.Kind == CmdDisableSide {
		m.setLED(LEDIdle)
	} else if cmd.Kind == CmdStartPrime {
		m.setLED(LEDPrimeRunning)
	}
	return &inFlightCmd{cmd: cmd, id: id, deadline: time.Now().Add(m.opts.TCmd), attempt: attempt}
}

func (m *Manager) nextCommandID() uint32 {
	m.idMu.Lock()
	defer m.idMu.Unlock()
	m.idSeq++
	return m.idSeq
}

func (m *Manager) wakeBeforeCommand() {
	id := m.nextCommandID()
	frame := EncodeCommand(Command{Kind: CmdPing}, id)
	if err := m.link.Send(frame); err != nil {
		logger.Debug("frozen: wake ping failed: %v", err)
		return
	}
	deadline := time.Now().Add(m.opts.TWake)
	for time.Now().Before(deadline) {
		if _, err := m.link.Recv(); err == nil {
			return
		}
	}
}

func (m *Manager) sendPing() {
	id := m.nextCommandID()
	m.metrics.QueueDepth.WithLabelValues("frozen").Set(float64(m.queue.Len()))
	if err := m.link.Send(EncodeCommand(Command{Kind: CmdPing}, id)); err != nil {
		logger.Debug("frozen: keepalive ping failed: %v", err)
	}
}

func (m *Manager) handlePacket(pkt Packet, inFlight **inFlightCmd) {
	switch pkt.Kind {
	case PacketHardwareInfo:
		m.mu.Lock()
		m.state.HardwareInfo = pkt.HardwareInfo
		m.mu.Unlock()
		m.publish()

	case PacketModeChanged:
		m.mu.Lock()
		m.state.Mode = pkt.Mode
		m.mu.Unlock()
		m.publish()

	case PacketTemps:
		m.mu.Lock()
		m.state.LeftTemp = pkt.LeftTemp
		m.state.RightTemp = pkt.RightTemp
		m.state.HeatsinkTemp = pkt.HeatsinkTemp
		m.mu.Unlock()
		m.publish()

	case PacketTargetEcho:
		m.mu.Lock()
		if pkt.Side == domain.Left {
			m.state.LeftTarget = pkt.Target
		} else {
			m.state.RightTarget = pkt.Target
		}
		m.mu.Unlock()
		m.publish()

	case PacketPrimeComplete:
		m.mu.Lock()
		m.state.Priming = false
		m.mu.Unlock()
		m.publish()

	case PacketAck:
		if *inFlight != nil && (*inFlight).id == pkt.CmdID {
			cur := *inFlight
			switch cur.cmd.Kind {
			case CmdStartPrime:
				m.mu.Lock()
				m.state.Priming = true
				m.mu.Unlock()
				m.publish()
			case CmdStopPrime:
				m.mu.Lock()
				m.state.Priming = false
				m.mu.Unlock()
				m.publish()
			}
			*inFlight = nil
		}

	case PacketNack:
		if *inFlight != nil && (*inFlight).id == pkt.CmdID {
			cur := *inFlight
			logger.Warn("frozen: nack for command %d: %s", pkt.CmdID, pkt.NackReason)
			m.retryOrFail(inFlight, cur)
		}

	case PacketUnknown:
		m.metrics.ProtocolErrors.WithLabelValues("frozen").Inc()
	}
}

func (m *Manager) handleCommandTimeout(inFlight **inFlightCmd) {
	cur := *inFlight
	logger.Warn("frozen: command %d timed out (attempt %d)", cur.id, cur.attempt)
	m.retryOrFail(inFlight, cur)
}

func (m *Manager) retryOrFail(inFlight **inFlightCmd, cur *inFlightCmd) {
	m.metrics.CommandRetries.WithLabelValues("frozen").Inc()
	if cur.attempt >= m.opts.NRetry {
		m.metrics.CommandFailures.WithLabelValues("frozen").Inc()
		logger.Error("frozen: command %d exhausted retries", cur.id)
		*inFlight = nil
		return
	}
	backoff := m.opts.RetryBase << uint(cur.attempt)
	time.Sleep(backoff)
	*inFlight = m.send(cur.cmd, cur.attempt+1)
}

func (m *Manager) setLED(s LEDState) {
	if m.ledCh == nil {
		return
	}
	select {
	case m.ledCh <- s:
	default:
	}
}

func (m *Manager) publish() {
	if m.onState == nil {
		return
	}
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
			m.metrics.ProtocolErrors.WithLabelValues("frozen").Inc()
			continue
		}
		pkt, err := DecodePacket(frame)
		if err != nil {
			m.metrics.ProtocolErrors.WithLabelValues("frozen").Inc()
			continue
		}
		select {
		case out <- pkt:
		case <-ctx.Done():
			return
		}
	}
}
