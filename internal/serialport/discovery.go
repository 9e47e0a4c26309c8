package serialport

import (
	"errors"
	"time"

	"github.com/opensleep/podcore/internal/common/logger"
)

// Discover implements spec.md §4.1's baud discovery strategy: open at
// one baud, send a lightweight probe, wait up to tProbe for any valid
// frame (framing errors keep listening, a read timeout ends the window),
// then try the next baud, cycling through bauds until one responds or the
// attempt cap below is reached, in which case the last error is returned.
//
// probe may be nil to mean "don't send anything, just listen" (useful
// when the subsystem chatters on its own).
func Discover(l *Link, bauds []int, probe *Frame, tProbe time.Duration) (Frame, error) {
	if len(bauds) == 0 {
		return Frame{}, errors.New("serialport: no bauds to try")
	}

	var lastErr error
	for i := 0; ; i++ {
		baud := bauds[i%len(bauds)]
		if err := l.Open(baud); err != nil {
			return Frame{}, err
		}
		logger.Debug("%s: discovery trying %d baud", l.Name(), baud)

		if probe != nil {
			if err := l.Send(*probe); err != nil {
				lastErr = err
			}
		}

		deadline := time.Now().Add(tProbe)
		for time.Now().Before(deadline) {
			f, err := l.Recv()
			if err == nil {
				logger.Info("%s: discovery succeeded at %d baud", l.Name(), baud)
				return f, nil
			}
			if errors.Is(err, ErrTimeout) {
				break
			}
			// Framing/checksum error: keep listening within this window,
			// the baud may still be right but we caught a partial frame.
			lastErr = err
		}

		if i >= len(bauds)*4 {
			// Defensive cap so a persistently silent/noisy link can't spin
			// the discovery loop forever; callers poll with their own
			// retry/backoff around Discover.
			if lastErr == nil {
				lastErr = errors.New("serialport: discovery exhausted without a response")
			}
			return Frame{}, lastErr
		}
	}
}
