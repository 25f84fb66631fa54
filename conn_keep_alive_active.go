package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// HeartbeatMonitor periodically sends a liveness probe on an established connection. Any
// inbound traffic reported through Touch counts as evidence of liveness. With a positive
// timeout, a probe that is not followed by inbound traffic within that window declares the
// connection dead. A monitor serves exactly one connection; a new one is built per session.
type HeartbeatMonitor struct {
	interval time.Duration
	timeout  time.Duration
	probe    func() error
	onDead   func(error)
	logger   Logger

	lastSeen atomic.Int64

	startOnce sync.Once
	stopOnce  sync.Once
	closeC    chan struct{}
}

func NewHeartbeatMonitor(
	logger Logger,
	interval time.Duration,
	timeout time.Duration,
	probe func() error,
	onDead func(error),
) *HeartbeatMonitor {
	h := &HeartbeatMonitor{
		interval: interval,
		timeout:  timeout,
		probe:    probe,
		onDead:   onDead,
		logger:   logger.WithField("component", "heartbeat"),
		closeC:   make(chan struct{}),
	}
	h.Touch()
	return h
}

// Start spawns the probe routine. It only executes once and is a no-op for a
// non-positive interval.
func (h *HeartbeatMonitor) Start() {
	if h.interval <= 0 {
		return
	}
	h.startOnce.Do(func() {
		go h.run()
	})
}

// Stop terminates the probe routine without waiting for it. Callbacks already in flight may
// still run; the owner is expected to ignore them.
func (h *HeartbeatMonitor) Stop() {
	h.stopOnce.Do(func() {
		close(h.closeC)
	})
}

// Touch records inbound traffic.
func (h *HeartbeatMonitor) Touch() {
	h.lastSeen.Store(time.Now().UnixNano())
}

func (h *HeartbeatMonitor) LastSeen() time.Time {
	return time.Unix(0, h.lastSeen.Load())
}

func (h *HeartbeatMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var (
		deadline *time.Timer
		expired  <-chan time.Time
		armedAt  int64
	)
	defer func() {
		if deadline != nil {
			deadline.Stop()
		}
	}()

	for {
		select {
		case <-h.closeC:
			return
		case <-ticker.C:
			probedAt := time.Now().UnixNano()
			if err := h.probe(); err != nil {
				h.logger.Warnf("heartbeat probe failed: %s", err)
				h.dead(errors.Wrap(ErrConnectionClosed, err.Error()))
				return
			}
			h.logger.Debugln("=> [HEARTBEAT]")

			if h.timeout > 0 && expired == nil {
				deadline = time.NewTimer(h.timeout)
				expired = deadline.C
				armedAt = probedAt
			}
		case <-expired:
			expired = nil
			deadline = nil
			if h.lastSeen.Load() < armedAt {
				h.logger.Warnf("no inbound traffic within %s of heartbeat", h.timeout)
				h.dead(ErrHeartbeatTimeout)
				return
			}
		}
	}
}

func (h *HeartbeatMonitor) dead(err error) {
	select {
	case <-h.closeC:
		return
	default:
	}
	h.onDead(err)
}
