package realtime

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type deadRecorder struct {
	mu   sync.Mutex
	errs []error
}

func (d *deadRecorder) onDead(err error) {
	d.mu.Lock()
	d.errs = append(d.errs, err)
	d.mu.Unlock()
}

func (d *deadRecorder) all() []error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]error(nil), d.errs...)
}

func TestHeartbeatMonitor_ProbesEveryInterval(t *testing.T) {
	var probes atomic.Int32
	dead := &deadRecorder{}

	hb := NewHeartbeatMonitor(NewNoopLogger(), 5*time.Millisecond, 0, func() error {
		probes.Add(1)
		return nil
	}, dead.onDead)
	hb.Start()
	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool { return probes.Load() >= 3 }, time.Second, time.Millisecond)
	assert.Empty(t, dead.all())
}

func TestHeartbeatMonitor_DisabledWithoutInterval(t *testing.T) {
	var probes atomic.Int32
	hb := NewHeartbeatMonitor(NewNoopLogger(), 0, 0, func() error {
		probes.Add(1)
		return nil
	}, func(error) {})
	hb.Start()
	defer hb.Stop()

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, probes.Load())
}

func TestHeartbeatMonitor_ProbeFailureIsFatal(t *testing.T) {
	dead := &deadRecorder{}
	hb := NewHeartbeatMonitor(NewNoopLogger(), 5*time.Millisecond, 0, func() error {
		return errors.New("broken pipe")
	}, dead.onDead)
	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool { return len(dead.all()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, dead.all()[0], ErrConnectionClosed)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, dead.all(), 1)
}

func TestHeartbeatMonitor_TimeoutWithoutTraffic(t *testing.T) {
	dead := &deadRecorder{}
	hb := NewHeartbeatMonitor(NewNoopLogger(), 5*time.Millisecond, 10*time.Millisecond, func() error {
		return nil
	}, dead.onDead)
	hb.Start()
	defer hb.Stop()

	require.Eventually(t, func() bool { return len(dead.all()) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, dead.all()[0], ErrHeartbeatTimeout)
}

func TestHeartbeatMonitor_TrafficDefersTimeout(t *testing.T) {
	dead := &deadRecorder{}
	hb := NewHeartbeatMonitor(NewNoopLogger(), 5*time.Millisecond, 15*time.Millisecond, func() error {
		return nil
	}, dead.onDead)
	hb.Start()
	defer hb.Stop()

	stop := time.After(80 * time.Millisecond)
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
loop:
	for {
		select {
		case <-stop:
			break loop
		case <-ticker.C:
			hb.Touch()
		}
	}

	assert.Empty(t, dead.all())
	assert.WithinDuration(t, time.Now(), hb.LastSeen(), 50*time.Millisecond)
}

func TestHeartbeatMonitor_StopSilencesCallbacks(t *testing.T) {
	dead := &deadRecorder{}
	hb := NewHeartbeatMonitor(NewNoopLogger(), 5*time.Millisecond, 5*time.Millisecond, func() error {
		return nil
	}, dead.onDead)
	hb.Start()
	hb.Stop()
	hb.Stop()

	time.Sleep(30 * time.Millisecond)
	assert.Empty(t, dead.all())
}
