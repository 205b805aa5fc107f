package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/adminsync/internal/testutil"
)

type scriptedProber struct {
	mu    sync.Mutex
	fail  bool
	calls atomic.Int32
}

func (p *scriptedProber) setFail(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.fail = v
}

func (p *scriptedProber) Probe(context.Context) error {
	p.calls.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.fail {
		return errors.New("down")
	}
	return nil
}

type transition struct{ prev, next State }

func TestGate_UnknownAllows(t *testing.T) {
	g := NewGate(&scriptedProber{})
	assert.Equal(t, Unknown, g.State())
	assert.True(t, g.Allow())
}

func TestGate_ProbeTransitions(t *testing.T) {
	p := &scriptedProber{}
	g := NewGate(p)
	var seen []transition
	g.OnTransition(func(prev, next State) { seen = append(seen, transition{prev, next}) })

	assert.Equal(t, Healthy, g.Probe(context.Background()))
	assert.Equal(t, Healthy, g.Probe(context.Background()))

	p.setFail(true)
	assert.Equal(t, Unhealthy, g.Probe(context.Background()))
	assert.False(t, g.Allow())

	p.setFail(false)
	g.Probe(context.Background())
	assert.True(t, g.Allow())

	assert.Equal(t, []transition{
		{Unknown, Healthy},
		{Healthy, Unhealthy},
		{Unhealthy, Healthy},
	}, seen, "repeated states do not notify")
}

func TestGate_CancelledProbeKeepsState(t *testing.T) {
	p := &scriptedProber{}
	p.setFail(true)
	g := NewGate(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, Unknown, g.Probe(ctx))
}

func TestGate_RunSchedule(t *testing.T) {
	fc := testutil.NewFakeClock(time.Unix(0, 0))
	p := &scriptedProber{}
	g := NewGate(p, WithClock(fc), WithInitialDelay(5*time.Second), WithInterval(time.Minute))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = g.Run(ctx)
		close(done)
	}()

	waitTimer := func() {
		require.Eventually(t, func() bool { return fc.PendingTimers() == 1 }, time.Second, time.Millisecond)
	}

	waitTimer()
	fc.Advance(4 * time.Second)
	assert.Equal(t, int32(0), p.calls.Load(), "no probe before the initial delay")

	fc.Advance(time.Second)
	waitTimer()
	assert.Equal(t, int32(1), p.calls.Load())

	fc.Advance(time.Minute)
	waitTimer()
	assert.Equal(t, int32(2), p.calls.Load())

	cancel()
	<-done
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "unknown", Unknown.String())
	assert.Equal(t, "healthy", Healthy.String())
	assert.Equal(t, "unhealthy", Unhealthy.String())
}
