package testutil

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFakeClock_FiresInDeadlineOrder(t *testing.T) {
	c := NewFakeClock(time.Unix(100, 0))
	var order []string

	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(time.Second, func() { order = append(order, "b") })

	c.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, time.Unix(102, 0), c.Now())
	assert.Equal(t, 1, c.PendingTimers())

	c.Advance(time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestFakeClock_Stop(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	fired := false
	tm := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, tm.Stop())
	assert.False(t, tm.Stop())

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeClock_StopAfterFire(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	tm := c.AfterFunc(time.Second, func() {})
	c.Advance(time.Second)
	assert.False(t, tm.Stop())
}

func TestFakeClock_CallbackSeesDeadlineTime(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	var seen time.Time
	c.AfterFunc(250*time.Millisecond, func() { seen = c.Now() })

	c.Advance(time.Second)
	assert.Equal(t, time.Unix(0, 0).Add(250*time.Millisecond), seen)
	assert.Equal(t, time.Unix(1, 0), c.Now())
}

func TestFakeClock_RearmInsideCallback(t *testing.T) {
	c := NewFakeClock(time.Unix(0, 0))
	ticks := 0
	var tick func()
	tick = func() {
		ticks++
		c.AfterFunc(time.Second, tick)
	}
	c.AfterFunc(time.Second, tick)

	c.Advance(3500 * time.Millisecond)
	assert.Equal(t, 3, ticks)
	assert.Equal(t, 1, c.PendingTimers())
}

func TestFakeClock_AdvanceTo(t *testing.T) {
	c := NewFakeClock(time.Unix(10, 0))
	c.AdvanceTo(time.Unix(5, 0))
	assert.Equal(t, time.Unix(10, 0), c.Now())

	c.AdvanceTo(time.Unix(12, 0))
	assert.Equal(t, time.Unix(12, 0), c.Now())
}

func TestManualExecutor(t *testing.T) {
	e := NewManualExecutor()
	var order []int
	e.Go(func() { order = append(order, 1) })
	e.Go(func() { order = append(order, 2) })
	e.Go(func() { order = append(order, 3) })

	assert.Equal(t, 3, e.Pending())
	assert.True(t, e.RunLast())
	assert.True(t, e.RunNext())
	assert.Equal(t, []int{3, 1}, order)

	assert.Equal(t, 1, e.RunAll())
	assert.False(t, e.RunNext())
	assert.False(t, e.Run(5))
	assert.Equal(t, []int{3, 1, 2}, order)
}
