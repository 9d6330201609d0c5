package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeNowAdvances(t *testing.T) {
	c := Fake(epoch)
	require.True(t, c.Now().Equal(epoch))

	c.Advance(5 * time.Second)
	assert.True(t, c.Now().Equal(epoch.Add(5*time.Second)))
}

func TestFakeAfterFuncFiresAtDeadline(t *testing.T) {
	c := Fake(epoch)
	fired := 0
	c.AfterFunc(3*time.Second, func() { fired++ })

	c.Advance(2 * time.Second)
	assert.Equal(t, 0, fired)

	c.Advance(time.Second)
	assert.Equal(t, 1, fired)

	c.Advance(10 * time.Second)
	assert.Equal(t, 1, fired, "one-shot timer fired twice")
	assert.Equal(t, 0, c.PendingCount())
}

func TestFakeAfterFuncStop(t *testing.T) {
	c := Fake(epoch)
	fired := false
	timer := c.AfterFunc(time.Second, func() { fired = true })

	assert.True(t, timer.Stop())
	assert.False(t, timer.Stop(), "second Stop should report nothing pending")

	c.Advance(time.Minute)
	assert.False(t, fired)
}

func TestFakeAfterFuncFiresInDeadlineOrder(t *testing.T) {
	c := Fake(epoch)
	var order []string
	c.AfterFunc(3*time.Second, func() { order = append(order, "c") })
	c.AfterFunc(time.Second, func() { order = append(order, "a") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	c.AfterFunc(2*time.Second, func() { order = append(order, "b2") })

	c.Advance(5 * time.Second)
	assert.Equal(t, []string{"a", "b", "b2", "c"}, order)
}

func TestFakeAfterFuncRearmedFromCallback(t *testing.T) {
	c := Fake(epoch)
	count := 0
	var rearm func()
	rearm = func() {
		count++
		c.AfterFunc(time.Second, rearm)
	}
	c.AfterFunc(time.Second, rearm)

	// A callback re-armed during Advance is scheduled from the new time, so
	// it waits for the next Advance.
	c.Advance(5 * time.Second)
	assert.Equal(t, 1, count)
	c.Advance(time.Second)
	assert.Equal(t, 2, count)
}

func TestFakeTicker(t *testing.T) {
	c := Fake(epoch)
	ticker := c.NewTicker(time.Second)

	c.Advance(time.Second)
	select {
	case <-ticker.C:
	default:
		t.Fatal("ticker did not fire")
	}

	ticker.Stop()
	c.Advance(time.Second)
	select {
	case <-ticker.C:
		t.Fatal("stopped ticker fired")
	default:
	}
}
