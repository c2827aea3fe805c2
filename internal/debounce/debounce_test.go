package debounce

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTriggerCollapses(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	d := New("render", time.Second, clock, nil)

	var runs []int
	for i := 1; i <= 10; i++ {
		i := i
		if i > 1 {
			clock.Advance(100 * time.Millisecond)
		}
		d.Trigger(func() { runs = append(runs, i) })
	}
	// Last trigger at +900ms; the action is due at +1900ms.
	assert.Empty(t, runs)
	assert.True(t, d.Pending())

	clock.Advance(999 * time.Millisecond)
	assert.Empty(t, runs)

	clock.Advance(time.Millisecond)
	assert.Equal(t, []int{10}, runs)
	assert.False(t, d.Pending())
	assert.Equal(t, 0, clock.Pending())
}

func TestCancel(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))
	d := New("save", 2*time.Second, clock, nil)

	ran := false
	d.Trigger(func() { ran = true })
	assert.True(t, d.Cancel())
	assert.False(t, d.Cancel())

	clock.Advance(5 * time.Second)
	assert.False(t, ran)
}

func TestCancelAfterFireBeforePost(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var queued []func()
	post := func(f func()) { queued = append(queued, f) }
	d := New("render", time.Second, clock, post)

	ran := false
	d.Trigger(func() { ran = true })
	clock.Advance(time.Second)
	assert.Len(t, queued, 1)

	// The loop cancels before it gets to the posted call.
	d.Cancel()
	for _, f := range queued {
		f()
	}
	assert.False(t, ran)
}

func TestRetriggerAfterFireBeforePost(t *testing.T) {
	clock := NewFakeClock(time.Unix(0, 0))

	var queued []func()
	d := New("render", time.Second, clock, func(f func()) { queued = append(queued, f) })

	var got []string
	d.Trigger(func() { got = append(got, "first") })
	clock.Advance(time.Second)
	d.Trigger(func() { got = append(got, "second") })

	for _, f := range queued {
		f()
	}
	assert.Empty(t, got)

	queued = nil
	clock.Advance(time.Second)
	for _, f := range queued {
		f()
	}
	assert.Equal(t, []string{"second"}, got)
}

func TestRealClock(t *testing.T) {
	d := New("real", 10*time.Millisecond, nil, nil)

	var n int32
	done := make(chan struct{})
	d.Trigger(func() {
		atomic.AddInt32(&n, 1)
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("debounced action did not run")
	}
	assert.Equal(t, int32(1), atomic.LoadInt32(&n))
	assert.Equal(t, "real", d.Name())
	assert.Equal(t, 10*time.Millisecond, d.Delay())
}
