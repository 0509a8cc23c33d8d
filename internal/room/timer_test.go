package room

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withFrozenClock pins the package clock for a test.
func withFrozenClock(t *testing.T) *time.Time {
	t.Helper()
	now := time.Date(2026, 3, 14, 15, 0, 0, 0, time.UTC)
	timeNow = func() time.Time { return now }
	t.Cleanup(func() { timeNow = time.Now })
	return &now
}

func TestTimerLifecycle(t *testing.T) {
	now := withFrozenClock(t)
	e, _, pub := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	st, _ := e.store.Get("483920")
	assert.False(t, st.Timer.Active())

	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: 60000})
	require.True(t, st.Timer.IsRunning)
	assert.False(t, st.Timer.IsPaused)
	assert.Equal(t, int64(60000), st.Timer.DurationMs)
	assert.Equal(t, now.UnixMilli()+60000, st.Timer.EndTimeEpochMs)

	ev, ok := pub.last(EventTimerUpdate)
	require.True(t, ok)
	assert.Equal(t, st.Timer, ev.payload.(TimerState))

	*now = now.Add(10 * time.Second)
	e.PauseTimer("c1", "483920")
	assert.False(t, st.Timer.IsRunning)
	assert.True(t, st.Timer.IsPaused)
	assert.Equal(t, int64(50000), st.Timer.RemainingMs, "pause freezes the remainder")
	assert.Zero(t, st.Timer.EndTimeEpochMs)

	// Wall-clock time passing while paused must not drain the timer.
	*now = now.Add(5 * time.Minute)
	e.ResumeTimer("c1", "483920")
	assert.True(t, st.Timer.IsRunning)
	assert.False(t, st.Timer.IsPaused)
	assert.Equal(t, now.UnixMilli()+50000, st.Timer.EndTimeEpochMs)

	e.ResetTimer("c1", "483920")
	assert.Equal(t, TimerState{DurationMs: 60000, RemainingMs: 60000}, st.Timer)
	assert.False(t, st.Timer.Active())
}

func TestTimerTransitionsGuarded(t *testing.T) {
	withFrozenClock(t)
	e, _, _ := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	st, _ := e.store.Get("483920")

	// Pause and resume from the wrong state are no-ops.
	e.PauseTimer("c1", "483920")
	assert.False(t, st.Timer.Active())
	e.ResumeTimer("c1", "483920")
	assert.False(t, st.Timer.Active())

	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: 60000})
	e.ResumeTimer("c1", "483920")
	assert.True(t, st.Timer.IsRunning)

	// Restart while running replaces the countdown outright.
	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: 30000})
	assert.Equal(t, int64(30000), st.Timer.DurationMs)
}

func TestTimerHostOnly(t *testing.T) {
	withFrozenClock(t)
	e, _, _ := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	join(e, "c2", "483920", "u2", "bob")
	st, _ := e.store.Get("483920")

	e.StartTimer("c2", StartTimerPayload{RoomCode: "483920", Duration: 60000})
	assert.False(t, st.Timer.Active())

	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: 60000})
	e.PauseTimer("c2", "483920")
	assert.True(t, st.Timer.IsRunning)
	e.ResetTimer("c2", "483920")
	assert.True(t, st.Timer.Active())
}

func TestStartTimerRejectsBadDuration(t *testing.T) {
	withFrozenClock(t)
	e, _, _ := newTestEngine(t)

	join(e, "c1", "483920", "u1", "alice")
	st, _ := e.store.Get("483920")

	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: 0})
	assert.False(t, st.Timer.Active())
	e.StartTimer("c1", StartTimerPayload{RoomCode: "483920", Duration: -5000})
	assert.False(t, st.Timer.Active())
}
