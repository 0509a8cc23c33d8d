package room

// Countdown timer handlers. The server never ticks: it stores the
// wall-clock end time while running and the frozen remainder while
// paused, and clients derive the live countdown themselves. Every
// transition broadcasts the full timer snapshot to the whole room.
// All four operations are host-only.

// StartTimer starts a countdown from idle or restarts one outright.
func (e *Engine) StartTimer(connID string, p StartTimerPayload) {
	if p.Duration <= 0 {
		return
	}

	st, ok := e.store.Get(p.RoomCode)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) {
		return
	}

	now := timeNow().UnixMilli()
	st.Timer = TimerState{
		DurationMs:     p.Duration,
		EndTimeEpochMs: now + p.Duration,
		RemainingMs:    p.Duration,
		IsRunning:      true,
	}
	e.pub.Publish(st.connIDs(), EventTimerUpdate, st.Timer)
}

// PauseTimer freezes a running countdown, capturing the remainder.
func (e *Engine) PauseTimer(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) || !st.Timer.IsRunning {
		return
	}

	remaining := st.Timer.EndTimeEpochMs - timeNow().UnixMilli()
	if remaining < 0 {
		remaining = 0
	}
	st.Timer.RemainingMs = remaining
	st.Timer.EndTimeEpochMs = 0
	st.Timer.IsRunning = false
	st.Timer.IsPaused = true
	e.pub.Publish(st.connIDs(), EventTimerUpdate, st.Timer)
}

// ResumeTimer continues a paused countdown from its frozen remainder.
func (e *Engine) ResumeTimer(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) || !st.Timer.IsPaused {
		return
	}

	st.Timer.EndTimeEpochMs = timeNow().UnixMilli() + st.Timer.RemainingMs
	st.Timer.IsRunning = true
	st.Timer.IsPaused = false
	e.pub.Publish(st.connIDs(), EventTimerUpdate, st.Timer)
}

// ResetTimer returns the timer to idle from any state, restoring the
// remainder to the configured duration.
func (e *Engine) ResetTimer(connID, code string) {
	st, ok := e.store.Get(code)
	if !ok {
		return
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.isHostConn(connID) {
		return
	}

	st.Timer = TimerState{
		DurationMs:  st.Timer.DurationMs,
		RemainingMs: st.Timer.DurationMs,
	}
	e.pub.Publish(st.connIDs(), EventTimerUpdate, st.Timer)
}
