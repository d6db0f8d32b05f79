package terminal

// ChartEventCustom is the id offset of user-generated chart events.
const ChartEventCustom = 1000

// ChartEvent is a queued chart event payload.
type ChartEvent struct {
	ID     int64
	Lparam int64
	Dparam float64
	Sparam string
}

// PushChartEvent queues a custom event with id ChartEventCustom+custom.
func (t *Terminal) PushChartEvent(custom int64, lparam int64, dparam float64, sparam string) {
	t.events = append(t.events, ChartEvent{ID: ChartEventCustom + custom, Lparam: lparam, Dparam: dparam, Sparam: sparam})
}

// DrainChartEvents returns the queued chart events and clears the queue.
func (t *Terminal) DrainChartEvents() []ChartEvent {
	ev := t.events
	t.events = nil
	return ev
}

type timer struct {
	interval int64 // milliseconds
	next     int64 // milliseconds
}

// SetTimer arms the timer to fire every ms milliseconds from now. It reports
// false for a non-positive interval.
func (t *Terminal) SetTimer(ms int64) bool {
	if ms <= 0 {
		return false
	}
	t.timer = timer{interval: ms, next: t.now*1000 + ms}
	return true
}

// KillTimer disarms the timer.
func (t *Terminal) KillTimer() { t.timer = timer{} }

// TimerArmed reports whether a timer is set.
func (t *Terminal) TimerArmed() bool { return t.timer.interval > 0 }

// DueTimers returns how many whole intervals have elapsed up to the current
// clock since the last call and schedules the next firing.
func (t *Terminal) DueTimers() int {
	if !t.TimerArmed() {
		return 0
	}
	now := t.now * 1000
	if t.timer.next > now {
		return 0
	}
	n := (now-t.timer.next)/t.timer.interval + 1
	t.timer.next += n * t.timer.interval
	return int(n)
}
