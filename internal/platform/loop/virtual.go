package loop

import (
	"sort"
	"time"
)

// Virtual is a Scheduler driven by explicit calls instead of wall-clock time.
// Tests and the replay tool use it to get deterministic tick and timer
// ordering. It is not safe for concurrent use.
type Virtual struct {
	now     time.Time
	pending []func()
	timers  []*virtualTimer
	seq     int
}

// NewVirtual creates a Virtual scheduler whose clock starts at start.
func NewVirtual(start time.Time) *Virtual {
	return &Virtual{now: start}
}

// Post enqueues task for the next RunPending.
func (v *Virtual) Post(task func()) {
	v.pending = append(v.pending, task)
}

// AfterFunc registers task to run once the virtual clock reaches now+d.
func (v *Virtual) AfterFunc(d time.Duration, task func()) Timer {
	v.seq++
	t := &virtualTimer{at: v.now.Add(d), seq: v.seq, task: task}
	v.timers = append(v.timers, t)
	return t
}

// Now returns the virtual time.
func (v *Virtual) Now() time.Time {
	return v.now
}

// RunPending runs posted tasks, including tasks posted while running, until
// none remain. It returns the number of tasks executed.
func (v *Virtual) RunPending() int {
	n := 0
	for len(v.pending) > 0 {
		task := v.pending[0]
		v.pending = v.pending[1:]
		task()
		n++
	}
	return n
}

// Advance moves the clock forward by d, firing due timers in deadline order
// and draining posted tasks after each one.
func (v *Virtual) Advance(d time.Duration) {
	target := v.now.Add(d)
	v.RunPending()
	for {
		t := v.nextDue(target)
		if t == nil {
			break
		}
		if t.at.After(v.now) {
			v.now = t.at
		}
		t.fired = true
		t.task()
		v.RunPending()
	}
	v.now = target
}

// PendingTimers reports how many timers are armed.
func (v *Virtual) PendingTimers() int {
	n := 0
	for _, t := range v.timers {
		if !t.fired && !t.stopped {
			n++
		}
	}
	return n
}

func (v *Virtual) nextDue(limit time.Time) *virtualTimer {
	live := v.timers[:0]
	for _, t := range v.timers {
		if !t.fired && !t.stopped {
			live = append(live, t)
		}
	}
	v.timers = live
	sort.SliceStable(v.timers, func(i, j int) bool {
		if v.timers[i].at.Equal(v.timers[j].at) {
			return v.timers[i].seq < v.timers[j].seq
		}
		return v.timers[i].at.Before(v.timers[j].at)
	})
	if len(v.timers) == 0 || v.timers[0].at.After(limit) {
		return nil
	}
	return v.timers[0]
}

type virtualTimer struct {
	at      time.Time
	seq     int
	task    func()
	fired   bool
	stopped bool
}

func (t *virtualTimer) Stop() bool {
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}
