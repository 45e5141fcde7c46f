package history

import "time"

// Task is a pending scheduled callback.
type Task interface {
	// Cancel stops the task. It returns false when the callback already ran
	// or was already canceled.
	Cancel() bool
}

type Clock interface {
	Now() time.Time
}

// Scheduler runs callbacks after a delay. Each callback runs on its own goroutine.
type Scheduler interface {
	Clock
	AfterFunc(delay time.Duration, fn func()) Task
}

type realScheduler struct{}

// SystemScheduler is backed by time.AfterFunc.
func SystemScheduler() Scheduler {
	return realScheduler{}
}

func (realScheduler) Now() time.Time {
	return time.Now()
}

func (realScheduler) AfterFunc(delay time.Duration, fn func()) Task {
	return timerTask{timer: time.AfterFunc(delay, fn)}
}

type timerTask struct {
	timer *time.Timer
}

func (t timerTask) Cancel() bool {
	return t.timer.Stop()
}

// slot holds at most one pending task for a concern. Replacing the task
// cancels the previous one.
type slot struct {
	task Task
}

func (s *slot) replace(task Task) {
	s.cancel()
	s.task = task
}

func (s *slot) cancel() {
	if s.task != nil {
		s.task.Cancel()
		s.task = nil
	}
}

func (s *slot) clear() {
	s.task = nil
}
