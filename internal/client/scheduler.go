package client

import "time"

// Timer is the cancel handle of a scheduled task.
type Timer interface {
	Stop() bool
}

// Scheduler runs deferred tasks. Sessions never sleep; every delay goes
// through here so tests can drive time by hand.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
}

type realScheduler struct{}

// RealScheduler runs tasks on time.AfterFunc goroutines.
func RealScheduler() Scheduler { return realScheduler{} }

func (realScheduler) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
