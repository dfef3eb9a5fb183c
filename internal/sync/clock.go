package sync

import "time"

// timer is a cancellable one-shot timer.
type timer interface {
	Stop() bool
}

// clock abstracts time and timer creation so tests can drive the
// scheduler with virtual time instead of sleeping.
type clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) timer
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}
