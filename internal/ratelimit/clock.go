package ratelimit

import "time"

type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock. Tests use it to drive windows.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

var SystemClock Clock = ClockFunc(time.Now)
