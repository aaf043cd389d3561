// Package clock abstracts time for the portal engine and frame channel
// so deadline and delay behavior can be driven deterministically in
// tests. Production code injects Real(); tests inject a Fake and call
// Advance to fire pending waits.
package clock

import "time"

// Clock is the time surface used by this module: deadline channels for
// request waits and sleeps for settle delays.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time once
	// duration d has elapsed. If d <= 0 the channel receives
	// immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the calling goroutine for at least duration d.
	Sleep(d time.Duration)
}

type realClock struct{}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

func (realClock) Now() time.Time                         { return time.Now() }
func (realClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
func (realClock) Sleep(d time.Duration)                  { time.Sleep(d) }
