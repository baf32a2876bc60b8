package timekeeper

import "time"

// Elapsing measures a run of consecutive steps. Lap reports the time since
// the previous lap, Total the time since the start or the last Reset.
type Elapsing struct {
	start      time.Time
	checkpoint time.Time

	now func() time.Time
}

func NewElapsing() *Elapsing {
	return newElapsing(time.Now)
}

func newElapsing(now func() time.Time) *Elapsing {
	// time.Now carries the monotonic clock too, so deltas are safe against
	// wall clock changes
	start := now()
	return &Elapsing{start: start, checkpoint: start, now: now}
}

func (e *Elapsing) Lap() time.Duration {
	now := e.now()
	d := now.Sub(e.checkpoint)
	e.checkpoint = now
	return d
}

func (e *Elapsing) Total() time.Duration {
	return e.now().Sub(e.start)
}

func (e *Elapsing) Reset() {
	e.start = e.now()
	e.checkpoint = e.start
}
