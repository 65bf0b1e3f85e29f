package stream

import "time"

// scheduler adapts the window cadence to observed inference latency. It
// keeps an exponentially weighted moving average of call duration and
// derives the next step from it with a little headroom, clamped to the
// configured bounds. Only fixed-cadence sessions consult it; VAD-triggered
// sessions have no notion of cadence.
type scheduler struct {
	alpha  float64 // EWMA smoothing factor, 0 < alpha < 1
	safety float64 // headroom multiplier applied to the average
	min    time.Duration
	max    time.Duration

	avg  float64 // smoothed latency in milliseconds
	step time.Duration
}

func newScheduler(initial, min, max time.Duration, alpha, safety float64) *scheduler {
	s := &scheduler{alpha: alpha, safety: safety, min: min, max: max}
	s.step = clampDuration(initial, min, max)
	return s
}

// observe folds one completed inference duration into the average and
// recomputes the step: avg = (1-alpha)*avg + alpha*d, then
// step = clamp(avg*safety, min, max).
func (s *scheduler) observe(d time.Duration) {
	ms := float64(d) / float64(time.Millisecond)
	if s.avg == 0 {
		s.avg = ms
	} else {
		s.avg = (1-s.alpha)*s.avg + s.alpha*ms
	}
	next := time.Duration(s.avg * s.safety * float64(time.Millisecond))
	s.step = clampDuration(next, s.min, s.max)
}

// current returns the step to use for the next window.
func (s *scheduler) current() time.Duration { return s.step }

// avgLatency returns the smoothed inference latency.
func (s *scheduler) avgLatency() time.Duration {
	return time.Duration(s.avg * float64(time.Millisecond))
}

func clampDuration(d, min, max time.Duration) time.Duration {
	if d < min {
		return min
	}
	if d > max {
		return max
	}
	return d
}
