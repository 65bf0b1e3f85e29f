package stream

// windowState builds each inference input by splicing trailing context from
// the previous window onto newly arrived samples (overlap-save). It also
// accumulates the full session audio for the final full-context pass. All
// methods are called from the session's single consumer goroutine; no
// synchronization is needed.
type windowState struct {
	keep   int // samples of left-context in the overlap bound
	target int // desired window length in samples

	prevTail []float32
	allAudio []float32
}

// newWindowState creates a window assembler. target is clamped up to step
// so a full step of new audio always fits in one window.
func newWindowState(keep, target, step int) *windowState {
	if target < step {
		target = step
	}
	return &windowState{keep: keep, target: target}
}

// assemble splices context and new samples into the next inference window:
// take = min(len(prevTail), max(0, keep+target-len(new))) samples from the
// end of prevTail, followed by all of newSamples. The whole window then
// becomes prevTail, so each window starts with as much of its predecessor
// as the keep+target-step bound admits and window size converges to
// keep+target.
func (w *windowState) assemble(newSamples []float32) []float32 {
	take := w.keep + w.target - len(newSamples)
	if take < 0 {
		take = 0
	}
	if take > len(w.prevTail) {
		take = len(w.prevTail)
	}

	window := make([]float32, 0, take+len(newSamples))
	window = append(window, takeTail(w.prevTail, take)...)
	window = append(window, newSamples...)
	w.prevTail = window
	return window
}

// accumulate records samples into the full-session audio backing the final
// pass. The session routes every sample popped from the ring through here
// exactly once, whether or not it was transcribed live.
func (w *windowState) accumulate(samples []float32) {
	w.allAudio = append(w.allAudio, samples...)
}

// all returns the full session audio accumulated so far.
func (w *windowState) all() []float32 { return w.allAudio }

// reset releases all held audio.
func (w *windowState) reset() {
	w.prevTail = nil
	w.allAudio = nil
}

// takeTail returns the last n elements of s without copying. n is clamped
// to [0, len(s)].
func takeTail(s []float32, n int) []float32 {
	if n <= 0 {
		return nil
	}
	if n > len(s) {
		n = len(s)
	}
	return s[len(s)-n:]
}
