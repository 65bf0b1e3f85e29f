package stream

// merger reconciles successive overlapping partial transcripts into one
// monotonically growing text. Because adjacent windows share audio context
// the engine re-emits the words at the seam; naive concatenation would
// duplicate them, so each new part is appended with its longest prefix that
// matches a suffix of the accumulated text stripped off.
//
// The suffix/prefix match is a heuristic: it can falsely strip a genuinely
// repeated phrase at a seam. That behaviour is kept as-is because changing
// it would alter transcript semantics.
type merger struct {
	text string
}

// merge appends part to the accumulated text with the seam overlap removed
// and returns the updated text. A part fully contained in the current
// suffix leaves the text unchanged.
func (m *merger) merge(part string) string {
	k := overlapLen(m.text, part)
	m.text += part[k:]
	return m.text
}

// replace swaps in the full-audio re-transcription at session end. The
// final pass sees the complete audio in one call and is strictly more
// accurate than the union of constrained partial passes, so it replaces
// the accumulated partials rather than appending to them.
func (m *merger) replace(final string) { m.text = final }

// current returns the accumulated transcript.
func (m *merger) current() string { return m.text }

// overlapLen returns the length of the longest suffix of accum that equals
// a prefix of part, scanning candidate lengths from min(len(accum),
// len(part)) down to zero and stopping at the first match.
func overlapLen(accum, part string) int {
	n := len(accum)
	if len(part) < n {
		n = len(part)
	}
	for k := n; k > 0; k-- {
		if accum[len(accum)-k:] == part[:k] {
			return k
		}
	}
	return 0
}
