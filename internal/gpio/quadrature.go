package gpio

// encoderLine identifies which of the two quadrature phase lines an
// edge event arrived on.
type encoderLine int

const (
	lineA encoderLine = iota
	lineB
)

// quadratureState decodes a standard two-phase rotary encoder (Gray
// code A/B) into +1/-1 detent steps. It holds only the last known level
// of each phase; a full detent is emitted when both phases have
// returned to their rest (high, high) state after one clean rotation in
// either direction.
type quadratureState struct {
	a, b     bool
	lastMove int // +1 or -1, the direction of the edge currently in flight
}

// edge records a new level on the given phase and returns the detent
// step (+1, -1, or 0 if no full step has completed yet).
func (q *quadratureState) edge(which encoderLine, high bool) int {
	prevA, prevB := q.a, q.b
	switch which {
	case lineA:
		q.a = high
	case lineB:
		q.b = high
	}

	if !(q.a && q.b) {
		// Mid-rotation: remember which phase changed first to infer
		// direction once both phases settle high again.
		if which == lineA && high != prevA {
			if high {
				q.lastMove = 1
			} else {
				q.lastMove = -1
			}
		} else if which == lineB && high != prevB {
			if high {
				q.lastMove = -1
			} else {
				q.lastMove = 1
			}
		}
		return 0
	}

	if prevA && prevB {
		return 0 // already at rest, spurious duplicate event
	}
	return q.lastMove
}
