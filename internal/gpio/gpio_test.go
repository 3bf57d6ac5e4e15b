package gpio

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQuadratureClockwiseRotation(t *testing.T) {
	var q quadratureState
	q.a, q.b = true, true // rest state

	assert.Equal(t, 0, q.edge(lineA, false))
	assert.Equal(t, 0, q.edge(lineB, false))
	assert.Equal(t, 0, q.edge(lineA, true))
	assert.Equal(t, 1, q.edge(lineB, true))
}

func TestQuadratureCounterClockwiseRotation(t *testing.T) {
	var q quadratureState
	q.a, q.b = true, true

	assert.Equal(t, 0, q.edge(lineB, false))
	assert.Equal(t, 0, q.edge(lineA, false))
	assert.Equal(t, 0, q.edge(lineB, true))
	assert.Equal(t, -1, q.edge(lineA, true))
}

func TestQuadratureIgnoresDuplicateRestEvents(t *testing.T) {
	var q quadratureState
	q.a, q.b = true, true
	assert.Equal(t, 0, q.edge(lineA, true))
	assert.Equal(t, 0, q.edge(lineB, true))
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, clamp01(-0.5))
	assert.Equal(t, 1.0, clamp01(1.5))
	assert.Equal(t, 0.4, clamp01(0.4))
}
