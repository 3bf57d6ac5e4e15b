package usbarbiter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/hearthcast/engine/internal/errs"
	"github.com/hearthcast/engine/internal/usbarbiter"
)

// TestConflictScenario exercises a reservation conflict between two sources
// contending for the same USB device path.
func TestConflictScenario(t *testing.T) {
	a := usbarbiter.New(nil)

	require.NoError(t, a.Reserve("/dev/ttyUSB0", "A"))

	err := a.Reserve("/dev/ttyUSB0", "B")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.Busy))

	err = a.Release("/dev/ttyUSB0", "B")
	require.Error(t, err)
	assert.True(t, errs.Is(err, errs.NotFound))

	require.NoError(t, a.Release("/dev/ttyUSB0", "A"))
	assert.False(t, a.InUse("/dev/ttyUSB0"))

	require.NoError(t, a.Reserve("/dev/ttyUSB0", "B"))
	assert.True(t, a.InUse("/dev/ttyUSB0"))
}

func TestReleaseWithoutReserveIsNoop(t *testing.T) {
	a := usbarbiter.New(nil)
	assert.NoError(t, a.Release("/dev/ttyUSB9", "nobody"))
	assert.NoError(t, a.Release("/dev/ttyUSB9", "nobody")) // double-release
}

func TestReleaseAllOnDispose(t *testing.T) {
	a := usbarbiter.New(nil)
	require.NoError(t, a.Reserve("/dev/ttyUSB0", "A"))
	require.NoError(t, a.Reserve("/dev/ttyUSB1", "A"))
	require.NoError(t, a.Reserve("/dev/ttyUSB2", "B"))

	a.ReleaseAll("A")

	assert.False(t, a.InUse("/dev/ttyUSB0"))
	assert.False(t, a.InUse("/dev/ttyUSB1"))
	assert.True(t, a.InUse("/dev/ttyUSB2"))
}

// TestInvariant_PartialFunction checks that USB reservations form
// a partial function at all times — no path ever maps to two owners.
func TestInvariant_PartialFunction(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		a := usbarbiter.New(nil)
		paths := []string{"/dev/ttyUSB0", "/dev/ttyUSB1"}
		owners := []string{"A", "B", "C"}

		steps := rapid.IntRange(1, 50).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			path := rapid.SampledFrom(paths).Draw(rt, "path")
			owner := rapid.SampledFrom(owners).Draw(rt, "owner")
			if rapid.Bool().Draw(rt, "isReserve") {
				_ = a.Reserve(path, owner)
			} else {
				_ = a.Release(path, owner)
			}

			list := a.List()
			seen := map[string]string{}
			for p, o := range list {
				if prev, ok := seen[p]; ok {
					t.Fatalf("path %s mapped to both %s and %s", p, prev, o)
				}
				seen[p] = o
			}
		}
	})
}
