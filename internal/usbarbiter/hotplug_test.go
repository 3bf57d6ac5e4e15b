package usbarbiter_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hearthcast/engine/internal/usbarbiter"
)

func TestReleaseOnRemovalDropsReservation(t *testing.T) {
	a := usbarbiter.New(nil)
	require.NoError(t, a.Reserve("/dev/ttyUSB0", "radio-1"))

	a.ReleaseOnRemoval("/dev/ttyUSB0")
	assert.False(t, a.InUse("/dev/ttyUSB0"))
}

func TestReleaseOnRemovalOfUnreservedPathIsNoop(t *testing.T) {
	a := usbarbiter.New(nil)
	a.ReleaseOnRemoval("/dev/ttyUSB9")
	assert.False(t, a.InUse("/dev/ttyUSB9"))
}
