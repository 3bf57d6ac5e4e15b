// Package radiohw drives tuner hardware for the Radio source via
// goHamlib, the pure-Go hamlib binding (Radio-specific
// extension). It is isolated behind the Rig interface so the Radio
// source in internal/source never imports goHamlib directly — useful
// both for unit testing (Fake) and because hamlib model numbers and
// transport strings are a hardware-integration detail, not core logic.
package radiohw

import (
	"fmt"
	"time"

	hamlib "github.com/xylo04/goHamlib"
	"golang.org/x/sys/unix"

	"github.com/hearthcast/engine/internal/errs"
)

// Band enumerates the tuner bands the rig can be set to.
type Band int

const (
	BandAM Band = iota
	BandFM
	BandSW
	BandLW
)

// Rig is the minimal tuner control surface the Radio source needs.
// Frequency changes are synchronous from the caller's perspective but
// may take up to the hardware's settling time (≤ 500 ms).
type Rig interface {
	Open() error
	Close() error
	SetFrequency(hz float64) error
	Frequency() (hz float64, err error)
	SetBand(b Band) error
	SignalStrength() (float64, error) // normalized [0,1]
	IsStereo() (bool, error)

	// SetHardMute toggles a relay wired to the tuner's serial RTS line,
	// independent of any command hamlib sends over the same port. Used
	// to kill tuner output instantly on failover, faster than waiting
	// for a hamlib mute command round-trip.
	SetHardMute(on bool) error
}

// SettleBudget is the expected upper bound on how long SetFrequency
// blocks on hardware settling. The Radio source logs a warning when a
// tune takes longer; the call still succeeds.
const SettleBudget = 500 * time.Millisecond

// hamlibRig adapts goHamlib's rig handle to the Rig interface.
type hamlibRig struct {
	model  int
	port   string
	rig    *hamlib.Rig
	muteFd int
}

// New opens a hamlib rig of the given model number on port (e.g.
// "/dev/ttyUSB0"). model follows hamlib's RIG_MODEL_* numbering.
func New(model int, port string) Rig {
	return &hamlibRig{model: model, port: port, muteFd: -1}
}

func (r *hamlibRig) Open() error {
	rig := hamlib.RigInit(r.model)
	if rig == nil {
		return errs.New(errs.Fatal, "hamlib: unknown model %d", r.model)
	}
	rig.SetConf("rig_pathname", r.port)
	if err := rig.Open(); err != nil {
		return errs.Wrap(errs.Transient, err, "hamlib: open %s", r.port)
	}
	r.rig = rig

	fd, err := unix.Open(r.port, unix.O_RDWR|unix.O_NOCTTY, 0)
	if err != nil {
		// The hard-mute relay is a convenience, not a requirement for
		// tuning to work — some serial adapters don't expose modem
		// control lines at all, so keep going without it.
		r.muteFd = -1
	} else {
		r.muteFd = fd
	}
	return nil
}

func (r *hamlibRig) Close() error {
	if r.muteFd >= 0 {
		unix.Close(r.muteFd)
		r.muteFd = -1
	}
	if r.rig == nil {
		return nil
	}
	r.rig.Close()
	r.rig = nil
	return nil
}

// SetHardMute toggles the RTS modem control line on the rig's own
// serial port file descriptor, opened separately from hamlib's own
// handle. A no-op, not an error, when the mute fd never opened.
func (r *hamlibRig) SetHardMute(on bool) error {
	if r.muteFd < 0 {
		return nil
	}
	bits, err := unix.IoctlGetInt(r.muteFd, unix.TIOCMGET)
	if err != nil {
		return errs.Wrap(errs.Transient, err, "get modem control lines")
	}
	if on {
		bits |= unix.TIOCM_RTS
	} else {
		bits &^= unix.TIOCM_RTS
	}
	if err := unix.IoctlSetInt(r.muteFd, unix.TIOCMSET, bits); err != nil {
		return errs.Wrap(errs.Transient, err, "set modem control lines")
	}
	return nil
}

func (r *hamlibRig) SetFrequency(hz float64) error {
	if r.rig == nil {
		return errs.New(errs.Unavailable, "rig not open")
	}
	if err := r.rig.SetFreq(hamlib.VFOCurr, hz); err != nil {
		return errs.Wrap(errs.Transient, err, "set frequency %.0f", hz)
	}
	return nil
}

func (r *hamlibRig) Frequency() (float64, error) {
	if r.rig == nil {
		return 0, errs.New(errs.Unavailable, "rig not open")
	}
	hz, err := r.rig.GetFreq(hamlib.VFOCurr)
	if err != nil {
		return 0, errs.Wrap(errs.Transient, err, "get frequency")
	}
	return hz, nil
}

func (r *hamlibRig) SetBand(b Band) error {
	if r.rig == nil {
		return errs.New(errs.Unavailable, "rig not open")
	}
	mode, ok := bandMode[b]
	if !ok {
		return errs.New(errs.OutOfRange, "unknown band %d", b)
	}
	if err := r.rig.SetMode(hamlib.VFOCurr, mode, 0); err != nil {
		return errs.Wrap(errs.Transient, err, "set band %v", b)
	}
	return nil
}

func (r *hamlibRig) SignalStrength() (float64, error) {
	if r.rig == nil {
		return 0, errs.New(errs.Unavailable, "rig not open")
	}
	level, err := r.rig.GetLevel(hamlib.VFOCurr, hamlib.LevelStrength)
	if err != nil {
		return 0, errs.Wrap(errs.Transient, err, "get strength")
	}
	// hamlib reports S-meter dB relative to S9 (roughly -54..+60); map
	// to [0,1] with a fixed floor/ceiling rather than exposing raw dB.
	const floor, ceil = -54.0, 60.0
	norm := (level - floor) / (ceil - floor)
	if norm < 0 {
		norm = 0
	}
	if norm > 1 {
		norm = 1
	}
	return norm, nil
}

func (r *hamlibRig) IsStereo() (bool, error) {
	if r.rig == nil {
		return false, errs.New(errs.Unavailable, "rig not open")
	}
	// Not every rig backend reports pilot-tone stereo detection; hamlib
	// surfaces it as a function-status bit.
	funcs, err := r.rig.GetFunc(hamlib.VFOCurr, hamlib.FuncStereo)
	if err != nil {
		return false, nil //nolint:nilerr // absence of the bit just means mono-only hardware
	}
	return funcs, nil
}

var bandMode = map[Band]string{
	BandAM: "AM",
	BandFM: "WFM",
	BandSW: "AM",
	BandLW: "AM",
}

func (b Band) String() string {
	switch b {
	case BandAM:
		return "AM"
	case BandFM:
		return "FM"
	case BandSW:
		return "SW"
	case BandLW:
		return "LW"
	default:
		return fmt.Sprintf("Band(%d)", int(b))
	}
}
