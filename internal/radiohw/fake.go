package radiohw

import "sync"

// Fake is an in-memory Rig used by tests and by engines running without
// attached tuner hardware.
type Fake struct {
	mu       sync.Mutex
	open     bool
	freq     float64
	band     Band
	strength float64
	stereo   bool
	muted    bool
}

// NewFake returns a Rig that never touches hardware.
func NewFake() *Fake {
	return &Fake{freq: 100_000_000, strength: 0.5}
}

func (f *Fake) Open() error  { f.mu.Lock(); defer f.mu.Unlock(); f.open = true; return nil }
func (f *Fake) Close() error { f.mu.Lock(); defer f.mu.Unlock(); f.open = false; return nil }

func (f *Fake) SetFrequency(hz float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.freq = hz
	return nil
}

func (f *Fake) Frequency() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.freq, nil
}

func (f *Fake) SetBand(b Band) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.band = b
	return nil
}

func (f *Fake) SignalStrength() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.strength, nil
}

func (f *Fake) SetStrength(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.strength = v
}

func (f *Fake) IsStereo() (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stereo, nil
}

func (f *Fake) SetStereo(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stereo = v
}

func (f *Fake) SetHardMute(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = on
	return nil
}

// HardMuted reports the last value passed to SetHardMute, for tests.
func (f *Fake) HardMuted() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.muted
}
