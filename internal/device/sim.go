package device

import (
	"context"
	"sync"
)

// Sim is an in-memory Driver for tests: it records every call and lets a
// test script push card reads / button presses without real hardware.
type Sim struct {
	mu sync.Mutex

	PowerOn    bool
	Color      string
	Asleep     bool
	Flashing   bool
	Beeping    bool
	Closed     bool

	Calls []string

	pendingCard   bool
	pendingCardID int
	pendingButton bool
}

// NewSim returns a ready-to-use simulated Driver.
func NewSim() *Sim {
	return &Sim{}
}

// PushCard makes the next ReadCard call report a present card with the
// given ID. PushCard(false, 0) clears it.
func (s *Sim) PushCard(present bool, id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingCard = present
	s.pendingCardID = id
}

// PressButton makes the next ButtonPressed call return true, then reset.
func (s *Sim) PressButton() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pendingButton = true
}

func (s *Sim) record(call string) {
	s.Calls = append(s.Calls, call)
}

func (s *Sim) SetEquipmentPower(on bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.PowerOn = on
	s.record("SetEquipmentPower")
	return nil
}

func (s *Sim) SetDisplayColor(color string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Color = color
	s.Asleep = false
	s.Flashing = false
	s.record("SetDisplayColor")
	return nil
}

func (s *Sim) SleepDisplay() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Asleep = true
	s.Flashing = false
	s.record("SleepDisplay")
	return nil
}

func (s *Sim) FlashDisplay(color string, durationMS, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Color = color
	s.Flashing = true
	s.record("FlashDisplay")
	return nil
}

func (s *Sim) StartBeeping(freqHz, durationMS, count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Beeping = true
	s.record("StartBeeping")
	return nil
}

func (s *Sim) StopBuzzer() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Beeping = false
	s.record("StopBuzzer")
	return nil
}

func (s *Sim) BeepOnce() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("BeepOnce")
	return nil
}

func (s *Sim) BuzzTone(freqHz int, seconds float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record("BuzzTone")
	return nil
}

func (s *Sim) ReadCard(ctx context.Context) (bool, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pendingCard, s.pendingCardID, nil
}

func (s *Sim) ButtonPressed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	pressed := s.pendingButton
	s.pendingButton = false
	return pressed
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed = true
	return nil
}
