// Package device abstracts the portal box's physical I/O: the equipment
// relay, the RGB indicator and buzzer, the shutdown/advance button, and
// the RFID reader. The production Driver is built on periph.io for GPIO
// (grounded on seedhammer-seedhammer/driver/wshat) and
// github.com/tarm/serial for the reader's UART link.
package device

import "context"

// Driver is the interface internal/fsm.Session and internal/input use to
// reach the hardware, kept narrow so a simulated Driver can back tests
// without real GPIO or serial hardware.
type Driver interface {
	// SetEquipmentPower energizes or de-energizes the equipment relay.
	SetEquipmentPower(on bool) error

	// SetDisplayColor sets the indicator to a solid color ("RR GG BB" hex
	// octets).
	SetDisplayColor(color string) error

	// SleepDisplay dims or turns off the indicator while idle.
	SleepDisplay() error

	// FlashDisplay flashes color for durationMS total, count times.
	FlashDisplay(color string, durationMS, count int) error

	// StartBeeping starts an intermittent buzzer pattern at freqHz for
	// durationMS total, count times.
	StartBeeping(freqHz, durationMS, count int) error

	// StopBuzzer silences any ongoing beep or tone.
	StopBuzzer() error

	// BeepOnce sounds a single short confirmation beep.
	BeepOnce() error

	// BuzzTone sounds a tone of freqHz for the given duration.
	BuzzTone(freqHz int, seconds float64) error

	// ReadCard reports the currently present card, if any. present is
	// false and id is 0 when no card is in range.
	ReadCard(ctx context.Context) (present bool, id int, err error)

	// ButtonPressed reports whether the advance/shutdown button has been
	// pressed since the last read.
	ButtonPressed() bool

	// Close releases any held hardware resources.
	Close() error
}
