package device_test

import (
	"context"
	"testing"

	"github.com/hybridlabs/portalboxd/internal/device"
)

func TestSimReadCardReflectsPushedState(t *testing.T) {
	t.Parallel()

	sim := device.NewSim()
	present, id, err := sim.ReadCard(context.Background())
	if err != nil || present || id != 0 {
		t.Fatalf("ReadCard() = (%v, %d, %v), want (false, 0, nil) before any PushCard", present, id, err)
	}

	sim.PushCard(true, 17)
	present, id, err = sim.ReadCard(context.Background())
	if err != nil || !present || id != 17 {
		t.Fatalf("ReadCard() = (%v, %d, %v), want (true, 17, nil) after PushCard", present, id, err)
	}

	sim.PushCard(false, 0)
	present, _, _ = sim.ReadCard(context.Background())
	if present {
		t.Error("ReadCard() present = true, want false after clearing")
	}
}

func TestSimButtonPressedIsEdgeTriggered(t *testing.T) {
	t.Parallel()

	sim := device.NewSim()
	if sim.ButtonPressed() {
		t.Fatal("ButtonPressed() = true, want false before PressButton")
	}

	sim.PressButton()
	if !sim.ButtonPressed() {
		t.Fatal("ButtonPressed() = false, want true immediately after PressButton")
	}
	if sim.ButtonPressed() {
		t.Error("ButtonPressed() = true on second read, want the press to have been consumed")
	}
}

func TestSimRecordsCallsAndState(t *testing.T) {
	t.Parallel()

	sim := device.NewSim()

	if err := sim.SetEquipmentPower(true); err != nil {
		t.Fatalf("SetEquipmentPower() error: %v", err)
	}
	if err := sim.SetDisplayColor("FF 00 00"); err != nil {
		t.Fatalf("SetDisplayColor() error: %v", err)
	}
	if err := sim.FlashDisplay("00 FF 00", 1000, 3); err != nil {
		t.Fatalf("FlashDisplay() error: %v", err)
	}
	if err := sim.StartBeeping(800, 1000, 3); err != nil {
		t.Fatalf("StartBeeping() error: %v", err)
	}
	if err := sim.StopBuzzer(); err != nil {
		t.Fatalf("StopBuzzer() error: %v", err)
	}
	if err := sim.BeepOnce(); err != nil {
		t.Fatalf("BeepOnce() error: %v", err)
	}
	if err := sim.BuzzTone(500, 0.2); err != nil {
		t.Fatalf("BuzzTone() error: %v", err)
	}
	if err := sim.SleepDisplay(); err != nil {
		t.Fatalf("SleepDisplay() error: %v", err)
	}

	if !sim.PowerOn {
		t.Error("PowerOn = false, want true after SetEquipmentPower(true)")
	}
	if sim.Beeping {
		t.Error("Beeping = true, want false after StopBuzzer")
	}
	if !sim.Asleep {
		t.Error("Asleep = false, want true after SleepDisplay")
	}

	wantCalls := []string{
		"SetEquipmentPower", "SetDisplayColor", "FlashDisplay", "StartBeeping",
		"StopBuzzer", "BeepOnce", "BuzzTone", "SleepDisplay",
	}
	if len(sim.Calls) != len(wantCalls) {
		t.Fatalf("Calls = %v, want %v", sim.Calls, wantCalls)
	}
	for i, c := range wantCalls {
		if sim.Calls[i] != c {
			t.Errorf("Calls[%d] = %q, want %q", i, sim.Calls[i], c)
		}
	}

	if err := sim.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if !sim.Closed {
		t.Error("Closed = false, want true after Close")
	}
}

var _ device.Driver = (*device.Sim)(nil)
