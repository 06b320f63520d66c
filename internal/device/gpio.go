package device

import (
	"bufio"
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tarm/serial"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// PinConfig names the GPIO pins the relay, button, and RGB LED are wired
// to, by periph.io pin name (e.g. "GPIO17"), matching the way
// seedhammer-seedhammer/driver/wshat resolves pins through
// periph.io/x/host/v3/bcm283x on a Raspberry Pi.
type PinConfig struct {
	RelayPin string
	ButtonPin string
	RedPin    string
	GreenPin  string
	BluePin   string
	BuzzerPin string
}

// GPIODriver is the production Driver for a Raspberry Pi portal box: GPIO
// for the relay, button, RGB indicator, and buzzer; a UART-attached RFID
// reader over github.com/tarm/serial.
type GPIODriver struct {
	relay  gpio.PinOut
	button gpio.PinIn
	red    gpio.PinOut
	green  gpio.PinOut
	blue   gpio.PinOut
	buzzer gpio.PinOut

	port *serial.Port

	pressed   atomic.Bool
	flashStop chan struct{}
	mu        sync.Mutex

	cardLines chan string
}

// Open initializes periph.io's host drivers, resolves the configured pins,
// and opens the RFID reader's serial port. Grounded on
// seedhammer-seedhammer/driver/wshat.Open's host.Init + gpioreg.ByName +
// PinIn.In(PullUp, BothEdges) pattern.
func Open(pins PinConfig, serialDevice string, baud int) (*GPIODriver, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("device: init gpio host: %w", err)
	}

	d := &GPIODriver{cardLines: make(chan string, 8)}

	var err error
	if d.relay, err = resolveOut(pins.RelayPin); err != nil {
		return nil, err
	}
	if d.red, err = resolveOut(pins.RedPin); err != nil {
		return nil, err
	}
	if d.green, err = resolveOut(pins.GreenPin); err != nil {
		return nil, err
	}
	if d.blue, err = resolveOut(pins.BluePin); err != nil {
		return nil, err
	}
	if d.buzzer, err = resolveOut(pins.BuzzerPin); err != nil {
		return nil, err
	}

	btn := gpioreg.ByName(pins.ButtonPin)
	if btn == nil {
		return nil, fmt.Errorf("device: unknown button pin %q", pins.ButtonPin)
	}
	if err := btn.In(gpio.PullUp, gpio.BothEdges); err != nil {
		return nil, fmt.Errorf("device: configure button pin: %w", err)
	}
	d.button = btn

	go d.watchButton()

	d.port, err = serial.OpenPort(&serial.Config{Name: serialDevice, Baud: baud, ReadTimeout: 200 * time.Millisecond})
	if err != nil {
		return nil, fmt.Errorf("device: open rfid serial port %s: %w", serialDevice, err)
	}
	go d.readCardLines()

	return d, nil
}

func resolveOut(name string) (gpio.PinOut, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("device: unknown pin %q", name)
	}
	return p, nil
}

// watchButton debounces the button pin in a loop, mirroring wshat.Open's
// per-button goroutine.
func (d *GPIODriver) watchButton() {
	const debounce = 10 * time.Millisecond
	pressed := false
	for {
		if !d.button.WaitForEdge(-1) {
			continue
		}
		time.Sleep(debounce)
		newPressed := d.button.Read() == gpio.Low
		if newPressed != pressed {
			pressed = newPressed
			if pressed {
				d.pressed.Store(true)
			}
		}
	}
}

// readCardLines reads newline-delimited card IDs from the RFID reader's
// UART and forwards them to cardLines.
func (d *GPIODriver) readCardLines() {
	scanner := bufio.NewScanner(d.port)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		select {
		case d.cardLines <- line:
		default:
		}
	}
}

// ReadCard returns the most recently seen card line parsed as an integer
// ID, or (false, 0, nil) if nothing has been read since the last call.
func (d *GPIODriver) ReadCard(ctx context.Context) (bool, int, error) {
	select {
	case line := <-d.cardLines:
		id, err := strconv.Atoi(line)
		if err != nil {
			return false, 0, fmt.Errorf("device: parse card id %q: %w", line, err)
		}
		return true, id, nil
	default:
		return false, 0, nil
	}
}

// ButtonPressed reports whether a debounced press has been seen since the
// last call and clears it (edge triggered, matching the original's
// single-shot button_pressed input).
func (d *GPIODriver) ButtonPressed() bool {
	return d.pressed.Swap(false)
}

func (d *GPIODriver) SetEquipmentPower(on bool) error {
	return d.relay.Out(gpio.Level(on))
}

func (d *GPIODriver) SetDisplayColor(color string) error {
	r, g, b, err := parseColor(color)
	if err != nil {
		return err
	}
	d.stopFlash()
	if err := d.red.Out(gpio.Level(r > 0x7f)); err != nil {
		return err
	}
	if err := d.green.Out(gpio.Level(g > 0x7f)); err != nil {
		return err
	}
	return d.blue.Out(gpio.Level(b > 0x7f))
}

func (d *GPIODriver) SleepDisplay() error {
	d.stopFlash()
	_ = d.red.Out(gpio.Low)
	_ = d.green.Out(gpio.Low)
	return d.blue.Out(gpio.Low)
}

func (d *GPIODriver) FlashDisplay(color string, durationMS, count int) error {
	if err := d.SetDisplayColor(color); err != nil {
		return err
	}
	r, g, b, _ := parseColor(color)
	d.mu.Lock()
	d.flashStop = make(chan struct{})
	stop := d.flashStop
	d.mu.Unlock()

	go d.flashLoop(stop, r > 0x7f, g > 0x7f, b > 0x7f, durationMS, count)
	return nil
}

func (d *GPIODriver) flashLoop(stop chan struct{}, red, green, blue bool, durationMS, count int) {
	if count <= 0 {
		return
	}
	interval := time.Duration(durationMS/count) * time.Millisecond
	on := true
	for i := 0; i < count*2; i++ {
		select {
		case <-stop:
			return
		case <-time.After(interval / 2):
		}
		on = !on
		_ = d.red.Out(gpio.Level(on && red))
		_ = d.green.Out(gpio.Level(on && green))
		_ = d.blue.Out(gpio.Level(on && blue))
	}
}

func (d *GPIODriver) stopFlash() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.flashStop != nil {
		close(d.flashStop)
		d.flashStop = nil
	}
}

// StartBeeping switches the buzzer on and leaves it on until StopBuzzer; it
// does not pulse it, and freqHz, durationMS and count are not used.
func (d *GPIODriver) StartBeeping(freqHz, durationMS, count int) error {
	return d.buzzer.Out(gpio.High)
}

func (d *GPIODriver) StopBuzzer() error {
	return d.buzzer.Out(gpio.Low)
}

// BeepOnce is fire-and-forget, matching FlashDisplay: it switches the
// buzzer on and returns immediately, letting a goroutine turn it back off
// once the tone duration elapses so the tick loop is never blocked on it.
func (d *GPIODriver) BeepOnce() error {
	if err := d.buzzer.Out(gpio.High); err != nil {
		return err
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		_ = d.buzzer.Out(gpio.Low)
	}()
	return nil
}

// BuzzTone is fire-and-forget for the same reason as BeepOnce. It drives
// the buzzer pin high for the given duration; freqHz is not used.
func (d *GPIODriver) BuzzTone(freqHz int, seconds float64) error {
	if err := d.buzzer.Out(gpio.High); err != nil {
		return err
	}
	go func() {
		time.Sleep(time.Duration(seconds * float64(time.Second)))
		_ = d.buzzer.Out(gpio.Low)
	}()
	return nil
}

func (d *GPIODriver) Close() error {
	d.stopFlash()
	if d.port != nil {
		return d.port.Close()
	}
	return nil
}

// parseColor parses the original's "RR GG BB" hex-octet color strings.
func parseColor(color string) (r, g, b int, err error) {
	parts := strings.Fields(color)
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("device: invalid color %q", color)
	}
	vals := make([]int, 3)
	for i, p := range parts {
		v, err := strconv.ParseInt(p, 16, 32)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("device: invalid color component %q: %w", p, err)
		}
		vals[i] = int(v)
	}
	return vals[0], vals[1], vals[2], nil
}
