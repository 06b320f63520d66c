// Package supervisor drives internal/fsm.Session through its tick loop:
// one-time setup against the backend, then a cooperative single-threaded
// loop until a shutdown signal or the FSM itself reaches Shutdown.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/hybridlabs/portalboxd/internal/backend"
	"github.com/hybridlabs/portalboxd/internal/fsm"
	"github.com/hybridlabs/portalboxd/internal/input"
)

// TickInterval is the cadence between input reads, matching §5's
// "≈50–100 ms" guidance.
const TickInterval = 75 * time.Millisecond

// Supervisor owns the session loop: it performs the one-time Setup-phase
// backend calls, then ticks the FSM until Shutdown or context
// cancellation.
type Supervisor struct {
	Session   *fsm.Session
	Assembler *input.Assembler
	Backend   backend.Client
	Logger    *slog.Logger

	MACAddr string
}

// New builds a Supervisor. macAddr is resolved once by MACAddress and
// passed in so callers can log it before Setup runs.
func New(session *fsm.Session, assembler *input.Assembler, client backend.Client, logger *slog.Logger, macAddr string) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		Session:   session,
		Assembler: assembler,
		Backend:   client,
		Logger:    logger,
		MACAddr:   macAddr,
	}
}

// ErrSetupFailed wraps any failure during the one-time Setup phase; per
// §4.1.1, a setup failure is fatal and the process exits nonzero.
var ErrSetupFailed = errors.New("supervisor: setup failed")

// EnsureRegistered performs the check_reg/register half of the original's
// Setup.on_enter: the controller must be registered with the backend
// *before* it asks for its equipment profile, per §10's supplemented
// registration flow. Callers run this ahead of GetProfile, since the
// Supervisor itself isn't constructed until a profile exists.
func EnsureRegistered(ctx context.Context, client backend.Client, macAddr string) error {
	registered, err := client.CheckRegistration(ctx, macAddr)
	if err != nil {
		return fmt.Errorf("%w: check registration: %w", ErrSetupFailed, err)
	}
	if registered <= 0 {
		if err := client.Register(ctx, macAddr); err != nil {
			slog.Warn("register failed, continuing", "error", err)
		}
	}
	return nil
}

// Setup performs the remainder of the original's Setup.on_enter that needs
// the equipment profile already resolved (by EnsureRegistered and GetProfile
// having run first, per §10): record this controller's IP address and log
// the started status. The FSM's own Setup.on_enter (the display color and
// confirmation tone) happens in Session.Start, which Run calls once this
// succeeds.
func (s *Supervisor) Setup(ctx context.Context) error {
	if ip := localIPv4(); ip != "" {
		if err := s.Backend.RecordIP(ctx, s.Session.Profile.EquipmentID, ip); err != nil {
			s.Logger.Warn("record ip failed, continuing", "error", err)
		}
	}

	if err := s.Backend.LogStartedStatus(ctx, s.Session.Profile.EquipmentID); err != nil {
		s.Logger.Warn("log started status failed, continuing", "error", err)
	}

	s.Logger.Info("setup complete",
		"equipment_id", s.Session.Profile.EquipmentID,
		"equipment_type", s.Session.Profile.EquipmentType,
		"location", s.Session.Profile.Location,
	)
	return nil
}

// Run performs Setup, then ticks the FSM on TickInterval until ctx is
// cancelled (SIGINT/SIGTERM) or the FSM reaches StateShutdown, matching
// §5's cancellation semantics: a shutdown request is observed between
// ticks, the loop runs the Shutdown actions (power off,
// log_shutdown_status) through Session.ForceShutdown, then returns.
func (s *Supervisor) Run(ctx context.Context) error {
	if err := s.Setup(ctx); err != nil {
		return err
	}

	// Drive the FSM's own Setup.on_enter/cascade into IdleNoCard before the
	// first real input is assembled.
	if err := s.Session.Start(ctx); err != nil {
		return err
	}

	ticker := time.NewTicker(TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.forceShutdown(context.Background())
			return nil
		case <-ticker.C:
			done, err := s.tick(ctx)
			if err != nil {
				s.Logger.Error("tick failed", "error", err)
				continue
			}
			if done {
				return nil
			}
		}
	}
}

func (s *Supervisor) tick(ctx context.Context) (bool, error) {
	in, err := s.Assembler.Next(ctx)
	if err != nil {
		return false, fmt.Errorf("assemble input: %w", err)
	}
	return s.tickOnce(ctx, in)
}

func (s *Supervisor) tickOnce(ctx context.Context, in fsm.Input) (bool, error) {
	if err := s.Session.Tick(ctx, in); err != nil {
		return false, err
	}
	return s.Session.State().Terminal(), nil
}

// forceShutdown drives the FSM's Shutdown actions (power off,
// log_shutdown_status) directly, regardless of what state the controller
// was in when the signal arrived, matching §5's cancellation semantics.
func (s *Supervisor) forceShutdown(ctx context.Context) {
	s.Session.ForceShutdown(ctx, 0)
}

// localIPv4 returns the first usable non-loopback IPv4 address, matching
// the original's wlan0-address lookup generalized to "whatever interface
// is actually up", per §10.
func localIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipNet.IP.To4(); ip4 != nil {
			return ip4.String()
		}
	}
	return ""
}

// MACAddress returns the hardware address of the first usable non-loopback
// network interface, matching the original's MAC-based registration key.
func MACAddress() (string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return "", fmt.Errorf("list interfaces: %w", err)
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String(), nil
	}
	return "", errors.New("no usable network interface found")
}
