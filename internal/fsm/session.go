package fsm

import (
	"context"
	"log/slog"
	"time"

	"github.com/hybridlabs/portalboxd/internal/clock"
	"github.com/hybridlabs/portalboxd/internal/device"
	pbmetrics "github.com/hybridlabs/portalboxd/internal/metrics"
	"github.com/hybridlabs/portalboxd/internal/notifier"
)

// Session wires Step's pure decisions to the collaborators that actually
// move hardware, talk to the backend, and send mail. It is the only place
// in the package that performs I/O.
type Session struct {
	Device   device.Driver
	Backend  Backend
	Notifier notifier.Notifier
	Clock    clock.Clock
	Metrics  *pbmetrics.Collector
	Logger   *slog.Logger

	Profile EquipmentProfile
	Policy  DisplayPolicy

	state State
	ctx   Context
}

// Backend is the subset of backend.Client Session needs, declared locally
// so this package doesn't import backend directly (backend imports fsm for
// EquipmentProfile/CardDetails/Authorized).
type Backend interface {
	LogAccessAttempt(ctx context.Context, cardID, equipmentID int, successful bool) error
	LogAccessCompletion(ctx context.Context, cardID, equipmentID int) error
	LogShutdownStatus(ctx context.Context, equipmentID, cardID int) error
	GetUser(ctx context.Context, cardID int) (name, email string, err error)
	GetEquipmentName(ctx context.Context, equipmentID int) (string, error)
}

// NewSession starts a Session in StateSetup with a freshly-initialized
// Context, matching PortalBox.__init__'s starting state. Per §3's
// invariants, timeout_delta is set once here from profile.TimeoutMinutes (0
// means never times out) and grace_delta from the configured gracePeriod.
func NewSession(d device.Driver, b Backend, n notifier.Notifier, c clock.Clock, m *pbmetrics.Collector, logger *slog.Logger, profile EquipmentProfile, policy DisplayPolicy, gracePeriod time.Duration) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx := NewContext(c.Now())
	ctx.TimeoutDelta = time.Duration(profile.TimeoutMinutes) * time.Minute
	ctx.GraceDelta = gracePeriod
	return &Session{
		Device:   d,
		Backend:  b,
		Notifier: n,
		Clock:    c,
		Metrics:  m,
		Logger:   logger,
		Profile:  profile,
		Policy:   policy,
		state:    StateSetup,
		ctx:      ctx,
	}
}

// State reports the Session's current state.
func (s *Session) State() State {
	return s.state
}

// Start drives the FSM's initial entry into Setup -- display color, a
// confirmation tone, and the cascade into IdleNoCard -- matching the
// original constructor's call to on_enter(Setup) before the machine ever
// ticks. Callers must call Start exactly once, before the first Tick.
func (s *Session) Start(ctx context.Context) error {
	next, nextCtx, actions := EnterInitial(s.ctx, Input{CardType: CardInvalid}, s.Profile, s.Policy, s.Clock.Now())

	if next != s.state {
		s.Logger.Info("state transition", "from", s.state, "to", next)
		if s.Metrics != nil {
			s.Metrics.RecordStateTransition(s.state.String(), next.String())
		}
	}
	s.state = next
	s.ctx = nextCtx

	for _, a := range actions {
		if err := s.execute(ctx, a); err != nil {
			s.Logger.Error("action execution failed", "kind", a.Kind, "error", err)
		}
	}
	return nil
}

// ForceShutdown drives the Shutdown state's actions (power off,
// log_shutdown_status) directly, bypassing the transition table. Used by
// the supervisor to guarantee a clean shutdown on SIGINT/SIGTERM
// regardless of which state the FSM was ticking when the signal arrived --
// §5's cancellation note that the loop "transitions to Shutdown (regardless
// of current state)".
func (s *Session) ForceShutdown(ctx context.Context, cardID int) {
	if s.state == StateShutdown {
		return
	}
	s.Logger.Info("state transition", "from", s.state, "to", StateShutdown)
	if s.Metrics != nil {
		s.Metrics.RecordStateTransition(s.state.String(), StateShutdown.String())
	}
	s.state = StateShutdown
	for _, a := range []Action{
		{Kind: ActionSetPower, PowerOn: false},
		{Kind: ActionLogShutdownStatus, CardID: cardID},
	} {
		if err := s.execute(ctx, a); err != nil {
			s.Logger.Error("action execution failed", "kind", a.Kind, "error", err)
		}
	}
}

// Tick advances the Session by one input sample: it calls Step, executes
// every returned Action against the wired collaborators, and records the
// resulting state transition.
func (s *Session) Tick(ctx context.Context, in Input) error {
	now := s.Clock.Now()
	next, nextCtx, actions := Step(s.state, s.ctx, in, s.Profile, s.Policy, now)

	if next != s.state {
		s.Logger.Info("state transition", "from", s.state, "to", next)
		if s.Metrics != nil {
			s.Metrics.RecordStateTransition(s.state.String(), next.String())
		}
	}

	s.state = next
	s.ctx = nextCtx

	for _, a := range actions {
		if err := s.execute(ctx, a); err != nil {
			s.Logger.Error("action execution failed", "kind", a.Kind, "error", err)
		}
	}
	return nil
}

func (s *Session) execute(ctx context.Context, a Action) error {
	switch a.Kind {
	case ActionSetDisplayColor:
		return s.Device.SetDisplayColor(a.Color)
	case ActionFlashDisplay:
		return s.Device.FlashDisplay(a.Color, a.DurationMS, a.FlashCount)
	case ActionSleepDisplay:
		return s.Device.SleepDisplay()
	case ActionStartBeeping:
		return s.Device.StartBeeping(a.ToneFrequency, a.DurationMS, a.FlashCount)
	case ActionStopBuzzer:
		return s.Device.StopBuzzer()
	case ActionBeepOnce:
		return s.Device.BeepOnce()
	case ActionBuzzTone:
		return s.Device.BuzzTone(a.ToneFrequency, a.ToneSeconds)
	case ActionSetPower:
		if s.Metrics != nil {
			s.Metrics.SetPowerState(a.PowerOn)
		}
		return s.Device.SetEquipmentPower(a.PowerOn)

	case ActionLogAccessAttempt:
		outcome := "denied"
		if a.Successful {
			outcome = "granted"
		}
		if s.Metrics != nil {
			s.Metrics.RecordBackendRequest("log_access_attempt", outcome)
		}
		return s.Backend.LogAccessAttempt(ctx, a.CardID, s.Profile.EquipmentID, a.Successful)

	case ActionLogAccessCompletion:
		if s.Metrics != nil {
			s.Metrics.RecordBackendRequest("log_access_completion", "ok")
		}
		return s.Backend.LogAccessCompletion(ctx, a.CardID, s.Profile.EquipmentID)

	case ActionLogStartedStatus:
		return nil // performed once by the supervisor during setup, not per-tick.

	case ActionLogShutdownStatus:
		if s.Metrics != nil {
			s.Metrics.RecordBackendRequest("log_shutdown_status", "ok")
		}
		return s.Backend.LogShutdownStatus(ctx, s.Profile.EquipmentID, a.CardID)

	case ActionSendEmail:
		return s.sendEmail(ctx, a.CardID, s.Notifier.NotifyCardLeftBehind)
	case ActionSendEmailProxy:
		return s.sendEmail(ctx, a.CardID, s.Notifier.NotifyProxyCardLeftBehind)
	case ActionSendEmailTraining:
		return s.sendTrainingEmail(ctx, a.CardID, a.TrainingID)

	default:
		return nil
	}
}

type notifyFn func(ctx context.Context, to, userName, equipmentType, location string) error

// sendEmail looks up the card owner and equipment name, then dispatches
// through the given Notifier method, matching service.py's pattern of
// resolving a user+equipment name before composing the message.
func (s *Session) sendEmail(ctx context.Context, cardID int, notify notifyFn) error {
	name, email, err := s.Backend.GetUser(ctx, cardID)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.RecordNotification("lookup_failed")
		}
		return err
	}

	equipmentName, err := s.Backend.GetEquipmentName(ctx, s.Profile.EquipmentID)
	if err != nil {
		equipmentName = s.Profile.EquipmentType
	}

	err = notify(ctx, email, name, equipmentName, s.Profile.Location)
	if s.Metrics != nil {
		outcome := "sent"
		if err != nil {
			outcome = "failed"
		}
		s.Metrics.RecordNotification(outcome)
	}
	return err
}

// sendTrainingEmail looks up both the trainer (trainerCardID) and the
// trainee (traineeCardID) and notifies them together, matching
// service.py's send_user_email_training(trainer_id, trainee_id).
func (s *Session) sendTrainingEmail(ctx context.Context, trainerCardID, traineeCardID int) error {
	trainerName, trainerEmail, err := s.Backend.GetUser(ctx, trainerCardID)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.RecordNotification("lookup_failed")
		}
		return err
	}

	traineeName, traineeEmail, err := s.Backend.GetUser(ctx, traineeCardID)
	if err != nil {
		if s.Metrics != nil {
			s.Metrics.RecordNotification("lookup_failed")
		}
		return err
	}

	equipmentName, err := s.Backend.GetEquipmentName(ctx, s.Profile.EquipmentID)
	if err != nil {
		equipmentName = s.Profile.EquipmentType
	}

	err = s.Notifier.NotifyTrainingCardLeftBehind(ctx, trainerEmail, trainerName, traineeEmail, traineeName, equipmentName, s.Profile.Location)
	if s.Metrics != nil {
		outcome := "sent"
		if err != nil {
			outcome = "failed"
		}
		s.Metrics.RecordNotification(outcome)
	}
	return err
}
