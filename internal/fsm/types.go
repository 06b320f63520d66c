// Package fsm implements the portal box access-control state machine: the
// core logic that decides, on every tick, whether equipment power should be
// on, what the indicator should show, and which backend/notifier/device
// actions to perform.
//
// The machine is expressed as a pure function, Step, that takes the current
// State and Context plus one tick's Input and returns the new State,
// Context, and a list of Actions for a Session to execute. Step never
// performs I/O itself -- it mirrors the separation between BFD's
// ApplyEvent (pure transition table) and Session (side-effect executor)
// that this package is modeled on.
package fsm

import "time"

// CardType identifies the class of RFID card read by the device.
type CardType int

// Card types, matching the original CardType enum. CardInvalid is -1, the
// value the backend uses for an unknown card, and the other classes follow
// from 0, so backend card_type integers convert directly. The zero value of
// CardType is therefore CardShutdown, not CardInvalid.
const (
	CardInvalid CardType = iota - 1
	CardShutdown
	CardProxy
	CardUser
	CardTraining
)

// String implements fmt.Stringer.
func (c CardType) String() string {
	switch c {
	case CardInvalid:
		return "invalid"
	case CardShutdown:
		return "shutdown"
	case CardProxy:
		return "proxy"
	case CardUser:
		return "user"
	case CardTraining:
		return "training"
	default:
		return "unknown"
	}
}

// State identifies one node of the access-control state machine.
type State int

// States, in the order they appear in the base specification's transition
// table.
const (
	StateSetup State = iota
	StateShutdown
	StateIdleNoCard
	StateAccessComplete
	StateIdleUnknownCard
	StateRunningUnknownCard
	StateRunningAuthUser
	StateIdleUnauthCard
	StateRunningNoCard
	StateRunningUnauthCard
	StateRunningTimeout
	StateIdleAuthCard
	StateRunningProxyCard
	StateRunningTrainingCard
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateSetup:
		return "Setup"
	case StateShutdown:
		return "Shutdown"
	case StateIdleNoCard:
		return "IdleNoCard"
	case StateAccessComplete:
		return "AccessComplete"
	case StateIdleUnknownCard:
		return "IdleUnknownCard"
	case StateRunningUnknownCard:
		return "RunningUnknownCard"
	case StateRunningAuthUser:
		return "RunningAuthUser"
	case StateIdleUnauthCard:
		return "IdleUnauthCard"
	case StateRunningNoCard:
		return "RunningNoCard"
	case StateRunningUnauthCard:
		return "RunningUnauthCard"
	case StateRunningTimeout:
		return "RunningTimeout"
	case StateIdleAuthCard:
		return "IdleAuthCard"
	case StateRunningProxyCard:
		return "RunningProxyCard"
	case StateRunningTrainingCard:
		return "RunningTrainingCard"
	default:
		return "Unknown"
	}
}

// Terminal reports whether s is the machine's terminal state. Per the base
// spec's REDESIGN FLAG, terminal-state detection compares the State tag
// directly -- never a string or type name.
func (s State) Terminal() bool {
	return s == StateShutdown
}

// EquipmentProfile describes the equipment this controller gates, as
// returned by the backend's get_profile mode.
type EquipmentProfile struct {
	EquipmentID      int
	EquipmentTypeID  int
	EquipmentType    string
	LocationID       int
	Location         string
	TimeoutMinutes   int
	AllowProxy       bool
	RequiresTraining bool
	RequiresPayment  bool
}

// CardDetails describes the persistent, per-card authorization facts
// returned by the backend's get_card_details mode.
type CardDetails struct {
	UserIsAuthorized   bool
	CardType           CardType
	UserAuthorityLevel int
}

// DisplayPolicy maps named situations to RGB color strings ("RR GG BB" hex
// octets, matching the original's color constants) and the flash rate used
// while flashing during a grace period.
type DisplayPolicy struct {
	Setup           string
	Auth            string
	Unauth          string
	NoCardGrace     string
	UnauthCardGrace string
	GraceTimeout    string
	Proxy           string
	Training        string
	Timeout         string
	FlashRate       int
}

// DefaultDisplayPolicy returns the colors hard-coded into the original
// implementation, used whenever the loaded configuration leaves a color
// unset.
func DefaultDisplayPolicy() DisplayPolicy {
	return DisplayPolicy{
		Setup:           "FF FF FF",
		Auth:            "00 FF 00",
		Unauth:          "FF 00 00",
		NoCardGrace:     "FF FF 00",
		UnauthCardGrace: "FF 80 00",
		GraceTimeout:    "DF 20 00",
		Proxy:           "DF 20 00",
		Training:        "80 00 80",
		Timeout:         "FF 00 00",
		FlashRate:       3,
	}
}

// Context is the FSM's session state -- the fields the original State base
// class carries across transitions for the lifetime of one card session.
type Context struct {
	AuthUserID         int
	ProxyID            int
	TrainingID         int
	UserAuthorityLevel int

	TimeoutStart time.Time
	GraceStart   time.Time
	TimeoutDelta time.Duration
	GraceDelta   time.Duration
}

// NewContext returns a Context with the original's zero-session defaults:
// all IDs at -1 (nobody has ever presented a card), zero authority, and a
// 2-second grace period (overridden by Setup from configuration).
func NewContext(now time.Time) Context {
	return Context{
		AuthUserID:         -1,
		ProxyID:            -1,
		TrainingID:         -1,
		UserAuthorityLevel: 0,
		TimeoutStart:       now,
		GraceStart:         now,
		TimeoutDelta:       0,
		GraceDelta:         2 * time.Second,
	}
}

// timeoutExpired reports whether the equipment usage timeout has elapsed.
// A TimeoutMinutes of 0 means "never times out" (TimeoutDelta == 0).
func (c Context) timeoutExpired(now time.Time) bool {
	return c.TimeoutDelta > 0 && now.Sub(c.TimeoutStart) > c.TimeoutDelta
}

// graceExpired reports whether the current grace period has elapsed.
func (c Context) graceExpired(now time.Time) bool {
	return now.Sub(c.GraceStart) > c.GraceDelta
}

// Input is one tick's worth of sensed state, assembled by
// internal/input.Assembler per the base spec's §4.3.
type Input struct {
	CardID             int
	CardType           CardType
	UserIsAuthorized   bool
	UserAuthorityLevel int
	ButtonPressed      bool
}
