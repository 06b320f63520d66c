package fsm_test

import (
	"testing"
	"time"

	"github.com/hybridlabs/portalboxd/internal/fsm"
)

var testPolicy = fsm.DefaultDisplayPolicy()

func baseProfile() fsm.EquipmentProfile {
	return fsm.EquipmentProfile{
		EquipmentID:     1,
		EquipmentTypeID: 1,
		EquipmentType:   "Laser Cutter",
		Location:        "Makerspace",
		AllowProxy:      true,
	}
}

func baseContext(now time.Time) fsm.Context {
	ctx := fsm.NewContext(now)
	ctx.GraceDelta = 2 * time.Second
	return ctx
}

// TestTransitionTable walks the base specification's §4.1.1 transition
// table one case at a time, checking only the resulting state (Session
// tests below check the accompanying actions).
func TestTransitionTable(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	profile := baseProfile()

	tests := []struct {
		name      string
		state     fsm.State
		ctx       func() fsm.Context
		in        fsm.Input
		wantState fsm.State
	}{
		{
			name:      "IdleNoCard stays put with no card",
			state:     fsm.StateIdleNoCard,
			ctx:       func() fsm.Context { return baseContext(now) },
			in:        fsm.Input{CardType: fsm.CardInvalid},
			wantState: fsm.StateIdleNoCard,
		},
		{
			name:      "IdleNoCard sees a card and cascades to IdleUnauthCard",
			state:     fsm.StateIdleNoCard,
			ctx:       func() fsm.Context { return baseContext(now) },
			in:        fsm.Input{CardID: 42, CardType: fsm.CardUser, UserIsAuthorized: false},
			wantState: fsm.StateIdleUnauthCard,
		},
		{
			name:      "IdleNoCard sees an authorized user card and cascades to RunningAuthUser",
			state:     fsm.StateIdleNoCard,
			ctx:       func() fsm.Context { return baseContext(now) },
			in:        fsm.Input{CardID: 42, CardType: fsm.CardUser, UserIsAuthorized: true},
			wantState: fsm.StateRunningAuthUser,
		},
		{
			name:      "IdleNoCard sees a shutdown card and cascades to Shutdown",
			state:     fsm.StateIdleNoCard,
			ctx:       func() fsm.Context { return baseContext(now) },
			in:        fsm.Input{CardID: 1, CardType: fsm.CardShutdown},
			wantState: fsm.StateShutdown,
		},
		{
			name:  "IdleUnauthCard clears to IdleNoCard when the card is removed",
			state: fsm.StateIdleUnauthCard,
			ctx:   func() fsm.Context { return baseContext(now) },
			in:    fsm.Input{CardID: 0, CardType: fsm.CardInvalid},
			// IdleNoCard's own on_enter only sleeps the display and never
			// cascades further.
			wantState: fsm.StateIdleNoCard,
		},
		{
			name: "RunningAuthUser loses card and transitions to RunningNoCard",
			state: fsm.StateRunningAuthUser,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.AuthUserID = 42
				return ctx
			},
			in:        fsm.Input{CardID: 0, CardType: fsm.CardInvalid},
			wantState: fsm.StateRunningNoCard,
		},
		{
			name: "RunningAuthUser times out",
			state: fsm.StateRunningAuthUser,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.AuthUserID = 42
				ctx.TimeoutStart = now.Add(-10 * time.Minute)
				ctx.TimeoutDelta = 5 * time.Minute
				return ctx
			},
			in:        fsm.Input{CardID: 42, CardType: fsm.CardUser},
			wantState: fsm.StateRunningTimeout,
		},
		{
			name: "RunningNoCard grace expires to AccessComplete, cascades to IdleNoCard",
			state: fsm.StateRunningNoCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.GraceStart = now.Add(-10 * time.Second)
				return ctx
			},
			in:        fsm.Input{CardID: 0, CardType: fsm.CardInvalid},
			wantState: fsm.StateIdleNoCard,
		},
		{
			name: "RunningNoCard button press ends session early",
			state: fsm.StateRunningNoCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.GraceStart = now
				return ctx
			},
			in:        fsm.Input{CardID: 0, CardType: fsm.CardInvalid, ButtonPressed: true},
			wantState: fsm.StateIdleNoCard,
		},
		{
			name: "RunningUnknownCard proxy card allowed goes to RunningProxyCard",
			state: fsm.StateRunningUnknownCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.TrainingID = -1
				return ctx
			},
			in:        fsm.Input{CardID: 7, CardType: fsm.CardProxy},
			wantState: fsm.StateRunningProxyCard,
		},
		{
			name: "RunningUnknownCard proxy card disallowed during training goes to RunningUnauthCard",
			state: fsm.StateRunningUnknownCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.TrainingID = 99
				return ctx
			},
			in:        fsm.Input{CardID: 7, CardType: fsm.CardProxy},
			wantState: fsm.StateRunningUnauthCard,
		},
		{
			name: "RunningUnknownCard same user card resumes RunningAuthUser",
			state: fsm.StateRunningUnknownCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.AuthUserID = 42
				return ctx
			},
			in:        fsm.Input{CardID: 42, CardType: fsm.CardUser},
			wantState: fsm.StateRunningAuthUser,
		},
		{
			name: "RunningUnknownCard trainer card eligible for training goes to RunningTrainingCard",
			state: fsm.StateRunningUnknownCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.AuthUserID = -1
				ctx.ProxyID = -1
				ctx.TrainingID = -1
				ctx.UserAuthorityLevel = 3
				return ctx
			},
			in:        fsm.Input{CardID: 55, CardType: fsm.CardUser, UserIsAuthorized: false, UserAuthorityLevel: 3},
			wantState: fsm.StateRunningTrainingCard,
		},
		{
			name: "RunningUnknownCard unrecognized card type goes to AccessComplete, cascades to IdleNoCard",
			state: fsm.StateRunningUnknownCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				return ctx
			},
			in:        fsm.Input{CardID: 0, CardType: fsm.CardInvalid},
			wantState: fsm.StateIdleNoCard,
		},
		{
			name: "RunningTimeout button press resumes RunningUnknownCard",
			state: fsm.StateRunningTimeout,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.GraceStart = now
				return ctx
			},
			in:        fsm.Input{CardID: 42, CardType: fsm.CardUser, ButtonPressed: true},
			wantState: fsm.StateRunningUnknownCard,
		},
		{
			name: "RunningTimeout card removed goes to AccessComplete, cascades to IdleNoCard",
			state: fsm.StateRunningTimeout,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.GraceStart = now
				return ctx
			},
			in:        fsm.Input{CardID: 0, CardType: fsm.CardInvalid},
			wantState: fsm.StateIdleNoCard,
		},
		{
			name: "RunningTimeout grace expires to IdleAuthCard",
			state: fsm.StateRunningTimeout,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.AuthUserID = 42
				ctx.GraceStart = now.Add(-10 * time.Second)
				return ctx
			},
			in:        fsm.Input{CardID: 42, CardType: fsm.CardUser},
			wantState: fsm.StateIdleAuthCard,
		},
		{
			name:      "IdleAuthCard clears to IdleNoCard when the card is removed",
			state:     fsm.StateIdleAuthCard,
			ctx:       func() fsm.Context { return baseContext(now) },
			in:        fsm.Input{CardID: 0, CardType: fsm.CardInvalid},
			wantState: fsm.StateIdleNoCard,
		},
		{
			name: "RunningProxyCard times out",
			state: fsm.StateRunningProxyCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.ProxyID = 7
				ctx.TimeoutStart = now.Add(-10 * time.Minute)
				ctx.TimeoutDelta = 5 * time.Minute
				return ctx
			},
			in:        fsm.Input{CardID: 7, CardType: fsm.CardProxy},
			wantState: fsm.StateRunningTimeout,
		},
		{
			name: "RunningTrainingCard times out",
			state: fsm.StateRunningTrainingCard,
			ctx: func() fsm.Context {
				ctx := baseContext(now)
				ctx.TrainingID = 55
				ctx.TimeoutStart = now.Add(-10 * time.Minute)
				ctx.TimeoutDelta = 5 * time.Minute
				return ctx
			},
			in:        fsm.Input{CardID: 55, CardType: fsm.CardUser},
			wantState: fsm.StateRunningTimeout,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			gotState, _, _ := fsm.Step(tt.state, tt.ctx(), tt.in, profile, testPolicy, now)
			if gotState != tt.wantState {
				t.Errorf("Step(%s, ...) state = %s, want %s", tt.state, gotState, tt.wantState)
			}
		})
	}
}

// TestEnterInitialEntersSetupThenCascades verifies that EnterInitial -- the
// constructor-time on_enter(Setup) call a plain Step can never reach, since
// Step only calls enter following a transition tick decides on -- drives
// the display/tone actions and the cascade into IdleNoCard.
func TestEnterInitialEntersSetupThenCascades(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gotState, _, actions := fsm.EnterInitial(baseContext(now), fsm.Input{CardType: fsm.CardInvalid}, baseProfile(), testPolicy, now)

	if gotState != fsm.StateIdleNoCard {
		t.Errorf("EnterInitial state = %s, want IdleNoCard", gotState)
	}

	var sawColor, sawTone bool
	for _, a := range actions {
		if a.Kind == fsm.ActionSetDisplayColor && a.Color == testPolicy.Setup {
			sawColor = true
		}
		if a.Kind == fsm.ActionBuzzTone {
			sawTone = true
		}
	}
	if !sawColor || !sawTone {
		t.Errorf("EnterInitial actions = %+v, want setup color + buzz tone", actions)
	}
}

// TestStepOnSetupIsInert documents that Step itself never drives Setup's
// on_enter -- only EnterInitial (called once by Session.Start) does.
func TestStepOnSetupIsInert(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	gotState, _, actions := fsm.Step(fsm.StateSetup, baseContext(now), fsm.Input{CardType: fsm.CardInvalid}, baseProfile(), testPolicy, now)

	if gotState != fsm.StateSetup {
		t.Errorf("Step(StateSetup, ...) state = %s, want StateSetup unchanged", gotState)
	}
	if len(actions) != 0 {
		t.Errorf("Step(StateSetup, ...) actions = %+v, want none", actions)
	}
}

// TestAccessCompleteClearsSession verifies the §3 invariant that
// auth_user_id/proxy_id/training_id/user_authority_level are zeroed on
// entering AccessComplete.
func TestAccessCompleteClearsSession(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := baseContext(now)
	ctx.AuthUserID = 42
	ctx.ProxyID = 7
	ctx.TrainingID = 55
	ctx.UserAuthorityLevel = 3
	ctx.GraceStart = now.Add(-10 * time.Second)

	_, gotCtx, _ := fsm.Step(fsm.StateRunningNoCard, ctx, fsm.Input{CardType: fsm.CardInvalid}, baseProfile(), testPolicy, now)

	if gotCtx.AuthUserID != 0 || gotCtx.ProxyID != 0 || gotCtx.TrainingID != 0 || gotCtx.UserAuthorityLevel != 0 {
		t.Errorf("session fields not cleared after AccessComplete: %+v", gotCtx)
	}
}

// TestShutdownIsTerminalByTag verifies the REDESIGN FLAG's fix: terminal
// detection compares the State tag directly.
func TestShutdownIsTerminalByTag(t *testing.T) {
	t.Parallel()

	if !fsm.StateShutdown.Terminal() {
		t.Error("StateShutdown.Terminal() = false, want true")
	}
	if fsm.StateIdleNoCard.Terminal() {
		t.Error("StateIdleNoCard.Terminal() = true, want false")
	}
}

// TestShutdownEmitsEveryTick verifies Shutdown is the one state whose
// on_tick fires on every tick (power off + log_shutdown_status), matching
// §4.2's note that the original keeps re-asserting the safe state.
func TestShutdownEmitsEveryTick(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	ctx := baseContext(now)

	_, _, actions := fsm.Step(fsm.StateShutdown, ctx, fsm.Input{CardID: 9}, baseProfile(), testPolicy, now)

	var sawPowerOff, sawLog bool
	for _, a := range actions {
		if a.Kind == fsm.ActionSetPower && !a.PowerOn {
			sawPowerOff = true
		}
		if a.Kind == fsm.ActionLogShutdownStatus && a.CardID == 9 {
			sawLog = true
		}
	}
	if !sawPowerOff || !sawLog {
		t.Errorf("Shutdown tick actions = %+v, want power-off and log_shutdown_status(9)", actions)
	}
}
