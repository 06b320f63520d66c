package fsm

import "time"

// Step advances the machine by exactly one tick, grounded on
// portal_fsm.py's State.__call__/on_enter split: tick (the Python
// __call__) decides whether the current state should transition given the
// new Input; enter (the Python on_enter) mutates Context and emits Actions
// for the state being entered. A handful of states' on_enter immediately
// decide a further transition of their own (Setup, IdleUnknownCard,
// AccessComplete) -- Step follows that cascade synchronously, exactly as
// the original's recursive next_state() calls do within one loop
// iteration, and returns only once a state's enter has nothing further to
// cascade into.
//
// profile is the equipment profile fetched once at startup (read-only for
// the lifetime of the process); policy supplies the indicator colors and
// flash rate. now is injected so callers can drive the machine with a
// fake clock in tests.
func Step(state State, ctx Context, in Input, profile EquipmentProfile, policy DisplayPolicy, now time.Time) (State, Context, []Action) {
	target, actions := tick(state, ctx, in, profile, now)
	if target == nil {
		return state, ctx, actions
	}

	newState, newCtx, enterActions := enterCascade(*target, ctx, in, profile, policy, now)
	return newState, newCtx, append(actions, enterActions...)
}

// EnterInitial drives Setup's on_enter (and its cascade into IdleNoCard),
// matching the original constructor's call to on_enter(Setup) before the
// machine ever ticks. A Session must call this once, before its first
// Step/Tick, since Step itself only calls enter following a transition
// tick decides on -- the starting state is never "transitioned into".
func EnterInitial(ctx Context, in Input, profile EquipmentProfile, policy DisplayPolicy, now time.Time) (State, Context, []Action) {
	return enterCascade(StateSetup, ctx, in, profile, policy, now)
}

// enterCascade calls enter on entry, and keeps following any cascade
// target enter returns, exactly as the original's recursive next_state()
// calls do within one loop iteration.
func enterCascade(entry State, ctx Context, in Input, profile EquipmentProfile, policy DisplayPolicy, now time.Time) (State, Context, []Action) {
	var actions []Action
	state := entry
	target := &entry
	for target != nil {
		var enterActions []Action
		var cascade *State
		ctx, enterActions, cascade = enter(*target, ctx, in, profile, policy, now)
		actions = append(actions, enterActions...)
		state = *target
		target = cascade
	}
	return state, ctx, actions
}

// tick implements the per-state __call__ logic: given the current state
// and fresh input, decide whether to transition. A nil return means stay
// in the current state; any Actions returned are emitted regardless of
// whether a transition follows (only Shutdown emits on every tick).
func tick(state State, ctx Context, in Input, profile EquipmentProfile, now time.Time) (*State, []Action) {
	switch state {
	case StateSetup, StateAccessComplete, StateIdleUnknownCard:
		// These states never sit still: their on_enter always cascades
		// immediately, so normal ticks never reach their __call__.
		return nil, nil

	case StateShutdown:
		return nil, []Action{
			{Kind: ActionSetPower, PowerOn: false},
			{Kind: ActionLogShutdownStatus, CardID: in.CardID},
		}

	case StateIdleNoCard:
		if in.CardID > 0 {
			return statePtr(StateIdleUnknownCard), nil
		}
		return nil, nil

	case StateRunningUnknownCard:
		return tickRunningUnknownCard(ctx, in, profile)

	case StateRunningAuthUser:
		if in.CardID <= 0 {
			return statePtr(StateRunningNoCard), nil
		}
		if ctx.timeoutExpired(now) {
			return statePtr(StateRunningTimeout), nil
		}
		return nil, nil

	case StateIdleUnauthCard:
		if in.CardID <= 0 {
			return statePtr(StateIdleNoCard), nil
		}
		return nil, nil

	case StateRunningNoCard:
		if in.CardID > 0 && in.CardType != CardInvalid {
			return statePtr(StateRunningUnknownCard), nil
		}
		if ctx.graceExpired(now) {
			return statePtr(StateAccessComplete), []Action{{Kind: ActionStopBuzzer}}
		}
		if in.ButtonPressed {
			return statePtr(StateAccessComplete), []Action{{Kind: ActionStopBuzzer}}
		}
		return nil, nil

	case StateRunningUnauthCard:
		if in.CardID > 0 && in.CardID == ctx.AuthUserID {
			return statePtr(StateRunningUnknownCard), []Action{{Kind: ActionStopBuzzer}}
		}
		if ctx.graceExpired(now) {
			return statePtr(StateAccessComplete), []Action{{Kind: ActionStopBuzzer}}
		}
		if in.ButtonPressed {
			return statePtr(StateAccessComplete), []Action{{Kind: ActionStopBuzzer}}
		}
		return nil, nil

	case StateRunningTimeout:
		if in.ButtonPressed {
			return statePtr(StateRunningUnknownCard), []Action{{Kind: ActionStopBuzzer}}
		}
		if in.CardID <= 0 {
			return statePtr(StateAccessComplete), []Action{{Kind: ActionStopBuzzer}}
		}
		if ctx.graceExpired(now) {
			return statePtr(StateIdleAuthCard), []Action{{Kind: ActionStopBuzzer}}
		}
		return nil, nil

	case StateIdleAuthCard:
		if in.CardID <= 0 {
			return statePtr(StateIdleNoCard), nil
		}
		return nil, nil

	case StateRunningProxyCard:
		if in.CardID <= 0 {
			return statePtr(StateRunningNoCard), nil
		}
		if ctx.timeoutExpired(now) {
			return statePtr(StateRunningTimeout), nil
		}
		return nil, nil

	case StateRunningTrainingCard:
		if in.CardID <= 0 {
			return statePtr(StateRunningNoCard), nil
		}
		if ctx.timeoutExpired(now) {
			return statePtr(StateRunningTimeout), nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}

// tickRunningUnknownCard implements RunningUnknownCard.__call__: the card
// just read decides which flavor of running-or-grace state comes next.
func tickRunningUnknownCard(ctx Context, in Input, profile EquipmentProfile) (*State, []Action) {
	stop := []Action{{Kind: ActionStopBuzzer}}

	switch in.CardType {
	case CardProxy:
		if profile.AllowProxy && ctx.TrainingID <= 0 {
			return statePtr(StateRunningProxyCard), stop
		}
		return statePtr(StateRunningUnauthCard), stop

	case CardUser:
		if in.CardID == ctx.AuthUserID {
			return statePtr(StateRunningAuthUser), stop
		}
		if ctx.UserAuthorityLevel >= 3 &&
			ctx.ProxyID <= 0 &&
			(ctx.TrainingID <= 0 || ctx.TrainingID == in.CardID) &&
			!in.UserIsAuthorized {
			return statePtr(StateRunningTrainingCard), stop
		}
		return statePtr(StateRunningUnauthCard), stop

	default:
		return statePtr(StateAccessComplete), stop
	}
}

// statePtr is a convenience constructor so switch cases can return &s
// literals without a local variable at each call site.
func statePtr(s State) *State {
	return &s
}

// enter implements the per-state on_enter logic: mutate Context and emit
// the Actions a Session must execute for having entered this state. A
// non-nil cascade return means this state's own on_enter immediately
// decided a further transition (Setup, IdleUnknownCard, AccessComplete);
// Step will call enter again for the cascaded state before returning.
func enter(state State, ctx Context, in Input, profile EquipmentProfile, policy DisplayPolicy, now time.Time) (Context, []Action, *State) {
	switch state {
	case StateSetup:
		return ctx, []Action{
			{Kind: ActionSetDisplayColor, Color: policy.Setup},
			{Kind: ActionBuzzTone, ToneFrequency: 500, ToneSeconds: 0.2},
		}, statePtr(StateIdleNoCard)

	case StateShutdown:
		return ctx, nil, nil

	case StateIdleNoCard:
		return ctx, []Action{{Kind: ActionSleepDisplay}}, nil

	case StateAccessComplete:
		actions := []Action{
			{Kind: ActionLogAccessCompletion, CardID: ctx.AuthUserID},
			{Kind: ActionSetPower, PowerOn: false},
		}
		ctx.ProxyID = 0
		ctx.TrainingID = 0
		ctx.AuthUserID = 0
		ctx.UserAuthorityLevel = 0
		return ctx, actions, statePtr(StateIdleNoCard)

	case StateIdleUnknownCard:
		switch {
		case in.CardType == CardShutdown:
			return ctx, nil, statePtr(StateShutdown)
		case in.UserIsAuthorized && in.CardType == CardUser:
			return ctx, nil, statePtr(StateRunningAuthUser)
		default:
			return ctx, nil, statePtr(StateIdleUnauthCard)
		}

	case StateRunningUnknownCard:
		return ctx, nil, nil

	case StateRunningAuthUser:
		actions := []Action{
			{Kind: ActionSetPower, PowerOn: true},
			{Kind: ActionSetDisplayColor, Color: policy.Auth},
			{Kind: ActionBeepOnce},
		}
		if ctx.AuthUserID != in.CardID {
			actions = append(actions, Action{Kind: ActionLogAccessAttempt, CardID: in.CardID, Successful: true})
		}
		ctx.TimeoutStart = now
		ctx.ProxyID = 0
		ctx.TrainingID = 0
		ctx.AuthUserID = in.CardID
		ctx.UserAuthorityLevel = in.UserAuthorityLevel
		return ctx, actions, nil

	case StateIdleUnauthCard:
		actions := []Action{
			{Kind: ActionBeepOnce},
			{Kind: ActionSetPower, PowerOn: false},
			{Kind: ActionSetDisplayColor, Color: policy.Unauth},
			{Kind: ActionLogAccessAttempt, CardID: in.CardID, Successful: false},
		}
		return ctx, actions, nil

	case StateRunningNoCard:
		ctx.GraceStart = now
		ms, count := graceFlashParams(ctx, policy)
		actions := []Action{
			{Kind: ActionFlashDisplay, Color: policy.NoCardGrace, DurationMS: ms, FlashCount: count},
			{Kind: ActionStartBeeping, ToneFrequency: 800, DurationMS: ms, FlashCount: count},
		}
		return ctx, actions, nil

	case StateRunningUnauthCard:
		ctx.GraceStart = now
		ms, count := graceFlashParams(ctx, policy)
		actions := []Action{
			{Kind: ActionSetDisplayColor, Color: policy.UnauthCardGrace},
			{Kind: ActionFlashDisplay, Color: policy.UnauthCardGrace, DurationMS: ms, FlashCount: count},
			{Kind: ActionStartBeeping, ToneFrequency: 800, DurationMS: ms, FlashCount: count},
		}
		return ctx, actions, nil

	case StateRunningTimeout:
		ctx.GraceStart = now
		ms, count := graceFlashParams(ctx, policy)
		actions := []Action{
			{Kind: ActionFlashDisplay, Color: policy.GraceTimeout, DurationMS: ms, FlashCount: count},
			{Kind: ActionStartBeeping, ToneFrequency: 800, DurationMS: ms, FlashCount: count},
		}
		return ctx, actions, nil

	case StateIdleAuthCard:
		actions := []Action{
			{Kind: ActionSetPower, PowerOn: false},
			{Kind: ActionLogAccessCompletion, CardID: ctx.AuthUserID},
		}
		switch {
		case ctx.ProxyID > 0:
			actions = append(actions, Action{Kind: ActionSendEmailProxy, CardID: ctx.AuthUserID})
		case ctx.TrainingID > 0:
			actions = append(actions, Action{Kind: ActionSendEmailTraining, CardID: ctx.AuthUserID, TrainingID: ctx.TrainingID})
		case in.CardID > 0:
			actions = append(actions, Action{Kind: ActionSendEmail, CardID: in.CardID})
		}
		// When proxy_id, training_id, and the card at hand are all unset,
		// §9 Open Question (a): no recipient can be determined, so no
		// notification is emitted.
		actions = append(actions, Action{Kind: ActionSetDisplayColor, Color: policy.Timeout})
		ctx.ProxyID = 0
		ctx.TrainingID = 0
		ctx.AuthUserID = 0
		ctx.UserAuthorityLevel = 0
		return ctx, actions, nil

	case StateRunningProxyCard:
		ctx.TimeoutStart = now
		ctx.TrainingID = 0
		var actions []Action
		if ctx.ProxyID != in.CardID {
			actions = append(actions, Action{Kind: ActionLogAccessAttempt, CardID: in.CardID, Successful: true})
		}
		ctx.ProxyID = in.CardID
		actions = append(actions,
			Action{Kind: ActionSetPower, PowerOn: true},
			Action{Kind: ActionSetDisplayColor, Color: policy.Proxy},
			Action{Kind: ActionBeepOnce},
		)
		return ctx, actions, nil

	case StateRunningTrainingCard:
		ctx.TimeoutStart = now
		ctx.ProxyID = 0
		var actions []Action
		if ctx.TrainingID != in.CardID {
			actions = append(actions, Action{Kind: ActionLogAccessAttempt, CardID: in.CardID, Successful: true})
		}
		ctx.TrainingID = in.CardID
		actions = append(actions,
			Action{Kind: ActionSetPower, PowerOn: true},
			Action{Kind: ActionSetDisplayColor, Color: policy.Training},
			Action{Kind: ActionBeepOnce},
		)
		return ctx, actions, nil

	default:
		return ctx, nil, nil
	}
}

// graceFlashParams converts the grace delta into the millisecond duration
// and flash count the original passed to flash_display/start_beeping:
// grace_delta.seconds * 1000 and int(grace_delta.seconds * flash_rate).
func graceFlashParams(ctx Context, policy DisplayPolicy) (ms, count int) {
	seconds := int(ctx.GraceDelta / time.Second)
	return seconds * 1000, seconds * policy.FlashRate
}
