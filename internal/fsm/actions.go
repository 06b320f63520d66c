package fsm

// ActionKind identifies one side effect a Session must execute after Step
// returns. Step only ever produces Actions; it never calls the device,
// backend, or notifier directly.
type ActionKind int

const (
	// ActionSetDisplayColor sets the indicator to a solid color.
	ActionSetDisplayColor ActionKind = iota
	// ActionFlashDisplay flashes the indicator for a duration at a rate.
	ActionFlashDisplay
	// ActionSleepDisplay turns the indicator off/dim while idle.
	ActionSleepDisplay
	// ActionStartBeeping starts an intermittent buzzer pattern.
	ActionStartBeeping
	// ActionStopBuzzer silences any ongoing beep pattern.
	ActionStopBuzzer
	// ActionBeepOnce sounds a single short confirmation beep.
	ActionBeepOnce
	// ActionBuzzTone sounds a tone of a specific frequency and duration.
	ActionBuzzTone
	// ActionSetPower energizes or de-energizes the equipment relay.
	ActionSetPower
	// ActionLogAccessAttempt reports a new session start to the backend.
	ActionLogAccessAttempt
	// ActionLogAccessCompletion reports a session end to the backend.
	ActionLogAccessCompletion
	// ActionLogStartedStatus reports controller startup to the backend.
	ActionLogStartedStatus
	// ActionLogShutdownStatus reports controller shutdown to the backend.
	ActionLogShutdownStatus
	// ActionSendEmail notifies a user who left their card in the reader.
	ActionSendEmail
	// ActionSendEmailProxy notifies a user whose proxy card was left behind.
	ActionSendEmailProxy
	// ActionSendEmailTraining notifies a user whose training card was left
	// behind.
	ActionSendEmailTraining
)

// Action is one side effect emitted by Step, carrying only the fields
// relevant to its Kind.
type Action struct {
	Kind ActionKind

	// Display/buzzer fields.
	Color         string
	DurationMS    int
	FlashCount    int
	ToneFrequency int
	ToneSeconds   float64

	// Power field.
	PowerOn bool

	// Backend/notifier fields.
	CardID     int
	Successful bool
	TrainingID int
}
