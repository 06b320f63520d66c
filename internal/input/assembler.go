// Package input implements the per-tick input assembly described in the
// base specification's §4.3: reading the card reader, deciding when a
// fresh backend lookup is warranted, and latching the button edge.
package input

import (
	"context"

	"github.com/hybridlabs/portalboxd/internal/device"
	"github.com/hybridlabs/portalboxd/internal/fsm"
)

// CardDetailsLookup is the subset of backend.Client the assembler needs.
type CardDetailsLookup interface {
	GetCardDetails(ctx context.Context, cardID, equipmentTypeID int, profile fsm.EquipmentProfile) (fsm.CardDetails, error)
}

// Assembler builds one fsm.Input per tick, grounded on §4.3: read the
// current card ID; if it's new, ask the backend for details; if absent,
// emit a cleared tuple; otherwise reuse the prior tuple and only refresh
// the button edge.
type Assembler struct {
	driver  device.Driver
	backend CardDetailsLookup
	profile fsm.EquipmentProfile

	lastCardID int
	lastInput  fsm.Input
}

// New builds an Assembler for the given profile.
func New(driver device.Driver, backend CardDetailsLookup, profile fsm.EquipmentProfile) *Assembler {
	return &Assembler{
		driver:  driver,
		backend: backend,
		profile: profile,
	}
}

// Next reads the reader and button, and returns the fsm.Input for this
// tick, retrying the backend lookup indefinitely on transient failure
// (handled inside backend.HTTPClient.GetCardDetails's own reconnect loop)
// whenever a new card ID appears.
func (a *Assembler) Next(ctx context.Context) (fsm.Input, error) {
	present, cardID, err := a.driver.ReadCard(ctx)
	if err != nil {
		return fsm.Input{}, err
	}

	pressed := a.driver.ButtonPressed()

	switch {
	case !present || cardID <= 0:
		a.lastCardID = 0
		a.lastInput = fsm.Input{
			CardID:        0,
			CardType:      fsm.CardInvalid,
			ButtonPressed: pressed,
		}
		return a.lastInput, nil

	case cardID != a.lastCardID:
		details, err := a.backend.GetCardDetails(ctx, cardID, a.profile.EquipmentTypeID, a.profile)
		if err != nil {
			return fsm.Input{}, err
		}
		a.lastCardID = cardID
		a.lastInput = fsm.Input{
			CardID:             cardID,
			CardType:           details.CardType,
			UserIsAuthorized:   details.UserIsAuthorized,
			UserAuthorityLevel: details.UserAuthorityLevel,
			ButtonPressed:      pressed,
		}
		return a.lastInput, nil

	default:
		a.lastInput.ButtonPressed = pressed
		return a.lastInput, nil
	}
}
