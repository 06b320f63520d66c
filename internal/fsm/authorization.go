package fsm

// Authorized implements the authorization rule of §4.2, grounded directly
// on Database.is_user_authorized_for_equipment_type: a user who is not
// active is never authorized; otherwise, the equipment profile's training
// and payment requirements gate the decision independently.
//
// active reports whether the user account itself is active. auth reports
// whether the user holds a non-zero authorization flag for this equipment
// type (the original's int(user_auth) truthiness). balance is the user's
// account balance; a value strictly greater than zero satisfies a payment
// requirement.
func Authorized(profile EquipmentProfile, active, auth bool, balance float64) bool {
	if !active {
		return false
	}

	switch {
	case profile.RequiresTraining && profile.RequiresPayment:
		return balance > 0.0 && auth
	case profile.RequiresTraining && !profile.RequiresPayment:
		return auth
	case !profile.RequiresTraining && profile.RequiresPayment:
		return balance > 0.0
	default:
		return true
	}
}
