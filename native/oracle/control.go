package oracle

import "fmt"

// The emergency control is a two-state machine on Header.EmergencyStop:
// Running -> Stopped via an authorized toggle or an internal volatility trip,
// Stopped -> Running via an authorized toggle only. New oracles start Running.

// CheckNotStopped gates every mutating operation; it fails fast with
// ErrStopped while the flag is engaged.
func (h *Header) CheckNotStopped() error {
	if h == nil {
		return fmt.Errorf("oracle: header not configured")
	}
	if h.EmergencyStop {
		return ErrStopped
	}
	return nil
}

// SetEmergencyStop toggles the flag on behalf of caller. Only the header
// authority may toggle in either direction.
func (h *Header) SetEmergencyStop(caller string, stop bool) error {
	if h == nil {
		return fmt.Errorf("oracle: header not configured")
	}
	if caller != h.Authority {
		return fmt.Errorf("%w: caller %q", ErrUnauthorized, caller)
	}
	h.EmergencyStop = stop
	return nil
}

// trip engages the stop without authorization. A detected volatility breach
// may halt the system from inside the update path; only resuming requires
// the authority.
func (h *Header) trip() {
	if h == nil {
		return
	}
	h.EmergencyStop = true
}
