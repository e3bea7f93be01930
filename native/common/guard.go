package common

import "errors"

// ErrHalted is returned by Guard while the underlying control flag is
// engaged.
var ErrHalted = errors.New("oracle halted")

// HaltView exposes the halt flag of a control surface without granting
// mutation rights.
type HaltView interface {
	Halted() bool
}

// Guard fails fast when the view reports a halt. A nil view never halts, so
// callers can wire the guard unconditionally.
func Guard(v HaltView) error {
	if v == nil {
		return nil
	}
	if v.Halted() {
		return ErrHalted
	}
	return nil
}
