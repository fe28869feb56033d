package common

import "errors"

// ErrModulePaused is returned by Guard for a module operators have halted.
var ErrModulePaused = errors.New("module paused")

// PauseView reports whether a named module is halted.
type PauseView interface {
	IsPaused(module string) bool
}

// Pauses is a fixed set of module switches, typically loaded from config.
type Pauses map[string]bool

// IsPaused implements PauseView.
func (p Pauses) IsPaused(module string) bool { return p[module] }

// Guard fails with ErrModulePaused when module is paused. A nil view pauses
// nothing.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}
