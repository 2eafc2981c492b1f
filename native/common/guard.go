package common

import "errors"

// Flow names the vault entry points that can be paused independently.
type Flow string

const (
	FlowDeposit Flow = "deposit"
	FlowRedeem  Flow = "redeem"
)

var ErrFlowPaused = errors.New("flow paused")

// PauseView exposes the current pause switches to the engines.
type PauseView interface {
	IsPaused(flow Flow) bool
}

// Guard returns ErrFlowPaused when the given flow is currently halted. A nil
// view means no pauses are configured.
func Guard(p PauseView, flow Flow) error {
	if p == nil || flow == "" {
		return nil
	}
	if p.IsPaused(flow) {
		return ErrFlowPaused
	}
	return nil
}

// Switches is the trivial PauseView used by the vault engine: one boolean per
// flow, mutated only through the engine's owner-gated setters.
type Switches struct {
	Deposits bool
	Redeems  bool
}

func (s *Switches) IsPaused(flow Flow) bool {
	if s == nil {
		return false
	}
	switch flow {
	case FlowDeposit:
		return s.Deposits
	case FlowRedeem:
		return s.Redeems
	default:
		return false
	}
}
