package workflow

import (
	"errors"
	"fmt"

	"image-stitcher/internal/domain"
)

// ErrInvalidTransition is returned for events the current state does not accept.
var ErrInvalidTransition = errors.New("invalid workflow transition")

// EventKind names the inputs of the state machine.
type EventKind string

const (
	EventWorkingSetChanged EventKind = "working_set_changed"
	EventMergeRequested    EventKind = "merge_requested"
	EventMergeCompleted    EventKind = "merge_completed"
)

// Input is one state machine event.
type Input struct {
	Kind      EventKind
	Size      int
	Succeeded bool
}

// WorkingSetChanged reports a new working-set size.
func WorkingSetChanged(size int) Input {
	return Input{Kind: EventWorkingSetChanged, Size: size}
}

// MergeRequested reports that the user asked for a merge.
func MergeRequested() Input {
	return Input{Kind: EventMergeRequested}
}

// MergeCompleted reports the outcome of the in-flight merge.
func MergeCompleted(succeeded bool) Input {
	return Input{Kind: EventMergeCompleted, Succeeded: succeeded}
}

// Readiness maps a working-set size to its idle state.
func Readiness(size int) domain.WorkflowState {
	switch {
	case size <= 0:
		return domain.StateEmpty
	case size == 1:
		return domain.StateInsufficientImages
	default:
		return domain.StateReadyToMerge
	}
}

// Next is the transition function. It is total: every (state, event) pair
// either yields a state or an error wrapping ErrInvalidTransition.
func Next(current domain.WorkflowState, size int, in Input) (domain.WorkflowState, error) {
	if !knownState(current) {
		return current, fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, current)
	}

	switch in.Kind {
	case EventWorkingSetChanged:
		if in.Size < 0 {
			return current, fmt.Errorf("%w: negative working set size %d", ErrInvalidTransition, in.Size)
		}
		if current == domain.StateMerging {
			return domain.StateMerging, nil
		}
		return Readiness(in.Size), nil

	case EventMergeRequested:
		switch current {
		case domain.StateReadyToMerge:
			return domain.StateMerging, nil
		case domain.StateMergeSucceeded, domain.StateMergeFailed:
			if Readiness(size) == domain.StateReadyToMerge {
				return domain.StateMerging, nil
			}
		}
		return current, fmt.Errorf("%w: %s -> %s (size %d)", ErrInvalidTransition, current, in.Kind, size)

	case EventMergeCompleted:
		if current != domain.StateMerging {
			return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, in.Kind)
		}
		if in.Succeeded {
			return domain.StateMergeSucceeded, nil
		}
		return domain.StateMergeFailed, nil

	default:
		return current, fmt.Errorf("%w: unknown event %q", ErrInvalidTransition, in.Kind)
	}
}

// Machine tracks the current workflow state. It is not safe for concurrent
// use; all calls must come from the control loop.
type Machine struct {
	state domain.WorkflowState
	size  int
}

// NewMachine creates a machine for an empty working set.
func NewMachine() *Machine {
	return &Machine{state: domain.StateEmpty}
}

// State returns the current state.
func (m *Machine) State() domain.WorkflowState {
	return m.state
}

// Size returns the last reported working-set size.
func (m *Machine) Size() int {
	return m.size
}

// CanMerge reports whether a merge request would be accepted.
func (m *Machine) CanMerge() bool {
	_, err := Next(m.state, m.size, MergeRequested())
	return err == nil
}

// OnWorkingSetChanged re-evaluates readiness for a new size.
func (m *Machine) OnWorkingSetChanged(size int) error {
	next, err := Next(m.state, m.size, WorkingSetChanged(size))
	if err != nil {
		return err
	}
	m.state = next
	m.size = size
	return nil
}

// OnMergeRequested accepts a merge or rejects it without changing state.
func (m *Machine) OnMergeRequested() error {
	return m.apply(MergeRequested())
}

// OnMergeCompleted records the outcome of the pending merge.
func (m *Machine) OnMergeCompleted(succeeded bool) error {
	return m.apply(MergeCompleted(succeeded))
}

func (m *Machine) apply(in Input) error {
	next, err := Next(m.state, m.size, in)
	if err != nil {
		return err
	}
	m.state = next
	return nil
}

func knownState(state domain.WorkflowState) bool {
	switch state {
	case domain.StateEmpty, domain.StateInsufficientImages, domain.StateReadyToMerge,
		domain.StateMerging, domain.StateMergeSucceeded, domain.StateMergeFailed:
		return true
	default:
		return false
	}
}
