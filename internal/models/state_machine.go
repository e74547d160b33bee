package models

import (
	"fmt"
	"time"
)

// CheckState is a lifecycle state of a regression check run.
type CheckState string

const (
	StateInitialized      CheckState = "initialized"       // Handler created, nothing resolved
	StateContractSelected CheckState = "contract_selected" // Option contract resolved and verified
	StateOrderScheduled   CheckState = "order_scheduled"   // One-shot order action registered
	StateOrderFilled      CheckState = "order_filled"      // Last event was a validated fill
	StateDelistingWarning CheckState = "delisting_warning" // Last event was a validated delisting warning
	StateDelisted         CheckState = "delisted"          // Last event was a validated delisting
	StateTerminated       CheckState = "terminated"        // End of run reached with all checks passing
	StateFailed           CheckState = "failed"            // An expectation was violated
)

// Transition conditions.
const (
	ConditionContractResolved  = "contract_resolved"
	ConditionOrderScheduled    = "order_scheduled"
	ConditionFillValidated     = "fill_validated"
	ConditionDelistingWarning  = "delisting_warning"
	ConditionDelisted          = "delisted"
	ConditionEndOfAlgorithm    = "end_of_algorithm"
	ConditionExpectationFailed = "expectation_violated"
)

// StateTransition defines a valid state transition
type StateTransition struct {
	From        CheckState
	To          CheckState
	Condition   string
	Description string
}

// ValidTransitions lists every allowed move. Runtime states may follow each other in any order.
var ValidTransitions = []StateTransition{
	// Setup
	{StateInitialized, StateContractSelected, ConditionContractResolved, "Option contract resolved from chain"},
	{StateContractSelected, StateOrderScheduled, ConditionOrderScheduled, "Market order scheduled"},

	// Runtime events
	{StateOrderScheduled, StateOrderFilled, ConditionFillValidated, "First fill validated"},
	{StateOrderScheduled, StateDelistingWarning, ConditionDelistingWarning, "Delisting warning before any fill"},
	{StateOrderScheduled, StateDelisted, ConditionDelisted, "Delisted before any fill"},
	{StateOrderFilled, StateOrderFilled, ConditionFillValidated, "Subsequent fill validated"},
	{StateOrderFilled, StateDelistingWarning, ConditionDelistingWarning, "Delisting warning after fill"},
	{StateOrderFilled, StateDelisted, ConditionDelisted, "Delisted after fill"},
	{StateDelistingWarning, StateOrderFilled, ConditionFillValidated, "Fill after delisting warning"},
	{StateDelistingWarning, StateDelistingWarning, ConditionDelistingWarning, "Repeated delisting warning"},
	{StateDelistingWarning, StateDelisted, ConditionDelisted, "Contract delisted"},
	{StateDelisted, StateOrderFilled, ConditionFillValidated, "Expiry settlement fill"},
	{StateDelisted, StateDelistingWarning, ConditionDelistingWarning, "Warning after delisting"},
	{StateDelisted, StateDelisted, ConditionDelisted, "Repeated delisting"},

	// End of run
	{StateOrderScheduled, StateTerminated, ConditionEndOfAlgorithm, "Run ended without events"},
	{StateOrderFilled, StateTerminated, ConditionEndOfAlgorithm, "Run ended after fill"},
	{StateDelistingWarning, StateTerminated, ConditionEndOfAlgorithm, "Run ended after delisting warning"},
	{StateDelisted, StateTerminated, ConditionEndOfAlgorithm, "Run ended after delisting"},

	// Failure from any live state
	{StateInitialized, StateFailed, ConditionExpectationFailed, "Setup expectation violated"},
	{StateContractSelected, StateFailed, ConditionExpectationFailed, "Scheduling failed"},
	{StateOrderScheduled, StateFailed, ConditionExpectationFailed, "Runtime expectation violated"},
	{StateOrderFilled, StateFailed, ConditionExpectationFailed, "Runtime expectation violated"},
	{StateDelistingWarning, StateFailed, ConditionExpectationFailed, "Runtime expectation violated"},
	{StateDelisted, StateFailed, ConditionExpectationFailed, "Runtime expectation violated"},
}

// StateMachine tracks the lifecycle of one regression check run.
type StateMachine struct {
	transitionTime  time.Time
	transitionCount map[CheckState]int
	currentState    CheckState
	previousState   CheckState
}

// NewStateMachine creates a state machine in StateInitialized.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		currentState:    StateInitialized,
		previousState:   StateInitialized,
		transitionTime:  time.Now().UTC(),
		transitionCount: make(map[CheckState]int),
	}
}

// GetCurrentState returns the current state
func (sm *StateMachine) GetCurrentState() CheckState {
	return sm.currentState
}

// GetPreviousState returns the previous state
func (sm *StateMachine) GetPreviousState() CheckState {
	return sm.previousState
}

// LastTransitionTime returns when the last transition happened.
func (sm *StateMachine) LastTransitionTime() time.Time {
	return sm.transitionTime
}

// IsValidTransition checks if a transition is valid
func (sm *StateMachine) IsValidTransition(to CheckState, condition string) error {
	for _, transition := range ValidTransitions {
		if transition.From == sm.currentState && transition.To == to && transition.Condition == condition {
			return nil
		}
	}
	return fmt.Errorf("invalid transition from %s to %s with condition '%s'",
		sm.currentState, to, condition)
}

// Transition moves to a new state
func (sm *StateMachine) Transition(to CheckState, condition string) error {
	if err := sm.IsValidTransition(to, condition); err != nil {
		return err
	}

	sm.previousState = sm.currentState
	sm.currentState = to
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount[to]++
	return nil
}

// Fail moves to StateFailed unless the machine is already terminal.
func (sm *StateMachine) Fail() {
	if sm.IsTerminal() {
		return
	}
	_ = sm.Transition(StateFailed, ConditionExpectationFailed)
}

// GetTransitionCount returns how many times we've entered a state
func (sm *StateMachine) GetTransitionCount(state CheckState) int {
	return sm.transitionCount[state]
}

// IsTerminal reports whether no further transitions are possible.
func (sm *StateMachine) IsTerminal() bool {
	return sm.currentState == StateTerminated || sm.currentState == StateFailed
}

// IsRunning reports whether runtime events are being accepted.
func (sm *StateMachine) IsRunning() bool {
	switch sm.currentState {
	case StateOrderScheduled, StateOrderFilled, StateDelistingWarning, StateDelisted:
		return true
	default:
		return false
	}
}

// Reset returns the machine to StateInitialized.
func (sm *StateMachine) Reset() {
	sm.currentState = StateInitialized
	sm.previousState = StateInitialized
	sm.transitionTime = time.Now().UTC()
	sm.transitionCount = make(map[CheckState]int)
}

// GetStateDescription returns a human-readable description of the current state
func (sm *StateMachine) GetStateDescription() string {
	switch sm.currentState {
	case StateInitialized:
		return "Waiting for setup"
	case StateContractSelected:
		return "Contract resolved, scheduling order"
	case StateOrderScheduled:
		return "Order scheduled, validating runtime events"
	case StateOrderFilled:
		return "Fill validated against expected holdings"
	case StateDelistingWarning:
		return "Delisting warning received on expected date"
	case StateDelisted:
		return "Delisting received on expected date"
	case StateTerminated:
		return "Run completed with all expectations met"
	case StateFailed:
		return "Expectation violated, run aborted"
	default:
		return "Unknown state"
	}
}

// Copy creates a deep copy of the StateMachine
func (sm *StateMachine) Copy() *StateMachine {
	if sm == nil {
		return nil
	}
	counts := make(map[CheckState]int, len(sm.transitionCount))
	for k, v := range sm.transitionCount {
		counts[k] = v
	}
	return &StateMachine{
		currentState:    sm.currentState,
		previousState:   sm.previousState,
		transitionTime:  sm.transitionTime,
		transitionCount: counts,
	}
}
