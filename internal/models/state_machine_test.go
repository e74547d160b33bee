package models

import (
	"testing"
)

func TestStateMachine_BasicTransitions(t *testing.T) {
	sm := NewStateMachine()

	if sm.GetCurrentState() != StateInitialized {
		t.Errorf("Initial state should be StateInitialized, got %s", sm.GetCurrentState())
	}

	if err := sm.Transition(StateContractSelected, ConditionContractResolved); err != nil {
		t.Errorf("Valid transition failed: %v", err)
	}

	if sm.GetCurrentState() != StateContractSelected {
		t.Errorf("State should be StateContractSelected, got %s", sm.GetCurrentState())
	}

	if sm.GetPreviousState() != StateInitialized {
		t.Errorf("Previous state should be StateInitialized, got %s", sm.GetPreviousState())
	}
}

func TestStateMachine_InvalidTransitions(t *testing.T) {
	sm := NewStateMachine()

	// Skipping contract selection is not allowed
	if err := sm.Transition(StateOrderScheduled, ConditionOrderScheduled); err == nil {
		t.Error("Invalid transition should fail")
	}
	if sm.GetCurrentState() != StateInitialized {
		t.Errorf("State should remain StateInitialized after failed transition, got %s", sm.GetCurrentState())
	}

	// Right target, wrong condition
	if err := sm.Transition(StateContractSelected, ConditionFillValidated); err == nil {
		t.Error("Transition with wrong condition should fail")
	}
}

func TestStateMachine_FullLifecycle(t *testing.T) {
	sm := NewStateMachine()

	transitions := []struct {
		to        CheckState
		condition string
	}{
		{StateContractSelected, ConditionContractResolved},
		{StateOrderScheduled, ConditionOrderScheduled},
		{StateOrderFilled, ConditionFillValidated},
		{StateDelistingWarning, ConditionDelistingWarning},
		{StateDelisted, ConditionDelisted},
		{StateOrderFilled, ConditionFillValidated},
		{StateTerminated, ConditionEndOfAlgorithm},
	}

	for _, tr := range transitions {
		if err := sm.Transition(tr.to, tr.condition); err != nil {
			t.Fatalf("Transition to %s failed: %v", tr.to, err)
		}
	}

	if !sm.IsTerminal() {
		t.Error("Should be terminal after end of algorithm")
	}
	if got := sm.GetTransitionCount(StateOrderFilled); got != 2 {
		t.Errorf("Expected 2 fills recorded, got %d", got)
	}
	if err := sm.Transition(StateOrderFilled, ConditionFillValidated); err == nil {
		t.Error("No transition should be allowed out of StateTerminated")
	}
}

func TestStateMachine_Fail(t *testing.T) {
	sm := NewStateMachine()
	if err := sm.Transition(StateContractSelected, ConditionContractResolved); err != nil {
		t.Fatal(err)
	}
	if err := sm.Transition(StateOrderScheduled, ConditionOrderScheduled); err != nil {
		t.Fatal(err)
	}
	if !sm.IsRunning() {
		t.Error("Should be running after scheduling")
	}

	sm.Fail()
	if sm.GetCurrentState() != StateFailed {
		t.Errorf("Expected StateFailed, got %s", sm.GetCurrentState())
	}

	// Failing twice keeps the machine in StateFailed
	sm.Fail()
	if sm.GetTransitionCount(StateFailed) != 1 {
		t.Errorf("Expected one failure transition, got %d", sm.GetTransitionCount(StateFailed))
	}
}

func TestStateMachine_ResetAndCopy(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.Transition(StateContractSelected, ConditionContractResolved)

	cp := sm.Copy()
	_ = sm.Transition(StateOrderScheduled, ConditionOrderScheduled)

	if cp.GetCurrentState() != StateContractSelected {
		t.Errorf("Copy should not follow the original, got %s", cp.GetCurrentState())
	}
	if cp.GetTransitionCount(StateOrderScheduled) != 0 {
		t.Error("Copy should have independent transition counts")
	}

	sm.Reset()
	if sm.GetCurrentState() != StateInitialized || sm.GetTransitionCount(StateContractSelected) != 0 {
		t.Error("Reset should clear state and counts")
	}
}

func TestStateMachine_Descriptions(t *testing.T) {
	sm := NewStateMachine()
	if sm.GetStateDescription() == "Unknown state" {
		t.Error("Initialized state should have a description")
	}
	var nilSM *StateMachine
	if nilSM.Copy() != nil {
		t.Error("Copy of nil should be nil")
	}
}
