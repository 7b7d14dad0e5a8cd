package domain

import "testing"

func TestNodeStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to NodeStatus
		allowed  bool
	}{
		{StatusIdle, StatusWaiting, true},
		{StatusIdle, StatusRunning, true},
		{StatusWaiting, StatusRunning, true},
		{StatusRunning, StatusSuccess, true},
		{StatusRunning, StatusError, true},
		{StatusSuccess, StatusIdle, true},
		{StatusError, StatusIdle, true},
		{StatusRunning, StatusIdle, true},
		{"", StatusWaiting, true},
		{StatusIdle, StatusSuccess, false},
		{StatusWaiting, StatusError, false},
		{StatusSuccess, StatusRunning, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("expected %v, got %v", tt.allowed, got)
			}
		})
	}
}

func TestEvaluator_Iterations(t *testing.T) {
	d := NewNodeData(NodeTypeEvaluator).(*EvaluatorData)
	d.MaxIterations = 2

	// Первая итерация
	if !d.Transition(EvaluatorEvaluating) {
		t.Fatal("idle -> evaluating should be allowed")
	}
	if !d.Transition(EvaluatorRejected) {
		t.Fatal("evaluating -> rejected should be allowed")
	}

	// Вторая итерация
	if !d.Transition(EvaluatorEvaluating) {
		t.Fatal("rejected -> evaluating should be allowed below the limit")
	}
	if d.Iteration != 2 {
		t.Errorf("expected iteration 2, got %d", d.Iteration)
	}
	if !d.Transition(EvaluatorRejected) {
		t.Fatal("evaluating -> rejected should be allowed")
	}

	// Лимит исчерпан
	if d.Transition(EvaluatorEvaluating) {
		t.Error("rejected -> evaluating should be denied at the limit")
	}
	if d.Status != EvaluatorRejected {
		t.Errorf("status changed on denied transition: %s", d.Status)
	}

	// Сброс
	if !d.Transition(EvaluatorIdle) {
		t.Fatal("reset should be allowed")
	}
	if d.Iteration != 0 {
		t.Errorf("expected iteration reset, got %d", d.Iteration)
	}
}

func TestEvaluator_ApprovedIsFinal(t *testing.T) {
	d := &EvaluatorData{MaxIterations: 3, Status: EvaluatorApproved}
	if d.CanTransition(EvaluatorEvaluating) {
		t.Error("approved -> evaluating should be denied")
	}
	if d.CanTransition(EvaluatorRejected) {
		t.Error("approved -> rejected should be denied")
	}
}

func TestConditionStatus_CanTransition(t *testing.T) {
	tests := []struct {
		from, to ConditionStatus
		allowed  bool
	}{
		{ConditionIdle, ConditionEvaluating, true},
		{ConditionEvaluating, ConditionTrue, true},
		{ConditionEvaluating, ConditionFalse, true},
		{ConditionTrue, ConditionEvaluating, true},
		{ConditionFalse, ConditionIdle, true},
		{ConditionIdle, ConditionTrue, false},
		{ConditionTrue, ConditionFalse, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			if got := tt.from.CanTransition(tt.to); got != tt.allowed {
				t.Errorf("expected %v, got %v", tt.allowed, got)
			}
		})
	}
}

func TestFailureStatus(t *testing.T) {
	if !FailureFailed.CanRetry() || !FailureEscalated.CanRetry() {
		t.Error("failed and escalated should be retryable")
	}
	if FailurePending.CanRetry() || FailureCompleted.CanRetry() {
		t.Error("pending and completed should not be retryable")
	}
	if FailureStatus("lost").IsValid() {
		t.Error("unknown status should be invalid")
	}
}
