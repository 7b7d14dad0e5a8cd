package domain

// NodeStatus: статус prompt-блока и HTTP блока.
//
// Жизненный цикл:
//
//	idle → waiting → running → success
//	                         ↘ error
//	(любой) → idle (сброс)
//
// Статусы только отображаются: переходы выполняет внешний оркестратор,
// здесь лишь проверяется их допустимость.
type NodeStatus string

const (
	StatusIdle    NodeStatus = "idle"
	StatusWaiting NodeStatus = "waiting"
	StatusRunning NodeStatus = "running"
	StatusSuccess NodeStatus = "success"
	StatusError   NodeStatus = "error"
)

var nodeTransitions = map[NodeStatus][]NodeStatus{
	StatusIdle:    {StatusWaiting, StatusRunning},
	StatusWaiting: {StatusRunning},
	StatusRunning: {StatusSuccess, StatusError},
	StatusSuccess: {StatusWaiting},
	StatusError:   {StatusWaiting},
}

// CanTransition проверяет допустимость перехода.
func (s NodeStatus) CanTransition(to NodeStatus) bool {
	if to == StatusIdle {
		return true
	}
	return contains(nodeTransitions[s.orIdle()], to)
}

// IsValid проверяет, что статус известен.
func (s NodeStatus) IsValid() bool {
	_, ok := nodeTransitions[s]
	return ok
}

// IsTerminal возвращает true для завершённых статусов.
func (s NodeStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusError
}

func (s NodeStatus) orIdle() NodeStatus {
	if s == "" {
		return StatusIdle
	}
	return s
}

// EvaluatorStatus: статус блока-оценщика.
//
// Жизненный цикл:
//
//	idle → evaluating → approved
//	                  ↘ rejected → evaluating (пока iteration < maxIterations)
type EvaluatorStatus string

const (
	EvaluatorIdle       EvaluatorStatus = "idle"
	EvaluatorEvaluating EvaluatorStatus = "evaluating"
	EvaluatorApproved   EvaluatorStatus = "approved"
	EvaluatorRejected   EvaluatorStatus = "rejected"
)

// CanTransition проверяет переход оценщика с учётом лимита итераций.
func (d *EvaluatorData) CanTransition(to EvaluatorStatus) bool {
	from := d.Status
	if from == "" {
		from = EvaluatorIdle
	}

	switch {
	case to == EvaluatorIdle:
		return true
	case from == EvaluatorIdle && to == EvaluatorEvaluating:
		return true
	case from == EvaluatorEvaluating && (to == EvaluatorApproved || to == EvaluatorRejected):
		return true
	case from == EvaluatorRejected && to == EvaluatorEvaluating:
		return d.Iteration < d.MaxIterations
	default:
		return false
	}
}

// Transition выполняет переход и увеличивает счётчик итераций при входе в evaluating.
// Возвращает false, если переход недопустим (статус не меняется).
func (d *EvaluatorData) Transition(to EvaluatorStatus) bool {
	if !d.CanTransition(to) {
		return false
	}
	switch to {
	case EvaluatorEvaluating:
		d.Iteration++
	case EvaluatorIdle:
		d.Iteration = 0
	}
	d.Status = to
	return true
}

// ConditionStatus: статус блока условия.
//
// Жизненный цикл:
//
//	idle → evaluating → true
//	                  ↘ false
type ConditionStatus string

const (
	ConditionIdle       ConditionStatus = "idle"
	ConditionEvaluating ConditionStatus = "evaluating"
	ConditionTrue       ConditionStatus = "true"
	ConditionFalse      ConditionStatus = "false"
)

// CanTransition проверяет допустимость перехода.
func (s ConditionStatus) CanTransition(to ConditionStatus) bool {
	from := s
	if from == "" {
		from = ConditionIdle
	}
	switch {
	case to == ConditionIdle:
		return true
	case from == ConditionIdle:
		return to == ConditionEvaluating
	case from == ConditionEvaluating:
		return to == ConditionTrue || to == ConditionFalse
	default:
		return to == ConditionEvaluating
	}
}

// FailureStatus: статус обработки упавшего теста.
//
// Жизненный цикл:
//
//	pending → running → completed
//	                  ↘ failed → pending (retry)
//	(любой) → escalated → pending (retry)
type FailureStatus string

const (
	FailurePending   FailureStatus = "pending"
	FailureRunning   FailureStatus = "running"
	FailureCompleted FailureStatus = "completed"
	FailureFailed    FailureStatus = "failed"
	FailureEscalated FailureStatus = "escalated"
)

// IsValid проверяет, что статус известен.
func (s FailureStatus) IsValid() bool {
	switch s {
	case FailurePending, FailureRunning, FailureCompleted, FailureFailed, FailureEscalated:
		return true
	default:
		return false
	}
}

// CanRetry возвращает true, если failure можно отправить на повтор.
func (s FailureStatus) CanRetry() bool {
	return s == FailureFailed || s == FailureEscalated
}

func contains[T comparable](items []T, v T) bool {
	for _, it := range items {
		if it == v {
			return true
		}
	}
	return false
}
