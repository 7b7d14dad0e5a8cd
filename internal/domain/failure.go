package domain

import (
	"math"
	"time"
)

// Failure: упавший тест, который проходит через pipeline самовосстановления.
//
// Failure создаётся через POST /api/failures. Выполнение pipeline
// делает внешний исполнитель; здесь хранится только состояние для панелей.
type Failure struct {
	// ID: идентификатор вида "fail-1a2b3c4d".
	ID string `json:"id"`

	TestFile     string         `json:"test_file"`
	TestName     string         `json:"test_name"`
	ErrorMessage string         `json:"error_message"`
	StackTrace   string         `json:"stack_trace,omitempty"`
	Expected     string         `json:"expected,omitempty"`
	Actual       string         `json:"actual,omitempty"`
	Context      map[string]any `json:"context"`

	// Status: текущий статус.
	Status FailureStatus `json:"status"`

	// WorkflowID: workflow, назначенный для обработки.
	WorkflowID string `json:"workflow_id,omitempty"`

	// CurrentNodeID: узел, который сейчас выполняется.
	CurrentNodeID string `json:"current_node_id,omitempty"`

	// RetryCount: количество повторов.
	RetryCount int `json:"retry_count"`

	// NodeResults: выходы выполненных узлов (nodeID → output).
	NodeResults map[string]any `json:"node_results"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// FailureInput: входные данные для создания failure.
type FailureInput struct {
	TestFile     string         `json:"test_file"`
	TestName     string         `json:"test_name"`
	ErrorMessage string         `json:"error_message"`
	StackTrace   string         `json:"stack_trace,omitempty"`
	Expected     string         `json:"expected,omitempty"`
	Actual       string         `json:"actual,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
}

// NewFailure создаёт failure в статусе pending.
func NewFailure(id string, in FailureInput, now time.Time) *Failure {
	testName := in.TestName
	if testName == "" {
		testName = "unknown"
	}
	ctx := in.Context
	if ctx == nil {
		ctx = make(map[string]any)
	}
	return &Failure{
		ID:           id,
		TestFile:     in.TestFile,
		TestName:     testName,
		ErrorMessage: in.ErrorMessage,
		StackTrace:   in.StackTrace,
		Expected:     in.Expected,
		Actual:       in.Actual,
		Context:      ctx,
		Status:       FailurePending,
		NodeResults:  make(map[string]any),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// ResetForRetry сбрасывает failure для повторной обработки.
func (f *Failure) ResetForRetry(now time.Time) {
	f.Status = FailurePending
	f.RetryCount++
	f.NodeResults = make(map[string]any)
	f.CurrentNodeID = ""
	f.CompletedAt = nil
	f.UpdatedAt = now
}

// WorkflowInput собирает входное значение workflow из данных failure.
// Ключи context не перезаписывают основные поля.
func (f *Failure) WorkflowInput() map[string]any {
	in := make(map[string]any, len(f.Context)+6)
	for k, v := range f.Context {
		in[k] = v
	}
	in["test_file"] = f.TestFile
	in["test_name"] = f.TestName
	in["error_message"] = f.ErrorMessage
	in["stack_trace"] = f.StackTrace
	in["expected"] = f.Expected
	in["actual"] = f.Actual
	return in
}

// FailureStats: агрегаты для панели failure tracker.
type FailureStats struct {
	Total       int     `json:"total"`
	Pending     int     `json:"pending"`
	Running     int     `json:"running"`
	Completed   int     `json:"completed"`
	Failed      int     `json:"failed"`
	Escalated   int     `json:"escalated"`
	SuccessRate float64 `json:"success_rate"`
}

// ComputeStats считает статистику по количеству failures в каждом статусе.
func ComputeStats(counts map[FailureStatus]int) FailureStats {
	s := FailureStats{
		Pending:   counts[FailurePending],
		Running:   counts[FailureRunning],
		Completed: counts[FailureCompleted],
		Failed:    counts[FailureFailed],
		Escalated: counts[FailureEscalated],
	}
	s.Total = s.Pending + s.Running + s.Completed + s.Failed + s.Escalated

	finished := s.Completed + s.Failed
	if finished > 0 {
		s.SuccessRate = math.Round(float64(s.Completed)/float64(finished)*1000) / 10
	}
	return s
}
