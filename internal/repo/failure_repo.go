package repo

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowboard/internal/domain"
)

// FailureRepo: репозиторий упавших тестов.
type FailureRepo struct {
	pool *pgxpool.Pool
}

// NewFailureRepo создаёт новый FailureRepo.
func NewFailureRepo(pool *pgxpool.Pool) *FailureRepo {
	return &FailureRepo{pool: pool}
}

const failureColumns = `
	id, test_file, test_name, error_message, stack_trace, expected, actual, context,
	status, workflow_id, current_node_id, retry_count, node_results,
	created_at, updated_at, completed_at
`

// NewFailureID генерирует идентификатор вида "fail-1a2b3c4d".
func NewFailureID() string {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("read random: %v", err))
	}
	return "fail-" + hex.EncodeToString(b[:])
}

// Create сохраняет новый failure.
func (r *FailureRepo) Create(ctx context.Context, f *domain.Failure) error {
	contextJSON, resultsJSON, err := marshalFailureMaps(f)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO failures (` + failureColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`
	_, err = r.pool.Exec(ctx, query,
		f.ID,
		f.TestFile,
		f.TestName,
		f.ErrorMessage,
		f.StackTrace,
		f.Expected,
		f.Actual,
		contextJSON,
		f.Status,
		f.WorkflowID,
		f.CurrentNodeID,
		f.RetryCount,
		resultsJSON,
		f.CreatedAt,
		f.UpdatedAt,
		f.CompletedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("insert failure: %w", err)
	}
	return nil
}

// GetByID возвращает failure по ID.
func (r *FailureRepo) GetByID(ctx context.Context, id string) (*domain.Failure, error) {
	query := `SELECT ` + failureColumns + ` FROM failures WHERE id = $1`
	return scanFailure(r.pool.QueryRow(ctx, query, id))
}

// FailureFilter: параметры фильтрации failures.
type FailureFilter struct {
	Status domain.FailureStatus
	Limit  int
}

// List возвращает failures, новые первыми.
func (r *FailureRepo) List(ctx context.Context, filter FailureFilter) ([]domain.Failure, error) {
	if filter.Limit <= 0 {
		filter.Limit = 50
	}

	query := `
		SELECT ` + failureColumns + `
		FROM failures
		WHERE ($1::text IS NULL OR status = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, nullString(string(filter.Status)), filter.Limit)
	if err != nil {
		return nil, fmt.Errorf("list failures: %w", err)
	}
	defer rows.Close()

	failures := make([]domain.Failure, 0)
	for rows.Next() {
		f, err := scanFailure(rows)
		if err != nil {
			return nil, err
		}
		failures = append(failures, *f)
	}
	return failures, rows.Err()
}

// Stats считает статистику по статусам.
func (r *FailureRepo) Stats(ctx context.Context) (domain.FailureStats, error) {
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM failures GROUP BY status`)
	if err != nil {
		return domain.FailureStats{}, fmt.Errorf("failure stats: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.FailureStatus]int)
	for rows.Next() {
		var status domain.FailureStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return domain.FailureStats{}, fmt.Errorf("scan failure stats: %w", err)
		}
		counts[status] = n
	}
	if err := rows.Err(); err != nil {
		return domain.FailureStats{}, err
	}

	return domain.ComputeStats(counts), nil
}

// Retry переводит failed/escalated failure обратно в pending.
// workflowID заменяет назначенный workflow, если он не пуст.
func (r *FailureRepo) Retry(ctx context.Context, id, workflowID string) (*domain.Failure, error) {
	var out *domain.Failure
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		f, err := scanFailure(tx.QueryRow(ctx,
			`SELECT `+failureColumns+` FROM failures WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return err
		}
		if !f.Status.CanRetry() {
			return fmt.Errorf("%w: cannot retry failure with status '%s'", ErrInvalidState, f.Status)
		}

		f.ResetForRetry(time.Now().UTC())
		if workflowID != "" {
			f.WorkflowID = workflowID
		}

		_, err = tx.Exec(ctx, `
			UPDATE failures
			SET status = $2, retry_count = $3, node_results = '{}', current_node_id = '',
			    completed_at = NULL, workflow_id = $4, updated_at = $5
			WHERE id = $1
		`, f.ID, f.Status, f.RetryCount, f.WorkflowID, f.UpdatedAt)
		if err != nil {
			return fmt.Errorf("retry failure: %w", err)
		}

		out = f
		return nil
	})
	return out, err
}

// UpdateStatus меняет статус failure. Завершающие статусы проставляют completed_at.
func (r *FailureRepo) UpdateStatus(ctx context.Context, id string, status domain.FailureStatus) (*domain.Failure, error) {
	if !status.IsValid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidState, status)
	}

	query := `
		UPDATE failures
		SET status = $2,
		    updated_at = NOW(),
		    completed_at = CASE WHEN $2 IN ('completed', 'failed') THEN NOW() ELSE completed_at END
		WHERE id = $1
		RETURNING ` + failureColumns
	return scanFailure(r.pool.QueryRow(ctx, query, id, status))
}

// --- Helpers ---

func scanFailure(row rowScanner) (*domain.Failure, error) {
	var f domain.Failure
	var contextJSON, resultsJSON []byte
	err := row.Scan(
		&f.ID,
		&f.TestFile,
		&f.TestName,
		&f.ErrorMessage,
		&f.StackTrace,
		&f.Expected,
		&f.Actual,
		&contextJSON,
		&f.Status,
		&f.WorkflowID,
		&f.CurrentNodeID,
		&f.RetryCount,
		&resultsJSON,
		&f.CreatedAt,
		&f.UpdatedAt,
		&f.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan failure: %w", err)
	}

	if err := json.Unmarshal(contextJSON, &f.Context); err != nil {
		return nil, fmt.Errorf("unmarshal context: %w", err)
	}
	if err := json.Unmarshal(resultsJSON, &f.NodeResults); err != nil {
		return nil, fmt.Errorf("unmarshal node results: %w", err)
	}
	return &f, nil
}

func marshalFailureMaps(f *domain.Failure) ([]byte, []byte, error) {
	ctx := f.Context
	if ctx == nil {
		ctx = map[string]any{}
	}
	results := f.NodeResults
	if results == nil {
		results = map[string]any{}
	}

	contextJSON, err := json.Marshal(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal context: %w", err)
	}
	resultsJSON, err := json.Marshal(results)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal node results: %w", err)
	}
	return contextJSON, resultsJSON, nil
}

// nullString возвращает nil для пустой строки.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
