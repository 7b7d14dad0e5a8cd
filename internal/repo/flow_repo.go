package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowboard/internal/domain"
)

// FlowRepo: репозиторий workflows и их папок.
//
// Workflow адресуется по имени: имя очищается domain.FlowKey и служит
// уникальным ключом, сохранение работает как upsert.
type FlowRepo struct {
	pool *pgxpool.Pool
}

// NewFlowRepo создаёт новый FlowRepo.
func NewFlowRepo(pool *pgxpool.Pool) *FlowRepo {
	return &FlowRepo{pool: pool}
}

// Save создаёт или перезаписывает workflow.
//
// createdAt существующей записи сохраняется, updatedAt обновляется.
// Пустая папка при перезаписи оставляет workflow в текущей папке.
// wf получает итоговые ID, Name, Folder и временные метки.
func (r *FlowRepo) Save(ctx context.Context, wf *domain.Workflow) error {
	key := domain.FlowKey(wf.Name)
	if key == "" {
		return fmt.Errorf("%w: %q", ErrInvalidName, wf.Name)
	}

	nodes, edges, err := marshalGraph(wf)
	if err != nil {
		return err
	}

	if wf.ID == uuid.Nil {
		wf.ID = uuid.New()
	}
	now := time.Now().UTC()

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := ensureFlowFolder(ctx, tx, wf.Folder); err != nil {
			return err
		}

		query := `
			INSERT INTO flows (id, name, description, template_id, folder, nodes, edges, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
			ON CONFLICT (name) DO UPDATE SET
				description = EXCLUDED.description,
				template_id = EXCLUDED.template_id,
				folder      = CASE WHEN EXCLUDED.folder = '' THEN flows.folder ELSE EXCLUDED.folder END,
				nodes       = EXCLUDED.nodes,
				edges       = EXCLUDED.edges,
				updated_at  = EXCLUDED.updated_at
			RETURNING id, folder, created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			wf.ID,
			key,
			wf.Description,
			wf.TemplateID,
			wf.Folder,
			nodes,
			edges,
			now,
		).Scan(&wf.ID, &wf.Folder, &wf.CreatedAt, &wf.UpdatedAt)
		if err != nil {
			return fmt.Errorf("upsert flow: %w", err)
		}

		wf.Name = key
		return nil
	})
}

// Get возвращает workflow по имени.
func (r *FlowRepo) Get(ctx context.Context, name string) (*domain.Workflow, error) {
	query := `
		SELECT id, name, description, template_id, folder, nodes, edges, created_at, updated_at
		FROM flows
		WHERE name = $1
	`
	var wf domain.Workflow
	var nodes, edges []byte
	err := r.pool.QueryRow(ctx, query, domain.FlowKey(name)).Scan(
		&wf.ID,
		&wf.Name,
		&wf.Description,
		&wf.TemplateID,
		&wf.Folder,
		&nodes,
		&edges,
		&wf.CreatedAt,
		&wf.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get flow: %w", err)
	}

	if err := json.Unmarshal(nodes, &wf.Nodes); err != nil {
		return nil, fmt.Errorf("unmarshal nodes: %w", err)
	}
	if err := json.Unmarshal(edges, &wf.Edges); err != nil {
		return nil, fmt.Errorf("unmarshal edges: %w", err)
	}
	return &wf, nil
}

// Exists проверяет наличие workflow.
func (r *FlowRepo) Exists(ctx context.Context, name string) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM flows WHERE name = $1)`, domain.FlowKey(name)).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("check flow: %w", err)
	}
	return ok, nil
}

// List возвращает краткие описания workflows, последние изменённые первыми.
func (r *FlowRepo) List(ctx context.Context) ([]domain.FlowSummary, error) {
	query := `
		SELECT name, description, template_id, folder,
		       json_array_length(nodes), json_array_length(edges),
		       created_at, updated_at
		FROM flows
		ORDER BY updated_at DESC
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list flows: %w", err)
	}
	defer rows.Close()

	flows := make([]domain.FlowSummary, 0)
	for rows.Next() {
		var s domain.FlowSummary
		if err := rows.Scan(
			&s.Name,
			&s.Description,
			&s.TemplateID,
			&s.Folder,
			&s.NodeCount,
			&s.EdgeCount,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan flow: %w", err)
		}
		flows = append(flows, s)
	}
	return flows, rows.Err()
}

// Delete удаляет workflow.
func (r *FlowRepo) Delete(ctx context.Context, name string) error {
	result, err := r.pool.Exec(ctx, `DELETE FROM flows WHERE name = $1`, domain.FlowKey(name))
	if err != nil {
		return fmt.Errorf("delete flow: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Move переносит workflow в папку ("" означает корень). Папка создаётся при необходимости.
func (r *FlowRepo) Move(ctx context.Context, name, folder string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := ensureFlowFolder(ctx, tx, folder); err != nil {
			return err
		}

		result, err := tx.Exec(ctx,
			`UPDATE flows SET folder = $2, updated_at = NOW() WHERE name = $1`,
			domain.FlowKey(name), folder)
		if err != nil {
			return fmt.Errorf("move flow: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Папки ---

// ListFolders возвращает папки workflows с количеством workflows в каждой.
func (r *FlowRepo) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	query := `
		SELECT f.name, COUNT(fl.id)
		FROM flow_folders f
		LEFT JOIN flows fl ON fl.folder = f.name
		GROUP BY f.name
		ORDER BY LOWER(f.name)
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list flow folders: %w", err)
	}
	defer rows.Close()

	folders := make([]domain.Folder, 0)
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.Name, &f.FlowCount); err != nil {
			return nil, fmt.Errorf("scan flow folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// CreateFolder создаёт папку и возвращает её очищенное имя.
func (r *FlowRepo) CreateFolder(ctx context.Context, name string) (string, error) {
	key := domain.FlowKey(name)
	if key == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	_, err := r.pool.Exec(ctx, `INSERT INTO flow_folders (name) VALUES ($1)`, key)
	if isUniqueViolation(err) {
		return "", ErrAlreadyExists
	}
	if err != nil {
		return "", fmt.Errorf("create flow folder: %w", err)
	}
	return key, nil
}

// DeleteFolder удаляет папку. Workflows из неё переносятся в корень.
func (r *FlowRepo) DeleteFolder(ctx context.Context, name string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `DELETE FROM flow_folders WHERE name = $1`, name)
		if err != nil {
			return fmt.Errorf("delete flow folder: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}

		if _, err := tx.Exec(ctx, `UPDATE flows SET folder = '' WHERE folder = $1`, name); err != nil {
			return fmt.Errorf("release flows: %w", err)
		}
		return nil
	})
}

// --- Helpers ---

func ensureFlowFolder(ctx context.Context, q dbtx, folder string) error {
	if folder == "" {
		return nil
	}
	_, err := q.Exec(ctx, `INSERT INTO flow_folders (name) VALUES ($1) ON CONFLICT DO NOTHING`, folder)
	if err != nil {
		return fmt.Errorf("ensure flow folder: %w", err)
	}
	return nil
}

// marshalGraph сериализует узлы и рёбра; nil срезы пишутся как [].
func marshalGraph(wf *domain.Workflow) ([]byte, []byte, error) {
	nodes := wf.Nodes
	if nodes == nil {
		nodes = []domain.Node{}
	}
	edges := wf.Edges
	if edges == nil {
		edges = []domain.Edge{}
	}

	nodesJSON, err := json.Marshal(nodes)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal nodes: %w", err)
	}
	edgesJSON, err := json.Marshal(edges)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal edges: %w", err)
	}
	return nodesJSON, edgesJSON, nil
}
