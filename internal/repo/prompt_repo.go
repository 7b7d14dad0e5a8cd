package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/promptfile"
)

// RootFolder: значение parent, явно означающее корень.
const RootFolder = "__root__"

// PromptRepo: репозиторий шаблонов промптов и их папок.
//
// Папки вложенные, полное имя записывается через "/" ("review/go").
// Внутри папки шаблон уникален по SourceFilename.
type PromptRepo struct {
	pool *pgxpool.Pool
}

// NewPromptRepo создаёт новый PromptRepo.
func NewPromptRepo(pool *pgxpool.Pool) *PromptRepo {
	return &PromptRepo{pool: pool}
}

const promptColumns = `
	id, name, description, category, tags, priority, version, template,
	output_extraction, folder, source_filename, created_at, updated_at
`

// Save создаёт или перезаписывает шаблон.
//
// Пустой ID заменяется очищенным именем, пустой SourceFilename тоже.
// createdAt существующей записи сохраняется.
func (r *PromptRepo) Save(ctx context.Context, p *domain.PromptTemplate) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: prompt name is required", ErrInvalidName)
	}
	if p.ID == "" {
		p.ID = promptfile.Sanitize(p.Name)
	}
	if p.SourceFilename == "" {
		p.SourceFilename = promptfile.Sanitize(p.Name)
	}
	if p.OutputExtraction.Mode == "" {
		p.OutputExtraction = domain.DefaultOutputExtraction()
	}

	extraction, err := json.Marshal(p.OutputExtraction)
	if err != nil {
		return fmt.Errorf("marshal output extraction: %w", err)
	}
	tags := p.Tags
	if tags == nil {
		tags = []string{}
	}
	now := time.Now().UTC()

	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := ensurePromptFolder(ctx, tx, p.Folder); err != nil {
			return err
		}

		query := `
			INSERT INTO prompts (` + promptColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12)
			ON CONFLICT (id) DO UPDATE SET
				name              = EXCLUDED.name,
				description       = EXCLUDED.description,
				category          = EXCLUDED.category,
				tags              = EXCLUDED.tags,
				priority          = EXCLUDED.priority,
				version           = EXCLUDED.version,
				template          = EXCLUDED.template,
				output_extraction = EXCLUDED.output_extraction,
				folder            = EXCLUDED.folder,
				source_filename   = EXCLUDED.source_filename,
				updated_at        = EXCLUDED.updated_at
			RETURNING created_at, updated_at
		`
		err := tx.QueryRow(ctx, query,
			p.ID,
			p.Name,
			p.Description,
			p.Category,
			tags,
			p.Priority,
			p.Version,
			p.Template,
			extraction,
			p.Folder,
			p.SourceFilename,
			now,
		).Scan(&p.CreatedAt, &p.UpdatedAt)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s.md in folder %q", ErrAlreadyExists, p.SourceFilename, p.Folder)
		}
		if err != nil {
			return fmt.Errorf("upsert prompt: %w", err)
		}
		return nil
	})
}

// Get возвращает шаблон по ID или по имени файла.
func (r *PromptRepo) Get(ctx context.Context, id string) (*domain.PromptTemplate, error) {
	query := `
		SELECT ` + promptColumns + `
		FROM prompts
		WHERE id = $1 OR source_filename = $1
		ORDER BY (id = $1) DESC, folder
		LIMIT 1
	`
	return scanPrompt(r.pool.QueryRow(ctx, query, id))
}

// List возвращает все шаблоны, последние изменённые первыми.
func (r *PromptRepo) List(ctx context.Context) ([]domain.PromptTemplate, error) {
	query := `SELECT ` + promptColumns + ` FROM prompts ORDER BY updated_at DESC`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list prompts: %w", err)
	}
	defer rows.Close()

	prompts := make([]domain.PromptTemplate, 0)
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, *p)
	}
	return prompts, rows.Err()
}

// Delete удаляет шаблон по ID или имени файла.
// folder ограничивает поиск папкой; nil означает любую папку.
func (r *PromptRepo) Delete(ctx context.Context, id string, folder *string) error {
	query := `
		DELETE FROM prompts
		WHERE (id = $1 OR source_filename = $1)
		  AND ($2::text IS NULL OR folder = $2)
	`
	result, err := r.pool.Exec(ctx, query, id, folder)
	if err != nil {
		return fmt.Errorf("delete prompt: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Move переносит шаблон из sourceFolder в targetFolder. Целевая папка создаётся при необходимости.
func (r *PromptRepo) Move(ctx context.Context, id, sourceFolder, targetFolder string) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := ensurePromptFolder(ctx, tx, targetFolder); err != nil {
			return err
		}

		result, err := tx.Exec(ctx, `
			UPDATE prompts SET folder = $3, updated_at = NOW()
			WHERE (id = $1 OR source_filename = $1) AND folder = $2
		`, id, sourceFolder, targetFolder)
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: prompt with that filename exists in %q", ErrAlreadyExists, targetFolder)
		}
		if err != nil {
			return fmt.Errorf("move prompt: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// --- Папки ---

// ListFolders возвращает папки с количеством шаблонов непосредственно в каждой.
func (r *PromptRepo) ListFolders(ctx context.Context) ([]domain.Folder, error) {
	query := `
		SELECT f.name, f.parent, COUNT(p.id)
		FROM prompt_folders f
		LEFT JOIN prompts p ON p.folder = f.name
		GROUP BY f.name, f.parent
		ORDER BY LOWER(f.name)
	`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list prompt folders: %w", err)
	}
	defer rows.Close()

	folders := make([]domain.Folder, 0)
	for rows.Next() {
		var f domain.Folder
		if err := rows.Scan(&f.Name, &f.Parent, &f.PromptCount); err != nil {
			return nil, fmt.Errorf("scan prompt folder: %w", err)
		}
		folders = append(folders, f)
	}
	return folders, rows.Err()
}

// CreateFolder создаёт папку внутри parent ("" или RootFolder для корня)
// и возвращает полное имя.
func (r *PromptRepo) CreateFolder(ctx context.Context, name, parent string) (string, error) {
	if parent == RootFolder {
		parent = ""
	}
	full, err := folderPath(name, parent)
	if err != nil {
		return "", err
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if parent != "" {
			var ok bool
			if err := tx.QueryRow(ctx,
				`SELECT EXISTS (SELECT 1 FROM prompt_folders WHERE name = $1)`, parent,
			).Scan(&ok); err != nil {
				return fmt.Errorf("check parent folder: %w", err)
			}
			if !ok {
				return fmt.Errorf("%w: parent folder %q", ErrNotFound, parent)
			}
		}

		_, err := tx.Exec(ctx, `INSERT INTO prompt_folders (name, parent) VALUES ($1, $2)`, full, parent)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("create prompt folder: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full, nil
}

// RenameFolder переименовывает папку на том же уровне вложенности.
// Вложенные папки и шаблоны переезжают вместе с ней. Возвращает новое полное имя.
func (r *PromptRepo) RenameFolder(ctx context.Context, name, newName string) (string, error) {
	parent := parentOf(name)
	full, err := folderPath(newName, parent)
	if err != nil {
		return "", err
	}
	if full == name {
		return full, nil
	}

	err = pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `UPDATE prompt_folders SET name = $2 WHERE name = $1`, name, full)
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		if err != nil {
			return fmt.Errorf("rename prompt folder: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}

		prefix := name + "/"
		queries := []string{
			`UPDATE prompt_folders SET name = $2 || SUBSTRING(name FROM $3) WHERE name LIKE $1::text || '%'`,
			`UPDATE prompt_folders SET parent = $2 || SUBSTRING(parent FROM $3) WHERE parent LIKE $1::text || '%' OR parent = $4`,
			`UPDATE prompts SET folder = $2 || SUBSTRING(folder FROM $3) WHERE folder LIKE $1::text || '%' OR folder = $4`,
		}
		// SUBSTRING(x FROM n) отрезает старое имя, оставляя хвост начиная с "/"
		// (или пустую строку для самой папки).
		for i, q := range queries {
			args := []any{escapeLike(prefix), full, len(name) + 1}
			if i > 0 {
				args = append(args, name)
			}
			if _, err := tx.Exec(ctx, q, args...); err != nil {
				return fmt.Errorf("move folder contents: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return full, nil
}

// DeleteFolder удаляет папку.
//
// Непустая папка (шаблоны или вложенные папки) удаляется только с force:
// тогда удаляется всё содержимое. Без force возвращается ErrInvalidState.
func (r *PromptRepo) DeleteFolder(ctx context.Context, name string, force bool) (int, error) {
	var removed int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM prompt_folders WHERE name = $1)`, name,
		).Scan(&exists); err != nil {
			return fmt.Errorf("check prompt folder: %w", err)
		}
		if !exists {
			return ErrNotFound
		}

		prefix := escapeLike(name + "/")
		var contents int
		if err := tx.QueryRow(ctx, `
			SELECT (SELECT COUNT(*) FROM prompts WHERE folder = $1 OR folder LIKE $2::text || '%')
			     + (SELECT COUNT(*) FROM prompt_folders WHERE name LIKE $2::text || '%')
		`, name, prefix).Scan(&contents); err != nil {
			return fmt.Errorf("count folder contents: %w", err)
		}
		if contents > 0 && !force {
			return fmt.Errorf("%w: folder %q is not empty (%d items)", ErrInvalidState, name, contents)
		}

		result, err := tx.Exec(ctx, `DELETE FROM prompts WHERE folder = $1 OR folder LIKE $2::text || '%'`, name, prefix)
		if err != nil {
			return fmt.Errorf("delete folder prompts: %w", err)
		}
		removed = int(result.RowsAffected())

		if _, err := tx.Exec(ctx, `DELETE FROM prompt_folders WHERE name = $1 OR name LIKE $2::text || '%'`, name, prefix); err != nil {
			return fmt.Errorf("delete prompt folder: %w", err)
		}
		return nil
	})
	return removed, err
}

// --- Helpers ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPrompt(row rowScanner) (*domain.PromptTemplate, error) {
	var p domain.PromptTemplate
	var extraction []byte
	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&p.Category,
		&p.Tags,
		&p.Priority,
		&p.Version,
		&p.Template,
		&extraction,
		&p.Folder,
		&p.SourceFilename,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan prompt: %w", err)
	}

	if err := json.Unmarshal(extraction, &p.OutputExtraction); err != nil {
		return nil, fmt.Errorf("unmarshal output extraction: %w", err)
	}
	return &p, nil
}

// ensurePromptFolder создаёт папку и всех её предков.
func ensurePromptFolder(ctx context.Context, q dbtx, folder string) error {
	if folder == "" {
		return nil
	}

	parts := strings.Split(folder, "/")
	parent := ""
	for i := range parts {
		name := strings.Join(parts[:i+1], "/")
		_, err := q.Exec(ctx,
			`INSERT INTO prompt_folders (name, parent) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
			name, parent)
		if err != nil {
			return fmt.Errorf("ensure prompt folder: %w", err)
		}
		parent = name
	}
	return nil
}

// folderPath очищает имя папки и склеивает с родителем.
func folderPath(name, parent string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", fmt.Errorf("%w: folder name is required", ErrInvalidName)
	}
	safe := promptfile.Sanitize(name)
	if parent == "" {
		return safe, nil
	}
	return parent + "/" + safe, nil
}

func parentOf(folder string) string {
	if i := strings.LastIndex(folder, "/"); i >= 0 {
		return folder[:i]
	}
	return ""
}

// escapeLike экранирует спецсимволы LIKE.
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
