package promptfile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shaiso/flowboard/internal/domain"
)

// ReadFile читает шаблон из .md файла.
// Пустой id заменяется на имя файла без расширения, оно же SourceFilename.
func ReadFile(path string) (*domain.PromptTemplate, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read prompt file: %w", err)
	}

	p, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
	}

	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	p.SourceFilename = base
	if p.ID == "" {
		p.ID = base
	}
	if p.Name == "" {
		p.Name = base
	}

	return p, nil
}

// WriteFile пишет шаблон в dir и возвращает путь к файлу.
func WriteFile(dir string, p *domain.PromptTemplate) (string, error) {
	content, err := Format(p)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	path := filepath.Join(dir, Filename(p))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("write prompt file: %w", err)
	}

	return path, nil
}

// IsPromptFile проверяет расширение файла.
func IsPromptFile(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".md")
}
