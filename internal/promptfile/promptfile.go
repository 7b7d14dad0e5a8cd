// Package promptfile читает и пишет шаблоны промптов в markdown с YAML front matter.
//
// Формат файла:
//
//	---
//	id: summarize
//	name: Summarize
//	description: Short summary
//	tags:
//	  - text
//	outputExtraction:
//	  outputName: output
//	  mode: full
//	---
//
//	Summarize {{text}} in one paragraph.
package promptfile

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/shaiso/flowboard/internal/domain"
)

// Ошибки разбора.
var (
	// ErrNoFrontMatter: файл не начинается с блока ---.
	ErrNoFrontMatter = errors.New("no front matter")

	// ErrInvalidFrontMatter: блок --- не является YAML объектом.
	ErrInvalidFrontMatter = errors.New("invalid front matter")
)

var (
	frontMatterRe = regexp.MustCompile(`(?s)^---\s*\n(.*?)\n---\s*\n(.*)$`)

	unsafeChars = regexp.MustCompile(`[^\p{L}\p{N}_\s-]`)
	separators  = regexp.MustCompile(`[-\s]+`)
)

// frontMatter: ключи заголовка в порядке записи.
type frontMatter struct {
	ID               string                   `yaml:"id"`
	Name             string                   `yaml:"name"`
	Description      string                   `yaml:"description,omitempty"`
	Category         string                   `yaml:"category,omitempty"`
	Tags             []string                 `yaml:"tags,omitempty"`
	Priority         string                   `yaml:"priority,omitempty"`
	Version          string                   `yaml:"version,omitempty"`
	OutputExtraction *domain.OutputExtraction `yaml:"outputExtraction,omitempty"`
	CreatedAt        string                   `yaml:"createdAt,omitempty"`
	UpdatedAt        string                   `yaml:"updatedAt,omitempty"`
}

// Parse разбирает markdown с front matter.
// Тело после заголовка становится Template (пробелы по краям обрезаются).
func Parse(content []byte) (*domain.PromptTemplate, error) {
	m := frontMatterRe.FindSubmatch(content)
	if m == nil {
		return nil, ErrNoFrontMatter
	}

	var probe map[string]any
	if err := yaml.Unmarshal(m[1], &probe); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrontMatter, err)
	}
	if len(probe) == 0 {
		return nil, fmt.Errorf("%w: empty header", ErrInvalidFrontMatter)
	}

	var fm frontMatter
	if err := yaml.Unmarshal(m[1], &fm); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidFrontMatter, err)
	}

	p := &domain.PromptTemplate{
		ID:          fm.ID,
		Name:        fm.Name,
		Description: fm.Description,
		Category:    fm.Category,
		Tags:        fm.Tags,
		Priority:    fm.Priority,
		Version:     fm.Version,
		Template:    strings.TrimSpace(string(m[2])),
		CreatedAt:   parseTime(fm.CreatedAt),
		UpdatedAt:   parseTime(fm.UpdatedAt),
	}

	p.OutputExtraction = domain.DefaultOutputExtraction()
	if fm.OutputExtraction != nil {
		p.OutputExtraction = *fm.OutputExtraction
		if p.OutputExtraction.Mode == "" {
			p.OutputExtraction.Mode = domain.ModeFull
		}
		if p.OutputExtraction.OutputName == "" {
			p.OutputExtraction.OutputName = "output"
		}
	}

	return p, nil
}

// Format записывает шаблон в markdown с front matter.
// Пустые необязательные ключи не пишутся; outputExtraction пишется всегда.
func Format(p *domain.PromptTemplate) ([]byte, error) {
	oe := p.OutputExtraction
	if oe.Mode == "" && oe.OutputName == "" {
		oe = domain.DefaultOutputExtraction()
	}

	fm := frontMatter{
		ID:               p.ID,
		Name:             p.Name,
		Description:      p.Description,
		Category:         p.Category,
		Tags:             p.Tags,
		Priority:         p.Priority,
		Version:          p.Version,
		OutputExtraction: &oe,
		CreatedAt:        formatTime(p.CreatedAt),
		UpdatedAt:        formatTime(p.UpdatedAt),
	}

	var header bytes.Buffer
	enc := yaml.NewEncoder(&header)
	enc.SetIndent(2)
	if err := enc.Encode(&fm); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode front matter: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(header.Bytes())
	buf.WriteString("---\n\n")
	buf.WriteString(p.Template)
	buf.WriteString("\n")

	return buf.Bytes(), nil
}

// Sanitize превращает имя в безопасное имя файла:
// убирает спецсимволы, склеивает пробелы и дефисы в "-", приводит к нижнему регистру.
func Sanitize(name string) string {
	safe := strings.TrimSpace(unsafeChars.ReplaceAllString(name, ""))
	safe = strings.ToLower(separators.ReplaceAllString(safe, "-"))
	if safe == "" {
		return "unnamed"
	}
	return safe
}

// Filename возвращает имя файла шаблона (с расширением .md).
func Filename(p *domain.PromptTemplate) string {
	if p.SourceFilename != "" {
		return p.SourceFilename + ".md"
	}
	return Sanitize(p.Name) + ".md"
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// parseTime принимает ISO время с часовым поясом и без; нераспознанное даёт нулевое время.
func parseTime(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
