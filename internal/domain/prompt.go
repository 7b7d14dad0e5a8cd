package domain

import "time"

// PromptTemplate: сохранённый шаблон промпта.
//
// Хранится в БД и экспортируется в markdown с YAML front matter.
type PromptTemplate struct {
	ID               string           `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description,omitempty" yaml:"description,omitempty"`
	Category         string           `json:"category,omitempty" yaml:"category,omitempty"`
	Tags             []string         `json:"tags,omitempty" yaml:"tags,omitempty"`
	Priority         string           `json:"priority,omitempty" yaml:"priority,omitempty"`
	Version          string           `json:"version,omitempty" yaml:"version,omitempty"`
	Template         string           `json:"template" yaml:"-"`
	OutputExtraction OutputExtraction `json:"outputExtraction" yaml:"outputExtraction"`

	// Folder: папка ("" для корня, вложенные через "/").
	Folder string `json:"folder,omitempty" yaml:"-"`

	// SourceFilename: имя файла без расширения, сохраняется при редактировании.
	SourceFilename string `json:"sourceFilename,omitempty" yaml:"-"`

	CreatedAt time.Time `json:"createdAt,omitempty" yaml:"createdAt,omitempty"`
	UpdatedAt time.Time `json:"updatedAt,omitempty" yaml:"updatedAt,omitempty"`
}

// Folder: папка для prompts или workflows.
type Folder struct {
	Name        string `json:"name"`
	Parent      string `json:"parent,omitempty"`
	PromptCount int    `json:"promptCount"`
	FlowCount   int    `json:"flowCount,omitempty"`
}
