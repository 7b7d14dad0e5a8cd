package engine

import (
	"regexp"
	"sort"

	"github.com/shaiso/flowboard/internal/domain"
)

var (
	// mustacheRe: {{name}}, имя из [A-Za-z0-9_]+ без пробелов внутри скобок.
	mustacheRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}`)

	// dollarRe: $UPPER_NAME в стиле shell.
	dollarRe = regexp.MustCompile(`\$([A-Z][A-Z0-9_]*)`)

	// tokenRe: обе формы за один проход, группа 1 для mustache, группа 2 для dollar.
	tokenRe = regexp.MustCompile(`\{\{([A-Za-z0-9_]+)\}\}|\$([A-Z][A-Z0-9_]*)`)
)

// ExtractVariables возвращает уникальные {{name}} в порядке первого появления.
//
// Сканер нестрогий: незакрытые скобки, вложенные скобки и недопустимые
// символы внутри просто не совпадают. Пустой шаблон даёт пустой срез.
func ExtractVariables(template string) []string {
	matches := mustacheRe.FindAllStringSubmatch(template, -1)
	names := make([]string, 0, len(matches))
	seen := make(map[string]bool, len(matches))

	for _, m := range matches {
		name := m[1]
		if seen[name] {
			continue
		}
		seen[name] = true
		names = append(names, name)
	}

	return names
}

// ExtractAllVariables возвращает переменные обоих синтаксисов в порядке первого появления.
//
// Дедупликация идёт отдельно для каждого синтаксиса: {{foo}} и $FOO,
// как и {{FOO}} и $FOO, остаются разными переменными.
func ExtractAllVariables(template string) []domain.Variable {
	type hit struct {
		pos int
		v   domain.Variable
	}

	var hits []hit
	for _, loc := range mustacheRe.FindAllStringSubmatchIndex(template, -1) {
		hits = append(hits, hit{loc[0], domain.Variable{
			Name:   template[loc[2]:loc[3]],
			Syntax: domain.SyntaxMustache,
		}})
	}
	for _, loc := range dollarRe.FindAllStringSubmatchIndex(template, -1) {
		hits = append(hits, hit{loc[0], domain.Variable{
			Name:   template[loc[2]:loc[3]],
			Syntax: domain.SyntaxDollar,
		}})
	}

	// Позиции двух синтаксисов не пересекаются: "{{" не может начинаться с "$".
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	vars := make([]domain.Variable, 0, len(hits))
	seen := make(map[string]bool, len(hits))
	for _, h := range hits {
		key := h.v.Key()
		if seen[key] {
			continue
		}
		seen[key] = true
		vars = append(vars, h.v)
	}

	return vars
}

// VariableKeys возвращает ключи привязок для всех переменных шаблона.
func VariableKeys(template string) []string {
	vars := ExtractAllVariables(template)
	keys := make([]string, len(vars))
	for i, v := range vars {
		keys[i] = v.Key()
	}
	return keys
}
