package engine

import (
	"fmt"
	"sort"

	"github.com/shaiso/flowboard/internal/domain"
)

// Upstream: доступ к выходам уже выполненных узлов.
type Upstream interface {
	// Output возвращает выход узла; false, если узел ещё не выполнялся.
	Output(nodeID string) (domain.NodeOutput, bool)
}

// UpstreamFunc адаптирует функцию к Upstream.
type UpstreamFunc func(nodeID string) (domain.NodeOutput, bool)

// Output реализует Upstream.
func (f UpstreamFunc) Output(nodeID string) (domain.NodeOutput, bool) {
	return f(nodeID)
}

// UpstreamMap: выходы узлов по ID.
type UpstreamMap map[string]domain.NodeOutput

// Output реализует Upstream.
func (m UpstreamMap) Output(nodeID string) (domain.NodeOutput, bool) {
	out, ok := m[nodeID]
	return out, ok
}

// NoUpstream: ни один узел не выполнялся (превью без данных).
var NoUpstream Upstream = UpstreamMap(nil)

// Resolve подставляет значения привязок в шаблон.
//
// Один проход слева направо по обоим синтаксисам: подставленный текст
// повторно не сканируется, поэтому значения с "{{x}}" внутри остаются как есть.
// Непривязанная {{name}} и любая ошибка получения значения дают "".
// Непривязанный $NAME остаётся как есть: это обычный текст вроде $PATH или $USD.
// Функция не возвращает ошибок: частично готовый workflow даёт лучшее
// возможное превью, и тот же результат уходит агенту при выполнении.
func Resolve(template string, bindings domain.Bindings, input string, upstream Upstream) string {
	if upstream == nil {
		upstream = NoUpstream
	}

	// Значение считается один раз на ключ.
	values := make(map[string]string)

	return tokenRe.ReplaceAllStringFunc(template, func(token string) string {
		key := tokenKey(token)
		if v, ok := values[key]; ok {
			return v
		}

		b, ok := bindings[key]
		if !ok && token[0] == '$' {
			return token
		}

		var v string
		if ok {
			v = bindingValue(b, input, upstream)
		}
		values[key] = v
		return v
	})
}

// tokenKey возвращает ключ привязки для совпадения tokenRe.
func tokenKey(token string) string {
	if len(token) > 4 && token[0] == '{' {
		return token[2 : len(token)-2]
	}
	return token
}

// bindingValue вычисляет значение одной привязки.
func bindingValue(b domain.VariableBinding, input string, upstream Upstream) string {
	switch b.Source {
	case domain.SourceInput:
		return input

	case domain.SourceStatic:
		return b.StaticValue

	case domain.SourceUpstream:
		if b.SourceNodeID == "" {
			return ""
		}
		out, ok := upstream.Output(b.SourceNodeID)
		if !ok {
			return ""
		}

		var value any = out.Raw
		if b.SourceOutput != "" {
			v, ok := out.Outputs[b.SourceOutput]
			if !ok {
				return ""
			}
			value = v
		}

		if b.SourcePath == "" {
			return Stringify(value)
		}
		return Stringify(applyPath(value, b.SourcePath, b.PathMode()))

	default:
		return ""
	}
}

// Report: результат анализа шаблона относительно набора привязок.
type Report struct {
	// Variables: переменные шаблона в порядке появления.
	Variables []domain.Variable `json:"variables"`

	// Unbound: ключи переменных без привязки.
	Unbound []string `json:"unbound"`

	// Orphaned: ключи привязок, переменных которых больше нет в шаблоне.
	Orphaned []string `json:"orphaned"`
}

// HasWarnings возвращает true, если есть непривязанные или осиротевшие переменные.
func (r Report) HasWarnings() bool {
	return len(r.Unbound) > 0 || len(r.Orphaned) > 0
}

// Analyze сравнивает переменные шаблона с привязками.
// Orphaned отсортированы, чтобы отчёт был детерминированным.
func Analyze(template string, bindings domain.Bindings) Report {
	vars := ExtractAllVariables(template)

	r := Report{
		Variables: vars,
		Unbound:   make([]string, 0),
		Orphaned:  make([]string, 0),
	}

	present := make(map[string]bool, len(vars))
	for _, v := range vars {
		key := v.Key()
		present[key] = true
		if _, ok := bindings[key]; !ok {
			r.Unbound = append(r.Unbound, key)
		}
	}

	for _, key := range sortedKeys(bindings) {
		if !present[key] {
			r.Orphaned = append(r.Orphaned, key)
		}
	}

	return r
}

// Prune возвращает привязки только для переменных, которые есть в шаблоне.
// Исходный набор не изменяется.
func Prune(template string, bindings domain.Bindings) domain.Bindings {
	out := make(domain.Bindings, len(bindings))
	for _, key := range VariableKeys(template) {
		if b, ok := bindings[key]; ok {
			out[key] = b
		}
	}
	return out
}

// ValidateBindings проверяет статическую корректность привязок узла.
//
// Resolve не зависит от результата: некорректная привязка просто даёт "".
// Ошибки нужны редактору и API для подсветки.
func ValidateBindings(nodeID string, bindings domain.Bindings) []error {
	var errs []error

	for _, key := range sortedKeys(bindings) {
		b := bindings[key]
		field := "bindings." + key

		if b.Name != "" && b.Name != key && "$"+b.Name != key {
			errs = append(errs, NewValidationError(nodeID, field,
				fmt.Sprintf("binding name %q does not match key %q", b.Name, key), ErrBindingKeyMismatch))
		}

		if !b.Source.IsValid() {
			errs = append(errs, NewValidationError(nodeID, field,
				fmt.Sprintf("unknown binding source: %q", b.Source), ErrInvalidBindingSource))
			continue
		}

		if b.Source != domain.SourceUpstream {
			continue
		}

		if b.SourceNodeID == "" {
			errs = append(errs, NewValidationError(nodeID, field,
				"upstream binding has no source node", ErrMissingSourceNode))
		}

		if b.SourcePath != "" {
			if err := validatePattern(b.PathMode(), b.SourcePath); err != nil {
				errs = append(errs, NewValidationError(nodeID, field+".sourcePath", err.Error(), err))
			}
		}
	}

	return errs
}

// ValidateExtractions проверяет правила извлечения узла.
func ValidateExtractions(nodeID string, rules []domain.OutputExtraction) []error {
	var errs []error
	seen := make(map[string]bool, len(rules))

	for i, rule := range rules {
		field := fmt.Sprintf("outputExtractions[%d]", i)

		if rule.OutputName == "" {
			errs = append(errs, NewValidationError(nodeID, field, "extraction has empty output name", ErrEmptyOutputName))
		} else if seen[rule.OutputName] {
			errs = append(errs, NewValidationError(nodeID, field,
				fmt.Sprintf("duplicate output name: %s", rule.OutputName), ErrDuplicateOutputName))
		}
		seen[rule.OutputName] = true

		if !rule.Mode.IsValid() {
			errs = append(errs, NewValidationError(nodeID, field,
				fmt.Sprintf("unknown extraction mode: %q", rule.Mode), ErrInvalidExtractionMode))
			continue
		}

		if rule.Mode.NeedsPattern() {
			if rule.Pattern == "" {
				errs = append(errs, NewValidationError(nodeID, field,
					fmt.Sprintf("mode %s requires a pattern", rule.Mode), ErrMissingPattern))
				continue
			}
			if err := validatePattern(rule.Mode, rule.Pattern); err != nil {
				errs = append(errs, NewValidationError(nodeID, field+".pattern", err.Error(), err))
			}
		}
	}

	return errs
}

// validatePattern компилирует pattern для режима.
func validatePattern(mode domain.ExtractionMode, pattern string) error {
	switch mode {
	case domain.ModeJSONPath:
		if _, err := compileJSONPath(pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	case domain.ModeRegex:
		if _, err := compileRegex(pattern); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidPattern, err)
		}
	case domain.ModeFull, domain.ModeJSON, domain.ModeFirstLine:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidExtractionMode, mode)
	}
	return nil
}

func sortedKeys(b domain.Bindings) []string {
	keys := make([]string, 0, len(b))
	for k := range b {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
