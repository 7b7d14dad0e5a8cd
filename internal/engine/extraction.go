package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"
	"github.com/patrickmn/go-cache"

	"github.com/shaiso/flowboard/internal/domain"
)

// patterns: кэш скомпилированных regex и JSON path.
// Редактор вызывает извлечение на каждое нажатие клавиши.
var patterns = cache.New(10*time.Minute, 20*time.Minute)

// Extract применяет правила извлечения к сырому ответу узла.
//
// Правила независимы: каждое работает с тем же raw, ошибка одного правила
// даёт nil только для его outputName. Правила без имени пропускаются.
func Extract(raw string, rules []domain.OutputExtraction) map[string]any {
	out := make(map[string]any, len(rules))

	for _, rule := range rules {
		if rule.OutputName == "" {
			continue
		}
		out[rule.OutputName] = ExtractOne(raw, rule.Mode, rule.Pattern)
	}

	return out
}

// ExtractOne применяет один режим извлечения к строке.
//
//   - full: raw без изменений
//   - json: разобранное значение или nil
//   - jsonpath: первое совпадение pattern или nil
//   - regex: первая группа первого совпадения (всё совпадение, если групп нет) или nil
//   - first_line: текст до первого '\n'
func ExtractOne(raw string, mode domain.ExtractionMode, pattern string) any {
	switch mode {
	case domain.ModeFull, "":
		return raw

	case domain.ModeJSON:
		v, _ := parseJSON(raw)
		return v

	case domain.ModeJSONPath:
		v, ok := parseJSON(raw)
		if !ok {
			return nil
		}
		return queryJSONPath(v, pattern)

	case domain.ModeRegex:
		return matchRegex(raw, pattern)

	case domain.ModeFirstLine:
		if i := strings.IndexByte(raw, '\n'); i >= 0 {
			return raw[:i]
		}
		return raw

	default:
		return nil
	}
}

// applyPath применяет sourcePath привязки к значению upstream узла.
//
// Для jsonpath уже разобранное значение (выход в режиме json) не сериализуется
// повторно; строка разбирается как JSON.
func applyPath(value any, path string, mode domain.ExtractionMode) any {
	if mode == domain.ModeJSONPath {
		if s, ok := value.(string); ok {
			parsed, ok := parseJSON(s)
			if !ok {
				return nil
			}
			value = parsed
		}
		if value == nil {
			return nil
		}
		return queryJSONPath(value, path)
	}
	return ExtractOne(Stringify(value), mode, path)
}

// Stringify превращает извлечённое значение в текст для подстановки.
// nil даёт "", строка возвращается как есть, остальное сериализуется в компактный JSON.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case []byte:
		return string(val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprint(val)
		}
		return string(b)
	}
}

func parseJSON(raw string) (any, bool) {
	return ParseJSON([]byte(raw))
}

// ParseJSON разбирает JSON документ без потери точности чисел:
// целые дают int64, дробные float64, целые вне int64 остаются json.Number
// с исходными цифрами.
func ParseJSON(data []byte) (any, bool) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, false
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, false
	}
	return normalizeNumbers(v), true
}

func normalizeNumbers(v any) any {
	switch val := v.(type) {
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return i
		}
		if strings.ContainsAny(string(val), ".eE") {
			if f, err := val.Float64(); err == nil {
				return f
			}
		}
		return val
	case map[string]any:
		for k, item := range val {
			val[k] = normalizeNumbers(item)
		}
		return val
	case []any:
		for i, item := range val {
			val[i] = normalizeNumbers(item)
		}
		return val
	default:
		return v
	}
}

func queryJSONPath(data any, pattern string) any {
	if pattern == "" {
		return nil
	}
	x, err := compileJSONPath(pattern)
	if err != nil {
		return nil
	}
	results := x.Get(data)
	if len(results) == 0 {
		return nil
	}
	return results[0]
}

func matchRegex(raw, pattern string) any {
	if pattern == "" {
		return nil
	}
	re, err := compileRegex(pattern)
	if err != nil {
		return nil
	}
	m := re.FindStringSubmatch(raw)
	if m == nil {
		return nil
	}
	if len(m) > 1 {
		return m[1]
	}
	return m[0]
}

func compileRegex(pattern string) (*regexp.Regexp, error) {
	key := "re:" + pattern
	if v, ok := patterns.Get(key); ok {
		return v.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Set(key, re, cache.DefaultExpiration)
	return re, nil
}

func compileJSONPath(pattern string) (jp.Expr, error) {
	key := "jp:" + pattern
	if v, ok := patterns.Get(key); ok {
		return v.(jp.Expr), nil
	}
	x, err := jp.ParseString(pattern)
	if err != nil {
		return nil, err
	}
	patterns.Set(key, x, cache.DefaultExpiration)
	return x, nil
}
