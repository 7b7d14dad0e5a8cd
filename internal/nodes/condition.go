package nodes

import (
	"fmt"
	"strings"

	"github.com/shaiso/flowboard/internal/domain"
	"github.com/shaiso/flowboard/internal/engine"
)

// EvaluateCondition вычисляет простое условие блока condition.
//
// Поддерживаются:
//   - "true" / "false"
//   - "left == right": left ищется в vars, сравнение без учёта регистра,
//     кавычки вокруг right снимаются; для значения-map со "status"
//     сравнивается status
//
// Пустое или нераспознанное условие, как и отсутствующий left, даёт true.
func EvaluateCondition(condition string, vars map[string]any) bool {
	cond := strings.ToLower(strings.TrimSpace(condition))

	switch cond {
	case "", "true":
		return true
	case "false":
		return false
	}

	left, right, ok := strings.Cut(cond, "==")
	if !ok {
		return true
	}
	left = strings.TrimSpace(left)
	right = strings.Trim(strings.TrimSpace(right), `"'`)

	val, ok := lookupFold(vars, left)
	if !ok {
		return true
	}

	if m, ok := val.(map[string]any); ok {
		if status, ok := m["status"]; ok {
			return strings.EqualFold(fmt.Sprint(status), right)
		}
	}

	return strings.EqualFold(engine.Stringify(val), right)
}

// ConditionVars собирает переменные для условия из выходов предшественников.
//
// Ключ: ID узла; значение: {"status": ..., "output": raw, <outputs>...}.
func ConditionVars(outputs map[string]domain.NodeOutput, statuses map[string]domain.NodeStatus) map[string]any {
	vars := make(map[string]any, len(outputs))
	for id, out := range outputs {
		v := map[string]any{"output": out.Raw}
		for name, value := range out.Outputs {
			v[name] = value
		}
		if st, ok := statuses[id]; ok {
			v["status"] = string(st)
		}
		vars[id] = v
	}
	return vars
}

// lookupFold ищет ключ без учёта регистра: условие приводится к нижнему регистру.
func lookupFold(vars map[string]any, key string) (any, bool) {
	if v, ok := vars[key]; ok {
		return v, true
	}
	for k, v := range vars {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return nil, false
}
