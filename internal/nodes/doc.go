// Package nodes содержит каталог типов узлов и логику отдельных блоков.
//
// # Registry
//
// Registry описывает типы узлов для палитры редактора и создаёт новые узлы
// с данными по умолчанию (пустые привязки и правила извлечения):
//
//	registry := nodes.DefaultRegistry()
//	node, err := registry.NewNode("promptBlock", domain.Position{X: 100, Y: 40})
//
// # HTTP Request (http.go)
//
// BuildHTTPRequest подставляет привязки узла в URL, заголовки и тело
// через engine.Resolve. Заголовки вводятся как JSON строка; невалидный JSON
// не ломает запрос, он уходит без заголовков.
//
// HTTPExecutor выполняет запрос и возвращает ответ в формате редактора:
//
//	{
//	    "status": 200,
//	    "statusText": "OK",
//	    "headers": {"content-type": "application/json"},
//	    "data": {...}  // JSON, если разбирается, иначе строка
//	}
//
// Ошибки выполнения переводятся в ответ через ErrorResult
// (408 таймаут, 503 соединение, 400 невалидный запрос, 500 прочее).
//
// # Condition (condition.go)
//
// EvaluateCondition поддерживает "true", "false" и "left == right".
// Всё остальное считается истинным.
//
// Узлы ничего не оркестрируют: выполнение workflow делает внешний исполнитель.
package nodes
