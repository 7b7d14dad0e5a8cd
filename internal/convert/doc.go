// Package convert собирает workflow из текстовых описаний.
//
// Поддерживаются два формата:
//
//   - yaml.go: YAML описание шагов (prompt, http, if/else, parallel,
//     aggregate, loop, router)
//   - plantuml.go: диаграмма активностей PlantUML с аннотациями в note
//     (<<prompt>>, <<http>>, <<router>>, <<aggregator>>, <<input>>)
//
// Оба конвертера строят узлы и рёбра через общий builder: ветки условий
// получают sourceHandle "true"/"false", концы параллельных веток
// соединяются со следующим узлом, возврат цикла идёт по handle "rejected".
// Позиции узлов считаются послойной раскладкой от workflowStart.
//
//	res, err := convert.FromYAML(src, convert.Options{})
//	if err != nil {
//	    var cErr *convert.Error
//	    errors.As(err, &cErr) // строка или путь шага с ошибкой
//	}
//	wf := res.Workflow()
package convert
