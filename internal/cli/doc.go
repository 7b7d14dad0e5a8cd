// Package cli реализует инструмент командной строки flowboard.
//
// # Обзор
//
// Большая часть команд работает через HTTP с flowboard API и не импортирует
// internal/api: типы ответов продублированы в client.go. Часть команд
// работает локально: edit (редактирование файла workflow через editor.Store),
// flow validate, vars, autosave.
//
// # Ключевые компоненты
//
// ## Client
//
// HTTP-клиент для flowboard API. Разворачивает конверты DataResponse и
// ListResponse, превращает ErrorResponse в ошибку "code: message".
//
//	client := cli.NewClient("http://localhost:8080")
//	flows, err := client.ListFlows()
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - таблицы (text/tabwriter) по умолчанию
//   - JSON с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Warn/Error) в stderr,
// поэтому работает pipe: flowboard flow list --json | jq .
//
// ## Commands
//
// Cobra-команды организованы по ресурсам:
//   - flow: list, show, import, export, delete, move, folders, validate, from-plantuml, from-yaml
//   - edit: add-node, remove-node, connect, template, bind, extract, preview, condition
//   - prompt: list, show, import, export, delete, folders, watch
//   - failure: submit, list, stats, show, retry, escalate, activate, active
//   - autosave: show, save, restore, clear, diff
//   - events: tail
//   - preview, vars, extract
//
// Каждая группа создаётся фабричной функцией (NewFlowCmd и т.д.), которая
// принимает замыкания clientFn и outputFn: Client и Output создаются
// лениво, после разбора PersistentFlags.
package cli
