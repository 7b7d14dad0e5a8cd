// Package engine содержит модель привязки переменных и извлечения выходов.
//
// Включает:
//   - variables.go: поиск {{name}} и $NAME в шаблоне
//   - template.go: подстановка привязок (Resolve), анализ и проверка привязок
//   - extraction.go: извлечение именованных выходов из ответа узла
//   - graph.go: предшественники, последователи и порядок обхода графа
//   - parser.go: разбор и валидация workflow
//
// Все функции чистые и синхронные: одна и та же Resolve используется
// и для превью в редакторе, и для реального выполнения.
package engine
