// Package api содержит HTTP API сервер flowboard.
//
// Структура:
//   - handler.go         : Handler с DI (хранилища, publisher, metrics, logger)
//   - routes.go          : регистрация маршрутов
//   - middleware.go      : middleware (recovery, CORS, tracing, metrics, logging)
//   - response.go        : унифицированные JSON-ответы и обработка ошибок
//   - dto.go             : Data Transfer Objects (request/response)
//   - flow_handler.go    : обработчики для /api/flows
//   - prompt_handler.go  : обработчики для /api/prompts
//   - failure_handler.go : обработчики для /api/failures
//   - tools_handler.go   : preview, extract, HTTP прокси и палитра узлов
//
// Хранилища принимаются интерфейсами: в сервере это репозитории из
// internal/repo, в тестах in-memory реализации.
package api
