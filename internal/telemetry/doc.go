// Package telemetry обеспечивает наблюдаемость flowboard.
//
// Включает:
//   - logging.go: structured logging через slog
//   - metrics.go: Prometheus метрики API
//   - tracing.go: OpenTelemetry трассировка HTTP запросов
//
// Сервисы используют единый формат логирования
// и экспортируют метрики на /metrics endpoint.
package telemetry
