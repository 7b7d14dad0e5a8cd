// Package mq публикует и читает события flowboard через RabbitMQ.
//
// Структура:
//   - connection.go: соединение с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go: exchange событий, очередь failures и временные очереди tail
//   - publisher.go: публикация событий
//   - consumer.go: потребление событий
//
// Все события идут в topic exchange flowboard.events, routing key совпадает
// с типом события (failure.created, flow.saved, ...). Внешний исполнитель
// pipeline читает очередь flowboard.failures, CLI `events tail` создаёт
// временную очередь со своим шаблоном.
package mq
