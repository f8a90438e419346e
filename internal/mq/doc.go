// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — одно соединение на процесс (reconnect, alive/ready, graceful shutdown)
//   - topology.go   — фиксированная таблица exchange/queue/routing key операций
//   - envelope.go   — операции протокола и payload'ы запросов/ответов
//   - publisher.go  — именованные publisher'ы (confirm mode, retry, basic.return)
//   - consumer.go   — именованные consumer'ы (prefetch, ограниченный параллелизм, ack/drop/requeue)
//   - retry.go      — общий retry-цикл с экспоненциальной задержкой
//
// Протокол запрос/ответ: запрос несёт correlation id (тег операции из
// закрытого набора) и reply-to (очередь ответа). Ответ публикуется в
// default exchange с routing key = reply-to, тем же correlation id,
// durable и mandatory. Запрос без correlation id или reply-to
// необслуживаем и отбрасывается без ответа.
//
// Вся топология объявляется пассивно: очереди и обменники должны быть
// созданы заранее (kinobilet-cli topology provision).
package mq
