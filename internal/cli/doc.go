// Package cli — команды kinobilet-cli.
//
// Тикетные операции идут через HTTP API (пакет не импортирует
// internal/api: типы ответов продублированы, чтобы CLI можно было
// собирать отдельно). Команды topology ходят напрямую в RabbitMQ:
// создание и проверка топологии — out-of-band операции, API для них
// не нужен.
package cli
