// Package api — HTTP-фасад тикетных операций.
//
// Операции асинхронные: POST создаёт pending-запись и публикует запрос
// в очередь, отвечая 202 Accepted. Параметр ?wait=1 заставляет handler
// дождаться ответа воркера в пределах таймаута и вернуть итоговое
// состояние.
package api
