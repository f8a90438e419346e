// Package worker — процесс обслуживания тикетных операций.
//
// Воркер слушает три очереди (reserve, cancel-ticket, cancel-showtime),
// выполняет бизнес-шаг и публикует ответ в reply-to очередь запроса
// с тем же correlation id. Каждый обслуженный запрос получает ровно
// один ответ; запрос без correlation id или reply-to отбрасывается
// без ответа и без бизнес-шага.
//
// Бизнес-шаги подключаемые: billing.Gateway проводит оплату,
// SeatReleaser освобождает места. Воркер не знает их реализации.
package worker
