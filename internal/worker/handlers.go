package worker

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kinobilet/kinobilet/internal/mq"
	"github.com/kinobilet/kinobilet/internal/telemetry"
)

// handleReserve обрабатывает запрос ticket.reserve.
//
// Машина состояний: received → acknowledged-with-reply | dropped.
// Неудача оплаты — тоже ответ (с пустым transaction id), чтобы
// pending-операция вызывающей стороны разрешилась, а не ждала таймаута.
func (w *Worker) handleReserve(ctx context.Context, d *mq.Delivery) mq.Decision {
	if !d.Serviceable() {
		w.logUnserviceable(d)
		return mq.Drop
	}

	timer := prometheus.NewTimer(telemetry.HandlerDuration.WithLabelValues(string(mq.OpReserveTicket)))
	defer timer.ObserveDuration()

	req, err := mq.ParsePayload[mq.ReserveTicketRequest](d)
	if err != nil {
		w.logger.Error("malformed reserve payload", "error", err, "body", string(d.Body))
		return mq.Drop
	}

	logger := telemetry.WithPendingID(w.logger, req.PendingID)

	txID, err := w.gateway.Authorize(ctx, req.PendingID, req.Showtime.PriceCents, req.User.Email)
	if err != nil {
		logger.Warn("payment authorization failed",
			"user_id", req.User.ID,
			"movie", req.Showtime.MovieTitle,
			"error", err,
		)
		txID = ""
	} else {
		logger.Info("ticket reserved",
			"user_id", req.User.ID,
			"movie", req.Showtime.MovieTitle,
			"hall", req.Showtime.HallName,
			"transaction_id", txID,
		)
	}

	w.reply(ctx, d, mq.ReserveTicketReply{
		PendingID:     req.PendingID,
		TransactionID: txID,
	})

	return mq.Ack
}

// handleCancelTicket обрабатывает запрос ticket.cancel.
func (w *Worker) handleCancelTicket(ctx context.Context, d *mq.Delivery) mq.Decision {
	if !d.Serviceable() {
		w.logUnserviceable(d)
		return mq.Drop
	}

	timer := prometheus.NewTimer(telemetry.HandlerDuration.WithLabelValues(string(mq.OpCancelTicket)))
	defer timer.ObserveDuration()

	req, err := mq.ParsePayload[mq.CancelTicketRequest](d)
	if err != nil {
		w.logger.Error("malformed cancel-ticket payload", "error", err, "body", string(d.Body))
		return mq.Drop
	}

	logger := telemetry.WithShowtimeID(w.logger, req.ShowtimeID)

	if err := w.releaser.ReleaseTickets(ctx, req.ShowtimeID, req.UserIDs); err != nil {
		// Ответ уходит в любом случае; ошибка шага — сигнал для алерта.
		logger.Error("seat release failed", "users", len(req.UserIDs), "error", err)
	} else {
		logger.Info("tickets cancelled", "users", len(req.UserIDs))
	}

	w.reply(ctx, d, mq.CancelTicketReply{
		ShowtimeID: req.ShowtimeID,
		UserIDs:    req.UserIDs,
	})

	return mq.Ack
}

// handleCancelShowtime обрабатывает запрос showtime.cancel.
func (w *Worker) handleCancelShowtime(ctx context.Context, d *mq.Delivery) mq.Decision {
	if !d.Serviceable() {
		w.logUnserviceable(d)
		return mq.Drop
	}

	timer := prometheus.NewTimer(telemetry.HandlerDuration.WithLabelValues(string(mq.OpCancelShowtime)))
	defer timer.ObserveDuration()

	req, err := mq.ParsePayload[mq.CancelShowtimeRequest](d)
	if err != nil {
		w.logger.Error("malformed cancel-showtime payload", "error", err, "body", string(d.Body))
		return mq.Drop
	}

	logger := telemetry.WithShowtimeID(w.logger, req.ShowtimeID)

	if err := w.releaser.ReleaseShowtime(ctx, req.ShowtimeID, req.UserIDs); err != nil {
		logger.Error("showtime release failed", "users", len(req.UserIDs), "error", err)
	} else {
		logger.Info("showtime cancelled", "users", len(req.UserIDs))
	}

	w.reply(ctx, d, mq.CancelShowtimeReply{
		ShowtimeID: req.ShowtimeID,
		UserIDs:    req.UserIDs,
	})

	return mq.Ack
}

// reply публикует ответ в reply-to очередь запроса с тем же correlation id.
// Неудача после всех retry логируется: pending-операция вызывающей
// стороны разрешится по её собственному таймауту.
func (w *Worker) reply(ctx context.Context, d *mq.Delivery, payload any) {
	if err := w.replies.PublishReply(ctx, pubReplies, d.ReplyTo, d.CorrelationID, payload); err != nil {
		w.logger.Error("reply publish failed",
			"reply_to", d.ReplyTo,
			"correlation_id", d.CorrelationID,
			"error", err,
		)
	}
}

// logUnserviceable логирует отброшенный необслуживаемый запрос.
// Бизнес-шаг не выполняется, ответ не публикуется: отвечать некуда.
func (w *Worker) logUnserviceable(d *mq.Delivery) {
	w.logger.Warn("unserviceable request dropped",
		"correlation_id", d.CorrelationID,
		"reply_to", d.ReplyTo,
	)
}
