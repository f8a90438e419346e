package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/kinobilet/kinobilet/internal/domain"
	"github.com/kinobilet/kinobilet/internal/gateway"
	"github.com/kinobilet/kinobilet/internal/mq"
	"github.com/kinobilet/kinobilet/internal/repo"
)

// Handler — HTTP handler'ы тикетных операций.
type Handler struct {
	client       *gateway.Client
	reservations *repo.ReservationRepo
	showtimes    *repo.ShowtimeRepo
	conn         *mq.Connection
	logger       *slog.Logger

	// waitTimeout — предел ожидания ответа воркера при ?wait=1.
	waitTimeout time.Duration
}

// NewHandler создаёт новый Handler.
func NewHandler(client *gateway.Client, reservations *repo.ReservationRepo, showtimes *repo.ShowtimeRepo, conn *mq.Connection, waitTimeout time.Duration, logger *slog.Logger) *Handler {
	if waitTimeout <= 0 {
		waitTimeout = 30 * time.Second
	}
	return &Handler{
		client:       client,
		reservations: reservations,
		showtimes:    showtimes,
		conn:         conn,
		logger:       logger,
		waitTimeout:  waitTimeout,
	}
}

// CreateReservation обрабатывает POST /api/v1/reservations.
//
// Создаёт PENDING-бронирование, публикует запрос ticket.reserve
// и отвечает 202. С ?wait=1 дожидается ответа воркера и возвращает
// финализированное бронирование.
func (h *Handler) CreateReservation(w http.ResponseWriter, r *http.Request) {
	var req CreateReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	showtimeID, err := uuid.Parse(req.ShowtimeID)
	if err != nil {
		BadRequest(w, "showtime_id must be a valid UUID")
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		BadRequest(w, "user_id must be a valid UUID")
		return
	}
	if req.UserEmail == "" {
		BadRequest(w, "user_email is required")
		return
	}

	showtime, err := h.showtimes.GetByID(r.Context(), showtimeID)
	if HandleRepoError(w, h.logger, err, "showtime not found") {
		return
	}
	if !showtime.IsCancellable() {
		Conflict(w, "showtime is cancelled")
		return
	}

	now := time.Now()
	res := &domain.Reservation{
		ID:         uuid.New(),
		ShowtimeID: showtimeID,
		UserID:     userID,
		UserEmail:  req.UserEmail,
		Status:     domain.ReservationStatusPending,
		PriceCents: showtime.PriceCents,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := h.reservations.CreatePending(r.Context(), res); err != nil {
		InternalError(w, h.logger, err)
		return
	}

	ch, cancel, err := h.client.Reserve(r.Context(), mq.ReserveTicketRequest{
		PendingID: res.ID.String(),
		User: mq.UserContact{
			ID:    userID.String(),
			Email: req.UserEmail,
		},
		Showtime: mq.ShowtimeDetails{
			MovieTitle: showtime.MovieTitle,
			HallName:   showtime.HallName,
			PriceCents: showtime.PriceCents,
			StartsAt:   showtime.StartsAt,
		},
	})
	if err != nil {
		// Брокер не принял запрос: бронирование остаётся PENDING,
		// janitor переведёт его в EXPIRED.
		InternalError(w, h.logger, err)
		return
	}

	if !waitRequested(r) {
		cancel()
		Accepted(w, AcceptedOperationResponse{
			Operation: string(mq.OpReserveTicket),
			ID:        res.ID.String(),
			Status:    string(domain.ReservationStatusPending),
		})
		return
	}

	if _, err := h.await(r.Context(), ch, cancel); err != nil {
		Timeout(w, "reservation is still pending, check its status later")
		return
	}

	final, err := h.reservations.GetByID(r.Context(), res.ID)
	if HandleRepoError(w, h.logger, err, "reservation not found") {
		return
	}
	Success(w, reservationToResponse(final))
}

// GetReservation обрабатывает GET /api/v1/reservations/{id}.
func (h *Handler) GetReservation(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "reservation id must be a valid UUID")
		return
	}

	res, err := h.reservations.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "reservation not found") {
		return
	}
	Success(w, reservationToResponse(res))
}

// CancelTickets обрабатывает POST /api/v1/tickets/cancel.
func (h *Handler) CancelTickets(w http.ResponseWriter, r *http.Request) {
	var req CancelTicketsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	if _, err := uuid.Parse(req.ShowtimeID); err != nil {
		BadRequest(w, "showtime_id must be a valid UUID")
		return
	}
	if len(req.UserIDs) == 0 {
		BadRequest(w, "user_ids must not be empty")
		return
	}
	for _, raw := range req.UserIDs {
		if _, err := uuid.Parse(raw); err != nil {
			BadRequest(w, "user_ids must be valid UUIDs")
			return
		}
	}

	ch, cancel, err := h.client.CancelTicket(r.Context(), mq.CancelTicketRequest{
		ShowtimeID: req.ShowtimeID,
		UserIDs:    req.UserIDs,
	})
	if err != nil {
		h.handleSendError(w, err)
		return
	}

	h.respondCancel(w, r, mq.OpCancelTicket, req.ShowtimeID, ch, cancel)
}

// CancelShowtime обрабатывает POST /api/v1/showtimes/{id}/cancel.
//
// Список затрагиваемых пользователей собирается из активных
// бронирований сеанса и едет в сообщении: воркеру не нужно
// ходить в таблицу бронирований.
func (h *Handler) CancelShowtime(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "showtime id must be a valid UUID")
		return
	}

	showtime, err := h.showtimes.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "showtime not found") {
		return
	}
	if !showtime.IsCancellable() {
		Conflict(w, "showtime is already cancelled")
		return
	}

	userIDs, err := h.reservations.ListActiveUserIDs(r.Context(), id)
	if err != nil {
		InternalError(w, h.logger, err)
		return
	}
	ids := make([]string, 0, len(userIDs))
	for _, uid := range userIDs {
		ids = append(ids, uid.String())
	}

	ch, cancel, err := h.client.CancelShowtime(r.Context(), mq.CancelShowtimeRequest{
		ShowtimeID: id.String(),
		UserIDs:    ids,
	})
	if err != nil {
		h.handleSendError(w, err)
		return
	}

	h.respondCancel(w, r, mq.OpCancelShowtime, id.String(), ch, cancel)
}

// GetShowtime обрабатывает GET /api/v1/showtimes/{id}.
func (h *Handler) GetShowtime(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		BadRequest(w, "showtime id must be a valid UUID")
		return
	}

	showtime, err := h.showtimes.GetByID(r.Context(), id)
	if HandleRepoError(w, h.logger, err, "showtime not found") {
		return
	}
	Success(w, showtimeToResponse(showtime))
}

// Healthz — liveness: установлено ли соединение с брокером.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	if !h.conn.IsAlive() {
		http.Error(w, "broker connection down", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// Readyz — readiness: готово ли соединение принимать работу
// (живо и не заблокировано брокером).
func (h *Handler) Readyz(w http.ResponseWriter, r *http.Request) {
	if !h.conn.IsReady() {
		http.Error(w, "broker connection not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// respondCancel отвечает на операцию отмены: 202 либо, при ?wait=1,
// echo-ответ воркера.
func (h *Handler) respondCancel(w http.ResponseWriter, r *http.Request, op mq.Operation, id string, ch <-chan []byte, cancel func()) {
	if !waitRequested(r) {
		cancel()
		Accepted(w, AcceptedOperationResponse{
			Operation: string(op),
			ID:        id,
			Status:    "accepted",
		})
		return
	}

	body, err := h.await(r.Context(), ch, cancel)
	if err != nil {
		Timeout(w, "cancellation is still in progress")
		return
	}

	var echo json.RawMessage = body
	Success(w, echo)
}

// await ждёт ответ воркера не дольше waitTimeout.
func (h *Handler) await(ctx context.Context, ch <-chan []byte, cancel func()) ([]byte, error) {
	waitCtx, cancelWait := context.WithTimeout(ctx, h.waitTimeout)
	defer cancelWait()

	body, err := h.client.Await(waitCtx, ch)
	if err != nil {
		cancel()
		return nil, err
	}
	return body, nil
}

// handleSendError превращает ошибку публикации запроса в HTTP ответ.
func (h *Handler) handleSendError(w http.ResponseWriter, err error) {
	if gateway.IsDuplicate(err) {
		Conflict(w, "operation is already in progress")
		return
	}
	InternalError(w, h.logger, err)
}

// waitRequested возвращает true, если клиент просит синхронный ответ.
func waitRequested(r *http.Request) bool {
	v := r.URL.Query().Get("wait")
	return v == "1" || v == "true"
}
