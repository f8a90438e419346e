package worker

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/kinobilet/kinobilet/internal/mq"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Fakes ---

type sentReply struct {
	name          string
	replyTo       string
	correlationID string
	payload       any
}

type fakeReplies struct {
	mu     sync.Mutex
	sent   []sentReply
	err    error
	closed bool
}

func (f *fakeReplies) PublishReply(ctx context.Context, name, replyTo, correlationID string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentReply{name, replyTo, correlationID, payload})
	return nil
}

func (f *fakeReplies) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

type fakeGateway struct {
	txID        string
	err         error
	calls       int
	lastPending string
}

func (f *fakeGateway) Authorize(ctx context.Context, pendingID string, amountCents int64, userEmail string) (string, error) {
	f.calls++
	f.lastPending = pendingID
	return f.txID, f.err
}

type fakeReleaser struct {
	err           error
	ticketCalls   int
	showtimeCalls int
	lastShowtime  string
	lastUsers     []string
}

func (f *fakeReleaser) ReleaseTickets(ctx context.Context, showtimeID string, userIDs []string) error {
	f.ticketCalls++
	f.lastShowtime = showtimeID
	f.lastUsers = userIDs
	return f.err
}

func (f *fakeReleaser) ReleaseShowtime(ctx context.Context, showtimeID string, userIDs []string) error {
	f.showtimeCalls++
	f.lastShowtime = showtimeID
	f.lastUsers = userIDs
	return f.err
}

func newTestWorker(replies *fakeReplies, gw *fakeGateway, rel *fakeReleaser) *Worker {
	return &Worker{
		replies:  replies,
		gateway:  gw,
		releaser: rel,
		logger:   testLogger(),
	}
}

func reserveDelivery(t *testing.T, req mq.ReserveTicketRequest) *mq.Delivery {
	t.Helper()
	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return &mq.Delivery{
		Op:            mq.OpReserveTicket,
		CorrelationID: string(mq.OpReserveTicket),
		ReplyTo:       "ticket.reserve.reply.to",
		Body:          body,
	}
}

// --- Reserve ---

func TestHandleReserve_Success(t *testing.T) {
	replies := &fakeReplies{}
	gw := &fakeGateway{txID: "tx-1"}
	w := newTestWorker(replies, gw, &fakeReleaser{})

	d := reserveDelivery(t, mq.ReserveTicketRequest{
		PendingID: "p-1",
		User:      mq.UserContact{ID: "u-1", Email: "user@example.com"},
		Showtime:  mq.ShowtimeDetails{MovieTitle: "Сталкер", PriceCents: 45000},
	})

	if got := w.handleReserve(context.Background(), d); got != mq.Ack {
		t.Fatalf("expected Ack, got %s", got)
	}

	if gw.calls != 1 || gw.lastPending != "p-1" {
		t.Errorf("gateway called %d times with %q", gw.calls, gw.lastPending)
	}

	if len(replies.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(replies.sent))
	}
	sent := replies.sent[0]
	if sent.correlationID != "reserve" {
		t.Errorf("reply must carry the request correlation id, got %q", sent.correlationID)
	}
	if sent.replyTo != "ticket.reserve.reply.to" {
		t.Errorf("reply must go to the request reply-to, got %q", sent.replyTo)
	}
	reply, ok := sent.payload.(mq.ReserveTicketReply)
	if !ok {
		t.Fatalf("unexpected reply payload type %T", sent.payload)
	}
	if reply.PendingID != "p-1" || reply.TransactionID != "tx-1" {
		t.Errorf("unexpected reply: %+v", reply)
	}
}

func TestHandleReserve_PaymentFailureStillReplies(t *testing.T) {
	replies := &fakeReplies{}
	gw := &fakeGateway{err: errors.New("declined")}
	w := newTestWorker(replies, gw, &fakeReleaser{})

	d := reserveDelivery(t, mq.ReserveTicketRequest{PendingID: "p-2"})

	if got := w.handleReserve(context.Background(), d); got != mq.Ack {
		t.Fatalf("expected Ack, got %s", got)
	}

	if len(replies.sent) != 1 {
		t.Fatalf("failed payment still requires a reply, got %d", len(replies.sent))
	}
	reply := replies.sent[0].payload.(mq.ReserveTicketReply)
	if reply.TransactionID != "" {
		t.Errorf("failed payment must yield empty transaction id, got %q", reply.TransactionID)
	}
}

func TestHandleReserve_UnserviceableDropped(t *testing.T) {
	tests := []struct {
		name          string
		correlationID string
		replyTo       string
	}{
		{"no reply-to", "reserve", ""},
		{"no correlation id", "", "ticket.reserve.reply.to"},
		{"unknown correlation id", "refund", "ticket.reserve.reply.to"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			replies := &fakeReplies{}
			gw := &fakeGateway{txID: "tx"}
			w := newTestWorker(replies, gw, &fakeReleaser{})

			d := &mq.Delivery{
				CorrelationID: tt.correlationID,
				ReplyTo:       tt.replyTo,
				Body:          []byte(`{"pending_id":"p"}`),
			}

			if got := w.handleReserve(context.Background(), d); got != mq.Drop {
				t.Fatalf("expected Drop, got %s", got)
			}
			if gw.calls != 0 {
				t.Error("dropped request must not reach the business step")
			}
			if len(replies.sent) != 0 {
				t.Error("dropped request must not produce a reply")
			}
		})
	}
}

func TestHandleReserve_MalformedPayloadDropped(t *testing.T) {
	replies := &fakeReplies{}
	gw := &fakeGateway{}
	w := newTestWorker(replies, gw, &fakeReleaser{})

	d := &mq.Delivery{
		Op:            mq.OpReserveTicket,
		CorrelationID: "reserve",
		ReplyTo:       "ticket.reserve.reply.to",
		Body:          []byte("not json"),
	}

	if got := w.handleReserve(context.Background(), d); got != mq.Drop {
		t.Fatalf("expected Drop, got %s", got)
	}
	if gw.calls != 0 || len(replies.sent) != 0 {
		t.Error("malformed request must not be processed or answered")
	}
}

func TestHandleReserve_ReplyFailureStillAcks(t *testing.T) {
	replies := &fakeReplies{err: errors.New("broker gone")}
	w := newTestWorker(replies, &fakeGateway{txID: "tx"}, &fakeReleaser{})

	d := reserveDelivery(t, mq.ReserveTicketRequest{PendingID: "p-3"})

	// Оплата прошла; неудача ответа не должна вернуть запрос в очередь —
	// иначе повторная доставка оплатит его ещё раз.
	if got := w.handleReserve(context.Background(), d); got != mq.Ack {
		t.Fatalf("expected Ack despite reply failure, got %s", got)
	}
}

// --- Cancel ---

func cancelDelivery(t *testing.T, op mq.Operation, replyQueue string, payload any) *mq.Delivery {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	return &mq.Delivery{
		Op:            op,
		CorrelationID: string(op),
		ReplyTo:       replyQueue,
		Body:          body,
	}
}

func TestHandleCancelTicket_EchoesRequest(t *testing.T) {
	replies := &fakeReplies{}
	rel := &fakeReleaser{}
	w := newTestWorker(replies, &fakeGateway{}, rel)

	req := mq.CancelTicketRequest{
		ShowtimeID: "s-1",
		UserIDs:    []string{"u-1", "u-2"},
	}
	d := cancelDelivery(t, mq.OpCancelTicket, "ticket.cancel.reply.to", req)

	if got := w.handleCancelTicket(context.Background(), d); got != mq.Ack {
		t.Fatalf("expected Ack, got %s", got)
	}

	if rel.ticketCalls != 1 || rel.lastShowtime != "s-1" || len(rel.lastUsers) != 2 {
		t.Errorf("releaser got showtime=%q users=%v", rel.lastShowtime, rel.lastUsers)
	}

	if len(replies.sent) != 1 {
		t.Fatalf("expected exactly one reply, got %d", len(replies.sent))
	}
	reply := replies.sent[0].payload.(mq.CancelTicketReply)
	if reply.ShowtimeID != req.ShowtimeID {
		t.Errorf("reply must echo showtime id, got %q", reply.ShowtimeID)
	}
	if len(reply.UserIDs) != len(req.UserIDs) || reply.UserIDs[0] != "u-1" || reply.UserIDs[1] != "u-2" {
		t.Errorf("reply must echo user ids, got %v", reply.UserIDs)
	}
	if replies.sent[0].correlationID != "cancel-ticket" {
		t.Errorf("reply correlation id must match the request, got %q", replies.sent[0].correlationID)
	}
}

func TestHandleCancelShowtime_ReleaseErrorStillReplies(t *testing.T) {
	replies := &fakeReplies{}
	rel := &fakeReleaser{err: errors.New("db down")}
	w := newTestWorker(replies, &fakeGateway{}, rel)

	req := mq.CancelShowtimeRequest{ShowtimeID: "s-2", UserIDs: []string{"u-1"}}
	d := cancelDelivery(t, mq.OpCancelShowtime, "showtime.cancel.reply.to", req)

	if got := w.handleCancelShowtime(context.Background(), d); got != mq.Ack {
		t.Fatalf("expected Ack, got %s", got)
	}

	if rel.showtimeCalls != 1 {
		t.Errorf("expected one releaser call, got %d", rel.showtimeCalls)
	}
	if len(replies.sent) != 1 {
		t.Fatalf("release error still requires a reply, got %d replies", len(replies.sent))
	}
	reply := replies.sent[0].payload.(mq.CancelShowtimeReply)
	if reply.ShowtimeID != "s-2" {
		t.Errorf("reply must echo showtime id, got %q", reply.ShowtimeID)
	}
}

func TestHandleCancelShowtime_UnserviceableDropped(t *testing.T) {
	replies := &fakeReplies{}
	rel := &fakeReleaser{}
	w := newTestWorker(replies, &fakeGateway{}, rel)

	d := &mq.Delivery{
		CorrelationID: "cancel-showtime",
		ReplyTo:       "",
		Body:          []byte(`{"showtime_id":"s"}`),
	}

	if got := w.handleCancelShowtime(context.Background(), d); got != mq.Drop {
		t.Fatalf("expected Drop, got %s", got)
	}
	if rel.showtimeCalls != 0 || len(replies.sent) != 0 {
		t.Error("dropped request must not release seats or reply")
	}
}
