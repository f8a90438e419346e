package mq

import (
	"testing"
)

func TestParseOperation_ClosedSet(t *testing.T) {
	for _, s := range []string{"reserve", "cancel-ticket", "cancel-showtime"} {
		op, ok := ParseOperation(s)
		if !ok {
			t.Errorf("%q must parse", s)
		}
		if string(op) != s {
			t.Errorf("expected %q, got %q", s, op)
		}
	}

	for _, s := range []string{"", "unknown", "RESERVE", "reserve ", "cancel"} {
		if _, ok := ParseOperation(s); ok {
			t.Errorf("%q must not parse", s)
		}
	}
}

func TestDelivery_Serviceable(t *testing.T) {
	tests := []struct {
		name          string
		correlationID string
		replyTo       string
		want          bool
	}{
		{"valid reserve", "reserve", "ticket.reserve.reply.to", true},
		{"valid cancel", "cancel-showtime", "showtime.cancel.reply.to", true},
		{"missing reply-to", "reserve", "", false},
		{"missing correlation id", "", "ticket.reserve.reply.to", false},
		{"unknown correlation id", "refund", "ticket.reserve.reply.to", false},
		{"both missing", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &Delivery{CorrelationID: tt.correlationID, ReplyTo: tt.replyTo}
			if got := d.Serviceable(); got != tt.want {
				t.Errorf("Serviceable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParsePayload(t *testing.T) {
	d := &Delivery{Body: []byte(`{"showtime_id":"abc","user_ids":["u1","u2"]}`)}

	req, err := ParsePayload[CancelTicketRequest](d)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req.ShowtimeID != "abc" || len(req.UserIDs) != 2 {
		t.Errorf("unexpected payload: %+v", req)
	}

	d.Body = []byte("not json")
	if _, err := ParsePayload[CancelTicketRequest](d); err == nil {
		t.Error("expected error for malformed body")
	}
}
