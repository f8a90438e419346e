package mq

import (
	"testing"
)

func TestTopology_EveryOperationHasRoutePair(t *testing.T) {
	ops := []Operation{OpReserveTicket, OpCancelTicket, OpCancelShowtime}

	for _, op := range ops {
		server, ok := ServerRoute(op)
		if !ok {
			t.Fatalf("no server route for %s", op)
		}
		reply, ok := ReplyRoute(op)
		if !ok {
			t.Fatalf("no reply route for %s", op)
		}

		if server.Exchange != ExchangeTickets || reply.Exchange != ExchangeTickets {
			t.Errorf("%s: all protocol routes share the tickets exchange", op)
		}
		if server.Queue == reply.Queue {
			t.Errorf("%s: request and reply queues must differ", op)
		}
		if server.Key == reply.Key {
			t.Errorf("%s: request and reply routing keys must differ", op)
		}
	}
}

func TestTopology_QueuesAndKeysUnique(t *testing.T) {
	queues := map[Queue]Operation{}
	keys := map[RoutingKey]Operation{}

	check := func(op Operation, r Route) {
		if prev, dup := queues[r.Queue]; dup {
			t.Errorf("queue %s shared between %s and %s", r.Queue, prev, op)
		}
		queues[r.Queue] = op

		if prev, dup := keys[r.Key]; dup {
			t.Errorf("routing key %s shared between %s and %s", r.Key, prev, op)
		}
		keys[r.Key] = op
	}

	for op, r := range serverRoutes {
		check(op, r)
	}
	for op, r := range replyRoutes {
		check(op, r)
	}
}

func TestTopology_UnknownOperation(t *testing.T) {
	if _, ok := ServerRoute(Operation("refund")); ok {
		t.Error("unknown operation must not have a server route")
	}
	if _, ok := ReplyRoute(Operation("refund")); ok {
		t.Error("unknown operation must not have a reply route")
	}
}
