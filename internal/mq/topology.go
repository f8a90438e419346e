package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeTickets — единственный обменник тикетных операций.
	ExchangeTickets Exchange = "kinobilet.tickets"

	// ExchangeDLQ — dead letter exchange для отброшенных сообщений.
	ExchangeDLQ Exchange = "kinobilet.dlq"
)

// Queues — имена очередей.
const (
	QueueReserve             Queue = "ticket.reserve"
	QueueReserveReply        Queue = "ticket.reserve.reply.to"
	QueueCancelTicket        Queue = "ticket.cancel"
	QueueCancelTicketReply   Queue = "ticket.cancel.reply.to"
	QueueCancelShowtime      Queue = "showtime.cancel"
	QueueCancelShowtimeReply Queue = "showtime.cancel.reply.to"
	QueueDLQ                 Queue = "dlq.tickets"
)

// Routing keys.
const (
	KeyReserve             RoutingKey = "reserve"
	KeyReserveReply        RoutingKey = "reserve.reply.to"
	KeyCancelTicket        RoutingKey = "cancel"
	KeyCancelTicketReply   RoutingKey = "cancel.reply.to"
	KeyCancelShowtime      RoutingKey = "showtime.cancel"
	KeyCancelShowtimeReply RoutingKey = "showtime.cancel.reply.to"
	KeyDLQ                 RoutingKey = "tickets"
)

// Route — одна привязка exchange/queue/routing key.
type Route struct {
	Exchange Exchange
	Queue    Queue
	Key      RoutingKey
}

// serverRoutes — очереди, которые слушает воркер.
var serverRoutes = map[Operation]Route{
	OpReserveTicket:  {ExchangeTickets, QueueReserve, KeyReserve},
	OpCancelTicket:   {ExchangeTickets, QueueCancelTicket, KeyCancelTicket},
	OpCancelShowtime: {ExchangeTickets, QueueCancelShowtime, KeyCancelShowtime},
}

// replyRoutes — очереди ответов, которые слушает вызывающая сторона.
var replyRoutes = map[Operation]Route{
	OpReserveTicket:  {ExchangeTickets, QueueReserveReply, KeyReserveReply},
	OpCancelTicket:   {ExchangeTickets, QueueCancelTicketReply, KeyCancelTicketReply},
	OpCancelShowtime: {ExchangeTickets, QueueCancelShowtimeReply, KeyCancelShowtimeReply},
}

// ServerRoute возвращает маршрут очереди запросов операции.
func ServerRoute(op Operation) (Route, bool) {
	r, ok := serverRoutes[op]
	return r, ok
}

// ReplyRoute возвращает маршрут очереди ответов операции.
func ReplyRoute(op Operation) (Route, bool) {
	r, ok := replyRoutes[op]
	return r, ok
}

// declarePassive пассивно объявляет exchange и queue маршрута и привязывает их.
// Пассивное объявление не создаёт ресурсы: отсутствующая очередь или
// обменник — ошибка конфигурации, а не повод что-то создавать на лету.
func declarePassive(ch *amqp.Channel, route Route) error {
	if err := ch.ExchangeDeclarePassive(
		string(route.Exchange), // name
		"direct",               // type
		true,                   // durable
		false,                  // auto-deleted
		false,                  // internal
		false,                  // no-wait
		nil,                    // arguments
	); err != nil {
		return fmt.Errorf("exchange %s does not exist: %w", route.Exchange, err)
	}

	if _, err := ch.QueueDeclarePassive(
		string(route.Queue), // name
		true,                // durable
		false,               // delete when unused
		false,               // exclusive
		false,               // no-wait
		nil,                 // arguments
	); err != nil {
		return fmt.Errorf("queue %s does not exist: %w", route.Queue, err)
	}

	if err := ch.QueueBind(
		string(route.Queue),    // queue name
		string(route.Key),      // routing key
		string(route.Exchange), // exchange
		false,                  // no-wait
		nil,                    // arguments
	); err != nil {
		return fmt.Errorf("bind queue %s to %s: %w", route.Queue, route.Exchange, err)
	}

	return nil
}

// Verify пассивно проверяет всю топологию против брокера.
// Вызывается на старте сервисов и из kinobilet-cli topology check.
func Verify(ctx context.Context, conn *Connection) error {
	ch, err := conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	for op, route := range serverRoutes {
		if err := declarePassive(ch, route); err != nil {
			return fmt.Errorf("verify %s: %w", op, err)
		}
	}
	for op, route := range replyRoutes {
		if err := declarePassive(ch, route); err != nil {
			return fmt.Errorf("verify %s reply: %w", op, err)
		}
	}

	if _, err := ch.QueueDeclarePassive(string(QueueDLQ), true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue %s does not exist: %w", QueueDLQ, err)
	}

	return nil
}

// Provision создаёт топологию: обменники, очереди, привязки, DLQ.
// Используется только out-of-band (kinobilet-cli topology provision);
// рантайм объявляет всё пассивно.
func Provision(ctx context.Context, conn *Connection) error {
	ch, err := conn.OpenChannel()
	if err != nil {
		return err
	}
	defer ch.Close()

	for _, ex := range []Exchange{ExchangeTickets, ExchangeDLQ} {
		if err := ch.ExchangeDeclare(string(ex), "direct", true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex, err)
		}
	}

	// Очереди запросов получают DLQ: отброшенные сообщения
	// уходят туда для ручного разбора.
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(KeyDLQ),
	}

	declare := func(q Queue, args amqp.Table) error {
		if _, err := ch.QueueDeclare(string(q), true, false, false, false, args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q, err)
		}
		return nil
	}

	for _, route := range serverRoutes {
		if err := declare(route.Queue, dlqArgs); err != nil {
			return err
		}
	}
	for _, route := range replyRoutes {
		if err := declare(route.Queue, nil); err != nil {
			return err
		}
	}
	if err := declare(QueueDLQ, nil); err != nil {
		return err
	}

	bind := func(route Route) error {
		if err := ch.QueueBind(string(route.Queue), string(route.Key), string(route.Exchange), false, nil); err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", route.Queue, route.Exchange, err)
		}
		return nil
	}

	for _, route := range serverRoutes {
		if err := bind(route); err != nil {
			return err
		}
	}
	for _, route := range replyRoutes {
		if err := bind(route); err != nil {
			return err
		}
	}
	if err := bind(Route{ExchangeDLQ, QueueDLQ, KeyDLQ}); err != nil {
		return err
	}

	return nil
}
