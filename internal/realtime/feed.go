package realtime

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"aura-chat/internal/domain"
)

// Feed is the push channel between clients: every persisted message is
// published once per participant routing key, and each connected client
// subscribes to its own key. Delivery uses the interop wire shape, so the
// echo of a client's own send decodes identically to a peer's message and
// is absorbed by the reconciliation dedup.
type Feed struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

// New dials the broker and declares the topic exchange.
func New(url, exchange string, logger *slog.Logger) (*Feed, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(
		exchange, "topic", true, false, false, false, nil,
	); err != nil {
		conn.Close()
		return nil, err
	}
	return &Feed{conn: conn, exchange: exchange, log: logger}, nil
}

func routingKey(participant string) string {
	return "chat." + participant
}

// Publish fans the message out to both participants of its conversation.
// The assistant sentinel never subscribes, so assistant-authored messages
// still ride the two participant keys of their conversation.
func (f *Feed) Publish(ctx context.Context, m domain.Message) error {
	body, err := domain.EncodeWire(m)
	if err != nil {
		return err
	}
	a, b, err := m.ConversationKey.Participants()
	if err != nil {
		return err
	}

	ch, err := f.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	for _, participant := range []string{a, b} {
		err = ch.PublishWithContext(
			ctx, f.exchange, routingKey(participant), false, false,
			amqp091.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp091.Persistent,
				MessageId:    m.ID,
				Timestamp:    time.UnixMilli(m.CreatedAt),
				Body:         body,
			},
		)
		if err != nil {
			return err
		}
	}
	f.log.Info("published", slog.String("id", m.ID), slog.String("exchange", f.exchange))
	return nil
}

// Subscribe binds an exclusive queue to the participant's routing key and
// invokes onInsert for every decoded delivery. Close tears the consumer
// down and waits for the delivery loop to exit, so no callback fires after
// Close returns.
func (f *Feed) Subscribe(participant string, onInsert func(domain.Message)) (io.Closer, error) {
	if participant == "" {
		return nil, errors.New("realtime: participant must not be empty")
	}
	if onInsert == nil {
		return nil, errors.New("realtime: onInsert must not be nil")
	}

	ch, err := f.conn.Channel()
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, routingKey(participant), f.exchange, false, nil); err != nil {
		ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		ch.Close()
		return nil, err
	}

	sub := &subscription{ch: ch, log: f.log}
	sub.wg.Add(1)
	go func() {
		defer sub.wg.Done()
		for d := range deliveries {
			m, err := domain.DecodeWire(d.Body)
			if err != nil {
				f.log.Warn("dropping undecodable delivery", "messageId", d.MessageId, "err", err)
				continue
			}
			onInsert(m)
		}
	}()
	f.log.Info("subscribed", slog.String("participant", participant), slog.String("queue", q.Name))
	return sub, nil
}

// Close shuts the broker connection down.
func (f *Feed) Close() error {
	return f.conn.Close()
}

type subscription struct {
	ch   *amqp091.Channel
	log  *slog.Logger
	once sync.Once
	wg   sync.WaitGroup
	err  error
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.err = s.ch.Close()
		s.wg.Wait()
	})
	return s.err
}
