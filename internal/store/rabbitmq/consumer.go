package rabbitmq

import (
	"encoding/json"
	"errors"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/gopherchat/internal/chat"
)

const attemptsHeader = "x-attempts"

type Consumer struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	deliveries <-chan amqp.Delivery
}

// NewConsumer declares the queue topology and starts a manual-ack consumer
// with prefetch outstanding deliveries.
func NewConsumer(url, queue string, prefetch int) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	closeAll := func() {
		_ = ch.Close()
		_ = conn.Close()
	}
	if err := DeclareTopology(ch, queue); err != nil {
		closeAll()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(prefetch, 0, false); err != nil {
		closeAll()
		return nil, err
	}
	msgs, err := ch.Consume(queue, "", false, false, false, false, nil)
	if err != nil {
		closeAll()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, deliveries: msgs}, nil
}

func (c *Consumer) Deliveries() <-chan amqp.Delivery {
	return c.deliveries
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

var errMissingMessageID = errors.New("message event without message_id")

func DecodeMessageEvent(body []byte) (chat.MessageEvent, error) {
	var ev chat.MessageEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return chat.MessageEvent{}, err
	}
	if ev.MessageID == "" {
		return chat.MessageEvent{}, errMissingMessageID
	}
	return ev, nil
}

// Attempts returns how many times the delivery has already been retried.
func Attempts(d amqp.Delivery) int {
	switch v := d.Headers[attemptsHeader].(type) {
	case int32:
		return int(v)
	case int64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}
