//go:build !rp2040

package main

import (
	"context"
	"strings"
	"time"

	"github.com/streadway/amqp"

	"hvsupply/services/bridge"
)

func init() {
	bridge.RegisterTransport("amqp", newAMQPTransport)
}

// amqpTransport publishes telemetry envelopes to a topic exchange. Routing
// keys are the bus topic with '/' replaced by '.'.
type amqpTransport struct {
	url      string
	exchange string
}

func newAMQPTransport(c bridge.Config) (bridge.Transport, error) {
	ex := c.Exchange
	if ex == "" {
		ex = "hvsupply"
	}
	return amqpTransport{url: c.URL, exchange: ex}, nil
}

func (t amqpTransport) String() string { return "amqp" }

func (t amqpTransport) Dial(ctx context.Context) (bridge.Link, error) {
	conn, err := amqp.Dial(t.url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	err = ch.ExchangeDeclare(
		t.exchange, // name
		"topic",    // type
		true,       // durable
		false,      // auto-deleted
		false,      // internal
		false,      // no-wait
		nil,        // arguments
	)
	if err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}
	return &amqpLink{conn: conn, ch: ch, exchange: t.exchange}, nil
}

type amqpLink struct {
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

func routingKey(topic string) string { return strings.ReplaceAll(topic, "/", ".") }

func (l *amqpLink) Send(topic string, body []byte) error {
	return l.ch.Publish(
		l.exchange,
		routingKey(topic),
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Timestamp:   time.Now(),
			Body:        body,
		})
}

func (l *amqpLink) Close() error {
	l.ch.Close()
	return l.conn.Close()
}
