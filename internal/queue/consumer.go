package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// AuditConsumer listens to the reservation events queue and appends one
// line per event to an audit sink, typically logs/reservation-events.log.
type AuditConsumer struct {
	URL   string
	Queue string
	Sink  io.Writer
	Log   *logrus.Entry
}

// Run dials the broker and consumes until ctx is cancelled.  Dial failures
// back off exponentially up to 30s; a closed delivery channel triggers a
// reconnect.
func (c *AuditConsumer) Run(ctx context.Context) error {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		conn, err := amqp.Dial(c.URL)
		if err != nil {
			c.Log.WithError(err).Warnf("audit-consumer: dial failed; retrying in %s", backoff)
			if !sleep(ctx, backoff) {
				return ctx.Err()
			}
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		err = c.consumeLoop(ctx, conn)
		_ = conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		c.Log.WithError(err).Warn("audit-consumer: consume loop ended; reconnecting")
		if !sleep(ctx, 2*time.Second) {
			return ctx.Err()
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func (c *AuditConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
	ch, err := conn.Channel()
	if err != nil {
		return fmt.Errorf("channel open: %w", err)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(50, 0, false); err != nil {
		c.Log.WithError(err).Warn("audit-consumer: set QoS failed")
	}
	if _, err := ch.QueueDeclare(c.Queue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("queue declare: %w", err)
	}
	msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("queue consume: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case d, ok := <-msgs:
			if !ok {
				return errors.New("deliveries channel closed")
			}
			if err := c.Handle(d.Body); err != nil {
				c.Log.WithError(err).Warn("audit-consumer: handle message failed")
				_ = d.Nack(false, false) // do not requeue poison messages
				continue
			}
			_ = d.Ack(false)
		}
	}
}

// Handle decodes one message body and writes its audit line.
func (c *AuditConsumer) Handle(body []byte) error {
	var ev ReservationEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		return fmt.Errorf("unmarshal: %w", err)
	}
	if ev.Type == "" || ev.ReservationID == "" {
		return errors.New("event without type or reservation id")
	}
	_, err := io.WriteString(c.Sink, FormatAuditLine(ev))
	return err
}

// FormatAuditLine renders a single human friendly log line.
func FormatAuditLine(ev ReservationEvent) string {
	line := fmt.Sprintf("[%s] %s | reservation_id=%s", ev.OccurredAt, ev.Type, ev.ReservationID)
	if ev.ReservationCode != "" {
		line += " | code=" + ev.ReservationCode
	}
	if ev.FromStatus != "" {
		line += fmt.Sprintf(" | status=%s->%s", ev.FromStatus, ev.Status)
	} else if ev.Status != "" {
		line += " | status=" + ev.Status
	}
	if ev.PaymentID != "" {
		line += fmt.Sprintf(" | payment_id=%s | amount=%d", ev.PaymentID, ev.Amount)
	}
	if ev.ActorID != "" {
		line += " | actor=" + ev.ActorID
	}
	if ev.Reason != "" {
		line += fmt.Sprintf(" | reason=%q", ev.Reason)
	}
	return line + "\n"
}
