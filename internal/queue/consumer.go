package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/your-org/facegate/internal/models"
)

// Handler receives decoded messages. Exactly one of ev and alert is set.
type Handler func(ctx context.Context, ev *models.AttendanceEvent, alert *models.ExitAlert) error

type Consumer struct {
	nc *nats.Conn
	js jetstream.JetStream
}

func NewConsumer(natsURL string) (*Consumer, error) {
	nc, js, err := connect(natsURL)
	if err != nil {
		return nil, err
	}
	return &Consumer{nc: nc, js: js}, nil
}

// Consume delivers new attendance events and alerts to handler until ctx is
// cancelled. Messages whose handler fails are redelivered up to three times.
func (c *Consumer) Consume(ctx context.Context, consumerName string, handler Handler) error {
	stream, err := c.js.Stream(ctx, StreamName)
	if err != nil {
		return fmt.Errorf("get stream %s: %w", StreamName, err)
	}

	cons, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:           consumerName,
		Durable:        consumerName,
		AckPolicy:      jetstream.AckExplicitPolicy,
		AckWait:        10 * time.Second,
		MaxDeliver:     3,
		FilterSubjects: []string{AttendanceSubjectBase + ".>", AlertSubjectBase + ".>"},
		DeliverPolicy:  jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", consumerName, err)
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			batch, err := cons.Fetch(10, jetstream.FetchMaxWait(5*time.Second))
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Warn("fetch attendance messages", "error", err)
				time.Sleep(time.Second)
				continue
			}

			for msg := range batch.Messages() {
				ev, alert, err := Decode(msg.Subject(), msg.Data())
				if err != nil {
					slog.Error("decode message", "error", err, "subject", msg.Subject())
					_ = msg.Term()
					continue
				}
				if err := handler(ctx, ev, alert); err != nil {
					slog.Error("handle message", "error", err, "subject", msg.Subject())
					_ = msg.Nak()
				} else {
					_ = msg.Ack()
				}
			}
		}
	}()

	slog.Info("attendance consumer started", "consumer", consumerName)
	return nil
}

// Decode parses a message by its subject base.
func Decode(subject string, data []byte) (*models.AttendanceEvent, *models.ExitAlert, error) {
	base, _, _ := strings.Cut(subject, ".")
	switch base {
	case AttendanceSubjectBase:
		var ev models.AttendanceEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, nil, fmt.Errorf("unmarshal attendance event: %w", err)
		}
		return &ev, nil, nil
	case AlertSubjectBase:
		var a models.ExitAlert
		if err := json.Unmarshal(data, &a); err != nil {
			return nil, nil, fmt.Errorf("unmarshal exit alert: %w", err)
		}
		return nil, &a, nil
	default:
		return nil, nil, fmt.Errorf("unexpected subject %q", subject)
	}
}

func (c *Consumer) Close() {
	c.nc.Close()
}
