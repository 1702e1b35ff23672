package publisher

import (
	"context"
	"log/slog"
	"time"

	"github.com/fjod/macstore/internal/repository"
	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic = "storefront-outbox"
	batchSize    = 100

	// gateway tokens are short lived; sessions older than this can no
	// longer be committed
	staleSessionAge = 15 * time.Minute
)

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// OutboxPoller drains the outbox table into Kafka and expires payment
// sessions that were never confirmed.
type OutboxPoller struct {
	timeout      time.Duration
	eventTick    time.Duration
	recoveryTick time.Duration
	repo         repository.OutboxRepository
	writer       MessageWriter
	log          *slog.Logger
	now          func() time.Time
}

func NewKafkaWriter(topic string, brokers ...string) *kafka.Writer {
	if topic == "" {
		topic = DefaultTopic
	}
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		WriteTimeout:           10 * time.Second,
	}
}

func NewOutboxPoller(repo repository.OutboxRepository, writer MessageWriter, log *slog.Logger) *OutboxPoller {
	return &OutboxPoller{
		timeout:      5 * time.Second,
		eventTick:    time.Second,
		recoveryTick: time.Minute,
		repo:         repo,
		writer:       writer,
		log:          log,
		now:          time.Now,
	}
}

// Run blocks until ctx is cancelled.
func (p *OutboxPoller) Run(ctx context.Context) {
	eventTicker := time.NewTicker(p.eventTick)
	recoveryTicker := time.NewTicker(p.recoveryTick)
	defer eventTicker.Stop()
	defer recoveryTicker.Stop()
	for {
		select {
		case <-eventTicker.C:
			p.processUnpublishedEvents(ctx)
		case <-recoveryTicker.C:
			p.expireStaleSessions(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (p *OutboxPoller) processUnpublishedEvents(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	events, err := p.repo.GetUnprocessedEvents(ctx, batchSize)
	if err != nil {
		p.log.ErrorContext(ctx, "failed to fetch outbox events", "error", err)
		return
	}

	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.log.ErrorContext(ctx, "failed to publish outbox event", "id", event.ID, "type", event.EventType, "error", err)
			// keep order per aggregate: stop and retry the rest next tick
			return
		}

		if err := p.repo.MarkEventAsProcessed(ctx, event.ID); err != nil {
			p.log.ErrorContext(ctx, "failed to mark outbox event processed", "id", event.ID, "error", err)
			continue
		}
	}
}

func (p *OutboxPoller) expireStaleSessions(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	n, err := p.repo.ExpireStaleSessions(ctx, p.now().Add(-staleSessionAge))
	if err != nil {
		p.log.ErrorContext(ctx, "failed to expire stale payment sessions", "error", err)
		return
	}
	if n > 0 {
		p.log.InfoContext(ctx, "expired stale payment sessions", "count", n)
	}
}

func (p *OutboxPoller) publish(ctx context.Context, event *repository.OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: event.Payload,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
		},
	})
}

func (p *OutboxPoller) Close() error {
	return p.writer.Close()
}
