// Package events publishes sale lifecycle events to downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"

	"assistec/backend/internal/domain"
)

const DefaultTopic = "assistec.sale-events"

type Publisher interface {
	Publish(ctx context.Context, event domain.SaleEvent) error
}

// Noop drops every event.
type Noop struct{}

func (Noop) Publish(context.Context, domain.SaleEvent) error {
	return nil
}

// KafkaPublisher writes events as JSON keyed by sale id, so every event of one
// sale lands on the same partition.
type KafkaPublisher struct {
	producer sarama.SyncProducer
	topic    string
	logger   *log.Entry
}

func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Idempotent = true
	config.Net.MaxOpenRequests = 1

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}
	return newKafkaPublisher(producer, topic), nil
}

func newKafkaPublisher(producer sarama.SyncProducer, topic string) *KafkaPublisher {
	if topic == "" {
		topic = DefaultTopic
	}
	return &KafkaPublisher{
		producer: producer,
		topic:    topic,
		logger:   log.WithField("component", "sale-events"),
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event domain.SaleEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic:     p.topic,
		Key:       sarama.StringEncoder(event.SaleID),
		Value:     sarama.ByteEncoder(payload),
		Timestamp: event.OccurredAt,
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(event.Type)},
		},
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		p.logger.WithError(err).WithFields(log.Fields{
			"type":    event.Type,
			"sale_id": event.SaleID,
		}).Error("failed to send sale event")
		return fmt.Errorf("failed to send sale event: %w", err)
	}

	p.logger.WithFields(log.Fields{
		"type":      event.Type,
		"sale_id":   event.SaleID,
		"partition": partition,
		"offset":    offset,
	}).Debug("sale event sent")
	return nil
}

func (p *KafkaPublisher) Close() error {
	if err := p.producer.Close(); err != nil {
		return fmt.Errorf("failed to close kafka producer: %w", err)
	}
	return nil
}

// Recorder keeps published events in memory. Tests use it to assert on the
// event stream.
type Recorder struct {
	events chan domain.SaleEvent
}

func NewRecorder(capacity int) *Recorder {
	return &Recorder{events: make(chan domain.SaleEvent, capacity)}
}

func (r *Recorder) Publish(_ context.Context, event domain.SaleEvent) error {
	select {
	case r.events <- event:
		return nil
	default:
		return fmt.Errorf("event recorder full")
	}
}

// Drain returns every event recorded so far.
func (r *Recorder) Drain() []domain.SaleEvent {
	out := make([]domain.SaleEvent, 0, len(r.events))
	for {
		select {
		case e := <-r.events:
			out = append(out, e)
		default:
			return out
		}
	}
}
