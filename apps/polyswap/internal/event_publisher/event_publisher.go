package event_publisher

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/confluentinc/confluent-kafka-go/kafka"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/events"
	"polyswap/apps/polyswap/internal/model"
	"polyswap/apps/polyswap/internal/repository"
)

type EventPublisher struct {
	logger        *zap.Logger
	kafkaProducer *kafka.Producer
	kafkaTopic    string
	outbox        *repository.OutboxRepository
	mu            sync.Mutex // Protects concurrent access to publishing operations
	stop          chan struct{}
	stopOnce      sync.Once
}

func NewEventPublisher(kafkaBroker, kafkaTopic string, logger *zap.Logger, outbox *repository.OutboxRepository) (*EventPublisher, error) {
	producer, err := kafka.NewProducer(&kafka.ConfigMap{
		"bootstrap.servers": kafkaBroker,
		"acks":              "all",
		"retries":           3,
		"retry.backoff.ms":  100,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Kafka producer: %w", err)
	}

	return &EventPublisher{
		logger:        logger,
		kafkaProducer: producer,
		kafkaTopic:    kafkaTopic,
		outbox:        outbox,
		stop:          make(chan struct{}),
	}, nil
}

// StartPublishing drains the outbox on a fixed cadence until Close is
// called. Blocks; run it on its own goroutine.
func (ep *EventPublisher) StartPublishing() {
	ticker := time.NewTicker(3 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ep.stop:
			return
		case <-ticker.C:
			if err := ep.publishUnsentEvents(); err != nil {
				ep.logger.Error("Error publishing events to Kafka", zap.Error(err))
			}
		}
	}
}

func (ep *EventPublisher) publishUnsentEvents() error {
	// One publishing pass at a time per instance
	ep.mu.Lock()
	defer ep.mu.Unlock()

	outboxEvents, err := ep.outbox.GetUnsentEventsForProcessing(100)
	if err != nil {
		return err
	}

	successCount := 0
	for _, event := range outboxEvents {
		if err := ep.publishEventToKafka(event); err != nil {
			ep.logger.Error("Failed to publish event to Kafka",
				zap.String("tx_hash", event.TxHash),
				zap.String("event_type", event.EventType),
				zap.Error(err))
			// Returns the row to 'unsent' so the next pass retries it
			if markErr := ep.outbox.MarkEventAsFailed(event.TxHash, event.EventType, event.LogIndex); markErr != nil {
				ep.logger.Error("Failed to mark event as failed",
					zap.String("tx_hash", event.TxHash),
					zap.String("event_type", event.EventType),
					zap.Uint("log_index", event.LogIndex),
					zap.Error(markErr))
			}
			continue
		}

		if err := ep.outbox.MarkEventAsSent(event.TxHash, event.EventType, event.LogIndex); err != nil {
			// Published but not marked: the row will be re-sent, consumers
			// must dedupe on (tx_hash, log_index, event_type)
			ep.logger.Error("Failed to mark event as sent",
				zap.String("tx_hash", event.TxHash),
				zap.String("event_type", event.EventType),
				zap.Uint("log_index", event.LogIndex),
				zap.Error(err))
		} else {
			successCount++
		}
	}

	if successCount > 0 {
		ep.logger.Info("Published events to Kafka",
			zap.Int("success_count", successCount),
			zap.Int("attempted", len(outboxEvents)))
	}

	return nil
}

func (ep *EventPublisher) publishEventToKafka(event model.OutboxEvent) error {
	kafkaMsg := events.OrderLifecycleEvent{
		EventType:    event.EventType,
		OrderHash:    event.OrderHash,
		TxHash:       event.TxHash,
		BlockNumber:  event.BlockNumber,
		LogIndex:     uint64(event.LogIndex),
		OwnerAddress: event.Address,
		EventData:    event.EventBlob,
		Timestamp:    time.Now(),
	}

	msgBytes, err := json.Marshal(kafkaMsg)
	if err != nil {
		return err
	}

	deliveryChan := make(chan kafka.Event)
	defer close(deliveryChan)

	// Keyed by owner so one wallet's lifecycle stays ordered within a partition
	err = ep.kafkaProducer.Produce(&kafka.Message{
		TopicPartition: kafka.TopicPartition{Topic: &ep.kafkaTopic, Partition: kafka.PartitionAny},
		Key:            []byte(event.Address),
		Value:          msgBytes,
	}, deliveryChan)
	if err != nil {
		return err
	}

	e := <-deliveryChan
	switch ev := e.(type) {
	case *kafka.Message:
		if ev.TopicPartition.Error != nil {
			return ev.TopicPartition.Error
		}
		return nil
	default:
		return fmt.Errorf("unexpected kafka event type: %T", e)
	}
}

func (ep *EventPublisher) Close() error {
	ep.stopOnce.Do(func() { close(ep.stop) })
	if ep.kafkaProducer != nil {
		ep.kafkaProducer.Close()
	}
	return nil
}
