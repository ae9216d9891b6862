package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/model"
)

type OutboxRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOutboxRepository(db *sql.DB, logger *zap.Logger) *OutboxRepository {
	return &OutboxRepository{db: db, logger: logger}
}

func (r *OutboxRepository) StoreOutboxEvent(event model.OutboxEvent) error {
	_, err := r.db.Exec(`
		INSERT INTO order_outbox (tx_hash, event_type, status, block_number, log_index, order_hash, owner_address, event_blob)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (tx_hash, log_index, event_type) DO UPDATE SET
			status = EXCLUDED.status,
			block_number = EXCLUDED.block_number,
			order_hash = EXCLUDED.order_hash,
			owner_address = EXCLUDED.owner_address,
			event_blob = EXCLUDED.event_blob,
			created_at = NOW()
	`, event.TxHash, event.EventType, event.Status, event.BlockNumber, event.LogIndex,
		event.OrderHash, event.Address, event.EventBlob)

	if err != nil {
		return fmt.Errorf("failed to store outbox event: %w", err)
	}

	r.logger.Info("Stored outbox event",
		zap.String("event_type", event.EventType),
		zap.String("order_hash", event.OrderHash),
		zap.String("tx_hash", event.TxHash))
	return nil
}

// GetUnsentEventsForProcessing selects a batch of unsent events and marks
// them processing inside one transaction so concurrent publishers never
// pick up the same rows.
func (r *OutboxRepository) GetUnsentEventsForProcessing(limit int) ([]model.OutboxEvent, error) {
	tx, err := r.db.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback() // Ignored once Commit succeeds

	rows, err := tx.Query(`
		SELECT tx_hash, event_type, status, block_number, log_index, order_hash, owner_address, event_blob, created_at
		FROM order_outbox
		WHERE status = 'unsent'
		ORDER BY created_at, log_index
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}

	var events []model.OutboxEvent
	for rows.Next() {
		var event model.OutboxEvent
		if err := rows.Scan(&event.TxHash, &event.EventType, &event.Status, &event.BlockNumber,
			&event.LogIndex, &event.OrderHash, &event.Address, &event.EventBlob, &event.CreatedAt); err != nil {
			rows.Close()
			return nil, err
		}
		events = append(events, event)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, event := range events {
		_, err = tx.Exec(`
			UPDATE order_outbox
			SET status = 'processing'
			WHERE tx_hash = $1 AND event_type = $2 AND log_index = $3 AND status = 'unsent'
		`, event.TxHash, event.EventType, event.LogIndex)
		if err != nil {
			return nil, err
		}
	}

	if err = tx.Commit(); err != nil {
		return nil, err
	}

	return events, nil
}

func (r *OutboxRepository) MarkEventAsSent(txHash, eventType string, logIndex uint) error {
	_, err := r.db.Exec(`
		UPDATE order_outbox
		SET status = 'sent'
		WHERE tx_hash = $1 AND event_type = $2 AND log_index = $3
	`, txHash, eventType, logIndex)
	return err
}

func (r *OutboxRepository) MarkEventAsFailed(txHash, eventType string, logIndex uint) error {
	_, err := r.db.Exec(`
		UPDATE order_outbox
		SET status = 'unsent'
		WHERE tx_hash = $1 AND event_type = $2 AND log_index = $3 AND status = 'processing'
	`, txHash, eventType, logIndex)
	return err
}
