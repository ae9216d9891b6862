package repository

import (
	"database/sql"
	"fmt"
)

// InitMigration initializes the database. In production, this would use a proper migration
// library like go-migrate
func InitMigration(db *sql.DB, startBlock uint64) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id UUID PRIMARY KEY,
			order_hash VARCHAR(66),
			order_uid VARCHAR(114),
			owner VARCHAR(42) NOT NULL,
			handler VARCHAR(42) NOT NULL,
			salt VARCHAR(66) NOT NULL,
			sell_token VARCHAR(42) NOT NULL,
			buy_token VARCHAR(42) NOT NULL,
			receiver VARCHAR(42) NOT NULL,
			sell_amount NUMERIC(78,0) NOT NULL,
			min_buy_amount NUMERIC(78,0) NOT NULL,
			start_time BIGINT NOT NULL,
			end_time BIGINT NOT NULL,
			polymarket_order_hash VARCHAR(66) NOT NULL,
			app_data VARCHAR(66) NOT NULL,
			market_id VARCHAR(100),
			outcome_selected VARCHAR(100),
			bet_percentage VARCHAR(20),
			block_number BIGINT,
			tx_hash VARCHAR(66),
			log_index BIGINT,
			status VARCHAR(20) NOT NULL,
			filled_at TIMESTAMP,
			fill_tx_hash VARCHAR(66),
			fill_block_number BIGINT,
			fill_log_index BIGINT,
			actual_sell_amount NUMERIC(78,0),
			actual_buy_amount NUMERIC(78,0),
			fee_amount NUMERIC(78,0),
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_order_hash ON orders (order_hash) WHERE order_hash IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_orders_order_uid ON orders (order_uid) WHERE order_uid IS NOT NULL`,
		`CREATE INDEX IF NOT EXISTS idx_orders_owner_status ON orders (owner, status)`,
		`CREATE TABLE IF NOT EXISTS order_outbox (
			tx_hash VARCHAR(66) NOT NULL,
			event_type VARCHAR(30) NOT NULL,
			status VARCHAR(20) NOT NULL DEFAULT 'unsent',
			block_number BIGINT NOT NULL,
			log_index INTEGER NOT NULL,
			order_hash VARCHAR(66) NOT NULL,
			owner_address VARCHAR(42) NOT NULL,
			event_blob JSONB NOT NULL,
			created_at TIMESTAMP NOT NULL DEFAULT NOW(),
			PRIMARY KEY (tx_hash, log_index, event_type)
		)`,
		`CREATE TABLE IF NOT EXISTS indexer_state (
			id INTEGER PRIMARY KEY DEFAULT 1,
			last_processed_block BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMP DEFAULT NOW(),
			CONSTRAINT single_row CHECK (id = 1)
		)`,
	}

	for _, query := range queries {
		if _, err := db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	// Initialize cursor if not exists
	_, err := db.Exec(`
		INSERT INTO indexer_state (id, last_processed_block)
		VALUES (1, $1)
		ON CONFLICT (id) DO NOTHING
	`, startBlock)

	return err
}
