package repository

import (
	"database/sql"

	"go.uber.org/zap"
)

// CursorRepository persists the single processed-block cursor. The cursor
// is monotonically non-decreasing: SetProcessedBlock never moves it
// backwards, even if handed a stale value.
type CursorRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewCursorRepository(db *sql.DB, logger *zap.Logger) *CursorRepository {
	return &CursorRepository{db: db, logger: logger}
}

func (c *CursorRepository) GetLatestProcessedBlock() (uint64, error) {
	var block uint64
	err := c.db.QueryRow(`
		SELECT last_processed_block FROM indexer_state WHERE id = 1
	`).Scan(&block)
	return block, err
}

func (c *CursorRepository) SetProcessedBlock(block uint64) error {
	_, err := c.db.Exec(`
		UPDATE indexer_state
		SET last_processed_block = GREATEST(last_processed_block, $1), updated_at = NOW()
		WHERE id = 1
	`, block)
	return err
}
