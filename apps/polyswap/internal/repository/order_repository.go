package repository

import (
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/model"
)

type OrderRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewOrderRepository(db *sql.DB, logger *zap.Logger) *OrderRepository {
	return &OrderRepository{db: db, logger: logger}
}

const orderColumns = `id, order_hash, order_uid, owner, handler, salt, sell_token, buy_token, receiver,
	sell_amount, min_buy_amount, start_time, end_time, polymarket_order_hash, app_data,
	market_id, outcome_selected, bet_percentage, block_number, tx_hash, log_index, status,
	filled_at, fill_tx_hash, fill_block_number, fill_log_index,
	actual_sell_amount, actual_buy_amount, fee_amount, created_at, updated_at`

// CreateDraft inserts a draft order created by the external order-creation
// flow. The surrogate id must already be assigned.
func (r *OrderRepository) CreateDraft(order model.Order) error {
	_, err := r.db.Exec(`
		INSERT INTO orders (id, order_hash, order_uid, owner, handler, salt, sell_token, buy_token, receiver,
			sell_amount, min_buy_amount, start_time, end_time, polymarket_order_hash, app_data,
			market_id, outcome_selected, bet_percentage, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`, order.ID, order.OrderHash, order.OrderUID, order.Owner, order.Handler, order.Salt,
		order.SellToken, order.BuyToken, order.Receiver,
		order.SellAmount, order.MinBuyAmount, order.StartTime, order.EndTime,
		order.PolymarketOrderHash, order.AppData,
		order.MarketID, order.OutcomeSelected, order.BetPercentage, model.StatusDraft)

	if err != nil {
		return fmt.Errorf("failed to create draft order: %w", err)
	}

	r.logger.Info("Created draft order",
		zap.String("id", order.ID),
		zap.String("owner", order.Owner))
	return nil
}

// UpsertByHash inserts or updates an order keyed by its on-chain hash.
// On conflict the chain-observed fields win; the draft-side business
// metadata (market id, outcome, bet percentage) is left untouched.
func (r *OrderRepository) UpsertByHash(order model.Order) error {
	if order.OrderHash == nil {
		return fmt.Errorf("cannot upsert order without hash")
	}

	_, err := r.db.Exec(`
		INSERT INTO orders (id, order_hash, order_uid, owner, handler, salt, sell_token, buy_token, receiver,
			sell_amount, min_buy_amount, start_time, end_time, polymarket_order_hash, app_data,
			block_number, tx_hash, log_index, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		ON CONFLICT (order_hash) DO UPDATE SET
			order_uid = EXCLUDED.order_uid,
			block_number = EXCLUDED.block_number,
			tx_hash = EXCLUDED.tx_hash,
			log_index = EXCLUDED.log_index,
			status = EXCLUDED.status,
			updated_at = NOW()
	`, order.ID, order.OrderHash, order.OrderUID, order.Owner, order.Handler, order.Salt,
		order.SellToken, order.BuyToken, order.Receiver,
		order.SellAmount, order.MinBuyAmount, order.StartTime, order.EndTime,
		order.PolymarketOrderHash, order.AppData,
		order.BlockNumber, order.TxHash, order.LogIndex, order.Status)

	if err != nil {
		return fmt.Errorf("failed to upsert order: %w", err)
	}

	r.logger.Info("Upserted order",
		zap.String("order_hash", *order.OrderHash),
		zap.String("owner", order.Owner),
		zap.String("status", string(order.Status)))
	return nil
}

func (r *OrderRepository) GetByHash(orderHash string) (*model.Order, error) {
	return r.queryOne(`SELECT `+orderColumns+` FROM orders WHERE order_hash = $1`, orderHash)
}

// GetByHashAndOwner scopes the hash lookup to one wallet. Callers acting
// on behalf of an owner use this so they can never reach another wallet's
// order.
func (r *OrderRepository) GetByHashAndOwner(orderHash, owner string) (*model.Order, error) {
	return r.queryOne(`SELECT `+orderColumns+` FROM orders WHERE order_hash = $1 AND owner = $2`, orderHash, owner)
}

// ListByOwner returns a wallet's orders, newest first, optionally
// filtered by status.
func (r *OrderRepository) ListByOwner(owner string, status model.OrderStatus) ([]model.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE owner = $1`
	args := []interface{}{owner}
	if status != "" {
		query += ` AND status = $2`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC`

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders for %s: %w", owner, err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (r *OrderRepository) GetByID(id string) (*model.Order, error) {
	return r.queryOne(`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *OrderRepository) GetByUID(orderUID string) (*model.Order, error) {
	return r.queryOne(`SELECT `+orderColumns+` FROM orders WHERE order_uid = $1`, orderUID)
}

// UpdateStatus moves the order identified by id to the given status,
// recording fill detail when present. Lifecycle legality is the
// reconciler's concern; this is a plain row update.
func (r *OrderRepository) UpdateStatus(id string, status model.OrderStatus, fill *model.FillDetail) error {
	var err error
	if fill != nil {
		_, err = r.db.Exec(`
			UPDATE orders
			SET status = $1, filled_at = $2, fill_tx_hash = $3, fill_block_number = $4, fill_log_index = $5,
				actual_sell_amount = $6, actual_buy_amount = $7, fee_amount = $8, updated_at = NOW()
			WHERE id = $9
		`, status, fill.FilledAt, fill.TxHash, fill.BlockNumber, fill.LogIndex,
			fill.ActualSellAmount, fill.ActualBuyAmount, fill.FeeAmount, id)
	} else {
		_, err = r.db.Exec(`
			UPDATE orders SET status = $1, updated_at = NOW() WHERE id = $2
		`, status, id)
	}

	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}

	r.logger.Info("Updated order status",
		zap.String("id", id),
		zap.String("status", string(status)))
	return nil
}

// ConfirmDraft moves a draft to live, recording the signed transaction
// hash. Returns sql.ErrNoRows when the order is not in draft, so the
// caller can reject an illegal transition.
func (r *OrderRepository) ConfirmDraft(id, signedTxHash string) error {
	result, err := r.db.Exec(`
		UPDATE orders SET status = $1, tx_hash = $2, updated_at = NOW()
		WHERE id = $3 AND status = $4
	`, model.StatusLive, signedTxHash, id, model.StatusDraft)
	if err != nil {
		return fmt.Errorf("failed to confirm draft order: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm draft order: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	r.logger.Info("Confirmed draft order",
		zap.String("id", id),
		zap.String("tx_hash", signedTxHash))
	return nil
}

func (r *OrderRepository) GetLiveOrdersMissingUID() ([]model.Order, error) {
	rows, err := r.db.Query(`SELECT `+orderColumns+` FROM orders WHERE status = $1 AND order_uid IS NULL`, model.StatusLive)
	if err != nil {
		return nil, fmt.Errorf("failed to get live orders missing uid: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

// SetOrderHashAndUID records a late-derived hash and UID on an order that
// was confirmed live before its hash was known.
func (r *OrderRepository) SetOrderHashAndUID(id, orderHash, orderUID string) error {
	_, err := r.db.Exec(`
		UPDATE orders SET order_hash = $1, order_uid = $2, updated_at = NOW()
		WHERE id = $3 AND order_hash IS NULL
	`, orderHash, orderUID, id)
	if err != nil {
		return fmt.Errorf("failed to set order hash and uid: %w", err)
	}
	return nil
}

// SetOrderUID backfills the protocol UID on an order identified by hash.
func (r *OrderRepository) SetOrderUID(orderHash, orderUID string) error {
	_, err := r.db.Exec(`
		UPDATE orders SET order_uid = $1, updated_at = NOW() WHERE order_hash = $2
	`, orderUID, orderHash)
	if err != nil {
		return fmt.Errorf("failed to set order uid: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *OrderRepository) queryOne(query string, args ...interface{}) (*model.Order, error) {
	order, err := scanOrder(r.db.QueryRow(query, args...))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var order model.Order
	err := row.Scan(&order.ID, &order.OrderHash, &order.OrderUID, &order.Owner, &order.Handler, &order.Salt,
		&order.SellToken, &order.BuyToken, &order.Receiver,
		&order.SellAmount, &order.MinBuyAmount, &order.StartTime, &order.EndTime,
		&order.PolymarketOrderHash, &order.AppData,
		&order.MarketID, &order.OutcomeSelected, &order.BetPercentage,
		&order.BlockNumber, &order.TxHash, &order.LogIndex, &order.Status,
		&order.FilledAt, &order.FillTxHash, &order.FillBlockNumber, &order.FillLogIndex,
		&order.ActualSellAmount, &order.ActualBuyAmount, &order.FeeAmount,
		&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &order, nil
}
