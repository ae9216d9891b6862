package api

import (
	"encoding/json"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"polyswap/apps/polyswap/internal/positions"
)

// PositionHandler handles position reconciliation endpoints
type PositionHandler struct {
	engine *positions.Engine
	logger *zap.Logger
}

func NewPositionHandler(engine *positions.Engine, logger *zap.Logger) *PositionHandler {
	return &PositionHandler{engine: engine, logger: logger}
}

// ReconcilePositions handles POST /api/positions/reconcile. The caller
// supplies the position snapshot from the prediction-market backend; the
// engine checks each against the owner's on-chain balances.
func (h *PositionHandler) ReconcilePositions(w http.ResponseWriter, r *http.Request) {
	var req ReconcilePositionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_request_body", "Invalid JSON in request body")
		return
	}
	if !common.IsHexAddress(req.Owner) {
		writeError(w, h.logger, http.StatusBadRequest, "invalid_owner", "Owner must be a hex address")
		return
	}
	if len(req.Positions) == 0 {
		writeError(w, h.logger, http.StatusBadRequest, "missing_positions", "At least one position is required")
		return
	}

	report, err := h.engine.Reconcile(r.Context(), common.HexToAddress(req.Owner), positions.StaticFeed(req.Positions))
	if err != nil {
		h.logger.Error("Failed to reconcile positions", zap.String("owner", req.Owner), zap.Error(err))
		writeError(w, h.logger, http.StatusInternalServerError, "reconcile_error", "Failed to reconcile positions")
		return
	}

	writeJSON(w, h.logger, http.StatusOK, report)
}
