package handlers

import (
	"net/http"
	"strconv"

	"chama-wallet-service/internal/services"
	"chama-wallet-service/pkg/common"

	"github.com/gin-gonic/gin"
)

type ReconcileHandler struct {
	Reconciler *services.ReconcileService
	Wallets    *services.WalletService
}

func NewReconcileHandler(reconciler *services.ReconcileService, wallets *services.WalletService) *ReconcileHandler {
	return &ReconcileHandler{Reconciler: reconciler, Wallets: wallets}
}

type reconcileDepositsRequest struct {
	TransactionIds []uint `json:"transaction_ids"`
}

// ReconcileDeposits reconciles the caller's pending deposits (all
// users' when invoked by cron) against the settlement feed.
func (h *ReconcileHandler) ReconcileDeposits(c *gin.Context) {
	var req reconcileDepositsRequest
	// Body is optional; an empty body means "everything I have pending".
	_ = c.ShouldBindJSON(&req)

	userId := callerUserId(c)
	if userId == 0 && !isCronCaller(c) {
		c.JSON(http.StatusUnauthorized, common.NewErrorResponse("missing caller identity", nil, http.StatusUnauthorized))
		return
	}

	records, err := h.Wallets.PendingDeposits(userId, req.TransactionIds)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("failed to load pending deposits", nil, http.StatusInternalServerError))
		return
	}

	summary := h.Reconciler.ReconcileDeposits(c.Request.Context(), records)
	c.JSON(http.StatusOK, common.NewSuccessResponse(summary, "reconciliation completed"))
}

// ReconcileChama reconciles all open collection cycles, optionally
// narrowed to one group via ?groupId=.
func (h *ReconcileHandler) ReconcileChama(c *gin.Context) {
	var groupId uint
	if v := c.Query("groupId"); v != "" {
		parsed, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, common.NewErrorResponse("invalid groupId", nil, http.StatusBadRequest))
			return
		}
		groupId = uint(parsed)
	}

	summary, err := h.Reconciler.ReconcileChama(c.Request.Context(), groupId)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("reconciliation failed", nil, http.StatusInternalServerError))
		return
	}
	c.JSON(http.StatusOK, common.NewSuccessResponse(summary, "reconciliation completed"))
}
