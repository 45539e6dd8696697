package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"chama-wallet-service/internal/services"
	"chama-wallet-service/pkg/common"

	"github.com/gin-gonic/gin"
)

type WalletHandler struct {
	Wallets *services.WalletService
}

func NewWalletHandler(wallets *services.WalletService) *WalletHandler {
	return &WalletHandler{Wallets: wallets}
}

type initiateDepositRequest struct {
	Amount   float64 `json:"amount" binding:"required,gt=0"`
	GateName string  `json:"gate_name" binding:"required"`
}

func (h *WalletHandler) InitiateDeposit(c *gin.Context) {
	var req initiateDepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, common.NewErrorResponse(err.Error(), nil, http.StatusBadRequest))
		return
	}

	userId := callerUserId(c)
	if userId == 0 {
		c.JSON(http.StatusForbidden, common.NewErrorResponse("deposits must be initiated by a user", nil, http.StatusForbidden))
		return
	}

	trx, err := h.Wallets.InitiateDeposit(c.Request.Context(), services.InitiateDepositInput{
		UserId:   userId,
		Amount:   req.Amount,
		GateName: req.GateName,
	})
	if err != nil {
		if errors.Is(err, services.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, common.NewErrorResponse("wallet not found", nil, http.StatusNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("failed to initiate deposit", nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(trx, "deposit initiated"))
}

func (h *WalletHandler) GetBalance(c *gin.Context) {
	userId := callerUserId(c)
	if userId == 0 {
		c.JSON(http.StatusForbidden, common.NewErrorResponse("balance reads require a user", nil, http.StatusForbidden))
		return
	}

	wallet, err := h.Wallets.GetBalance(userId)
	if err != nil {
		if errors.Is(err, services.ErrWalletNotFound) {
			c.JSON(http.StatusNotFound, common.NewErrorResponse("wallet not found", nil, http.StatusNotFound))
			return
		}
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("failed to load wallet", nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, common.NewSuccessResponse(gin.H{
		"user_id":  wallet.UserId,
		"balance":  wallet.Balance,
		"currency": wallet.Currency,
	}, "balance"))
}

func (h *WalletHandler) GetTransactions(c *gin.Context) {
	userId := callerUserId(c)
	if userId == 0 {
		c.JSON(http.StatusForbidden, common.NewErrorResponse("transaction reads require a user", nil, http.StatusForbidden))
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	result, err := h.Wallets.ListTransactions(userId, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, common.NewErrorResponse("failed to load transactions", nil, http.StatusInternalServerError))
		return
	}

	c.JSON(http.StatusOK, result)
}
