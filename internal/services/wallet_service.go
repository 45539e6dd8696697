package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"chama-wallet-service/internal/models"
	"chama-wallet-service/pkg/common"

	"github.com/rs/zerolog/log"
	"gorm.io/gorm"
)

var ErrWalletNotFound = errors.New("wallet not found")

// WalletService covers the deposit side of the wallet: initiating an
// STK push for a top-up and reading balances/history. Completion of
// the deposit happens in ReconcileService.
type WalletService struct {
	DB      *gorm.DB
	Gateway GatewayAPI
	Helper  *HelperService
}

func NewWalletService(db *gorm.DB, gateway GatewayAPI, helper *HelperService) *WalletService {
	return &WalletService{DB: db, Gateway: gateway, Helper: helper}
}

type InitiateDepositInput struct {
	UserId   int     `json:"user_id"`
	Amount   float64 `json:"amount"`
	GateName string  `json:"gate_name"`
}

// InitiateDeposit creates the pending record first, then sends the
// push; a dispatch failure leaves a failed record behind rather than
// no record at all.
func (s *WalletService) InitiateDeposit(ctx context.Context, input InitiateDepositInput) (*models.Transaction, error) {
	if input.Amount <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}

	var wallet models.Wallet
	if err := s.DB.Where("user_id = ?", input.UserId).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, fmt.Errorf("load wallet: %w", err)
	}

	trx := models.Transaction{
		UserId:        wallet.UserId,
		Username:      wallet.Username,
		TransactionNo: common.GenerateTrxNo(),
		AccountNumber: fmt.Sprintf("DEP-%s", common.GenerateTrxNo()),
		Amount:        input.Amount,
		PhoneNumber:   wallet.PhoneNumber,
		GateName:      input.GateName,
		Status:        models.StatusPending,
		AttemptCount:  1,
		LastAttemptAt: time.Now(),
	}
	if err := s.DB.Create(&trx).Error; err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}

	res := s.Gateway.DispatchSTK(ctx, trx.PhoneNumber, trx.Amount, trx.GateName, "wallet", trx.AccountNumber)
	if res.Accepted {
		updates := map[string]interface{}{"status": models.StatusSent}
		if res.CorrelationId != "" {
			updates["checkout_request_id"] = res.CorrelationId
		}
		if err := s.DB.Model(&trx).Updates(updates).Error; err != nil {
			log.Error().Err(err).Uint("transaction_id", trx.ID).Msg("deposit sent transition failed")
		}
		trx.Status = models.StatusSent
		trx.CheckoutRequestId = res.CorrelationId
	} else {
		if err := s.DB.Model(&trx).Updates(map[string]interface{}{
			"status":        models.StatusFailed,
			"error_message": res.RawError,
		}).Error; err != nil {
			log.Error().Err(err).Uint("transaction_id", trx.ID).Msg("deposit failed transition failed")
		}
		trx.Status = models.StatusFailed
		trx.ErrorMessage = res.RawError
	}

	s.Helper.LogCallback("dispatch", "deposit stk push", trx.TransactionNo, trx.GateName, boolToInt(res.Accepted), res)
	return &trx, nil
}

func (s *WalletService) GetBalance(userId int) (*models.Wallet, error) {
	var wallet models.Wallet
	if err := s.DB.Where("user_id = ?", userId).First(&wallet).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

// PendingDeposits loads the user's open deposit records, oldest first.
func (s *WalletService) PendingDeposits(userId int, ids []uint) ([]models.Transaction, error) {
	var records []models.Transaction
	q := s.DB.Where("status IN ?", models.OpenStatuses()).Order("created_at asc")
	if userId != 0 {
		q = q.Where("user_id = ?", userId)
	}
	if len(ids) > 0 {
		q = q.Where("id IN ?", ids)
	}
	if err := q.Find(&records).Error; err != nil {
		return nil, err
	}
	return records, nil
}

func (s *WalletService) ListTransactions(userId, page, limit int) (common.PaginationResult, error) {
	if page < 1 {
		page = 1
	}
	if limit < 1 || limit > 100 {
		limit = 20
	}

	var total int64
	q := s.DB.Model(&models.Transaction{}).Where("user_id = ?", userId)
	if err := q.Count(&total).Error; err != nil {
		return common.PaginationResult{}, err
	}

	var records []models.Transaction
	if err := q.Order("created_at desc").Offset((page - 1) * limit).Limit(limit).Find(&records).Error; err != nil {
		return common.PaginationResult{}, err
	}

	return common.PaginateResponse(records, total, page, limit, ""), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
