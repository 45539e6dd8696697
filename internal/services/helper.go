package services

import (
	"encoding/json"

	"chama-wallet-service/internal/models"

	"gorm.io/gorm"
)

type HelperService struct {
	DB *gorm.DB
}

func NewHelperService(db *gorm.DB) *HelperService {
	return &HelperService{DB: db}
}

// CreditWallet increments a user's balance by amount as a single
// atomic statement. Every deposit credit goes through here.
func (s *HelperService) CreditWallet(tx *gorm.DB, userId int, amount float64) error {
	return tx.Model(&models.Wallet{}).
		Where("user_id = ?", userId).
		UpdateColumn("balance", gorm.Expr("balance + ?", amount)).Error
}

// CreditContribution increments a chama member's contributed total and
// the owning group's collected total, each as an atomic increment.
func (s *HelperService) CreditContribution(tx *gorm.DB, memberId, groupId uint, amount float64) error {
	if err := tx.Model(&models.ChamaMember{}).
		Where("id = ?", memberId).
		UpdateColumn("total_contributed", gorm.Expr("total_contributed + ?", amount)).Error; err != nil {
		return err
	}
	return tx.Model(&models.ChamaGroup{}).
		Where("id = ?", groupId).
		UpdateColumn("total_collected", gorm.Expr("total_collected + ?", amount)).Error
}

// LogCallback records a gateway response handled during dispatch or
// reconciliation. Failures are swallowed: the audit trail must never
// break the payment path.
func (s *HelperService) LogCallback(requestType, request, trxId, gateName string, status int, response interface{}) {
	respBytes, _ := json.Marshal(response)
	entry := models.CallbackLog{
		Request:       request,
		Response:      string(respBytes),
		Status:        status,
		RequestType:   requestType,
		TransactionId: trxId,
		GateName:      gateName,
	}
	s.DB.Create(&entry)
}
