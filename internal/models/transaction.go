package models

import (
	"time"
)

// Transaction is a single deposit awaiting confirmation from the
// payment gateway. AccountNumber is the correlation key handed to the
// gateway at dispatch time; it may change if the push is re-sent.
type Transaction struct {
	ID                 uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	UserId             int           `gorm:"column:user_id;not null;index:idx_trx_user" json:"user_id"`
	Username           string        `gorm:"column:username;size:255" json:"username"`
	TransactionNo      string        `gorm:"column:transaction_no;size:255;not null;index" json:"transaction_no"`
	AccountNumber      string        `gorm:"column:account_number;size:255;index" json:"account_number"`
	CheckoutRequestId  string        `gorm:"column:checkout_request_id;size:255" json:"checkout_request_id"`
	Amount             float64       `gorm:"column:amount;type:decimal(20,2);not null" json:"amount"`
	PhoneNumber        string        `gorm:"column:phone_number;size:20;not null" json:"phone_number"`
	GateName           string        `gorm:"column:gate_name;size:100" json:"gate_name"`
	Status             PaymentStatus `gorm:"column:status;size:20;default:pending;index" json:"status"`
	AttemptCount       int           `gorm:"column:attempt_count;default:1" json:"attempt_count"`
	LastAttemptAt      time.Time     `gorm:"column:last_attempt_at" json:"last_attempt_at"`
	ErrorMessage       string        `gorm:"column:error_message;type:text" json:"error_message"`
	MpesaReceiptNumber string        `gorm:"column:mpesa_receipt_number;size:100" json:"mpesa_receipt_number"`
	CreatedAt          time.Time     `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time     `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Transaction) TableName() string {
	return "transactions"
}
