package models

import (
	"time"
)

// StkRequest is one member's payment request within a collection
// cycle. Same lifecycle as Transaction, owned by a cycle instead of a
// user deposit.
type StkRequest struct {
	ID                 uint          `gorm:"primaryKey;autoIncrement" json:"id"`
	CycleId            uint          `gorm:"column:cycle_id;not null;index:idx_stk_cycle" json:"cycle_id"`
	MemberId           uint          `gorm:"column:member_id;not null;index:idx_stk_cycle" json:"member_id"`
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

func (StkRequest) TableName() string {
	return "stk_requests"
}
