package models

import (
	"time"
)

type Wallet struct {
	ID          int       `gorm:"primaryKey;autoIncrement" json:"id"`
	UserId      int       `gorm:"column:user_id;not null;uniqueIndex:idx_wallet_user" json:"user_id"`
	Username    string    `gorm:"column:username;size:255;not null" json:"username"`
	PhoneNumber string    `gorm:"column:phone_number;size:20;index" json:"phone_number"`
	Balance     float64   `gorm:"column:balance;type:decimal(20,2);default:0.00" json:"balance"`
	Currency    string    `gorm:"column:currency;size:10;not null;default:KES" json:"currency"`
	Status      int       `gorm:"column:status;default:1" json:"status"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Wallet) TableName() string {
	return "wallets"
}
