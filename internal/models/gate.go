package models

import (
	"time"
)

// Gate is a named merchant channel at the payment gateway that funds
// are collected into.
type Gate struct {
	ID         int       `gorm:"primaryKey;autoIncrement" json:"id"`
	GateName   string    `gorm:"column:gate_name;size:100;not null;uniqueIndex" json:"gate_name"`
	PocketName string    `gorm:"column:pocket_name;size:100" json:"pocket_name"`
	BaseUrl    string    `gorm:"column:base_url;size:150" json:"base_url"`
	ApiKey     string    `gorm:"column:api_key;type:longtext" json:"api_key"`
	Status     int       `gorm:"column:status;default:1" json:"status"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (Gate) TableName() string {
	return "gates"
}
