package models

import (
	"time"
)

// CollectionCycle is one round of a rotating group collection. At most
// one cycle per group may be open (collecting or collected) at a time.
type CollectionCycle struct {
	ID                uint        `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupId           uint        `gorm:"column:group_id;not null;index" json:"group_id"`
	CycleNumber       int         `gorm:"column:cycle_number;not null" json:"cycle_number"`
	Status            CycleStatus `gorm:"column:status;size:20;default:collecting;index" json:"status"`
	RecipientMemberId uint        `gorm:"column:recipient_member_id;not null" json:"recipient_member_id"`
	ExpectedAmount    float64     `gorm:"column:expected_amount;type:decimal(20,2);default:0.00" json:"expected_amount"`
	CollectedAmount   float64     `gorm:"column:collected_amount;type:decimal(20,2);default:0.00" json:"collected_amount"`
	CollectionStart   time.Time   `gorm:"column:collection_start" json:"collection_start"`
	CollectionEnd     time.Time   `gorm:"column:collection_end" json:"collection_end"`
	MembersPending    int         `gorm:"column:members_pending;default:0" json:"members_pending"`
	MembersFailed     int         `gorm:"column:members_failed;default:0" json:"members_failed"`
	CreatedAt         time.Time   `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time   `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (CollectionCycle) TableName() string {
	return "collection_cycles"
}
