package models

import (
	"time"
)

// Group types. Fixed groups collect the same contribution from every
// member; fundraising groups collect each member's individual pledge.
const (
	GroupTypeFixed       = "fixed"
	GroupTypeFundraising = "fundraising"
)

// Member statuses.
const (
	MemberActive   = "active"
	MemberPending  = "pending"
	MemberInactive = "inactive"
)

type ChamaGroup struct {
	ID                   uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Name                 string    `gorm:"column:name;size:255;not null" json:"name"`
	AdminUserId          int       `gorm:"column:admin_user_id;not null;index" json:"admin_user_id"`
	GroupType            string    `gorm:"column:group_type;size:20;not null;default:fixed" json:"group_type"`
	ContributionAmount   float64   `gorm:"column:contribution_amount;type:decimal(20,2);default:0.00" json:"contribution_amount"`
	GateName             string    `gorm:"column:gate_name;size:100" json:"gate_name"`
	CurrentRotationIndex int       `gorm:"column:current_rotation_index;default:0" json:"current_rotation_index"`
	GracePeriodHours     int       `gorm:"column:grace_period_hours;default:24" json:"grace_period_hours"`
	TotalCollected       float64   `gorm:"column:total_collected;type:decimal(20,2);default:0.00" json:"total_collected"`
	CreatedAt            time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ChamaGroup) TableName() string {
	return "chama_groups"
}

type ChamaMember struct {
	ID               uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	GroupId          uint      `gorm:"column:group_id;not null;index:idx_member_group" json:"group_id"`
	UserId           int       `gorm:"column:user_id;not null;index:idx_member_group" json:"user_id"`
	Username         string    `gorm:"column:username;size:255" json:"username"`
	PhoneNumber      string    `gorm:"column:phone_number;size:20;not null" json:"phone_number"`
	Status           string    `gorm:"column:status;size:20;default:pending" json:"status"`
	RotationPosition int       `gorm:"column:rotation_position;default:0" json:"rotation_position"`
	PledgeAmount     float64   `gorm:"column:pledge_amount;type:decimal(20,2);default:0.00" json:"pledge_amount"`
	TotalContributed float64   `gorm:"column:total_contributed;type:decimal(20,2);default:0.00" json:"total_contributed"`
	CreatedAt        time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time `gorm:"column:updated_at;autoUpdateTime" json:"updated_at"`
}

func (ChamaMember) TableName() string {
	return "chama_members"
}

// Eligible reports whether the member takes part in collections.
func (m ChamaMember) Eligible() bool {
	return m.Status == MemberActive || m.Status == MemberPending
}
