package entity

import "time"

const (
	CreditTypeSignupBonus = "signup_bonus"
	CreditTypeGeneration  = "generation"
	CreditTypePurchase    = "purchase"
)

// DbCredit is a ledger entry; the balance is the sum of amounts per user.
type DbCredit struct {
	ID          uint      `gorm:"primarykey" json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UserID      uint      `gorm:"column:user_id;index;not null" json:"user_id"`
	Type        string    `gorm:"column:type;type:varchar(64);not null" json:"type"`
	Amount      int       `gorm:"column:amount;not null" json:"amount"`
	Description string    `gorm:"column:description;type:varchar(255)" json:"description"`
}

// TableName 指定表名
func (DbCredit) TableName() string {
	return "credits"
}
