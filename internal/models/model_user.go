package models

import "time"

// User is created on first authentication. CreditBalance is the point
// currency and is only mutated through the credit ledger.
type User struct {
	ID            string    `gorm:"column:id;type:varchar(64);primary_key" json:"id"`
	Email         string    `gorm:"column:email;type:varchar(255);not null;index:idx_user_email" json:"email"`
	IsAdmin       bool      `gorm:"column:is_admin;not null;default:false" json:"is_admin"`
	CreditBalance int64     `gorm:"column:credit_balance;type:bigint;not null;default:0;check:credit_balance >= 0" json:"credit_balance"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (User) TableName() string {
	return "users"
}
