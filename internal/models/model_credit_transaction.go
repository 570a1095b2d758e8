package models

import (
	"time"

	"github.com/fatflowers/clipmeter/pkg/types"

	"gorm.io/datatypes"
)

// CreditTransaction is an immutable ledger row. Amount is signed: positive
// credits, negative debits. ReferenceID ties a row to the business object that
// caused it (video id, checkout session id, ...) and is unique per kind.
type CreditTransaction struct {
	ID           string           `gorm:"column:id;type:uuid;primary_key;index:idx_credit_tx_user_id_id,priority:2,sort:desc" json:"id"`
	UserID       string           `gorm:"column:user_id;type:varchar(64);not null;index:idx_credit_tx_user_id_id,priority:1" json:"user_id"`
	Amount       int64            `gorm:"column:amount;type:bigint;not null" json:"amount"`
	Kind         types.CreditKind `gorm:"column:kind;type:varchar(32);not null;uniqueIndex:uniq_credit_tx_kind_ref,priority:1" json:"kind"`
	Description  string           `gorm:"column:description;type:text" json:"description"`
	BalanceAfter int64            `gorm:"column:balance_after;type:bigint;not null" json:"balance_after"`
	// ReferenceID is nullable; NULLs never collide in the unique index.
	ReferenceID *string           `gorm:"column:reference_id;type:varchar(128);default:null;uniqueIndex:uniq_credit_tx_kind_ref,priority:2" json:"reference_id,omitempty"`
	Extra       datatypes.JSONMap `gorm:"column:extra;type:jsonb;default:'{}'" json:"extra"`
	CreatedAt   time.Time         `gorm:"index" json:"created_at"`
}

func (CreditTransaction) TableName() string {
	return "credit_transactions"
}
