package models

import "time"

const (
	LedgerEntryDebit   = "debit"
	LedgerEntryRestore = "restore"
)

// CreditLedgerEntry is append-only. IdempotencyKey is unique so a replayed
// write cannot land twice.
type CreditLedgerEntry struct {
	ID             string    `gorm:"column:id;type:uuid;primaryKey" json:"id"`
	UserID         string    `gorm:"column:user_id;type:uuid;index" json:"user_id"`
	Amount         int       `gorm:"column:amount" json:"amount"`
	EntryType      string    `gorm:"column:entry_type;type:text" json:"entry_type"`
	Reason         string    `gorm:"column:reason;type:text" json:"reason"`
	ReferenceType  string    `gorm:"column:reference_type;type:text" json:"reference_type"`
	ReferenceID    string    `gorm:"column:reference_id;type:text;index" json:"reference_id"`
	IdempotencyKey string    `gorm:"column:idempotency_key;type:text;uniqueIndex" json:"idempotency_key"`
	CreatedAt      time.Time `gorm:"column:created_at;type:timestamptz" json:"created_at"`
}

func (CreditLedgerEntry) TableName() string { return "credit_ledger" }

type UserCredits struct {
	UserID    string    `gorm:"column:user_id;type:uuid;primaryKey" json:"user_id"`
	Balance   int       `gorm:"column:balance" json:"balance"`
	UpdatedAt time.Time `gorm:"column:updated_at;type:timestamptz" json:"updated_at"`
}

func (UserCredits) TableName() string { return "user_credits" }
