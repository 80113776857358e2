package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/utils"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CreditRepo interface {
	// ApplyEntry appends the ledger row and moves the balance by its amount
	// in one transaction. applied is false when the idempotency key was
	// already used; nothing changes in that case.
	ApplyEntry(ctx context.Context, e *models.CreditLedgerEntry) (applied bool, err error)
	Balance(ctx context.Context, userID string) (int, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*models.CreditLedgerEntry, error)
}

type creditRepo struct {
	db *gorm.DB
}

func NewCreditRepo(db *gorm.DB) CreditRepo {
	return &creditRepo{db: db}
}

func (r *creditRepo) ApplyEntry(ctx context.Context, e *models.CreditLedgerEntry) (bool, error) {
	stamp(&e.CreatedAt)
	applied := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "idempotency_key"}},
			DoNothing: true,
		}).Create(e)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return nil
		}
		applied = true

		delta := e.Amount
		if e.EntryType == models.LedgerEntryDebit {
			delta = -delta
		}
		return tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"balance":    gorm.Expr("user_credits.balance + ?", delta),
				"updated_at": e.CreatedAt,
			}),
		}).Create(&models.UserCredits{
			UserID:    e.UserID,
			Balance:   delta,
			UpdatedAt: e.CreatedAt,
		}).Error
	})
	return applied, err
}

func (r *creditRepo) Balance(ctx context.Context, userID string) (int, error) {
	var row models.UserCredits
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return row.Balance, err
}

func (r *creditRepo) GetByIdempotencyKey(ctx context.Context, key string) (*models.CreditLedgerEntry, error) {
	var row models.CreditLedgerEntry
	err := r.db.WithContext(ctx).Where("idempotency_key = ?", key).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.ErrNotFound
	}
	return &row, err
}

// stamp fills server-side defaults the way every insert in this package does.
func stamp(t *time.Time) {
	if t.IsZero() {
		*t = time.Now().UTC()
	}
}
