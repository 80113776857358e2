package services

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/internal/models"
	pgrepo "github.com/yoockh/mockcall/internal/repositories/postgres"
	"github.com/yoockh/mockcall/internal/utils"
)

const ReferenceTypeCall = "call"

// RestoreKey is the idempotency key for the early-termination refund of a
// call. It is derived from the call id alone so any retry maps to it.
func RestoreKey(callID string) string {
	return "congruency-restore:" + callID
}

type CreditService interface {
	// Restore credits amount back to the user. A second call with the same
	// idempotency key is a no-op and returns utils.ErrAlreadyApplied.
	Restore(ctx context.Context, userID string, amount int, reason, referenceType, referenceID, idempotencyKey string) (*models.CreditLedgerEntry, error)
	Balance(ctx context.Context, userID string) (int, error)
}

type creditService struct {
	credits pgrepo.CreditRepo
	log     logrus.FieldLogger
	now     func() time.Time
}

func NewCreditService(credits pgrepo.CreditRepo, log logrus.FieldLogger) CreditService {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &creditService{credits: credits, log: log, now: time.Now}
}

func (s *creditService) Restore(ctx context.Context, userID string, amount int, reason, referenceType, referenceID, idempotencyKey string) (*models.CreditLedgerEntry, error) {
	const op = "CreditService.Restore"

	if strings.TrimSpace(userID) == "" || strings.TrimSpace(idempotencyKey) == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "user_id and idempotency_key are required", nil)
	}
	if amount <= 0 {
		return nil, utils.E(utils.CodeInvalidArgument, op, "amount must be positive", nil)
	}

	entry := &models.CreditLedgerEntry{
		ID:             uuid.NewString(),
		UserID:         userID,
		Amount:         amount,
		EntryType:      models.LedgerEntryRestore,
		Reason:         reason,
		ReferenceType:  referenceType,
		ReferenceID:    referenceID,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      s.now().UTC(),
	}

	applied, err := s.credits.ApplyEntry(ctx, entry)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "failed to write ledger entry", err)
	}
	log := s.log.WithFields(logrus.Fields{
		"user_id":         userID,
		"reference_id":    referenceID,
		"idempotency_key": idempotencyKey,
	})
	if !applied {
		log.Info("credit restore already applied")
		return nil, utils.E(utils.CodeConflict, op, "restore already applied", utils.ErrAlreadyApplied)
	}
	log.WithField("amount", amount).Info("credit restored")
	return entry, nil
}

func (s *creditService) Balance(ctx context.Context, userID string) (int, error) {
	const op = "CreditService.Balance"
	if userID == "" {
		return 0, utils.E(utils.CodeInvalidArgument, op, "user_id is required", nil)
	}
	n, err := s.credits.Balance(ctx, userID)
	if err != nil {
		return 0, utils.E(utils.CodeInternal, op, "failed to read balance", err)
	}
	return n, nil
}
