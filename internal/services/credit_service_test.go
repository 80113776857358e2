package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/yoockh/mockcall/internal/logger"
	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/utils"
)

type memCreditRepo struct {
	mu       sync.Mutex
	ledger   []models.CreditLedgerEntry
	keys     map[string]bool
	balances map[string]int
	err      error
}

func newMemCreditRepo() *memCreditRepo {
	return &memCreditRepo{keys: map[string]bool{}, balances: map[string]int{}}
}

func (m *memCreditRepo) ApplyEntry(_ context.Context, e *models.CreditLedgerEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return false, m.err
	}
	if m.keys[e.IdempotencyKey] {
		return false, nil
	}
	m.keys[e.IdempotencyKey] = true
	m.ledger = append(m.ledger, *e)
	m.balances[e.UserID] += e.Amount
	return true, nil
}

func (m *memCreditRepo) Balance(_ context.Context, userID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[userID], nil
}

func (m *memCreditRepo) GetByIdempotencyKey(_ context.Context, key string) (*models.CreditLedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.ledger {
		if m.ledger[i].IdempotencyKey == key {
			return &m.ledger[i], nil
		}
	}
	return nil, utils.ErrNotFound
}

func TestCreditServiceRestore(t *testing.T) {
	ctx := context.Background()

	t.Run(`same call key restores once`, func(t *testing.T) {
		repo := newMemCreditRepo()
		svc := NewCreditService(repo, logger.Discard())

		entry, err := svc.Restore(ctx, "user_1", 1, "mismatch", ReferenceTypeCall, "call_9", RestoreKey("call_9"))
		require.NoError(t, err)
		require.Equal(t, "congruency-restore:call_9", entry.IdempotencyKey)
		require.Equal(t, models.LedgerEntryRestore, entry.EntryType)

		_, err = svc.Restore(ctx, "user_1", 1, "mismatch", ReferenceTypeCall, "call_9", RestoreKey("call_9"))
		require.ErrorIs(t, err, utils.ErrAlreadyApplied)
		require.True(t, utils.IsCode(err, utils.CodeConflict))

		require.Len(t, repo.ledger, 1)
		bal, err := svc.Balance(ctx, "user_1")
		require.NoError(t, err)
		require.Equal(t, 1, bal)
	})

	t.Run(`concurrent retries still land once`, func(t *testing.T) {
		repo := newMemCreditRepo()
		svc := NewCreditService(repo, logger.Discard())

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = svc.Restore(ctx, "user_2", 1, "mismatch", ReferenceTypeCall, "call_x", RestoreKey("call_x"))
			}()
		}
		wg.Wait()
		require.Len(t, repo.ledger, 1)
		require.Equal(t, 1, repo.balances["user_2"])
	})

	t.Run(`validation`, func(t *testing.T) {
		svc := NewCreditService(newMemCreditRepo(), logger.Discard())
		_, err := svc.Restore(ctx, "", 1, "r", ReferenceTypeCall, "c", "k")
		require.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
		_, err = svc.Restore(ctx, "u", 0, "r", ReferenceTypeCall, "c", "k")
		require.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
		_, err = svc.Restore(ctx, "u", 1, "r", ReferenceTypeCall, "c", " ")
		require.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
	})

	t.Run(`store failure is retryable`, func(t *testing.T) {
		repo := newMemCreditRepo()
		repo.err = errors.New("connection reset")
		svc := NewCreditService(repo, logger.Discard())
		_, err := svc.Restore(ctx, "u", 1, "r", ReferenceTypeCall, "c", RestoreKey("c"))
		require.True(t, utils.IsCode(err, utils.CodeUnavailable))
	})
}
