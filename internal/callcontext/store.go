// Package callcontext holds the static per-call data registered before a
// call connects: resume, target job and preferred language.
package callcontext

import (
	"context"
	"strings"
	"time"

	"github.com/yoockh/mockcall/internal/cache"
	"github.com/yoockh/mockcall/internal/models"
	"github.com/yoockh/mockcall/internal/utils"
)

const namespace = "call:context"

type Store interface {
	Get(ctx context.Context, callID string) (*models.CallContext, error)
	Put(ctx context.Context, cc *models.CallContext) error
	Delete(ctx context.Context, callID string) error
}

type cachedStore struct {
	c   cache.Cache
	ttl time.Duration
	now func() time.Time
}

// New returns a Store over c. Entries expire after ttl, which is what purges
// calls that never connect.
func New(c cache.Cache, ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &cachedStore{c: c, ttl: ttl, now: time.Now}
}

func Key(callID string) string { return cache.Key(namespace, callID) }

func (s *cachedStore) Get(ctx context.Context, callID string) (*models.CallContext, error) {
	const op = "CallContextStore.Get"
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call id is required", nil)
	}

	var cc models.CallContext
	hit, err := s.c.GetJSON(ctx, Key(callID), &cc)
	if err != nil {
		return nil, utils.E(utils.CodeUnavailable, op, "call context lookup failed", err)
	}
	if !hit {
		return nil, utils.E(utils.CodeNotFound, op, "call context not found", utils.ErrNotFound)
	}
	if cc.CallID == "" {
		cc.CallID = callID
	}
	return &cc, nil
}

func (s *cachedStore) Put(ctx context.Context, cc *models.CallContext) error {
	const op = "CallContextStore.Put"
	if cc == nil || !cc.Valid() {
		return utils.E(utils.CodeInvalidArgument, op, "call_id, user_id and interview_id are required", nil)
	}
	if cc.RegisteredAt.IsZero() {
		cc.RegisteredAt = s.now().UTC()
	}
	if err := s.c.SetJSON(ctx, Key(cc.CallID), cc, s.ttl); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to store call context", err)
	}
	return nil
}

func (s *cachedStore) Delete(ctx context.Context, callID string) error {
	if err := s.c.Del(ctx, Key(callID)); err != nil {
		return utils.E(utils.CodeUnavailable, "CallContextStore.Delete", "failed to delete call context", err)
	}
	return nil
}
