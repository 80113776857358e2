package services

import (
	"context"
	"time"

	"github.com/yoockh/mockcall/internal/models"
	mongorepo "github.com/yoockh/mockcall/internal/repositories/mongo"
	"github.com/yoockh/mockcall/internal/utils"
)

type CallEventService interface {
	Record(ctx context.Context, ev *models.CallEvent) error
	List(ctx context.Context, callID string) ([]models.CallEvent, error)
}

type callEventService struct {
	events mongorepo.CallEventRepository
	ttl    time.Duration
}

func NewCallEventService(events mongorepo.CallEventRepository, ttl time.Duration) CallEventService {
	if ttl <= 0 {
		ttl = 30 * 24 * time.Hour
	}
	return &callEventService{events: events, ttl: ttl}
}

func (s *callEventService) Record(ctx context.Context, ev *models.CallEvent) error {
	const op = "CallEventService.Record"

	if ev == nil || ev.CallID == "" || ev.Type == "" {
		return utils.E(utils.CodeInvalidArgument, op, "call_id and type are required", nil)
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	ev.ExpiresAt = ev.At.Add(s.ttl)

	if err := s.events.Insert(ctx, ev); err != nil {
		return utils.E(utils.CodeInternal, op, "failed to insert call event", err)
	}
	return nil
}

func (s *callEventService) List(ctx context.Context, callID string) ([]models.CallEvent, error) {
	const op = "CallEventService.List"
	if callID == "" {
		return nil, utils.E(utils.CodeInvalidArgument, op, "call_id is required", nil)
	}
	out, err := s.events.ListByCall(ctx, callID, 0)
	if err != nil {
		return nil, utils.E(utils.CodeInternal, op, "failed to list call events", err)
	}
	return out, nil
}
