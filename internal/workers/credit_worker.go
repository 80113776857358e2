package workers

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/yoockh/mockcall/internal/services"
	"github.com/yoockh/mockcall/internal/session"
	"github.com/yoockh/mockcall/internal/utils"
)

const DefaultCreditRestoreStream = "credits:restore"

// CreditRestoreQueue hands restorations from live calls to the background
// pool. It satisfies session.CreditRestorer.
type CreditRestoreQueue struct {
	Redis  redis.Cmdable
	Stream string
}

func (q *CreditRestoreQueue) ScheduleRestore(ctx context.Context, req session.RestoreRequest) error {
	stream := q.Stream
	if stream == "" {
		stream = DefaultCreditRestoreStream
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = 3 * time.Second
	return backoff.Retry(func() error {
		_, err := Publish(ctx, q.Redis, stream, req)
		return err
	}, backoff.WithContext(bo, ctx))
}

type CreditRestoreHandler struct {
	Credits services.CreditService
	Logger  logrus.FieldLogger
	// MaxElapsed bounds the retries of one delivery. Keep it under the
	// pool's MinIdle or the message is reclaimed while still retrying.
	MaxElapsed time.Duration
}

func (h *CreditRestoreHandler) Handle(ctx context.Context, msg redis.XMessage) error {
	log := h.logger().WithField("redis_id", msg.ID)

	var req session.RestoreRequest
	if err := DecodePayload(msg, &req); err != nil {
		log.WithError(err).Error("dropping undecodable restore request")
		return nil
	}
	if req.Amount <= 0 {
		req.Amount = 1
	}
	log = log.WithFields(logrus.Fields{"call_id": req.CallID, "user_id": req.UserID})

	op := func() error {
		_, err := h.Credits.Restore(ctx, req.UserID, req.Amount, req.Reason,
			services.ReferenceTypeCall, req.CallID, services.RestoreKey(req.CallID))
		switch {
		case err == nil, errors.Is(err, utils.ErrAlreadyApplied):
			return nil
		case utils.IsCode(err, utils.CodeInvalidArgument):
			return backoff.Permanent(err)
		default:
			return err
		}
	}

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = retryBudget(h.MaxElapsed)
	err := backoff.Retry(op, backoff.WithContext(bo, ctx))
	if utils.IsCode(err, utils.CodeInvalidArgument) {
		log.WithError(err).Error("dropping invalid restore request")
		return nil
	}
	return err
}

func (h *CreditRestoreHandler) logger() logrus.FieldLogger {
	if h.Logger == nil {
		return logrus.StandardLogger()
	}
	return h.Logger
}
