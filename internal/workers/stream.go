package workers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const payloadField = "payload"

const (
	DefaultMinIdle = 30 * time.Second
	// DefaultRetryBudget is how long a handler retries one delivery. It
	// stays under DefaultMinIdle so a message is not reclaimed mid-retry.
	DefaultRetryBudget = 20 * time.Second
)

func retryBudget(d time.Duration) time.Duration {
	if d <= 0 {
		return DefaultRetryBudget
	}
	return d
}

// Handler processes one stream message. A nil return acks it; an error
// leaves it pending so it is reclaimed and retried after MinIdle.
type Handler func(ctx context.Context, msg redis.XMessage) error

// StreamPool runs NumWorkers consumers of one Redis Streams consumer group.
type StreamPool struct {
	Redis      redis.UniversalClient
	Handler    Handler
	NumWorkers int
	Logger     logrus.FieldLogger

	Stream         string
	Group          string
	ConsumerPrefix string
	// MinIdle is how long a failed message stays pending before another
	// consumer claims it.
	MinIdle time.Duration
	// MaxDeliveries drops a message after this many failed attempts.
	MaxDeliveries int64

	wg sync.WaitGroup
}

func (p *StreamPool) Start(ctx context.Context) error {
	if p.Redis == nil || p.Handler == nil || p.Stream == "" || p.Group == "" {
		return errors.New("StreamPool missing dependency: Redis/Handler/Stream/Group must be set")
	}
	if p.ConsumerPrefix == "" {
		// consumer names must be unique across replicas sharing the group
		host, _ := os.Hostname()
		if host == "" {
			host = "consumer"
		}
		p.ConsumerPrefix = host
	}
	if p.NumWorkers <= 0 {
		p.NumWorkers = 2
	}
	if p.Logger == nil {
		p.Logger = logrus.StandardLogger()
	}
	if p.MinIdle <= 0 {
		p.MinIdle = DefaultMinIdle
	}
	if p.MaxDeliveries <= 0 {
		p.MaxDeliveries = 10
	}
	p.Logger = p.Logger.WithFields(logrus.Fields{"stream": p.Stream, "group": p.Group})

	err := p.Redis.XGroupCreateMkStream(ctx, p.Stream, p.Group, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group: %w", err)
	}

	for i := 0; i < p.NumWorkers; i++ {
		consumer := p.ConsumerPrefix + "-" + strconv.Itoa(i+1)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.runConsumer(ctx, consumer)
		}()
	}
	return nil
}

// Wait blocks until every consumer has returned after ctx is done.
func (p *StreamPool) Wait() { p.wg.Wait() }

func (p *StreamPool) runConsumer(ctx context.Context, consumer string) {
	log := p.Logger.WithField("consumer", consumer)
	reclaimAt := time.Now().Add(p.MinIdle)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if time.Now().After(reclaimAt) {
			p.reclaim(ctx, consumer, log)
			reclaimAt = time.Now().Add(p.MinIdle)
		}

		res, err := p.Redis.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    p.Group,
			Consumer: consumer,
			Streams:  []string{p.Stream, ">"},
			Count:    10,
			Block:    5 * time.Second,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || ctx.Err() != nil {
				continue
			}
			log.WithError(err).Warn("stream read failed")
			time.Sleep(500 * time.Millisecond)
			continue
		}

		for _, stream := range res {
			for _, msg := range stream.Messages {
				p.process(ctx, msg, log)
			}
		}
	}
}

// reclaim takes over messages that failed or whose consumer died.
func (p *StreamPool) reclaim(ctx context.Context, consumer string, log logrus.FieldLogger) {
	pending, err := p.Redis.XPendingExt(ctx, &redis.XPendingExtArgs{
		Stream: p.Stream,
		Group:  p.Group,
		Idle:   p.MinIdle,
		Start:  "-",
		End:    "+",
		Count:  50,
	}).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			log.WithError(err).Warn("pending scan failed")
		}
		return
	}

	var retry []string
	for _, pe := range pending {
		if pe.RetryCount >= p.MaxDeliveries {
			log.WithFields(logrus.Fields{"redis_id": pe.ID, "deliveries": pe.RetryCount}).Error("dropping message after repeated failures")
			_ = p.Redis.XAck(ctx, p.Stream, p.Group, pe.ID).Err()
			continue
		}
		retry = append(retry, pe.ID)
	}
	if len(retry) == 0 {
		return
	}

	msgs, err := p.Redis.XClaim(ctx, &redis.XClaimArgs{
		Stream:   p.Stream,
		Group:    p.Group,
		Consumer: consumer,
		MinIdle:  p.MinIdle,
		Messages: retry,
	}).Result()
	if err != nil {
		log.WithError(err).Warn("claim failed")
		return
	}
	for _, msg := range msgs {
		p.process(ctx, msg, log)
	}
}

func (p *StreamPool) process(ctx context.Context, msg redis.XMessage, log logrus.FieldLogger) {
	log = log.WithField("redis_id", msg.ID)
	if err := p.safeHandle(ctx, msg); err != nil {
		log.WithError(err).Warn("message handling failed, leaving pending")
		return
	}
	if err := p.Redis.XAck(ctx, p.Stream, p.Group, msg.ID).Err(); err != nil {
		log.WithError(err).Warn("ack failed")
	}
}

func (p *StreamPool) safeHandle(ctx context.Context, msg redis.XMessage) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.Logger.WithField("stack", string(debug.Stack())).Errorf("handler panic: %v", r)
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return p.Handler(ctx, msg)
}

// Publish appends v as a JSON payload to stream.
func Publish(ctx context.Context, rdb redis.Cmdable, stream string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]any{payloadField: string(b)},
	}).Result()
}

// DecodePayload is the inverse of Publish.
func DecodePayload(msg redis.XMessage, dst any) error {
	v, ok := msg.Values[payloadField]
	if !ok || v == nil {
		return errors.New("message has no payload")
	}
	s, ok := v.(string)
	if !ok {
		return fmt.Errorf("payload is %T, want string", v)
	}
	return json.Unmarshal([]byte(s), dst)
}
