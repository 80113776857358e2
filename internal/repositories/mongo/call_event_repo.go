package mongo

import (
	"context"
	"time"

	"github.com/yoockh/mockcall/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const CallEventsCollection = "call_events"

type CallEventRepository interface {
	Insert(ctx context.Context, ev *models.CallEvent) error
	ListByCall(ctx context.Context, callID string, limit int64) ([]models.CallEvent, error)
}

type callEventRepo struct {
	col *mongo.Collection
}

func NewCallEventRepo(db *mongo.Database) CallEventRepository {
	return &callEventRepo{col: db.Collection(CallEventsCollection)}
}

func (r *callEventRepo) Insert(ctx context.Context, ev *models.CallEvent) error {
	if ev.ID.IsZero() {
		ev.ID = primitive.NewObjectID()
	}
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	_, err := r.col.InsertOne(ctx, ev)
	return err
}

func (r *callEventRepo) ListByCall(ctx context.Context, callID string, limit int64) ([]models.CallEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	cur, err := r.col.Find(ctx,
		bson.M{"call_id": callID},
		options.Find().SetSort(bson.D{{Key: "at", Value: 1}}).SetLimit(limit),
	)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.CallEvent
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
