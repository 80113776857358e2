package config

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongorepo "github.com/yoockh/mockcall/internal/repositories/mongo"
)

func EnsureMongoIndexes(db *mongo.Database) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	events := db.Collection(mongorepo.CallEventsCollection)
	_, err := events.Indexes().CreateMany(ctx, []mongo.IndexModel{
		// expires_at must be a Date for the TTL monitor to act on it
		{
			Keys: bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().
				SetName("ttl_expires_at").
				SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "call_id", Value: 1}, {Key: "at", Value: 1}},
			Options: options.Index().SetName("by_call_at"),
		},
		{
			Keys:    bson.D{{Key: "interview_id", Value: 1}, {Key: "at", Value: -1}},
			Options: options.Index().SetName("by_interview_at"),
		},
	})
	return err
}
