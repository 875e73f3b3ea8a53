package promote

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/blwatch/blwatch/pkg/types"
)

const mirrorCollection = "blacklisted_tasks"

// Mirror keeps a document-store copy of the promoted rows for consumers
// that read Mongo instead of Postgres.
type Mirror struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMirror connects to the document store at url and targets the
// blacklisted_tasks collection of dbName.
func NewMirror(ctx context.Context, url, dbName string) (*Mirror, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(url))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to document store: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping document store: %w", err)
	}
	return &Mirror{
		client: client,
		coll:   client.Database(dbName).Collection(mirrorCollection),
	}, nil
}

// Upsert writes each task keyed by (ip, dns, check_date).
func (m *Mirror) Upsert(ctx context.Context, tasks []types.Task) error {
	now := time.Now().UTC()
	for _, t := range tasks {
		filter := bson.M{
			"ip_address": t.IPAddress,
			"dns":        t.DNS,
			"check_date": t.CheckDate,
		}
		update := bson.M{"$set": bson.M{
			"ip_address":   t.IPAddress,
			"dns":          t.DNS,
			"status":       t.Status,
			"result":       t.Result,
			"details":      t.Details,
			"check_date":   t.CheckDate,
			"last_updated": now,
		}}
		_, err := m.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
		if err != nil {
			return fmt.Errorf("failed to mirror task %s/%s: %w", t.IPAddress, t.DNS, err)
		}
	}
	return nil
}

// Close disconnects from the document store.
func (m *Mirror) Close(ctx context.Context) error {
	return m.client.Disconnect(ctx)
}
