package audit

import (
	"context" // Context propagation
	"errors"  // Error inspection
	"time"    // Timestamps

	"go.mongodb.org/mongo-driver/bson"           // BSON filters
	"go.mongodb.org/mongo-driver/mongo"          // MongoDB client
	"go.mongodb.org/mongo-driver/mongo/options"  // Client and index options
	"go.mongodb.org/mongo-driver/mongo/readpref" // Ping read preference
)

const collectionName = "attribution_audit"

// MongoSink stores entries in a MongoDB collection keyed by event_key
type MongoSink struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// NewMongoSink connects, pings and ensures the unique event_key index
func NewMongoSink(ctx context.Context, uri, dbName string) (*MongoSink, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	coll := client.Database(dbName).Collection(collectionName)
	_, err = coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "event_key", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return &MongoSink{client: client, coll: coll}, nil
}

// Record upserts the entry; a replayed event overwrites nothing new
func (s *MongoSink) Record(ctx context.Context, e Entry) error {
	_, err := s.coll.ReplaceOne(ctx, bson.M{"event_key": e.EventKey}, e, options.Replace().SetUpsert(true))
	return err
}

// Find loads the entry for an event
func (s *MongoSink) Find(ctx context.Context, eventKey string) (*Entry, error) {
	var e Entry
	err := s.coll.FindOne(ctx, bson.M{"event_key": eventKey}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Close disconnects the client
func (s *MongoSink) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
