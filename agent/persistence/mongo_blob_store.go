package persistence

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

// mongoBlob is the document shape; the blob key is the _id.
type mongoBlob struct {
	Key       string    `bson:"_id"`
	Data      []byte    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoBlobStore is a MongoDB implementation of BlobStore.
type MongoBlobStore struct {
	client     *mongo.Client
	collection *mongo.Collection
	ownsClient bool
}

// NewMongoBlobStore connects to MongoDB and verifies the connection
func NewMongoBlobStore(config StoreConfig) (*MongoBlobStore, error) {
	mc := config.Mongo
	if mc.URI == "" {
		return nil, fmt.Errorf("%w: mongo uri is required", ErrInvalidInput)
	}
	if mc.Timeout <= 0 {
		mc.Timeout = 10 * time.Second
	}

	client, err := mongo.Connect(options.Client().ApplyURI(mc.URI).SetTimeout(mc.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	store := NewMongoBlobStoreWithCollection(client.Database(mc.Database).Collection(mc.Collection))
	store.ownsClient = true
	return store, nil
}

// NewMongoBlobStoreWithCollection uses an existing collection; Close leaves the client open.
func NewMongoBlobStoreWithCollection(coll *mongo.Collection) *MongoBlobStore {
	return &MongoBlobStore{client: coll.Database().Client(), collection: coll}
}

// Close disconnects the client when the store created it
func (s *MongoBlobStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the server is reachable
func (s *MongoBlobStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}

// Get returns the data field of the document with _id key
func (s *MongoBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	var doc mongoBlob
	err := s.collection.FindOne(ctx, bson.D{{Key: "_id", Value: key}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get blob: %w", err)
	}
	return doc.Data, nil
}

// Put upserts the document for key
func (s *MongoBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := validateKey(key); err != nil {
		return err
	}
	doc := mongoBlob{Key: key, Data: data, UpdatedAt: time.Now().UTC()}
	_, err := s.collection.ReplaceOne(ctx, bson.D{{Key: "_id", Value: key}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("failed to put blob: %w", err)
	}
	return nil
}

// Delete removes the document for key
func (s *MongoBlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.collection.DeleteOne(ctx, bson.D{{Key: "_id", Value: key}})
	return err
}

// List returns ids with prefix, sorted
func (s *MongoBlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	filter := bson.D{{Key: "_id", Value: bson.D{{Key: "$regex", Value: "^" + regexp.QuoteMeta(prefix)}}}}
	opts := options.Find().
		SetProjection(bson.D{{Key: "_id", Value: 1}}).
		SetSort(bson.D{{Key: "_id", Value: 1}})

	cursor, err := s.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer cursor.Close(ctx)

	keys := make([]string, 0)
	for cursor.Next(ctx) {
		var doc struct {
			Key string `bson:"_id"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, err
		}
		keys = append(keys, doc.Key)
	}
	return keys, cursor.Err()
}
