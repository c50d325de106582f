package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"

	"secret.letters/internal/models"
)

var _ Store = (*MongoStore)(nil)

type MongoOptions struct {
	URI            string
	Database       string
	Collection     string
	ConnectTimeout time.Duration
}

// MongoStore keeps letters in a single collection with a unique index on
// secretCode and a TTL index on expires.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

func NewMongoStore(opts MongoOptions) (*MongoStore, error) {
	timeout := opts.ConnectTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	client, err := mongo.Connect(options.Client().
		ApplyURI(opts.URI).
		SetServerSelectionTimeout(timeout))
	if err != nil {
		return nil, fmt.Errorf("connecting to mongo: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("pinging mongo: %w", err)
	}

	s := &MongoStore{
		client: client,
		coll:   client.Database(opts.Database).Collection(opts.Collection),
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	return s, nil
}

func (m *MongoStore) ensureIndexes(ctx context.Context) error {
	_, err := m.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "secretCode", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("secretCode_unique"),
		},
		{
			Keys:    bson.D{{Key: "expires", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(0).SetName("expires_ttl"),
		},
	})
	if err != nil {
		return fmt.Errorf("creating indexes: %w", err)
	}
	return nil
}

func (m *MongoStore) Create(ctx context.Context, letter *models.Letter) error {
	_, err := m.coll.InsertOne(ctx, letter)
	if err == nil {
		return nil
	}
	if !mongo.IsDuplicateKeyError(err) {
		return err
	}

	// The code may be held by a dead letter the TTL monitor has not reaped yet.
	res, err := m.coll.DeleteOne(ctx, bson.D{
		{Key: "secretCode", Value: letter.SecretCode},
		{Key: "expires", Value: bson.D{{Key: "$lt", Value: letter.Sent}}},
	})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrConflict
	}

	if _, err := m.coll.InsertOne(ctx, letter); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return ErrConflict
		}
		return err
	}
	return nil
}

func (m *MongoStore) Get(ctx context.Context, code string) (*models.Letter, error) {
	var letter models.Letter
	err := m.coll.FindOne(ctx, bson.D{{Key: "secretCode", Value: code}}).Decode(&letter)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &letter, nil
}

func (m *MongoStore) DeleteIfExpired(ctx context.Context, code string, now time.Time) (bool, error) {
	res, err := m.coll.DeleteOne(ctx, bson.D{
		{Key: "secretCode", Value: code},
		{Key: "expires", Value: bson.D{{Key: "$lt", Value: now}}},
	})
	if err != nil {
		return false, err
	}
	return res.DeletedCount == 1, nil
}

func (m *MongoStore) AddReply(ctx context.Context, code string, reply models.Reply, now time.Time) error {
	filter := bson.D{
		{Key: "secretCode", Value: code},
		{Key: "hasReply", Value: false},
		{Key: "expires", Value: bson.D{{Key: "$gte", Value: now}}},
	}
	update := bson.D{{Key: "$set", Value: bson.D{
		{Key: "hasReply", Value: true},
		{Key: "reply", Value: reply},
	}}}

	res, err := m.coll.UpdateOne(ctx, filter, update)
	if err != nil {
		return err
	}
	if res.MatchedCount == 1 {
		return nil
	}

	// Work out which condition failed.
	letter, err := m.Get(ctx, code)
	if err != nil {
		return err
	}
	if letter.Expired(now) {
		return ErrExpired
	}
	return ErrAlreadyReplied
}

func (m *MongoStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := m.coll.DeleteMany(ctx, bson.D{
		{Key: "expires", Value: bson.D{{Key: "$lt", Value: now}}},
	})
	if err != nil {
		return 0, err
	}
	return res.DeletedCount, nil
}

func (m *MongoStore) Ping(ctx context.Context) error {
	return m.client.Ping(ctx, readpref.Primary())
}

func (m *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return m.client.Disconnect(ctx)
}
