package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"clash_tracker/internal/adapters"
	"clash_tracker/internal/domain/user"
)

type sessionDocument struct {
	Slot      string       `bson:"_id"`
	Session   user.Session `bson:"session"`
	ExpiresAt time.Time    `bson:"expires_at"`
}

// MongoSessionStorage stores one document per browser slot in the
// clash_user collection.
type MongoSessionStorage struct {
	adapter *adapters.AdapterMongo
	ttl     time.Duration
	now     func() time.Time
}

func NewMongoSessionStorage(adapter *adapters.AdapterMongo, ttl time.Duration) *MongoSessionStorage {
	return &MongoSessionStorage{adapter: adapter, ttl: ttl, now: time.Now}
}

func (m *MongoSessionStorage) collection() *mongo.Collection {
	return m.adapter.Database.Collection(SessionKey)
}

// EnsureIndexes creates the TTL index that lets mongo drop expired sessions.
func (m *MongoSessionStorage) EnsureIndexes(ctx context.Context) error {
	_, err := m.collection().Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "expires_at", Value: 1}},
		Options: options.Index().SetExpireAfterSeconds(0),
	})
	if err != nil {
		return fmt.Errorf("repository.MongoSessionStorage.EnsureIndexes: %w", err)
	}
	return nil
}

func (m *MongoSessionStorage) Save(ctx context.Context, slot string, s user.Session) error {
	doc := sessionDocument{
		Slot:      slot,
		Session:   s,
		ExpiresAt: m.now().Add(m.ttl),
	}
	_, err := m.collection().ReplaceOne(ctx, bson.D{{Key: "_id", Value: slot}}, doc, options.Replace().SetUpsert(true))
	if err != nil {
		return fmt.Errorf("repository.MongoSessionStorage.Save: %w", err)
	}
	return nil
}

func (m *MongoSessionStorage) Load(ctx context.Context, slot string) (user.Session, bool, error) {
	var doc sessionDocument
	err := m.collection().FindOne(ctx, bson.D{{Key: "_id", Value: slot}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return user.Session{}, false, nil
		}
		return user.Session{}, false, fmt.Errorf("repository.MongoSessionStorage.Load: %w", err)
	}
	// the TTL monitor runs once a minute, so expired documents can linger
	if !m.now().Before(doc.ExpiresAt) {
		return user.Session{}, false, nil
	}
	return doc.Session, true, nil
}

func (m *MongoSessionStorage) Clear(ctx context.Context, slot string) error {
	if _, err := m.collection().DeleteOne(ctx, bson.D{{Key: "_id", Value: slot}}); err != nil {
		return fmt.Errorf("repository.MongoSessionStorage.Clear: %w", err)
	}
	return nil
}
