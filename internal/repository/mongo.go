package repository

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/MarcDasilva/MyClientData/internal/config"
	"github.com/MarcDasilva/MyClientData/internal/face"
	"github.com/MarcDasilva/MyClientData/internal/logging"
	"github.com/MarcDasilva/MyClientData/internal/retry"
)

type mongoFace struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Name      string             `bson:"name"`
	Info      string             `bson:"info"`
	Embedding []float32          `bson:"embedding"`
	ImageName string             `bson:"imageName"`
	CreatedAt time.Time          `bson:"createdAt"`
}

// MongoStore keeps face records as documents, embedding as a numeric array.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *zap.Logger
	policy retry.Policy
}

// OpenMongo connects to cfg.URI and verifies the server is reachable.
func OpenMongo(ctx context.Context, cfg config.MongoConfig, logger *zap.Logger) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("connect to mongo: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongo ping: %w", err)
	}
	logger.Info("connected to mongo", zap.String("database", cfg.Database), zap.String("collection", cfg.Collection))
	return NewMongoStore(client, client.Database(cfg.Database).Collection(cfg.Collection), logger), nil
}

// NewMongoStore wraps an existing collection.
func NewMongoStore(client *mongo.Client, coll *mongo.Collection, logger *zap.Logger) *MongoStore {
	return &MongoStore{client: client, coll: coll, logger: logger.Named("mongo_store"), policy: retry.DefaultPolicy}
}

func (s *MongoStore) Insert(ctx context.Context, rec *face.Record) error {
	if err := prepare(rec); err != nil {
		return err
	}
	doc := mongoFace{
		ID:        primitive.NewObjectID(),
		Name:      rec.Name,
		Info:      rec.Info,
		Embedding: rec.Embedding,
		ImageName: rec.ImageName,
		CreatedAt: rec.CreatedAt,
	}
	err := retry.Do(ctx, s.policy, s.logger, "mongo.insert", logging.RequestIDFromContext(ctx), func() error {
		_, err := s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			// a retried insert that already landed
			return nil
		}
		return err
	})
	if err != nil {
		return err
	}
	rec.ID = doc.ID.Hex()
	return nil
}

func (s *MongoStore) All(ctx context.Context) ([]face.Record, error) {
	var docs []mongoFace
	err := retry.Do(ctx, s.policy, s.logger, "mongo.all", logging.RequestIDFromContext(ctx), func() error {
		cursor, err := s.coll.Find(ctx, bson.D{})
		if err != nil {
			return err
		}
		docs = docs[:0]
		return cursor.All(ctx, &docs)
	})
	if err != nil {
		return nil, err
	}

	out := make([]face.Record, 0, len(docs))
	for _, d := range docs {
		out = append(out, face.Record{
			ID:        d.ID.Hex(),
			Name:      d.Name,
			Info:      d.Info,
			Embedding: face.Embedding(d.Embedding),
			ImageName: d.ImageName,
			CreatedAt: d.CreatedAt,
		})
	}
	return out, nil
}

func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
