package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoConfig contains connection settings for the MongoDB snapshot repository.
type MongoConfig struct {
	URI        string // e.g. mongodb://localhost:27017
	Database   string // e.g. autotile
	Collection string // e.g. layers
}

// MongoGridRepo implements GridRepo on MongoDB, one document per layer.
type MongoGridRepo struct {
	client     *mongo.Client
	collection *mongo.Collection
	ctxTimeout time.Duration
}

// NewMongoGridRepo establishes connection and returns repository.
func NewMongoGridRepo(cfg MongoConfig) (*MongoGridRepo, error) {
	if cfg.URI == "" {
		cfg.URI = "mongodb://localhost:27017"
	}
	if cfg.Database == "" {
		cfg.Database = "autotile"
	}
	if cfg.Collection == "" {
		cfg.Collection = "layers"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, err
	}
	// ping
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, err
	}

	repo := &MongoGridRepo{
		client:     client,
		collection: client.Database(cfg.Database).Collection(cfg.Collection),
		ctxTimeout: 5 * time.Second,
	}
	if err := repo.ensureIndexes(); err != nil {
		return nil, err
	}
	return repo, nil
}

func (m *MongoGridRepo) ensureIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	idx := mongo.IndexModel{
		Keys:    bson.D{{Key: "layer", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("layer_unique"),
	}
	_, err := m.collection.Indexes().CreateOne(ctx, idx)
	return err
}

// Save upserts the layer document.
func (m *MongoGridRepo) Save(ctx context.Context, snap *LayerSnapshot) error {
	if snap == nil || snap.Layer == "" {
		return fmt.Errorf("invalid snapshot: empty layer name")
	}
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	_, err := m.collection.ReplaceOne(ctx,
		bson.M{"layer": snap.Layer}, snap,
		options.Replace().SetUpsert(true))
	return err
}

// Load implements GridRepo.
func (m *MongoGridRepo) Load(ctx context.Context, layer string) (*LayerSnapshot, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	var snap LayerSnapshot
	err := m.collection.FindOne(ctx, bson.M{"layer": layer}).Decode(&snap)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &snap, true, nil
}

// Delete implements GridRepo.
func (m *MongoGridRepo) Delete(ctx context.Context, layer string) error {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	res, err := m.collection.DeleteOne(ctx, bson.M{"layer": layer})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("layer %s: %w", layer, ErrLayerNotFound)
	}
	return nil
}

// List returns layer names sorted ascending.
func (m *MongoGridRepo) List(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, m.ctxTimeout)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"layer": 1, "_id": 0}).
		SetSort(bson.D{{Key: "layer", Value: 1}})
	cur, err := m.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	layers := []string{}
	for cur.Next(ctx) {
		var doc struct {
			Layer string `bson:"layer"`
		}
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		layers = append(layers, doc.Layer)
	}
	return layers, cur.Err()
}

// Close disconnects the client.
func (m *MongoGridRepo) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), m.ctxTimeout)
	defer cancel()
	return m.client.Disconnect(ctx)
}
