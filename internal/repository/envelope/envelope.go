package envelope

import (
	"context"

	"emcipher/internal/codec"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type (
	// EnvelopeRepo stores pending wire envelopes in mongo. Documents get
	// the driver's ObjectID _id, which is what insertion-order listing
	// sorts on.
	EnvelopeRepo struct {
		collection *mongo.Collection
	}
)

func NewEnvelopeRepo(db *mongo.Database) *EnvelopeRepo {
	return &EnvelopeRepo{
		collection: db.Collection("envelopes"),
	}
}

func (r *EnvelopeRepo) Insert(ctx context.Context, w *codec.WireEnvelope) error {
	_, err := r.collection.InsertOne(ctx, w)
	return err
}

func (r *EnvelopeRepo) ListByConv(ctx context.Context, convID string) ([]*codec.WireEnvelope, error) {
	filter := bson.M{
		"conv_id": convID,
	}

	cursor, err := r.collection.Find(ctx, filter, options.Find().SetSort(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var envs []*codec.WireEnvelope
	for cursor.Next(ctx) {
		var w codec.WireEnvelope
		if err := cursor.Decode(&w); err != nil {
			return nil, err
		}
		envs = append(envs, &w)
	}
	return envs, cursor.Err()
}

// DeleteOne removes the oldest document matching conv_id+msg_id and reports
// whether one existed. The find-and-delete is a single atomic operation.
func (r *EnvelopeRepo) DeleteOne(ctx context.Context, convID, msgID string) (bool, error) {
	filter := bson.M{
		"conv_id": convID,
		"msg_id":  msgID,
	}

	opts := options.FindOneAndDelete().SetSort(bson.M{"_id": 1})
	err := r.collection.FindOneAndDelete(ctx, filter, opts).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
