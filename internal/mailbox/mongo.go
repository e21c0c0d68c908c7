package mailbox

import (
	"context"

	"emcipher/internal/codec"
	"emcipher/internal/model"
	envelopeRepo "emcipher/internal/repository/envelope"
)

type (
	// MongoStore backs the mailbox with a mongo collection. Exactly-once
	// acknowledge comes from findOneAndDelete being atomic server-side.
	MongoStore struct {
		repo *envelopeRepo.EnvelopeRepo
	}
)

func NewMongoStore(repo *envelopeRepo.EnvelopeRepo) *MongoStore {
	return &MongoStore{
		repo: repo,
	}
}

func (s *MongoStore) Append(ctx context.Context, convID string, env *model.Envelope) error {
	return s.repo.Insert(ctx, codec.EncodeWire(env))
}

func (s *MongoStore) List(ctx context.Context, convID string) ([]*model.Envelope, error) {
	wires, err := s.repo.ListByConv(ctx, convID)
	if err != nil {
		return nil, err
	}

	envs := make([]*model.Envelope, 0, len(wires))
	for _, w := range wires {
		env, err := codec.DecodeWire(w)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}

func (s *MongoStore) Acknowledge(ctx context.Context, convID, msgID string) error {
	removed, err := s.repo.DeleteOne(ctx, convID, msgID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}
