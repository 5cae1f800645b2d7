package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"collabdraw-server/internal/domain"

	"github.com/go-redis/redis/v8"
)

// RedisPresenceRepository keeps each board's participants in a hash keyed
// by client id. The key expires ttl after the last join so boards whose
// server died do not keep ghosts forever.
type RedisPresenceRepository struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisPresenceRepository(client *redis.Client, ttl time.Duration) *RedisPresenceRepository {
	return &RedisPresenceRepository{client: client, ttl: ttl}
}

func presenceKey(boardID string) string {
	return "board:" + boardID + ":participants"
}

func (r *RedisPresenceRepository) Join(ctx context.Context, boardID string, p domain.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}

	key := presenceKey(boardID)
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, p.ClientID, data)
	if r.ttl > 0 {
		pipe.Expire(ctx, key, r.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to join board: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) Leave(ctx context.Context, boardID, clientID string) error {
	if err := r.client.HDel(ctx, presenceKey(boardID), clientID).Err(); err != nil {
		return fmt.Errorf("failed to leave board: %w", err)
	}
	return nil
}

func (r *RedisPresenceRepository) List(ctx context.Context, boardID string) ([]domain.Participant, error) {
	data, err := r.client.HGetAll(ctx, presenceKey(boardID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list participants: %w", err)
	}

	participants := make([]domain.Participant, 0, len(data))
	for _, item := range data {
		var p domain.Participant
		if err := json.Unmarshal([]byte(item), &p); err == nil {
			participants = append(participants, p)
		}
	}
	sortParticipants(participants)
	return participants, nil
}
