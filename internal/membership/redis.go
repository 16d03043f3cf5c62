package membership

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type RedisStore struct {
	client   *redis.Client
	deviceID string
}

func NewRedisStore(client *redis.Client, deviceID string) *RedisStore {
	return &RedisStore{client: client, deviceID: deviceID}
}

const deviceKey = "meethalf:device"

func (s *RedisStore) EnsureDevice(ctx context.Context) (string, error) {
	if s.deviceID != "" {
		return s.deviceID, nil
	}
	if err := s.client.SetNX(ctx, deviceKey, newDeviceID(), 0).Err(); err != nil {
		return "", err
	}
	id, err := s.client.Get(ctx, deviceKey).Result()
	if err != nil {
		return "", err
	}
	s.deviceID = id
	return id, nil
}

func (s *RedisStore) key(eventID int64) string {
	return fmt.Sprintf("meethalf:device:%s:membership:%d", s.deviceID, eventID)
}

func (s *RedisStore) Get(ctx context.Context, eventID int64) (Record, error) {
	data, err := s.client.Get(ctx, s.key(eventID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, err
	}
	return rec, nil
}

func (s *RedisStore) Save(ctx context.Context, rec Record) error {
	existing, err := s.Get(ctx, rec.EventID)
	switch {
	case err == nil:
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = existing.CreatedAt
		}
		if existing.ArrivalTime != nil {
			rec.ArrivalTime = existing.ArrivalTime
		}
	case !errors.Is(err, ErrNotFound):
		return err
	}

	data, err := json.Marshal(stamp(rec, time.Now().UTC()))
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(rec.EventID), data, 0).Err()
}

func (s *RedisStore) Delete(ctx context.Context, eventID int64) error {
	return s.client.Del(ctx, s.key(eventID)).Err()
}
