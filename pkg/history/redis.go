package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	listKey     = "pixelflow:history"
	entryTTL    = 30 * 24 * time.Hour
	entryPrefix = "pixelflow:generation:"
)

// Redis mirrors history entries into redis so several front ends share them.
type Redis struct {
	client *redis.Client
	max    int64
	ttl    time.Duration
}

// NewRedis connects to redisURL and verifies the connection.
func NewRedis(ctx context.Context, redisURL string) (*Redis, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return NewRedisFromClient(client), nil
}

// NewRedisFromClient wraps an existing client.
func NewRedisFromClient(client *redis.Client) *Redis {
	return &Redis{client: client, max: DefaultLimit, ttl: entryTTL}
}

func entryKey(jobID string) string {
	return entryPrefix + jobID
}

// Record stores the entry and pushes its id onto the recent list.
func (r *Redis) Record(ctx context.Context, entry Entry) error {
	if entry.JobID == "" {
		return errors.New("history: entry has no job id")
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, entryKey(entry.JobID), data, r.ttl)
		pipe.LPush(ctx, listKey, entry.JobID)
		pipe.LTrim(ctx, listKey, 0, r.max-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("history: record %s: %w", entry.JobID, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first. Expired entries are skipped.
func (r *Redis) Recent(ctx context.Context, limit int) ([]Entry, error) {
	stop := int64(limit) - 1
	if limit <= 0 {
		stop = -1
	}
	ids, err := r.client.LRange(ctx, listKey, 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("history: list: %w", err)
	}
	out := make([]Entry, 0, len(ids))
	for _, id := range ids {
		data, err := r.client.Get(ctx, entryKey(id)).Bytes()
		if err == redis.Nil {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("history: get %s: %w", id, err)
		}
		var entry Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			return nil, fmt.Errorf("history: decode %s: %w", id, err)
		}
		out = append(out, entry)
	}
	return out, nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
