package leaderboard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrNoBoard is returned when no board has been published yet.
var ErrNoBoard = errors.New("no published leaderboard")

// versionTTL bounds how long superseded board versions stay readable.
const versionTTL = 24 * time.Hour

// Cache keeps the published board in Redis so reads never touch the
// leaderboard tables mid-rebuild. The current board lives under a single
// key written with one SET, so readers see the old or the new board and
// nothing in between.
type Cache struct {
	client *redis.Client
	prefix string
}

// NewCache connects to Redis and verifies the connection.
func NewCache(redisURL string) (*Cache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Cache{client: client, prefix: "leaderboard:"}, nil
}

// NewCacheWithClient wraps an existing Redis client.
func NewCacheWithClient(client *redis.Client) *Cache {
	return &Cache{client: client, prefix: "leaderboard:"}
}

func (c *Cache) currentKey() string {
	return c.prefix + "current"
}

func (c *Cache) versionKey(version int64) string {
	return fmt.Sprintf("%sv%d", c.prefix, version)
}

// Publish stores the board under its version key and flips the current key
// to the new payload. Called only after the database transaction that
// created the version has committed.
func (c *Cache) Publish(ctx context.Context, board Board) error {
	payload, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}

	if err := c.client.Set(ctx, c.versionKey(board.Version), payload, versionTTL).Err(); err != nil {
		return fmt.Errorf("store board version %d: %w", board.Version, err)
	}
	if err := c.client.Set(ctx, c.currentKey(), payload, 0).Err(); err != nil {
		return fmt.Errorf("flip current board: %w", err)
	}
	return nil
}

// Current returns the most recently published board.
func (c *Cache) Current(ctx context.Context) (Board, error) {
	payload, err := c.client.Get(ctx, c.currentKey()).Result()
	if err == redis.Nil {
		return Board{}, ErrNoBoard
	}
	if err != nil {
		return Board{}, fmt.Errorf("read current board: %w", err)
	}

	var board Board
	if err := json.Unmarshal([]byte(payload), &board); err != nil {
		return Board{}, fmt.Errorf("unmarshal board: %w", err)
	}
	return board, nil
}

// Version returns a specific archived board version if it is still cached.
func (c *Cache) Version(ctx context.Context, version int64) (Board, error) {
	payload, err := c.client.Get(ctx, c.versionKey(version)).Result()
	if err == redis.Nil {
		return Board{}, ErrNoBoard
	}
	if err != nil {
		return Board{}, fmt.Errorf("read board version %d: %w", version, err)
	}

	var board Board
	if err := json.Unmarshal([]byte(payload), &board); err != nil {
		return Board{}, fmt.Errorf("unmarshal board: %w", err)
	}
	return board, nil
}

// Close closes the Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

// Ping checks if Redis is reachable.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
