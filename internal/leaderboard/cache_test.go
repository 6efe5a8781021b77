package leaderboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
)

func setupTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	s := miniredis.RunT(t)
	cache, err := NewCache("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create cache: %v", err)
	}
	return cache, s
}

func testBoard(version int64) Board {
	return Board{
		Version: version,
		BuiltAt: time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC),
		Entries: []Entry{
			{Rank: 1, UserID: "u1", DisplayName: "Ada", TotalScore: 750, Grade: "A"},
			{Rank: 2, UserID: "u2", DisplayName: "Brin", TotalScore: 300, Grade: "C"},
		},
	}
}

func TestCurrentBeforeAnyPublish(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	_, err := cache.Current(context.Background())
	if !errors.Is(err, ErrNoBoard) {
		t.Fatalf("expected ErrNoBoard, got %v", err)
	}
}

func TestPublishAndCurrent(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Publish(ctx, testBoard(1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	board, err := cache.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if board.Version != 1 {
		t.Errorf("version = %d, want 1", board.Version)
	}
	if len(board.Entries) != 2 || board.Entries[0].UserID != "u1" {
		t.Errorf("unexpected entries: %+v", board.Entries)
	}
}

func TestPublishReplacesCurrent(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Publish(ctx, testBoard(1)); err != nil {
		t.Fatalf("Publish v1 failed: %v", err)
	}
	if err := cache.Publish(ctx, testBoard(2)); err != nil {
		t.Fatalf("Publish v2 failed: %v", err)
	}

	board, err := cache.Current(ctx)
	if err != nil {
		t.Fatalf("Current failed: %v", err)
	}
	if board.Version != 2 {
		t.Errorf("current version = %d, want 2", board.Version)
	}

	// The superseded version stays readable until its TTL runs out.
	old, err := cache.Version(ctx, 1)
	if err != nil {
		t.Fatalf("Version(1) failed: %v", err)
	}
	if old.Version != 1 {
		t.Errorf("archived version = %d, want 1", old.Version)
	}
}

func TestVersionExpires(t *testing.T) {
	cache, s := setupTestCache(t)
	defer cache.Close()
	defer s.Close()

	ctx := context.Background()
	if err := cache.Publish(ctx, testBoard(1)); err != nil {
		t.Fatalf("Publish failed: %v", err)
	}

	s.FastForward(25 * time.Hour)

	if _, err := cache.Version(ctx, 1); !errors.Is(err, ErrNoBoard) {
		t.Errorf("expected ErrNoBoard for expired version, got %v", err)
	}
	// The current pointer has no TTL and must survive.
	if _, err := cache.Current(ctx); err != nil {
		t.Errorf("Current failed after expiry window: %v", err)
	}
}
