// Package archive retains published leaderboard versions in object storage
// for audit history.
package archive

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"tally/api/internal/leaderboard"
)

// Store uploads one JSON object per board version. Upload failures are the
// caller's to log; a missed archive never blocks a publish.
type Store struct {
	client *minio.Client
	bucket string
}

// New connects to the object store and makes sure the bucket exists.
func New(ctx context.Context, endpoint, accessKey, secretKey, bucket string, useSSL bool) (*Store, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}

	exists, err := client.BucketExists(ctx, bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", bucket, err)
		}
	}

	return &Store{client: client, bucket: bucket}, nil
}

func objectName(version int64, builtAt time.Time) string {
	return fmt.Sprintf("boards/%s/v%d.json", builtAt.UTC().Format("2006/01/02"), version)
}

// Put uploads a published board version.
func (s *Store) Put(ctx context.Context, board leaderboard.Board) error {
	payload, err := json.Marshal(board)
	if err != nil {
		return fmt.Errorf("marshal board v%d: %w", board.Version, err)
	}

	name := objectName(board.Version, board.BuiltAt)
	_, err = s.client.PutObject(ctx, s.bucket, name,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"})
	if err != nil {
		return fmt.Errorf("upload board v%d: %w", board.Version, err)
	}
	return nil
}

// Get fetches an archived board version by its object name date and version.
func (s *Store) Get(ctx context.Context, version int64, builtAt time.Time) (leaderboard.Board, error) {
	object, err := s.client.GetObject(ctx, s.bucket, objectName(version, builtAt), minio.GetObjectOptions{})
	if err != nil {
		return leaderboard.Board{}, fmt.Errorf("fetch board v%d: %w", version, err)
	}
	defer object.Close()

	var board leaderboard.Board
	if err := json.NewDecoder(object).Decode(&board); err != nil {
		return leaderboard.Board{}, fmt.Errorf("decode board v%d: %w", version, err)
	}
	return board, nil
}
