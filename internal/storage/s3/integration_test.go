//go:build integration

package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/renjiajia-patsnap/llmdemo/internal/storage"
)

// Needs a MinIO (or any S3) endpoint in QUERYDB_TEST_S3_ENDPOINT.
func TestExportObjectRoundTripAgainstMinIO(t *testing.T) {
	cfg := Config{
		Endpoint:         os.Getenv("QUERYDB_TEST_S3_ENDPOINT"),
		Region:           getenv("QUERYDB_TEST_S3_REGION", "us-east-1"),
		Bucket:           getenv("QUERYDB_TEST_S3_BUCKET", "querydb-it"),
		AccessKeyID:      getenv("QUERYDB_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  getenv("QUERYDB_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}
	if cfg.Endpoint == "" {
		t.Skip("QUERYDB_TEST_S3_ENDPOINT is not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	key, err := storage.BuildExportPath("it-roundtrip", time.Now())
	if err != nil {
		t.Fatalf("BuildExportPath() error = %v", err)
	}
	payload := []byte("PAR1 querydb integration payload")

	t.Run("put then stat", func(t *testing.T) {
		opts := storage.PutOptions{ContentType: storage.ContentTypeParquet, Metadata: map[string]string{"row-count": "3"}}
		if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), opts); err != nil {
			t.Fatalf("Put() error = %v", err)
		}
		info, err := store.Stat(ctx, key)
		if err != nil {
			t.Fatalf("Stat() error = %v", err)
		}
		if info.Size != int64(len(payload)) || info.Metadata["row-count"] != "3" {
			t.Fatalf("Stat() = %+v", info)
		}
	})

	t.Run("get returns payload", func(t *testing.T) {
		reader, err := store.Get(ctx, key)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		defer func() { _ = reader.Close() }()
		got, err := io.ReadAll(reader)
		if err != nil || !bytes.Equal(got, payload) {
			t.Fatalf("Get() = %q, %v", got, err)
		}
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		for range 2 {
			if err := store.Delete(ctx, key); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
		}
		if _, err := store.Get(ctx, key); !errors.Is(err, storage.ErrObjectNotFound) {
			t.Fatalf("Get() after delete error = %v", err)
		}
	})
}

func getenv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
