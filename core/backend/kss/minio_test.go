package kss_test

import (
	"os"
	"testing"

	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/stretchr/testify/require"
)

// use MINIO_ENDPOINT="localhost:9000" MINIO_ACCESS_KEY=minioadmin MINIO_SECRET_KEY=minioadmin
func TestMinio(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set")
	}
	m, err := kss.NewMinio(kss.MinioConfiguration{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
	})
	require.NoError(t, err)
	testDriver(t, m)
}
