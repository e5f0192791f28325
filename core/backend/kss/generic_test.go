package kss_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/relabs-tech/appseed/core/backend/kss"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testDriver exercises the behaviour every driver has to provide
func testDriver(t *testing.T, driver kss.Driver) {
	ctx := context.Background()
	bucket := kss.BucketName(1)
	key := uuid.New().String()

	_, err := driver.Get(ctx, bucket, key)
	assert.ErrorIs(t, err, kss.ErrNotFound)

	require.NoError(t, driver.Put(ctx, bucket, key, []byte("123"), "text/plain"))
	data, err := driver.Get(ctx, bucket, key)
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), data)

	copyKey := uuid.New().String()
	require.NoError(t, driver.Copy(ctx, bucket, key, copyKey))
	data, err = driver.Get(ctx, bucket, copyKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), data)

	require.NoError(t, driver.Put(ctx, bucket, key, []byte("4567"), "text/plain"))
	data, err = driver.Get(ctx, bucket, copyKey)
	require.NoError(t, err)
	assert.Equal(t, []byte("123"), data, "a copy is independent of its source")

	require.NoError(t, driver.Delete(ctx, bucket, key))
	_, err = driver.Get(ctx, bucket, key)
	assert.ErrorIs(t, err, kss.ErrNotFound)
	require.NoError(t, driver.Delete(ctx, bucket, key), "deleting twice is fine")

	_, err = driver.Get(ctx, kss.BucketName(2), copyKey)
	assert.ErrorIs(t, err, kss.ErrNotFound, "buckets are separated")
}
