package kss

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/relabs-tech/appseed/core/logger"
)

// MinioConfiguration contains the configuration for the MinIO KSS service
type MinioConfiguration struct {
	Endpoint  string `env:"MINIO_ENDPOINT,optional" description:"host:port of the MinIO server"`
	AccessKey string `env:"MINIO_ACCESS_KEY,optional" description:"MinIO access key"`
	SecretKey string `env:"MINIO_SECRET_KEY,optional" description:"MinIO secret key"`
	Region    string `env:"MINIO_REGION,optional" description:"MinIO region"`
	SSL       bool   `env:"MINIO_SSL,default=false" description:"use https to connect to MinIO"`
}

// Minio stores every app in its own bucket. Buckets are created on first use.
type Minio struct {
	client *minio.Client
	region string

	mutex   sync.Mutex
	buckets map[string]bool
}

// NewMinio returns a new Minio driver
func NewMinio(config MinioConfiguration) (*Minio, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("Endpoint must not be empty")
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKey, config.SecretKey, ""),
		Secure: config.SSL,
		Region: config.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}
	logger.Default().Debugln("KSS MinIO enabled on", config.Endpoint)
	return &Minio{client: client, region: config.Region, buckets: map[string]bool{}}, nil
}

func (m *Minio) ensureBucket(ctx context.Context, bucket string) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if m.buckets[bucket] {
		return nil
	}
	exists, err := m.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket %s: %w", bucket, err)
	}
	if !exists {
		err = m.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: m.region})
		if err != nil {
			return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
		}
	}
	m.buckets[bucket] = true
	return nil
}

// Put stores data under key
func (m *Minio) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	if err := m.ensureBucket(ctx, bucket); err != nil {
		return err
	}
	_, err := m.client.PutObject(ctx, bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", bucket, key, err)
	}
	return nil
}

// Get returns the data of key
func (m *Minio) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	object, err := m.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, m.translate(err)
	}
	defer object.Close()
	data, err := io.ReadAll(object)
	if err != nil {
		return nil, m.translate(err)
	}
	return data, nil
}

// Copy duplicates srcKey into dstKey
func (m *Minio) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	_, err := m.client.CopyObject(ctx,
		minio.CopyDestOptions{Bucket: bucket, Object: dstKey},
		minio.CopySrcOptions{Bucket: bucket, Object: srcKey},
	)
	if err != nil {
		return m.translate(err)
	}
	return nil
}

// Delete removes key
func (m *Minio) Delete(ctx context.Context, bucket, key string) error {
	err := m.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{})
	if err != nil {
		if code := minio.ToErrorResponse(err).Code; code == "NoSuchBucket" || code == "NoSuchKey" {
			return nil
		}
		return err
	}
	return nil
}

func (m *Minio) translate(err error) error {
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return ErrNotFound
	}
	return err
}
