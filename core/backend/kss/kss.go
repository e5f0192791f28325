// Package kss provides the key-value blob store for asset bytes.
//
// Blobs are addressed by a bucket, one per app (see BucketName), and a key, the asset id.
// There are three backends: the local file system, AWS S3 and MinIO.
package kss

import (
	"context"
	"errors"
	"fmt"
)

// Driver defines the interface for the KSS service
type Driver interface {
	// Put stores data under key, replacing existing data
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	// Get returns the data stored under key or ErrNotFound
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	// Copy duplicates the data of srcKey to dstKey within the same bucket
	Copy(ctx context.Context, bucket, srcKey, dstKey string) error
	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, bucket, key string) error
}

// ErrNotFound is returned by Get if there is no data for a key
var ErrNotFound = errors.New("kss: key not found")

// BucketName returns the bucket holding the assets of an app
func BucketName(appID int) string {
	return fmt.Sprintf("app-%d", appID)
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// DriverTypeLocal is the local filesystem implementation of the KSS service
const DriverTypeLocal DriverType = "Local"

// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
const DriverTypeAWSS3 DriverType = "AWSS3"

// DriverTypeMinio is the MinIO implementation of the KSS service
const DriverTypeMinio DriverType = "Minio"

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
	MinioConfiguration *MinioConfiguration
}

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
}

// New creates the driver selected by the configuration
func New(ctx context.Context, config Configuration) (Driver, error) {
	switch config.DriverType {
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("kss expecting a configuration for local KSS, but got nothing")
		}
		return NewLocalFilesystem(*config.LocalConfiguration)
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("kss expecting a configuration for S3 KSS, but got nothing")
		}
		return NewS3(ctx, *config.S3Configuration)
	case DriverTypeMinio:
		if config.MinioConfiguration == nil {
			return nil, fmt.Errorf("kss expecting a configuration for MinIO KSS, but got nothing")
		}
		return NewMinio(*config.MinioConfiguration)
	}
	return nil, fmt.Errorf("unknown kss driver type '%s'", config.DriverType)
}
