package kss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/relabs-tech/appseed/core/logger"
)

// S3Configuration contains the configuration for the AWS S3 KSS service.
//
// AWS bucket names are global, therefore all app buckets live in AWSBucketName and
// are mapped to the key prefix KeyPrefix + bucket + "/".
type S3Configuration struct {
	AccessID      string `env:"AWS_ACCESS_KEY_ID,optional" description:"AWS access key id"`
	AccessKey     string `env:"AWS_SECRET_ACCESS_KEY,optional" description:"AWS secret access key"`
	AWSBucketName string `env:"AWS_BUCKET,optional" description:"the S3 bucket holding all assets"`
	AWSRegion     string `env:"AWS_REGION,default=eu-central-1" description:"the AWS region"`
	KeyPrefix     string `env:"AWS_KEY_PREFIX,optional" description:"prefix prepended to all keys"`
}

// S3 is the implementation of the KSSDriver for AWS S3
type S3 struct {
	client      *s3.Client
	uploader    *manager.Uploader
	bucket      string
	baseKeyName string
}

// NewS3 returns a new S3
func NewS3(ctx context.Context, kssConfig S3Configuration) (*S3, error) {
	if kssConfig.AWSBucketName == "" {
		return nil, fmt.Errorf("AWSBucketName must not be empty")
	}

	opts := []func(*config.LoadOptions) error{config.WithRegion(kssConfig.AWSRegion)}
	if kssConfig.AccessID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(kssConfig.AccessID, kssConfig.AccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, err
	}
	client := s3.NewFromConfig(cfg)
	logger.Default().Debugln("KSS S3 enabled")
	return &S3{
		client:      client,
		uploader:    manager.NewUploader(client),
		bucket:      kssConfig.AWSBucketName,
		baseKeyName: kssConfig.KeyPrefix,
	}, nil
}

func (s *S3) objectKey(bucket, key string) string {
	return s.baseKeyName + bucket + "/" + key
}

// Put uploads data into key
func (s *S3) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(bucket, key)),
		Body:   bytes.NewReader(data),
	}
	if contentType != "" {
		input.ContentType = aws.String(contentType)
	}
	if _, err := s.uploader.Upload(ctx, input); err != nil {
		return fmt.Errorf("failed to upload %s: %w", s.objectKey(bucket, key), err)
	}
	return nil
}

// Get downloads key
func (s *S3) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(bucket, key)),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

// Copy duplicates srcKey into dstKey on the server side
func (s *S3) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	source := url.PathEscape(s.bucket) + "/" + url.PathEscape(s.objectKey(bucket, srcKey))
	_, err := s.client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(s.bucket),
		Key:        aws.String(s.objectKey(bucket, dstKey)),
		CopySource: aws.String(source),
	})
	if err != nil {
		return fmt.Errorf("failed to copy %s to %s: %w", srcKey, dstKey, err)
	}
	return nil
}

// Delete deletes the key
func (s *S3) Delete(ctx context.Context, bucket, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.objectKey(bucket, key)),
	})
	if err != nil {
		logger.FromContext(ctx).Error("Could not delete ", s.objectKey(bucket, key))
		return err
	}
	return nil
}
