package kss

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/relabs-tech/appseed/core/logger"
)

// LocalFilesystem stores blobs below a base folder, one directory per bucket and key
type LocalFilesystem struct {
	baseFolder string
}

// NewLocalFilesystem returns a new LocalFilesystem
func NewLocalFilesystem(config LocalConfiguration) (*LocalFilesystem, error) {
	if config.BasePath == "" {
		return nil, fmt.Errorf("BasePath must not be empty")
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", config.BasePath, err)
	}
	logger.Default().Debugln("KSS local filesystem enabled in", config.BasePath)
	return &LocalFilesystem{baseFolder: config.BasePath}, nil
}

func (f LocalFilesystem) filePath(bucket, key string) (string, error) {
	if bucket == "" || key == "" {
		return "", fmt.Errorf("bucket and key must not be empty")
	}
	if strings.Contains(bucket, "..") || strings.Contains(key, "..") {
		return "", fmt.Errorf("'..' is not allowed in a key")
	}
	return filepath.Join(f.baseFolder, bucket, key, "file"), nil
}

// Put stores data under key
func (f LocalFilesystem) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	p, err := f.filePath(bucket, key)
	if err != nil {
		return err
	}
	if err = os.MkdirAll(filepath.Dir(p), 0700); err != nil {
		return fmt.Errorf("could not create folder for '%s': %w", key, err)
	}
	if err = os.WriteFile(p, data, 0600); err != nil {
		return fmt.Errorf("could not write '%s': %w", key, err)
	}
	logger.FromContext(ctx).Debugf("Filesystem: stored %d bytes in %s/%s", len(data), bucket, key)
	return nil
}

// Get returns the data stored under key
func (f LocalFilesystem) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	p, err := f.filePath(bucket, key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

// Copy duplicates srcKey to dstKey
func (f LocalFilesystem) Copy(ctx context.Context, bucket, srcKey, dstKey string) error {
	src, err := f.filePath(bucket, srcKey)
	if err != nil {
		return err
	}
	dst, err := f.filePath(bucket, dstKey)
	if err != nil {
		return err
	}
	in, err := os.Open(src)
	if os.IsNotExist(err) {
		return ErrNotFound
	} else if err != nil {
		return err
	}
	defer in.Close()

	if err = os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return fmt.Errorf("could not create folder for '%s': %w", dstKey, err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("could not create '%s': %w", dstKey, err)
	}
	defer out.Close()
	if _, err = io.Copy(out, in); err != nil {
		return fmt.Errorf("could not copy '%s' to '%s': %w", srcKey, dstKey, err)
	}
	return nil
}

// Delete deletes the key
func (f LocalFilesystem) Delete(ctx context.Context, bucket, key string) error {
	p, err := f.filePath(bucket, key)
	if err != nil {
		return err
	}
	return os.RemoveAll(filepath.Dir(p))
}
