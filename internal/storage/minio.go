// Package storage wraps the MinIO S3 client behind the narrow interface the
// schedule builder and job runner need: listing media files and signing
// time-limited download URLs.
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// mediaExtensions restricts listings to files the gateway can deliver.
var mediaExtensions = map[string]struct{}{
	".mp4":  {},
	".mov":  {},
	".avi":  {},
	".mkv":  {},
	".webm": {},
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".mp3":  {},
	".ogg":  {},
	".pdf":  {},
}

type Client struct {
	mc *minio.Client
}

func NewClient(endpoint, accessKey, secretKey string, useSSL bool) (*Client, error) {
	mc, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("minio client: %w", err)
	}
	return &Client{mc: mc}, nil
}

// ListFiles returns the media object names in a bucket, recursively.
func (c *Client) ListFiles(ctx context.Context, bucket string) ([]string, error) {
	var files []string
	for obj := range c.mc.ListObjects(ctx, bucket, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list bucket %s: %w", bucket, obj.Err)
		}
		if _, ok := mediaExtensions[strings.ToLower(path.Ext(obj.Key))]; ok {
			files = append(files, obj.Key)
		}
	}
	return files, nil
}

// SignedURL returns a presigned GET URL valid for the given duration.
func (c *Client) SignedURL(ctx context.Context, bucket, object string, expiry time.Duration) (string, error) {
	u, err := c.mc.PresignedGetObject(ctx, bucket, object, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presign %s/%s: %w", bucket, object, err)
	}
	return u.String(), nil
}
