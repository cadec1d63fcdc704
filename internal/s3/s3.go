// Package s3 uploads alert exports to an S3-compatible store and replays
// stored frames as a camera source.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"guardian/internal/logger"
	"guardian/internal/models"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

type Client struct {
	client *minio.Client
	log    *logger.Logger
}

func NewMinioClient(cfg models.S3Config, log *logger.Logger) (*Client, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.Secure,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Client{client: client, log: log.With("s3")}, nil
}

func (c *Client) EnsureBucketExists(ctx context.Context, bucketName string) error {
	exists, err := c.client.BucketExists(ctx, bucketName)
	if err != nil {
		return err
	}
	if !exists {
		return c.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{})
	}
	return nil
}

// UploadExport stores an alert export and returns its object URL.
func (c *Client) UploadExport(ctx context.Context, bucketName, objectName string, data []byte) (string, error) {
	if err := c.EnsureBucketExists(ctx, bucketName); err != nil {
		return "", fmt.Errorf("bucket error: %w", err)
	}

	_, err := c.client.PutObject(
		ctx,
		bucketName,
		objectName,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{
			ContentType: "application/json",
		},
	)
	if err != nil {
		return "", fmt.Errorf("upload error: %w", err)
	}

	url := fmt.Sprintf("%s/%s/%s", c.client.EndpointURL(), bucketName, objectName)
	c.log.Infof("Uploaded %d bytes to %s", len(data), url)
	return url, nil
}

// ListKeys returns the object keys under prefix in name order, skipping
// folder markers.
func (c *Client) ListKeys(ctx context.Context, bucket, prefix string) ([]string, error) {
	objectCh := c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	})

	var keys []string
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		if strings.HasSuffix(object.Key, "/") {
			continue
		}
		keys = append(keys, object.Key)
	}
	sort.Strings(keys)
	return keys, nil
}

func (c *Client) Get(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := c.client.GetObject(ctx, bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	buf := new(bytes.Buffer)
	if _, err := io.Copy(buf, obj); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
