package storage

import (
	"context"
	"fmt"
	"log"
	"mime"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/sitepress-engine/config"
)

// Config holds object storage connection settings
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Region    string
	Bucket    string
	UseSSL    bool
}

// ConfigFromEnv reads object storage settings from the environment
func ConfigFromEnv() Config {
	return Config{
		Endpoint:  config.GetEnv("S3_ENDPOINT", "localhost:9000"),
		AccessKey: config.GetEnv("S3_ACCESS_KEY", "minioadmin"),
		SecretKey: config.GetEnv("S3_SECRET_KEY", "minioadmin"),
		Region:    config.GetEnv("S3_REGION", "us-east-1"),
		Bucket:    config.GetEnv("S3_BUILDS_BUCKET", "site-builds"),
		UseSSL:    config.GetEnv("S3_USE_SSL", "false") == "true",
	}
}

// Client is the artifact store: build output lives under
// {siteSlug}/{relativePath} keys in the builds bucket.
type Client struct {
	mc     *minio.Client
	config Config
}

// NewClient connects to the object store and ensures the builds bucket exists
func NewClient(cfg Config) (*Client, error) {
	mc, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("artifact store client: %w", err)
	}

	client := &Client{mc: mc, config: cfg}
	if err := client.ensureBucket(context.Background()); err != nil {
		return nil, err
	}
	return client, nil
}

func (c *Client) ensureBucket(ctx context.Context) error {
	exists, err := c.mc.BucketExists(ctx, c.config.Bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", c.config.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := c.mc.MakeBucket(ctx, c.config.Bucket, minio.MakeBucketOptions{Region: c.config.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", c.config.Bucket, err)
	}
	log.Printf("artifact store: created bucket %s", c.config.Bucket)
	return nil
}

// Bucket returns the builds bucket name
func (c *Client) Bucket() string {
	return c.config.Bucket
}

// Endpoint returns the configured store endpoint
func (c *Client) Endpoint() string {
	return c.config.Endpoint
}

// UploadDir walks dir and uploads every regular file under the slug prefix.
// The previous artifact set for the slug is removed first so one build
// replaces the whole tree.
func (c *Client) UploadDir(ctx context.Context, slug, dir string) error {
	if err := c.RemovePrefix(ctx, slug); err != nil {
		return fmt.Errorf("clear previous artifacts for %s: %w", slug, err)
	}

	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		key := slug + "/" + filepath.ToSlash(rel)

		contentType := mime.TypeByExtension(filepath.Ext(path))
		if contentType == "" {
			contentType = "application/octet-stream"
		}

		_, err = c.mc.FPutObject(ctx, c.config.Bucket, key, path, minio.PutObjectOptions{
			ContentType: contentType,
		})
		if err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		return nil
	})
}

// ListPrefix returns every object key under the slug prefix
func (c *Client) ListPrefix(ctx context.Context, slug string) ([]string, error) {
	var keys []string
	for object := range c.mc.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{
		Prefix:    slug + "/",
		Recursive: true,
	}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list %s: %w", slug, object.Err)
		}
		keys = append(keys, object.Key)
	}
	return keys, nil
}

// HasPrefix reports whether at least one artifact exists for the slug.
// This is the caller-facing "artifacts exist" signal after an upload.
func (c *Client) HasPrefix(ctx context.Context, slug string) (bool, error) {
	for object := range c.mc.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{
		Prefix:    slug + "/",
		Recursive: true,
		MaxKeys:   1,
	}) {
		if object.Err != nil {
			return false, fmt.Errorf("probe %s: %w", slug, object.Err)
		}
		return true, nil
	}
	return false, nil
}

// RemovePrefix deletes every object under the slug prefix (site teardown)
func (c *Client) RemovePrefix(ctx context.Context, slug string) error {
	objects := make(chan minio.ObjectInfo)
	go func() {
		defer close(objects)
		for object := range c.mc.ListObjects(ctx, c.config.Bucket, minio.ListObjectsOptions{
			Prefix:    slug + "/",
			Recursive: true,
		}) {
			if object.Err == nil {
				objects <- object
			}
		}
	}()

	for result := range c.mc.RemoveObjects(ctx, c.config.Bucket, objects, minio.RemoveObjectsOptions{}) {
		if result.Err != nil {
			return fmt.Errorf("remove %s: %w", result.ObjectName, result.Err)
		}
	}
	return nil
}

// PresignGet returns a time-limited download URL for one artifact key
func (c *Client) PresignGet(ctx context.Context, key string, expiry time.Duration) (*url.URL, error) {
	return c.mc.PresignedGetObject(ctx, c.config.Bucket, key, expiry, url.Values{})
}

// TrimSlug normalizes a slug for use as a key prefix
func TrimSlug(slug string) string {
	return strings.Trim(strings.TrimSpace(slug), "/")
}
