package storage

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"google.golang.org/api/option"

	apperrors "heartstring/pkg/errors"
	"heartstring/pkg/logger"
)

const (
	publicURLPrefix = "https://storage.googleapis.com/"
	// MaxImageBytes bounds a single message attachment.
	MaxImageBytes = 10 << 20
)

var imageExtensions = map[string]string{
	"image/jpeg": ".jpg",
	"image/jpg":  ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// CloudStorageClient stores chat image attachments in a GCS bucket.
type CloudStorageClient struct {
	client     *storage.Client
	bucketName string
}

func NewCloudStorageClient(ctx context.Context, bucketName string, opts ...option.ClientOption) (*CloudStorageClient, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	c := &CloudStorageClient{
		client:     client,
		bucketName: bucketName,
	}
	if err := c.ensureCORS(ctx); err != nil {
		logger.Warn("Failed to set bucket CORS configuration: %v", err)
	}
	return c, nil
}

// ensureCORS lets browsers fetch attachments directly from the bucket.
func (c *CloudStorageClient) ensureCORS(ctx context.Context) error {
	bucket := c.client.Bucket(c.bucketName)
	attrs, err := bucket.Attrs(ctx)
	if err != nil {
		return fmt.Errorf("failed to get bucket attributes: %w", err)
	}
	if len(attrs.CORS) > 0 {
		return nil
	}

	_, err = bucket.Update(ctx, storage.BucketAttrsToUpdate{
		CORS: []storage.CORS{{
			MaxAge:          time.Hour,
			Methods:         []string{"GET", "HEAD"},
			Origins:         []string{"*"},
			ResponseHeaders: []string{"Content-Type"},
		}},
	})
	if err != nil {
		return fmt.Errorf("failed to update bucket CORS: %w", err)
	}
	return nil
}

// ObjectName builds the object path for an upload of the given content type.
func ObjectName(folder, fileType string, now time.Time) (string, error) {
	ext, ok := imageExtensions[strings.ToLower(fileType)]
	if !ok {
		return "", apperrors.BadRequest("Only JPEG, PNG, GIF and WebP images can be sent", nil)
	}
	folder = strings.Trim(folder, "/")
	return fmt.Sprintf("%s/%s-%s%s", folder, uuid.New().String(), now.UTC().Format("20060102150405"), ext), nil
}

func (c *CloudStorageClient) UploadFile(ctx context.Context, file io.Reader, fileType, folder string, isPublic bool) (string, error) {
	name, err := ObjectName(folder, fileType, time.Now())
	if err != nil {
		return "", err
	}

	obj := c.client.Bucket(c.bucketName).Object(name)
	wc := obj.NewWriter(ctx)
	wc.ContentType = fileType
	wc.CacheControl = "public, max-age=86400"

	n, err := io.Copy(wc, io.LimitReader(file, MaxImageBytes+1))
	if err != nil {
		wc.Close()
		return "", apperrors.Transient("Failed to upload image", err)
	}
	if n > MaxImageBytes {
		wc.Close()
		obj.Delete(ctx)
		return "", apperrors.BadRequest("Image is too large", nil)
	}
	if err := wc.Close(); err != nil {
		return "", apperrors.Transient("Failed to upload image", err)
	}

	if isPublic {
		if err := obj.ACL().Set(ctx, storage.AllUsers, storage.RoleReader); err != nil {
			return "", apperrors.Transient("Failed to publish image", err)
		}
	}

	return publicURLPrefix + c.bucketName + "/" + name, nil
}

// ObjectFromURL extracts the object name of a URL produced by UploadFile.
func ObjectFromURL(bucket, fileURL string) (string, error) {
	if !strings.HasPrefix(fileURL, publicURLPrefix) {
		return "", fmt.Errorf("invalid GCS URL format")
	}
	parts := strings.SplitN(strings.TrimPrefix(fileURL, publicURLPrefix), "/", 2)
	if len(parts) != 2 || parts[0] != bucket || parts[1] == "" {
		return "", fmt.Errorf("invalid GCS URL format or bucket mismatch")
	}
	return parts[1], nil
}

func (c *CloudStorageClient) DeleteFile(ctx context.Context, fileURL string) error {
	name, err := ObjectFromURL(c.bucketName, fileURL)
	if err != nil {
		return apperrors.BadRequest(err.Error(), err)
	}
	if err := c.client.Bucket(c.bucketName).Object(name).Delete(ctx); err != nil && err != storage.ErrObjectNotExist {
		return apperrors.Transient("Failed to delete image", err)
	}
	return nil
}

func (c *CloudStorageClient) Close() error {
	return c.client.Close()
}
