package persistent

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/roomviz/render-engine/pkg/s3client"
)

// ObjectStoreRepo adapts S3 to the ObjectStore contract. Only keys leave
// this layer as persistent values; URLs carry a TTL and are minted per call.
type ObjectStoreRepo struct {
	*s3client.S3Client
	bucket string
}

func NewObjectStoreRepo(s3c *s3client.S3Client, bucket string) *ObjectStoreRepo {
	return &ObjectStoreRepo{s3c, bucket}
}

func (r *ObjectStoreRepo) Put(ctx context.Context, key string, data []byte, contentType string) error {
	_, err := r.Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(r.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentType:   aws.String(contentType),
		ContentLength: aws.Int64(int64(len(data))),
	})
	if err != nil {
		return fmt.Errorf("ObjectStoreRepo - Put - r.Client.PutObject: %w", err)
	}

	return nil
}

func (r *ObjectStoreRepo) Download(ctx context.Context, key string) ([]byte, error) {
	result, err := r.Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("ObjectStoreRepo - Download - r.Client.GetObject: %w", err)
	}
	defer result.Body.Close()

	b, err := io.ReadAll(result.Body)
	if err != nil {
		return nil, fmt.Errorf("ObjectStoreRepo - Download - io.ReadAll: %w", err)
	}

	return b, nil
}

func (r *ObjectStoreRepo) SignedReadURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := r.Presign.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("ObjectStoreRepo - SignedReadURL - r.Presign.PresignGetObject: %w", err)
	}

	return req.URL, nil
}

func (r *ObjectStoreRepo) SignedWriteURL(ctx context.Context, key string, ttl time.Duration) (string, error) {
	req, err := r.Presign.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(key),
	}, func(o *s3.PresignOptions) { o.Expires = ttl })
	if err != nil {
		return "", fmt.Errorf("ObjectStoreRepo - SignedWriteURL - r.Presign.PresignPutObject: %w", err)
	}

	return req.URL, nil
}
