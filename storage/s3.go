package storage

import (
	"bytes"
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store keeps uploads in one bucket under per-category prefixes.
type S3Store struct {
	client  S3API
	bucket  string
	newName func() string
}

func NewS3Store(client S3API, bucket string) *S3Store {
	return &S3Store{
		client:  client,
		bucket:  bucket,
		newName: func() string { return uuid.NewString() },
	}
}

func (s *S3Store) Store(ctx context.Context, f File, category string) (string, error) {
	if len(f.Data) == 0 {
		return "", fmt.Errorf("storage: empty file %q", f.Name)
	}
	uri := objectURI(category, s.newName(), f.Name)

	input := &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(keyFromURI(uri)),
		Body:   bytes.NewReader(f.Data),
	}
	if f.ContentType != "" {
		input.ContentType = aws.String(f.ContentType)
	}
	if _, err := s.client.PutObject(ctx, input); err != nil {
		return "", fmt.Errorf("storage: put %s: %w", uri, err)
	}
	return uri, nil
}

func (s *S3Store) Delete(ctx context.Context, uri string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(keyFromURI(uri)),
	})
	if err != nil {
		return fmt.Errorf("storage: delete %s: %w", uri, err)
	}
	return nil
}
