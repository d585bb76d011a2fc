package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/rs/zerolog/log"
)

// S3BlobStore implements the BlobStore interface using AWS S3
type S3BlobStore struct {
	s3Client   *s3.S3
	uploader   *s3manager.Uploader
	bucketName string
}

// Attribute keys stored as S3 user metadata on each object.
const (
	metaFilename  = "filename"
	metaPath      = "path"
	metaSize      = "size"
	metaCreatedAt = "created-at"
	metaPreview   = "preview-enabled"
)

// NewS3BlobStore creates a new S3 blob store. A non-empty endpoint points the
// client at an S3-compatible service (R2, MinIO) with path-style addressing.
func NewS3BlobStore(region, endpoint, bucketName string) (*S3BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket name is required")
	}

	cfg := &aws.Config{
		Region: aws.String(region),
	}
	if endpoint != "" {
		cfg.Endpoint = aws.String(endpoint)
		cfg.S3ForcePathStyle = aws.Bool(true)
	}

	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, err
	}

	return &S3BlobStore{
		s3Client:   s3.New(sess),
		uploader:   s3manager.NewUploader(sess),
		bucketName: bucketName,
	}, nil
}

// Store uploads the content stream under key id with attrs attached as
// object metadata
func (s *S3BlobStore) Store(ctx context.Context, id string, data io.Reader, attrs *BlobAttributes) error {
	_, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:   aws.String(s.bucketName),
		Key:      aws.String(id),
		Body:     data,
		Metadata: encodeBlobAttributes(attrs),
	})
	if err != nil {
		return fmt.Errorf("failed to upload blob %s: %v", id, err)
	}

	return nil
}

// Retrieve returns the content stream and attributes for id
func (s *S3BlobStore) Retrieve(ctx context.Context, id string) (io.ReadCloser, *BlobAttributes, error) {
	output, err := s.s3Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id),
	})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get blob %s: %v", id, err)
	}

	return output.Body, decodeBlobAttributes(output.Metadata), nil
}

// Delete removes the object. Failure is reported as false, not an error;
// deleting an absent object succeeds.
func (s *S3BlobStore) Delete(ctx context.Context, id string) bool {
	_, err := s.s3Client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucketName),
		Key:    aws.String(id),
	})
	if err != nil && !isNoSuchKey(err) {
		log.Error().Err(err).Str("id", id).Msg("Failed to delete blob")
		return false
	}

	return true
}

// List enumerates every stored object with its attributes, following
// continuation tokens until the listing is exhausted
func (s *S3BlobStore) List(ctx context.Context) ([]*BlobEntry, error) {
	var entries []*BlobEntry
	var continuation *string

	for {
		output, err := s.s3Client.ListObjectsV2WithContext(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucketName),
			ContinuationToken: continuation,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to list blobs: %v", err)
		}

		for _, obj := range output.Contents {
			id := aws.StringValue(obj.Key)
			head, err := s.s3Client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
				Bucket: aws.String(s.bucketName),
				Key:    obj.Key,
			})
			if err != nil {
				// Deleted between list and head; skip it
				if isNoSuchKey(err) {
					continue
				}
				return nil, fmt.Errorf("failed to get blob metadata for %s: %v", id, err)
			}

			attrs := decodeBlobAttributes(head.Metadata)
			if attrs.Size == 0 {
				attrs.Size = aws.Int64Value(head.ContentLength)
			}
			entries = append(entries, &BlobEntry{ID: id, Attributes: *attrs})
		}

		if !aws.BoolValue(output.IsTruncated) {
			break
		}
		continuation = output.NextContinuationToken
	}

	return entries, nil
}

// encodeBlobAttributes converts attrs to S3 user metadata
func encodeBlobAttributes(attrs *BlobAttributes) map[string]*string {
	if attrs == nil {
		return nil
	}
	return map[string]*string{
		metaFilename:  aws.String(attrs.Filename),
		metaPath:      aws.String(attrs.Path),
		metaSize:      aws.String(strconv.FormatInt(attrs.Size, 10)),
		metaCreatedAt: aws.String(attrs.CreatedAt.UTC().Format(time.RFC3339)),
		metaPreview:   aws.String(strconv.FormatBool(attrs.PreviewEnabled)),
	}
}

// decodeBlobAttributes converts S3 user metadata back to attrs, defaulting
// anything absent or malformed
func decodeBlobAttributes(metadata map[string]*string) *BlobAttributes {
	attrs := &BlobAttributes{
		Filename: "unknown",
		Path:     "",
	}
	if v := metaValue(metadata, metaFilename); v != "" {
		attrs.Filename = v
	}
	attrs.Path = metaValue(metadata, metaPath)
	if v := metaValue(metadata, metaSize); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			attrs.Size = size
		}
	}
	if v := metaValue(metadata, metaCreatedAt); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			attrs.CreatedAt = t
		}
	}
	if v := metaValue(metadata, metaPreview); v != "" {
		attrs.PreviewEnabled = v == "true"
	}
	return attrs
}

// metaValue looks up a user metadata key case-insensitively; the SDK
// canonicalizes keys on the way back.
func metaValue(metadata map[string]*string, key string) string {
	for k, v := range metadata {
		if strings.EqualFold(k, key) && v != nil {
			return *v
		}
	}
	return ""
}

// isNoSuchKey reports whether err is S3's object-absent error
func isNoSuchKey(err error) bool {
	var aerr awserr.Error
	if errors.As(err, &aerr) {
		code := aerr.Code()
		return code == s3.ErrCodeNoSuchKey || code == "NotFound"
	}
	return false
}
