// Package s3 is a blobstore.Backend that puts finalized blobs in an S3
// bucket while staging chunks locally (S3 multipart upload is not worth
// modeling for the chunk sizes this service deals with).
package s3

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"

	"github.com/marmos91/juicebox/pkg/blobstore"
	"github.com/marmos91/juicebox/pkg/blobstore/localfs"
)

// Config configures the S3-backed store.
type Config struct {
	Bucket string
	// Prefix is prepended to every object key, e.g. "juicebox/".
	Prefix string
	// Region overrides the SDK's default region resolution when set.
	Region string
	// ChunkDir is the local directory used for chunk staging.
	ChunkDir string
}

// Store implements blobstore.Backend with finalized blobs in S3 and chunk
// staging on the local filesystem.
type Store struct {
	client *s3.Client
	bucket string
	prefix string

	*localfs.ChunkStager
}

var _ blobstore.Backend = (*Store)(nil)

// New loads the default AWS credential chain and returns a ready Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("s3: Bucket is required")
	}
	var optFns []func(*awsconfig.LoadOptions) error
	if cfg.Region != "" {
		optFns = append(optFns, awsconfig.WithRegion(cfg.Region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, optFns...)
	if err != nil {
		return nil, fmt.Errorf("s3: load aws config: %w", err)
	}

	stager, err := localfs.NewChunkStager(cfg.ChunkDir, 0, 0)
	if err != nil {
		return nil, err
	}

	return &Store{
		client:      s3.NewFromConfig(awsCfg),
		bucket:      cfg.Bucket,
		prefix:      cfg.Prefix,
		ChunkStager: stager,
	}, nil
}

func (s *Store) key(storageName string) string {
	return s.prefix + storageName
}

// WriteBlob uploads r under storageName's key. The SDK handles the
// temp-then-commit semantics of a single PutObject call.
func (s *Store) WriteBlob(ctx context.Context, storageName string, r io.Reader) (int64, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("s3: read blob body for %s: %w", storageName, err)
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageName)),
		Body:   bytes.NewReader(b),
	})
	if err != nil {
		return 0, fmt.Errorf("s3: put object %s: %w", storageName, err)
	}
	return int64(len(b)), nil
}

// bufferedBlobWriter buffers writes in memory, then issues one PutObject on
// Commit. S3 has no rename primitive, so "temp then atomic rename" becomes
// "buffer then single put" — the object never exists half-written because
// PutObject either lands whole or not at all.
type bufferedBlobWriter struct {
	store       *Store
	storageName string
	buf         bytes.Buffer
	aborted     bool
}

func (w *bufferedBlobWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *bufferedBlobWriter) Commit(ctx context.Context) error {
	if w.aborted {
		return fmt.Errorf("s3: commit called after abort")
	}
	_, err := w.store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(w.store.bucket),
		Key:    aws.String(w.store.key(w.storageName)),
		Body:   bytes.NewReader(w.buf.Bytes()),
	})
	if err != nil {
		return fmt.Errorf("s3: commit blob %s: %w", w.storageName, err)
	}
	return nil
}

func (w *bufferedBlobWriter) Abort(context.Context) error {
	w.aborted = true
	w.buf.Reset()
	return nil
}

// CreateBlobWriter returns a buffered writer; nothing is uploaded until
// Commit.
func (s *Store) CreateBlobWriter(_ context.Context, storageName string) (blobstore.BlobWriter, error) {
	return &bufferedBlobWriter{store: s, storageName: storageName}, nil
}

// OpenBlob opens a finalized blob for reading.
func (s *Store) OpenBlob(ctx context.Context, storageName string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageName)),
	})
	if err != nil {
		if isNotFound(err) {
			return nil, os.ErrNotExist
		}
		return nil, fmt.Errorf("s3: get object %s: %w", storageName, err)
	}
	return out.Body, nil
}

// StatBlob returns the byte size of a finalized blob.
func (s *Store) StatBlob(ctx context.Context, storageName string) (int64, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageName)),
	})
	if err != nil {
		if isNotFound(err) {
			return 0, os.ErrNotExist
		}
		return 0, fmt.Errorf("s3: head object %s: %w", storageName, err)
	}
	if out.ContentLength == nil {
		return 0, nil
	}
	return *out.ContentLength, nil
}

// DeleteBlob removes a finalized blob. Absence is not an error (S3 DeleteObject
// is already idempotent).
func (s *Store) DeleteBlob(ctx context.Context, storageName string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(storageName)),
	})
	if err != nil {
		return fmt.Errorf("s3: delete object %s: %w", storageName, err)
	}
	return nil
}

// ListBlobs returns every finalized storage name under the configured
// prefix.
func (s *Store) ListBlobs(ctx context.Context) ([]string, error) {
	var names []string
	var token *string
	for {
		out, err := s.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(s.bucket),
			Prefix:            aws.String(s.prefix),
			ContinuationToken: token,
		})
		if err != nil {
			return nil, fmt.Errorf("s3: list objects: %w", err)
		}
		for _, obj := range out.Contents {
			if obj.Key == nil {
				continue
			}
			names = append(names, (*obj.Key)[len(s.prefix):])
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		token = out.NextContinuationToken
	}
	return names, nil
}

func isNotFound(err error) bool {
	var nf *types.NoSuchKey
	if errors.As(err, &nf) {
		return true
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == "NotFound" || apiErr.ErrorCode() == "NoSuchKey"
	}
	return false
}
