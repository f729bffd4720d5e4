// Package fetcher implements downloading referenced objects into uniquely
// named temporary files. Each downloaded artifact is exclusively owned by
// the caller for one processing attempt; a failed download never leaves a
// partial file behind.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	awsclient "github.com/gurre/sqs-s3-pipeline/aws"
	"github.com/gurre/sqs-s3-pipeline/reference"
)

// Artifact is the local materialization of a pointer: an absolute path to
// a temp file plus the pointer it came from. The file is owned by whoever
// holds the Artifact and must be removed exactly once.
type Artifact struct {
	Path    string            // Absolute path of the temp file
	Pointer reference.Pointer // Originating pointer
	Size    int64             // Bytes written
}

// Remove deletes the artifact's temp file. Missing files are not an error
// so that cleanup after a failed download stays idempotent.
func (a Artifact) Remove() error {
	if err := os.Remove(a.Path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// NotFoundError reports that the referenced bucket or key does not exist.
type NotFoundError struct {
	Pointer reference.Pointer
	Err     error
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("object s3://%s/%s not found: %v", e.Pointer.Bucket, e.Pointer.Key, e.Err)
}

func (e *NotFoundError) Unwrap() error { return e.Err }

// TransientError reports a retryable store condition such as throttling or
// a timeout. The message will be redelivered after the visibility timeout.
type TransientError struct {
	Pointer reference.Pointer
	Err     error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient failure fetching s3://%s/%s: %v", e.Pointer.Bucket, e.Pointer.Key, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// FatalError reports a permission or configuration problem that retrying
// will not fix.
type FatalError struct {
	Pointer reference.Pointer
	Err     error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("fatal failure fetching s3://%s/%s: %v", e.Pointer.Bucket, e.Pointer.Key, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// Fetcher retrieves the bytes behind a pointer into a scoped temp file.
type Fetcher interface {
	Fetch(ctx context.Context, ptr reference.Pointer) (Artifact, error)
}

// S3Fetcher implements Fetcher against the object store client.
// Example:
//
//	f := fetcher.NewS3Fetcher(s3Client, os.TempDir(), logger)
//	artifact, err := f.Fetch(ctx, ptr)
//	if err != nil {
//	    var nf *fetcher.NotFoundError
//	    if errors.As(err, &nf) { ... }
//	}
//	defer artifact.Remove()
type S3Fetcher struct {
	client  awsclient.S3Client
	tempDir string
	log     zerolog.Logger
}

// NewS3Fetcher creates an S3Fetcher writing temp files under tempDir.
func NewS3Fetcher(client awsclient.S3Client, tempDir string, log zerolog.Logger) *S3Fetcher {
	return &S3Fetcher{
		client:  client,
		tempDir: tempDir,
		log:     log.With().Str("component", "fetcher").Logger(),
	}
}

// Fetch downloads the object behind ptr into a collision-free temp file and
// returns ownership of that file to the caller. On any failure the partial
// file, if one was created, is removed before the error propagates.
func (f *S3Fetcher) Fetch(ctx context.Context, ptr reference.Pointer) (Artifact, error) {
	input := &s3.GetObjectInput{
		Bucket: &ptr.Bucket,
		Key:    &ptr.Key,
	}
	if ptr.VersionID != "" {
		input.VersionId = &ptr.VersionID
	}

	resp, err := f.client.GetObject(ctx, input)
	if err != nil {
		return Artifact{}, classify(ptr, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// uuid prefix keeps names collision-free across concurrent messages
	path := filepath.Join(f.tempDir, uuid.NewString()+"_"+filepath.Base(ptr.Key))

	file, err := os.Create(path)
	if err != nil {
		return Artifact{}, &FatalError{Pointer: ptr, Err: fmt.Errorf("creating temp file: %w", err)}
	}

	n, err := io.Copy(file, resp.Body)
	closeErr := file.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(path)
		return Artifact{}, classify(ptr, fmt.Errorf("writing temp file: %w", err))
	}

	f.log.Debug().
		Str("bucket", ptr.Bucket).
		Str("key", ptr.Key).
		Str("path", path).
		Int64("bytes", n).
		Msg("downloaded object")

	return Artifact{Path: path, Pointer: ptr, Size: n}, nil
}

// transientCodes are store error codes that indicate a retryable condition.
var transientCodes = map[string]bool{
	"SlowDown":                true,
	"Throttling":              true,
	"ThrottlingException":     true,
	"RequestTimeout":          true,
	"RequestTimeoutException": true,
	"InternalError":           true,
	"ServiceUnavailable":      true,
}

// classify maps a store error onto the fetch error taxonomy.
// Context cancellation propagates untouched so callers can detect it.
func classify(ptr reference.Pointer, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var noSuchKey *s3types.NoSuchKey
	var noSuchBucket *s3types.NoSuchBucket
	var notFound *s3types.NotFound
	if errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket) || errors.As(err, &notFound) {
		return &NotFoundError{Pointer: ptr, Err: err}
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		if transientCodes[apiErr.ErrorCode()] {
			return &TransientError{Pointer: ptr, Err: err}
		}
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() >= 500 {
			return &TransientError{Pointer: ptr, Err: err}
		}
		// Remaining API errors are permission or configuration problems
		return &FatalError{Pointer: ptr, Err: err}
	}

	// Non-API errors are connection-level and worth a redelivery
	return &TransientError{Pointer: ptr, Err: err}
}
