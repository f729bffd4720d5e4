package mock

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Client is a mock implementation of the aws.S3Client interface, backed
// by an in-memory bucket/key map. It also implements record.LineSource so
// stream-path tests can reuse it.
type S3Client struct {
	mu sync.Mutex

	// Maps "bucket/key" to object content
	Objects map[string][]byte

	// Error injection per "bucket/key"; takes precedence over Objects
	Errors map[string]error
}

// NewS3Client creates an empty mock object store.
func NewS3Client() *S3Client {
	return &S3Client{
		Objects: make(map[string][]byte),
		Errors:  make(map[string]error),
	}
}

// Put stores content under bucket/key.
func (m *S3Client) Put(bucket, key string, content []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Objects[bucket+"/"+key] = content
}

// FailWith makes GetObject for bucket/key return err.
func (m *S3Client) FailWith(bucket, key string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Errors[bucket+"/"+key] = err
}

// GetObject serves the stored content, or NoSuchKey when absent.
func (m *S3Client) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bucketKey := awssdk.ToString(params.Bucket) + "/" + awssdk.ToString(params.Key)

	if err, ok := m.Errors[bucketKey]; ok {
		return nil, err
	}

	content, ok := m.Objects[bucketKey]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(content)),
		ContentLength: awssdk.Int64(int64(len(content))),
	}, nil
}

// Stream serves the stored content line by line, satisfying the
// record.LineSource contract for stream-path tests.
func (m *S3Client) Stream(ctx context.Context, bucket, key string, offset int64, fn func([]byte, int64) error) error {
	m.mu.Lock()
	content, ok := m.Objects[bucket+"/"+key]
	err, injected := m.Errors[bucket+"/"+key]
	m.mu.Unlock()

	if injected {
		return err
	}
	if !ok {
		return fmt.Errorf("mock S3: key not found: %s/%s", bucket, key)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	// Byte offsets, not line numbers: the offset names where a line starts
	// and resuming skips lines that begin before it
	byteOffset := int64(0)
	for scanner.Scan() {
		line := scanner.Bytes()
		if byteOffset >= offset {
			if err := fn(line, byteOffset); err != nil {
				return err
			}
		}
		byteOffset += int64(len(line)) + 1

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}

	return scanner.Err()
}
