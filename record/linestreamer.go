package record

import (
	"context"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/gurre/s3streamer"
	"github.com/rs/zerolog"

	"github.com/gurre/sqs-s3-pipeline/reference"
)

// LineSource streams an object's content line by line, invoking fn once
// per line with the line's starting byte offset. S3Source adapts the
// s3streamer implementation; tests supply in-memory sources.
type LineSource interface {
	Stream(ctx context.Context, bucket, key string, offset int64, fn func(line []byte, byteOffset int64) error) error
}

// S3Source adapts an s3streamer.Streamer into a LineSource.
func S3Source(s s3streamer.Streamer) LineSource {
	return s3source{s: s}
}

type s3source struct {
	s s3streamer.Streamer
}

func (a s3source) Stream(ctx context.Context, bucket, key string, offset int64, fn func(line []byte, byteOffset int64) error) error {
	return a.s.Stream(ctx, bucket, key, offset, fn)
}

// LineStreamer decodes newline-delimited JSON objects straight from the
// object store, skipping temp-file materialization. It is an optional fast
// path for large line-oriented objects; the processor routes pointers to
// it when their key looks line-delimited (see IsLineDelimited).
// Example:
//
//	ls := record.NewLineStreamer(record.S3Source(s3streamer.NewS3Streamer(s3Client)), logger)
//	records, err := ls.Decode(ctx, ptr, schema)
type LineStreamer struct {
	source LineSource
	log    zerolog.Logger
}

// NewLineStreamer creates a LineStreamer on top of a line source.
func NewLineStreamer(source LineSource, log zerolog.Logger) *LineStreamer {
	return &LineStreamer{
		source: source,
		log:    log.With().Str("component", "linestreamer").Logger(),
	}
}

// IsLineDelimited reports whether an object key names a line-delimited
// JSON object.
func IsLineDelimited(key string) bool {
	return strings.HasSuffix(key, ".jsonl") || strings.HasSuffix(key, ".ndjson")
}

// Decode streams the object behind ptr line by line and validates each
// line against the schema. Blank lines are skipped; record positions count
// non-blank lines. The first violating record aborts the stream, matching
// the whole-message failure policy of the default parser.
func (l *LineStreamer) Decode(ctx context.Context, ptr reference.Pointer, schema Schema) ([]Record, error) {
	var records []Record

	err := l.source.Stream(ctx, ptr.Bucket, ptr.Key, 0, func(line []byte, byteOffset int64) error {
		if len(line) == 0 {
			return nil
		}

		var obj map[string]any
		if err := json.Unmarshal(line, &obj); err != nil {
			return &MalformedError{Source: ptr.Key, Err: err}
		}

		rec, err := schema.Apply(Record(obj), len(records))
		if err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	if err != nil {
		return nil, err
	}

	l.log.Debug().
		Str("bucket", ptr.Bucket).
		Str("key", ptr.Key).
		Int("records", len(records)).
		Msg("streamed line-delimited object")

	return records, nil
}
