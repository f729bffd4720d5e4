package processor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gurre/sqs-s3-pipeline/config"
	"github.com/gurre/sqs-s3-pipeline/fetcher"
	"github.com/gurre/sqs-s3-pipeline/integration/mock"
	"github.com/gurre/sqs-s3-pipeline/processor"
	"github.com/gurre/sqs-s3-pipeline/record"
	"github.com/gurre/sqs-s3-pipeline/reference"
)

type testPipeline struct {
	queue   *mock.SQSClient
	store   *mock.S3Client
	tempDir string
	cfg     config.Config
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()
	cfg := config.Default()
	cfg.QueueURL = "https://sqs.eu-west-1.amazonaws.com/123456789012/test-queue"
	cfg.Region = "eu-west-1"
	cfg.TempDir = t.TempDir()
	return &testPipeline{
		queue:   mock.NewSQSClient(),
		store:   mock.NewS3Client(),
		tempDir: cfg.TempDir,
		cfg:     cfg,
	}
}

func (tp *testPipeline) processor(t *testing.T, opts ...processor.Option) *processor.Processor {
	t.Helper()
	schema := record.Schema{Fields: []record.Field{
		{Name: "id", Type: record.String, Required: true},
	}}
	fetch := fetcher.NewS3Fetcher(tp.store, tp.tempDir, zerolog.Nop())
	proc, err := processor.New(tp.cfg, tp.queue, fetch, schema, opts...)
	require.NoError(t, err)
	return proc
}

func TestProcessQueueDirectShape(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("data-bucket", "batch.json", []byte(`[{"id":"1"},{"id":"2"}]`))
	tp.queue.Enqueue(`{"s3":{"bucket":"data-bucket","key":"batch.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.True(t, res.Success)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "1", res.Records[0]["id"])
	assert.Equal(t, "2", res.Records[1]["id"])
	assert.True(t, res.Deleted)
	assert.Len(t, tp.queue.DeletedHandles(), 1)
}

func TestProcessQueueMissingObjectRetains(t *testing.T) {
	tp := newTestPipeline(t)
	tp.queue.Enqueue(`{"s3":{"bucket":"data-bucket","key":"gone.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.Success)
	assert.Nil(t, res.Records)
	require.NotNil(t, res.Err)
	assert.Equal(t, processor.KindNotFound, res.Err.Kind)
	assert.False(t, res.Deleted)
	assert.Empty(t, tp.queue.DeletedHandles())
}

func TestProcessQueueInlinePayload(t *testing.T) {
	tp := newTestPipeline(t)
	tp.queue.Enqueue(`{"data":{"id":"inline-1"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	require.Len(t, results[0].Records, 1)
	assert.Equal(t, "inline-1", results[0].Records[0]["id"])
}

func TestProcessQueueSchemaViolationFailsWholeMessage(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("data-bucket", "batch.json", []byte(`[{"id":"1"},{"name":"no id"}]`))
	tp.queue.Enqueue(`{"s3":{"bucket":"data-bucket","key":"batch.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.Success)
	assert.Nil(t, res.Records, "no partial records on schema failure")
	require.NotNil(t, res.Err)
	assert.Equal(t, processor.KindSchema, res.Err.Kind)
	assert.False(t, res.Deleted)
}

func TestProcessQueueFileListOrder(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "first.json", []byte(`{"id":"1"}`))
	tp.store.Put("b", "second.json", []byte(`[{"id":"2"},{"id":"3"}]`))
	tp.queue.Enqueue(`{"files":[{"bucket":"b","key":"first.json"},{"bucket":"b","key":"second.json"}]}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Len(t, results[0].Records, 3)
	for i, want := range []string{"1", "2", "3"} {
		assert.Equal(t, want, results[0].Records[i]["id"])
	}
}

func TestProcessQueueResultPerMessageInOrder(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	id1 := tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)
	id2 := tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"missing.json"}}`)
	id3 := tp.queue.Enqueue(`{"data":{"id":"inline"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, id1, results[0].MessageID)
	assert.Equal(t, id2, results[1].MessageID)
	assert.Equal(t, id3, results[2].MessageID)
	assert.True(t, results[0].Success)
	assert.False(t, results[1].Success)
	assert.True(t, results[2].Success)
}

// One failing message does not stop the rest of the batch, and deletions
// track per-message outcomes.
func TestProcessQueueMixedBatchDeletions(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"missing.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Len(t, tp.queue.DeletedHandles(), 1)
	assert.True(t, results[0].Deleted)
	assert.False(t, results[1].Deleted)
}

func TestProcessQueueUnrecognizedBodyIsNoData(t *testing.T) {
	tp := newTestPipeline(t)

	tests := []struct {
		name string
		body string
	}{
		{"no known shape", `{"hello":"world"}`},
		{"non-json body", `plain text`},
		{"json array body", `[1,2,3]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tp.queue.Enqueue(tc.body)
			results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.False(t, results[0].Success)
			require.NotNil(t, results[0].Err)
			assert.Equal(t, processor.KindNoData, results[0].Err.Kind)
			assert.False(t, results[0].Deleted)
		})
	}
}

func TestProcessQueueEmptyArrayIsNoData(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "empty.json", []byte(`[]`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"empty.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, processor.KindNoData, results[0].Err.Kind)
}

func TestProcessQueuePollErrorReturns(t *testing.T) {
	tp := newTestPipeline(t)
	tp.queue.ReceiveErr = errors.New("connection refused")

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	assert.Error(t, err)
	assert.Nil(t, results)
}

func TestProcessQueueEmptyPoll(t *testing.T) {
	tp := newTestPipeline(t)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestProcessQueueAutoDeleteDisabled(t *testing.T) {
	tp := newTestPipeline(t)
	tp.cfg.AutoDelete = false
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success)
	assert.False(t, results[0].Deleted)
	assert.Empty(t, tp.queue.DeletedHandles())
}

func TestProcessQueueHandlerDecisions(t *testing.T) {
	t.Run("retain overrides auto delete", func(t *testing.T) {
		tp := newTestPipeline(t)
		tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
		tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

		handler := func(ctx context.Context, res processor.Result) (processor.Decision, error) {
			return processor.RetainMessage, nil
		}
		results, err := tp.processor(t).ProcessQueue(context.Background(), handler)
		require.NoError(t, err)
		assert.True(t, results[0].Success)
		assert.False(t, results[0].Deleted)
	})

	t.Run("delete overrides failure retention", func(t *testing.T) {
		tp := newTestPipeline(t)
		tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"missing.json"}}`)

		handler := func(ctx context.Context, res processor.Result) (processor.Decision, error) {
			return processor.DeleteMessage, nil
		}
		results, err := tp.processor(t).ProcessQueue(context.Background(), handler)
		require.NoError(t, err)
		assert.False(t, results[0].Success)
		assert.True(t, results[0].Deleted)
		assert.Len(t, tp.queue.DeletedHandles(), 1)
	})

	t.Run("defer keeps auto delete", func(t *testing.T) {
		tp := newTestPipeline(t)
		tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
		tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

		handler := func(ctx context.Context, res processor.Result) (processor.Decision, error) {
			return processor.DeferDefault, nil
		}
		results, err := tp.processor(t).ProcessQueue(context.Background(), handler)
		require.NoError(t, err)
		assert.True(t, results[0].Deleted)
	})
}

func TestProcessQueueHandlerErrorRetains(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

	handler := func(ctx context.Context, res processor.Result) (processor.Decision, error) {
		return processor.DeleteMessage, fmt.Errorf("downstream write failed")
	}
	results, err := tp.processor(t).ProcessQueue(context.Background(), handler)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.Success)
	assert.Nil(t, res.Records)
	require.NotNil(t, res.Err)
	assert.Equal(t, processor.KindHandler, res.Err.Kind)
	assert.False(t, res.Deleted)
	assert.Empty(t, tp.queue.DeletedHandles())
}

func TestProcessQueueHandlerPanicRetains(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

	handler := func(ctx context.Context, res processor.Result) (processor.Decision, error) {
		panic("boom")
	}
	results, err := tp.processor(t).ProcessQueue(context.Background(), handler)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Success)
	assert.Equal(t, processor.KindHandler, results[0].Err.Kind)
	assert.False(t, results[0].Deleted)
}

func TestProcessQueueDeleteFailureReportedNotDeleted(t *testing.T) {
	tp := newTestPipeline(t)
	tp.queue.DeleteErr = errors.New("receipt handle expired")
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Success, "delete failure does not undo processing")
	assert.False(t, results[0].Deleted)
}

// slowFetcher blocks until the per-message context expires, simulating a
// download that outlives the visibility budget.
type slowFetcher struct{}

func (slowFetcher) Fetch(ctx context.Context, ptr reference.Pointer) (fetcher.Artifact, error) {
	<-ctx.Done()
	return fetcher.Artifact{}, ctx.Err()
}

func TestProcessQueueVisibilityDeadline(t *testing.T) {
	tp := newTestPipeline(t)
	tp.cfg.VisibilityTimeout = time.Second
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"slow.json"}}`)

	schema := record.Schema{}
	proc, err := processor.New(tp.cfg, tp.queue, slowFetcher{}, schema)
	require.NoError(t, err)

	results, err := proc.ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)

	res := results[0]
	assert.False(t, res.Success)
	require.NotNil(t, res.Err)
	assert.Equal(t, processor.KindDeadline, res.Err.Kind)
	assert.False(t, res.Deleted, "an abandoned message stays queued for redelivery")
}

func TestProcessQueueCleansTempFiles(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.store.Put("b", "bad.json", []byte(`{"name":"no id"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"bad.json"}}`)

	_, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(tp.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "temp files removed on success and failure alike")
}

func TestProcessQueueKeepsTempFilesWhenDisabled(t *testing.T) {
	tp := newTestPipeline(t)
	tp.cfg.CleanupTempFiles = false
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)

	_, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)

	entries, err := os.ReadDir(tp.tempDir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestProcessQueueShapePriority(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "direct.json", []byte(`{"id":"direct"}`))
	tp.store.Put("b", "listed.json", []byte(`{"id":"listed"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"direct.json"},"files":[{"bucket":"b","key":"listed.json"}]}`)

	results, err := tp.processor(t).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Len(t, results[0].Records, 1)
	assert.Equal(t, "direct", results[0].Records[0]["id"])
}

func TestProcessQueueLineStreamingPath(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "events.jsonl", []byte("{\"id\":\"1\"}\n{\"id\":\"2\"}\n"))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"events.jsonl"}}`)

	ls := record.NewLineStreamer(tp.store, zerolog.Nop())
	results, err := tp.processor(t, processor.WithLineStreaming(ls)).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Len(t, results[0].Records, 2)

	entries, err := os.ReadDir(tp.tempDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "streaming decode writes no temp files")
}

// Mixed pointer suffixes fall back to the download path so record order
// is preserved across artifacts.
func TestProcessQueueMixedSuffixesUseDownloadPath(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "events.jsonl", []byte(`{"id":"1"}`))
	tp.store.Put("b", "batch.json", []byte(`{"id":"2"}`))
	tp.queue.Enqueue(`{"files":[{"bucket":"b","key":"events.jsonl"},{"bucket":"b","key":"batch.json"}]}`)

	ls := record.NewLineStreamer(tp.store, zerolog.Nop())
	results, err := tp.processor(t, processor.WithLineStreaming(ls)).ProcessQueue(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.True(t, results[0].Success)
	require.Len(t, results[0].Records, 2)
	assert.Equal(t, "1", results[0].Records[0]["id"])
	assert.Equal(t, "2", results[0].Records[1]["id"])
}

func TestProcessQueueMetrics(t *testing.T) {
	tp := newTestPipeline(t)
	tp.store.Put("b", "ok.json", []byte(`{"id":"ok"}`))
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"ok.json"}}`)
	tp.queue.Enqueue(`{"s3":{"bucket":"b","key":"missing.json"}}`)

	proc := tp.processor(t)
	_, err := proc.ProcessQueue(context.Background(), nil)
	require.NoError(t, err)

	report := proc.Metrics().GenerateReport()
	assert.Equal(t, int64(2), report.Received)
	assert.Equal(t, int64(1), report.Succeeded)
	assert.Equal(t, int64(1), report.Failed)
	assert.Equal(t, int64(1), report.Deleted)
	assert.Equal(t, int64(1), report.Retained)
	assert.Equal(t, int64(len(`{"id":"ok"}`)), report.BytesDownloaded)
}

func TestNewValidatesConfiguration(t *testing.T) {
	tp := newTestPipeline(t)
	bad := tp.cfg
	bad.QueueURL = ""

	fetch := fetcher.NewS3Fetcher(tp.store, tp.tempDir, zerolog.Nop())
	_, err := processor.New(bad, tp.queue, fetch, record.Schema{})
	assert.Error(t, err)

	_, err = processor.New(tp.cfg, nil, fetch, record.Schema{})
	assert.Error(t, err)

	_, err = processor.New(tp.cfg, tp.queue, nil, record.Schema{})
	assert.Error(t, err)
}
