// Package writer implements a DynamoDB sink for typed records produced by
// the pipeline. It can be driven directly or attached to the processor as
// a ResultHandler that persists each successful message's records.
package writer

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/rs/zerolog"

	awsclient "github.com/gurre/sqs-s3-pipeline/aws"
	"github.com/gurre/sqs-s3-pipeline/processor"
	"github.com/gurre/sqs-s3-pipeline/record"
)

// maxBatchSize is the DynamoDB BatchWriteItem limit.
const maxBatchSize = 25

// RecordWriter writes typed records to a DynamoDB table in batches,
// retrying throttled writes with exponential backoff.
// Example:
//
//	w := writer.NewRecordWriter(ddbClient, "processed-records", logger)
//	results, err := proc.ProcessQueue(ctx, w.Handler())
type RecordWriter struct {
	client    awsclient.DynamoDBClient
	tableName string
	log       zerolog.Logger
}

// NewRecordWriter creates a RecordWriter targeting tableName.
func NewRecordWriter(client awsclient.DynamoDBClient, tableName string, log zerolog.Logger) *RecordWriter {
	return &RecordWriter{
		client:    client,
		tableName: tableName,
		log:       log.With().Str("component", "writer").Str("table", tableName).Logger(),
	}
}

// isThrottlingError returns true for DynamoDB capacity errors, which are
// recoverable by waiting.
func isThrottlingError(err error) bool {
	var throughputErr *types.ProvisionedThroughputExceededException
	var requestLimitErr *types.RequestLimitExceeded
	return errors.As(err, &throughputErr) || errors.As(err, &requestLimitErr)
}

// backoffWait sleeps for an exponentially increasing duration with jitter.
// Returns false if the context is cancelled during the wait.
func backoffWait(ctx context.Context, attempt int) bool {
	base := 100 * time.Millisecond
	maxDelay := 30 * time.Second

	delay := base * time.Duration(1<<uint(attempt))
	if delay > maxDelay {
		delay = maxDelay
	}
	delay += time.Duration(rand.Int64N(int64(delay)))

	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}

// WriteBatch persists records to the table, splitting them into
// BatchWriteItem-sized chunks. Throttling retries indefinitely until the
// context is cancelled; other errors fail after a bounded retry count.
func (w *RecordWriter) WriteBatch(ctx context.Context, records []record.Record) error {
	if len(records) == 0 {
		return nil
	}

	for i := 0; i < len(records); i += maxBatchSize {
		end := i + maxBatchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[i:end]

		requests := make([]types.WriteRequest, 0, len(chunk))
		for _, rec := range chunk {
			item, err := attributevalue.MarshalMap(map[string]any(rec))
			if err != nil {
				return fmt.Errorf("marshaling record: %w", err)
			}
			requests = append(requests, types.WriteRequest{
				PutRequest: &types.PutRequest{Item: item},
			})
		}

		input := &dynamodb.BatchWriteItemInput{
			RequestItems: map[string][]types.WriteRequest{
				w.tableName: requests,
			},
		}

		const maxRetries = 5
		attempt := 0
		for {
			output, err := w.client.BatchWriteItem(ctx, input)
			if err != nil {
				if isThrottlingError(err) {
					if !backoffWait(ctx, attempt) {
						return ctx.Err()
					}
					attempt++
					continue
				}
				if attempt < maxRetries {
					if !backoffWait(ctx, attempt) {
						return ctx.Err()
					}
					attempt++
					continue
				}
				return fmt.Errorf("failed to write batch after %d retries: %w", maxRetries, err)
			}

			// Unprocessed items indicate throttling
			if len(output.UnprocessedItems) > 0 {
				input.RequestItems = output.UnprocessedItems
				if !backoffWait(ctx, attempt) {
					return ctx.Err()
				}
				attempt++
				continue
			}

			break
		}
	}

	return nil
}

// Handler returns a ResultHandler that persists each successful message's
// records and defers the deletion decision to the processor's policy. A
// write failure surfaces as a handler error, so the message is retained
// and redelivered rather than lost.
func (w *RecordWriter) Handler() processor.ResultHandler {
	return func(ctx context.Context, res processor.Result) (processor.Decision, error) {
		if !res.Success {
			return processor.DeferDefault, nil
		}
		if err := w.WriteBatch(ctx, res.Records); err != nil {
			return processor.DeferDefault, fmt.Errorf("persisting records for message %s: %w", res.MessageID, err)
		}
		w.log.Debug().
			Str("message_id", res.MessageID).
			Int("records", len(res.Records)).
			Msg("records persisted")
		return processor.DeferDefault, nil
	}
}
