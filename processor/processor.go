// Package processor implements the batch orchestrator: it polls the
// queue once per call, drives each message through extraction, fetching,
// deserialization and an optional handler, applies the deletion policy,
// and returns results in receipt order.
//
// Messages within one batch are processed sequentially; concurrency comes
// from running multiple processors against the same queue, coordinated
// solely by the queue's visibility timeout.
package processor

import (
	"context"
	"fmt"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	json "github.com/goccy/go-json"
	"github.com/rs/zerolog"

	awsclient "github.com/gurre/sqs-s3-pipeline/aws"
	"github.com/gurre/sqs-s3-pipeline/config"
	"github.com/gurre/sqs-s3-pipeline/fetcher"
	"github.com/gurre/sqs-s3-pipeline/metrics"
	"github.com/gurre/sqs-s3-pipeline/record"
	"github.com/gurre/sqs-s3-pipeline/reference"
)

// Message is the raw envelope received from the queue: an opaque
// identifier, the receipt handle used only for delete/retain, and the
// decoded structured body. Body is nil when the wire body was not a JSON
// object.
type Message struct {
	ID            string
	ReceiptHandle string
	Body          map[string]any
	Attributes    map[string]string
}

// Result is the outcome of one message's processing attempt. Exactly one
// of the following holds: Success with a non-empty Records slice, or
// !Success with a non-nil Err.
type Result struct {
	MessageID string
	Success   bool
	Records   []record.Record
	Err       *Error
	Deleted   bool
}

// Decision is a handler's say on a message's disposition.
type Decision int

const (
	// DeferDefault leaves deletion to the AutoDelete policy.
	DeferDefault Decision = iota
	// DeleteMessage deletes the message regardless of success.
	DeleteMessage
	// RetainMessage keeps the message on the queue regardless of success.
	RetainMessage
)

// ResultHandler is invoked with each message's result before the deletion
// decision. Its Decision overrides the AutoDelete default; returning an
// error (or panicking) marks the message failed and retained so it is not
// silently dropped.
type ResultHandler func(ctx context.Context, res Result) (Decision, error)

// Processor drives the poll → extract → fetch → deserialize → handle →
// delete-or-retain cycle.
// Example:
//
//	proc, err := processor.New(cfg, sqsClient,
//	    fetcher.NewS3Fetcher(s3Client, cfg.TempDir, logger), schema,
//	    processor.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	results, err := proc.ProcessQueue(ctx, nil)
type Processor struct {
	cfg       config.Config
	queue     awsclient.SQSClient
	extractor reference.Extractor
	fetcher   fetcher.Fetcher
	parser    record.Parser
	schema    record.Schema
	lines     *record.LineStreamer
	metrics   *metrics.Metrics
	log       zerolog.Logger
}

// Option customizes a Processor at construction time.
type Option func(*Processor)

// WithExtractor replaces the built-in shape chain. Compose custom shapes
// ahead of the defaults with reference.Chain.
func WithExtractor(e reference.Extractor) Option {
	return func(p *Processor) { p.extractor = e }
}

// WithParser replaces the default JSON parser.
func WithParser(parser record.Parser) Option {
	return func(p *Processor) { p.parser = parser }
}

// WithLineStreaming enables direct streaming decode for messages whose
// pointers all name line-delimited JSON objects (.jsonl/.ndjson), skipping
// temp-file materialization for those messages.
func WithLineStreaming(ls *record.LineStreamer) Option {
	return func(p *Processor) { p.lines = ls }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(log zerolog.Logger) Option {
	return func(p *Processor) { p.log = log.With().Str("component", "processor").Logger() }
}

// WithMetrics sets the metrics collector shared with other components.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Processor) { p.metrics = m }
}

// New creates a Processor. The configuration is validated here so that a
// misconfigured pipeline fails at construction, not mid-batch.
func New(cfg config.Config, queue awsclient.SQSClient, fetch fetcher.Fetcher, schema record.Schema, opts ...Option) (*Processor, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if queue == nil {
		return nil, fmt.Errorf("queue client is required")
	}
	if fetch == nil {
		return nil, fmt.Errorf("fetcher is required")
	}

	p := &Processor{
		cfg:       cfg,
		queue:     queue,
		extractor: reference.Default(),
		fetcher:   fetch,
		parser:    record.NewJSONParser(),
		schema:    schema,
		metrics:   metrics.New(),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Metrics returns the processor's metrics collector.
func (p *Processor) Metrics() *metrics.Metrics {
	return p.metrics
}

// ProcessQueue performs one long poll and processes every received message
// to resolution, sequentially, in receipt order. Per-message failures are
// captured in the returned results; only a failure of the poll itself is
// returned as an error, since in that case no message was obtained.
func (p *Processor) ProcessQueue(ctx context.Context, handler ResultHandler) ([]Result, error) {
	out, err := p.queue.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:                    &p.cfg.QueueURL,
		MaxNumberOfMessages:         p.cfg.MaxMessages,
		WaitTimeSeconds:             int32(p.cfg.WaitTime / time.Second),
		VisibilityTimeout:           int32(p.cfg.VisibilityTimeout / time.Second),
		MessageSystemAttributeNames: []sqstypes.MessageSystemAttributeName{sqstypes.MessageSystemAttributeNameAll},
		MessageAttributeNames:       []string{"All"},
	})
	if err != nil {
		return nil, fmt.Errorf("polling queue: %w", err)
	}

	if len(out.Messages) == 0 {
		p.log.Debug().Msg("no messages to process")
		return nil, nil
	}

	p.metrics.RecordReceived(int64(len(out.Messages)))

	results := make([]Result, 0, len(out.Messages))
	for _, raw := range out.Messages {
		msg := decodeMessage(raw)
		start := time.Now()
		res := p.processMessage(ctx, msg, handler)
		p.metrics.RecordProcessingTime(time.Since(start))
		p.recordOutcome(res)
		results = append(results, res)
	}

	p.log.Info().
		Int("messages", len(results)).
		Msg("batch resolved")

	return results, nil
}

// processMessage drives a single message through the per-message state
// machine: Received → Extracting → Fetching → Deserializing → Handling →
// Resolved. The visibility timeout bounds the attempt; once it expires the
// queue will redeliver, so further work on the message is abandoned.
func (p *Processor) processMessage(ctx context.Context, msg Message, handler ResultHandler) Result {
	mctx := ctx
	if p.cfg.VisibilityTimeout > 0 {
		var cancel context.CancelFunc
		mctx, cancel = context.WithTimeout(ctx, p.cfg.VisibilityTimeout)
		defer cancel()
	}

	res := Result{MessageID: msg.ID}

	records, artifacts, perr := p.produceRecords(mctx, msg)
	switch {
	case perr != nil:
		res.Err = classify(msg.ID, perr)
	case len(records) == 0:
		res.Err = classify(msg.ID, record.ErrNoData)
	default:
		res.Success = true
		res.Records = records
	}

	if res.Err != nil {
		p.log.Error().
			Str("message_id", msg.ID).
			Str("kind", res.Err.Kind.String()).
			Err(res.Err.Err).
			Msg("message processing failed")
	}

	deleteMsg := p.cfg.AutoDelete && res.Success

	if handler != nil {
		decision, herr := invokeHandler(mctx, handler, res)
		if herr != nil {
			// Handler failure retains the message so it is not dropped
			res.Success = false
			res.Records = nil
			res.Err = &Error{Kind: KindHandler, MessageID: msg.ID, Err: herr}
			deleteMsg = false
			p.log.Error().Str("message_id", msg.ID).Err(herr).Msg("handler failed")
		} else {
			switch decision {
			case DeleteMessage:
				deleteMsg = true
			case RetainMessage:
				deleteMsg = false
			}
		}
	}

	p.cleanup(msg.ID, artifacts)

	if deleteMsg {
		// Deletion uses the batch context: the per-message budget may have
		// lapsed but acknowledging finished work is still worthwhile
		if err := p.deleteMessage(ctx, msg.ReceiptHandle); err != nil {
			p.log.Warn().Str("message_id", msg.ID).Err(err).Msg("failed to delete message")
			deleteMsg = false
		}
	}
	res.Deleted = deleteMsg

	return res
}

// produceRecords runs extraction, fetching and deserialization for one
// message. Artifacts downloaded so far are returned even on failure so the
// caller can clean them up.
func (p *Processor) produceRecords(ctx context.Context, msg Message) ([]record.Record, []fetcher.Artifact, error) {
	var ptrs []reference.Pointer
	var inline map[string]any
	if msg.Body != nil {
		ptrs = p.extractor.Extract(msg.Body)
		inline, _ = reference.InlinePayload(msg.Body)
	}

	if p.lines != nil && len(ptrs) > 0 && allLineDelimited(ptrs) {
		var records []record.Record
		for _, ptr := range ptrs {
			recs, err := p.lines.Decode(ctx, ptr, p.schema)
			if err != nil {
				return nil, nil, err
			}
			records = append(records, recs...)
		}
		return records, nil, nil
	}

	var artifacts []fetcher.Artifact
	for _, ptr := range ptrs {
		artifact, err := p.fetcher.Fetch(ctx, ptr)
		if err != nil {
			return nil, artifacts, err
		}
		artifacts = append(artifacts, artifact)
		p.metrics.RecordBytesDownloaded(artifact.Size)
	}

	records, err := p.parser.Parse(msg.Body, artifacts, inline, p.schema)
	if err != nil {
		return nil, artifacts, err
	}
	return records, artifacts, nil
}

// cleanup removes every downloaded artifact exactly once, success or
// failure, unless cleanup is disabled for debugging.
func (p *Processor) cleanup(messageID string, artifacts []fetcher.Artifact) {
	if !p.cfg.CleanupTempFiles {
		return
	}
	for _, artifact := range artifacts {
		if err := artifact.Remove(); err != nil {
			p.log.Warn().
				Str("message_id", messageID).
				Str("path", artifact.Path).
				Err(err).
				Msg("failed to remove temp file")
		}
	}
}

func (p *Processor) deleteMessage(ctx context.Context, receiptHandle string) error {
	_, err := p.queue.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      &p.cfg.QueueURL,
		ReceiptHandle: &receiptHandle,
	})
	return err
}

func (p *Processor) recordOutcome(res Result) {
	if res.Success {
		p.metrics.RecordSucceeded()
	} else {
		p.metrics.RecordFailed()
	}
	if res.Deleted {
		p.metrics.RecordDeleted()
	} else {
		p.metrics.RecordRetained()
	}
}

// invokeHandler calls the caller-supplied handler, converting a panic into
// an error so one bad handler cannot take down the batch.
func invokeHandler(ctx context.Context, handler ResultHandler, res Result) (decision Decision, err error) {
	defer func() {
		if r := recover(); r != nil {
			decision = DeferDefault
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, res)
}

// decodeMessage converts a wire message into the envelope the pipeline
// owns for the duration of one attempt. A body that is not a JSON object
// leaves Body nil; downstream resolves that as NoData.
func decodeMessage(raw sqstypes.Message) Message {
	msg := Message{
		ID:            awssdk.ToString(raw.MessageId),
		ReceiptHandle: awssdk.ToString(raw.ReceiptHandle),
		Attributes:    raw.Attributes,
	}
	if raw.Body != nil {
		var body map[string]any
		if err := json.Unmarshal([]byte(*raw.Body), &body); err == nil {
			msg.Body = body
		}
	}
	return msg
}

func allLineDelimited(ptrs []reference.Pointer) bool {
	for _, ptr := range ptrs {
		if !record.IsLineDelimited(ptr.Key) {
			return false
		}
	}
	return true
}
