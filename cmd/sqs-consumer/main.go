// Package main implements a demo consumer for the queue processing
// pipeline. It polls the queue in a loop until interrupted, optionally
// persisting records to DynamoDB, and prints a metrics report on exit.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	json "github.com/goccy/go-json"
	"github.com/gurre/s3streamer"
	"github.com/rs/zerolog"

	"github.com/gurre/sqs-s3-pipeline/aws"
	"github.com/gurre/sqs-s3-pipeline/config"
	"github.com/gurre/sqs-s3-pipeline/fetcher"
	"github.com/gurre/sqs-s3-pipeline/preflight"
	"github.com/gurre/sqs-s3-pipeline/processor"
	"github.com/gurre/sqs-s3-pipeline/record"
	"github.com/gurre/sqs-s3-pipeline/writer"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run parses flags on top of the environment defaults, wires the pipeline,
// and polls until interrupted.
func run() error {
	// Environment is read once here at the process boundary
	cfg := config.FromEnv()

	fs := flag.NewFlagSet("sqs-consumer", flag.ExitOnError)

	queueURL := fs.String("queue", cfg.QueueURL, "SQS queue URL (defaults to SQS_QUEUE_URL env)")
	region := fs.String("region", cfg.Region, "AWS region (defaults to AWS_REGION env)")
	schemaPath := fs.String("schema", "", "Path to a JSON schema file for record validation")
	tableName := fs.String("table", "", "DynamoDB table to persist records to (optional)")
	maxMessages := fs.Int("max", int(cfg.MaxMessages), "Maximum messages per poll (1-10)")
	waitTime := fs.Duration("wait", cfg.WaitTime, "Long-poll duration (0-20s)")
	visibility := fs.Duration("visibility", cfg.VisibilityTimeout, "Visibility timeout")
	noAutoDelete := fs.Bool("no-auto-delete", false, "Keep messages on the queue even on success")
	keepTempFiles := fs.Bool("keep-temp-files", false, "Keep downloaded temp files for debugging")
	streamLines := fs.Bool("stream-lines", false, "Stream-decode .jsonl/.ndjson objects without temp files")
	once := fs.Bool("once", false, "Poll once and exit instead of looping")
	principalARN := fs.String("principal", "", "Principal ARN for IAM preflight check (optional)")
	queueARN := fs.String("queue-arn", "", "Queue ARN for the preflight check")
	bucketARN := fs.String("bucket-arn", "", "Bucket ARN for the preflight check")

	if err := fs.Parse(os.Args[1:]); err != nil {
		return fmt.Errorf("failed to parse flags: %w", err)
	}

	cfg.QueueURL = *queueURL
	cfg.Region = *region
	cfg.MaxMessages = int32(*maxMessages)
	cfg.WaitTime = *waitTime
	cfg.VisibilityTimeout = *visibility
	cfg.AutoDelete = !*noAutoDelete
	cfg.CleanupTempFiles = cfg.CleanupTempFiles && !*keepTempFiles

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	var schema record.Schema
	if *schemaPath != "" {
		data, err := os.ReadFile(*schemaPath)
		if err != nil {
			return fmt.Errorf("reading schema file: %w", err)
		}
		if err := json.Unmarshal(data, &schema); err != nil {
			return fmt.Errorf("parsing schema file: %w", err)
		}
	}

	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(cfg.Region),
	)
	if err != nil {
		return fmt.Errorf("failed to load AWS config: %w", err)
	}

	sqsClient := aws.NewSQSClient(sqs.NewFromConfig(awsCfg))
	rawS3Client := s3.NewFromConfig(awsCfg)
	s3Client := aws.NewS3Client(rawS3Client)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, os.Kill)
	defer cancel()

	if *principalARN != "" {
		checker := preflight.NewChecker(aws.NewIAMClient(iam.NewFromConfig(awsCfg)))
		if err := checker.Check(ctx, *principalARN, *queueARN, *bucketARN); err != nil {
			return fmt.Errorf("preflight check failed: %w", err)
		}
		logger.Info().Str("principal", *principalARN).Msg("preflight check passed")
	}

	opts := []processor.Option{processor.WithLogger(logger)}
	if *streamLines {
		ls := record.NewLineStreamer(record.S3Source(s3streamer.NewS3Streamer(rawS3Client)), logger)
		opts = append(opts, processor.WithLineStreaming(ls))
	}

	proc, err := processor.New(cfg, sqsClient,
		fetcher.NewS3Fetcher(s3Client, cfg.TempDir, logger), schema, opts...)
	if err != nil {
		return fmt.Errorf("failed to create processor: %w", err)
	}

	var handler processor.ResultHandler
	if *tableName != "" {
		ddbClient := aws.NewDynamoDBClient(dynamodb.NewFromConfig(awsCfg))
		handler = writer.NewRecordWriter(ddbClient, *tableName, logger).Handler()
	}

	fmt.Printf("Consuming from %s\n", cfg.QueueURL)

	for {
		results, err := proc.ProcessQueue(ctx, handler)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			logger.Error().Err(err).Msg("poll failed")
			// Back off briefly so a broken queue does not spin the loop
			select {
			case <-time.After(5 * time.Second):
			case <-ctx.Done():
			}
		}

		for _, res := range results {
			if !res.Success {
				logger.Warn().
					Str("message_id", res.MessageID).
					Str("kind", res.Err.Kind.String()).
					Bool("deleted", res.Deleted).
					Msg("message failed")
			}
		}

		if *once || ctx.Err() != nil {
			break
		}
	}

	report := proc.Metrics().GenerateReport()
	fmt.Println(report)

	return nil
}
