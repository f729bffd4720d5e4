// Package aws provides the interfaces the pipeline needs from AWS services,
// along with thin implementations backed by the AWS SDK. All other packages
// depend on these interfaces so that tests can substitute mocks.
package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
)

// SQSClient defines the queue operations the batch processor consumes:
// long-poll receive and deletion of acknowledged messages.
type SQSClient interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// S3Client defines the object-store operations needed to materialize
// referenced objects into temp files.
type S3Client interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// DynamoDBClient defines the operations the record writer needs to persist
// typed records produced by the pipeline.
type DynamoDBClient interface {
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// IAMClient defines the operations used for preflight permission checks.
type IAMClient interface {
	SimulatePrincipalPolicy(ctx context.Context, params *iam.SimulatePrincipalPolicyInput, optFns ...func(*iam.Options)) (*iam.SimulatePrincipalPolicyOutput, error)
}

// Compile-time interface checks to ensure implementations satisfy interfaces
var (
	_ SQSClient      = (*SQSClientImpl)(nil)
	_ S3Client       = (*S3ClientImpl)(nil)
	_ DynamoDBClient = (*DynamoDBClientImpl)(nil)
	_ IAMClient      = (*IAMClientImpl)(nil)

	// AWS SDK interface checks to ensure SDK clients satisfy interfaces
	_ SQSClient      = (*sqs.Client)(nil)
	_ S3Client       = (*s3.Client)(nil)
	_ DynamoDBClient = (*dynamodb.Client)(nil)
	_ IAMClient      = (*iam.Client)(nil)
)
