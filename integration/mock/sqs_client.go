// Package mock provides hand-written AWS client mocks for testing the
// pipeline without network access.
package mock

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqstypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/google/uuid"
)

// SQSClient is a mock implementation of the aws.SQSClient interface. It
// serves queued messages in FIFO order and records deletions.
type SQSClient struct {
	mu sync.Mutex

	// Pending messages served by ReceiveMessage
	Queue []sqstypes.Message
	// Receipt handles passed to DeleteMessage, in call order
	Deleted []string

	// Error injection
	ReceiveErr error
	DeleteErr  error
}

// NewSQSClient creates an empty mock queue.
func NewSQSClient() *SQSClient {
	return &SQSClient{}
}

// Enqueue appends a message with the given body and returns its generated
// message ID. The receipt handle is "rh-" + the message ID.
func (m *SQSClient) Enqueue(body string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.NewString()
	rh := "rh-" + id
	m.Queue = append(m.Queue, sqstypes.Message{
		MessageId:     &id,
		ReceiptHandle: &rh,
		Body:          &body,
	})
	return id
}

// ReceiveMessage pops up to MaxNumberOfMessages from the mock queue.
func (m *SQSClient) ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.ReceiveErr != nil {
		return nil, m.ReceiveErr
	}

	n := int(params.MaxNumberOfMessages)
	if n <= 0 || n > len(m.Queue) {
		n = len(m.Queue)
	}

	batch := make([]sqstypes.Message, n)
	copy(batch, m.Queue[:n])
	m.Queue = m.Queue[n:]

	return &sqs.ReceiveMessageOutput{Messages: batch}, nil
}

// DeleteMessage records the receipt handle of the deleted message.
func (m *SQSClient) DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.DeleteErr != nil {
		return nil, m.DeleteErr
	}

	m.Deleted = append(m.Deleted, *params.ReceiptHandle)
	return &sqs.DeleteMessageOutput{}, nil
}

// DeletedHandles returns a copy of the receipt handles deleted so far.
func (m *SQSClient) DeletedHandles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Deleted))
	copy(out, m.Deleted)
	return out
}
