package mock

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	ddbtypes "github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// DynamoDBClient is a mock implementation of the aws.DynamoDBClient
// interface. It records written items and can simulate throttling.
type DynamoDBClient struct {
	mu sync.Mutex

	// Items written via BatchWriteItem, in write order
	Written []map[string]ddbtypes.AttributeValue

	// Error injection
	Err error
	// Number of calls to throttle before succeeding
	ThrottleCount int
}

// NewDynamoDBClient creates an empty mock table.
func NewDynamoDBClient() *DynamoDBClient {
	return &DynamoDBClient{}
}

// BatchWriteItem records the put requests of every table in the input.
func (m *DynamoDBClient) BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.Err != nil {
		return nil, m.Err
	}
	if m.ThrottleCount > 0 {
		m.ThrottleCount--
		return nil, &ddbtypes.ProvisionedThroughputExceededException{}
	}

	for _, requests := range params.RequestItems {
		for _, req := range requests {
			if req.PutRequest != nil {
				m.Written = append(m.Written, req.PutRequest.Item)
			}
		}
	}

	return &dynamodb.BatchWriteItemOutput{}, nil
}

// WrittenItems returns a copy of the items written so far.
func (m *DynamoDBClient) WrittenItems() []map[string]ddbtypes.AttributeValue {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]ddbtypes.AttributeValue, len(m.Written))
	copy(out, m.Written)
	return out
}
