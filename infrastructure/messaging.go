package infrastructure

import (
	"context"
)

// MessagePublisher delivers a payload to a subject without waiting for a consumer
type MessagePublisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// MessageRequester sends a request and waits for a single reply
type MessageRequester interface {
	Request(ctx context.Context, subject string, data []byte) ([]byte, error)
}

var (
	_ MessagePublisher = (*NATSClient)(nil)
	_ MessageRequester = (*NATSClient)(nil)
)
