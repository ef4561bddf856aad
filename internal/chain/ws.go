package chain

import "context"

// WSClient defines the EVM WebSocket subscription interface.
type WSClient interface {
	// SubscribeNewHeads subscribes to new block headers.
	// Notifications are coalesced: a slow reader sees the latest head, not every head.
	SubscribeNewHeads(ctx context.Context) (<-chan Head, error)

	// Close closes the WebSocket connection.
	Close() error
}
