// Package push implements the client side of the push transports served by
// pushd: Server-Sent Events and WebSocket.
package push

import "context"

// Stream is one live push connection. Recv blocks until the next message
// payload arrives; any error means the connection is gone.
type Stream interface {
	Recv() ([]byte, error)
	Close() error
}

// Transport opens push connections authenticated with a session token.
type Transport interface {
	Connect(ctx context.Context, token string) (Stream, error)
}
