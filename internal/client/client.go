// Package client defines the common interface for gateway clients.
package client

import (
	"context"

	"github.com/omochice/pvpgn-gateway/pkg/protocol"
)

// Client defines the interface for gateway clients.
// Both TCP and WebSocket implementations satisfy this interface.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect()
	IsConnected() bool
	Login(ctx context.Context, p protocol.LoginPayload) error
	Chat(ctx context.Context, text string) error
	Logout(ctx context.Context) error
	// Envelopes delivers every envelope received from the gateway. It is
	// closed when the connection ends.
	Envelopes() <-chan protocol.Envelope
}
