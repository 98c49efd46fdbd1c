// Package channel defines the outbound messaging contract and the
// registry of live per-tenant channel connections.
package channel

import "context"

// Adapter sends messages to a correspondent over a concrete channel
// transport (WhatsApp socket, web chat, SMS gateway). Implementations
// must be safe for concurrent use: the engine serializes turns per
// correspondent but distinct correspondents send in parallel.
type Adapter interface {
	// Send delivers content to the correspondent and returns the
	// transport's message ID when it assigns one.
	Send(ctx context.Context, correspondent string, content string) (string, error)
}

// AdapterFunc adapts a function to the Adapter interface.
type AdapterFunc func(ctx context.Context, correspondent string, content string) (string, error)

func (f AdapterFunc) Send(ctx context.Context, correspondent string, content string) (string, error) {
	return f(ctx, correspondent, content)
}
