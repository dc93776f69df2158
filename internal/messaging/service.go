// Package messaging abstracts the channels Conversia talks through.
//
// A Service owns the transport for every tenant: it delivers outbound
// replies and surfaces inbound messages on a channel. The Dispatcher
// sits between a Service and the conversation engine and guarantees
// ordered, serialized handling per (tenant, party).
package messaging

import (
	"context"
	"time"

	"github.com/conversia/conversia/internal/models"
)

// Constants for messaging service configuration
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound message channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

// Service defines a pluggable message delivery abstraction.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Returns the canonicalized recipient and an error if validation fails.
	// This allows each service to implement its own recipient validation rules.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// SendMessage sends a message to a recipient through the tenant's channel.
	SendMessage(ctx context.Context, tenantID, to, body string) error

	// Start begins any background processing (e.g., polling for events).
	Start(ctx context.Context) error

	// Stop stops background processing and cleans up resources.
	Stop() error

	// Messages returns a channel of inbound messages from any tenant.
	Messages() <-chan models.Message
}
