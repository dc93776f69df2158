// Package models defines the core data structures for Conversia.
//
// It includes types for flow graphs, per-conversation state and tenant
// configuration, which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// BlockType defines how a flow block interacts with the remote party.
type BlockType string

const (
	// BlockTypeMessage sends its content and forwards automatically.
	BlockTypeMessage BlockType = "message"
	// BlockTypeQuestion waits for the party to pick one of its options.
	BlockTypeQuestion BlockType = "question"
	// BlockTypeYesNo waits for an affirmative or negative answer.
	BlockTypeYesNo BlockType = "yes_no"
)

// IsInteractive reports whether a block waits for party input before the
// conversation can advance. Unknown types are treated as terminal, which
// is also non-interactive for auto-forward purposes.
func (bt BlockType) IsInteractive() bool {
	return bt == BlockTypeQuestion || bt == BlockTypeYesNo
}

// Error variables for better error handling and testability
var (
	ErrEmptyTenantID     = errors.New("tenant id cannot be empty")
	ErrEmptyPartyID      = errors.New("party id cannot be empty")
	ErrNoFlowsEndpoint   = errors.New("tenant has no flows endpoint configured")
	ErrInvalidEndpoint   = errors.New("flows endpoint is not a valid http(s) URL")
	ErrNotArray          = errors.New("flow list response is not a JSON array")
	ErrEmptyBlockID      = errors.New("block id cannot be empty")
	ErrDuplicateBlockID  = errors.New("duplicate block id within flow")
	ErrTenantNotFound    = errors.New("tenant not registered")
	ErrSessionNotStarted = errors.New("channel session not started for tenant")
)

// Block is one node of a flow graph: a prompt plus its outgoing
// transition rule(s). Successor fields may reference ids absent from the
// flow; those are tolerated at runtime and treated as "no transition".
type Block struct {
	ID      string    `json:"id"`
	Type    BlockType `json:"type"`
	Content string    `json:"content,omitempty"`
	// Question and Title are legacy aliases for Content. They are only
	// consulted when producing the text of a conversation's entry block.
	Question string `json:"question,omitempty"`
	Title    string `json:"title,omitempty"`

	Next        string            `json:"next,omitempty"`
	NextYes     string            `json:"next_yes,omitempty"`
	NextNo      string            `json:"next_no,omitempty"`
	NextOptions map[string]string `json:"next_options,omitempty"`
}

// Text returns the block's outgoing message body. For the entry block of
// a new conversation the legacy field aliases are accepted in priority
// order content, question, title; every later block uses content only.
func (b *Block) Text(entry bool) string {
	if !entry || b.Content != "" {
		return b.Content
	}
	if b.Question != "" {
		return b.Question
	}
	return b.Title
}

// MatchOption matches party input against the block's option labels.
// Matching is case-insensitive and exact after trimming; no partial or
// fuzzy matching. Returns the target block id and whether a label matched.
func (b *Block) MatchOption(input string) (string, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	for label, target := range b.NextOptions {
		if strings.ToLower(strings.TrimSpace(label)) == normalized {
			return target, true
		}
	}
	return "", false
}

// FlowData carries the ordered block sequence of a flow.
type FlowData struct {
	Blocks []Block `json:"blocks"`
}

// Flow is a named, versioned automation script. IsActive is decoded
// leniently since the remote source emits it as 1/0, "1"/"0" or a bool.
type Flow struct {
	ID       string   `json:"id"`
	IsActive bool     `json:"is_active"`
	FlowData FlowData `json:"flow_data"`
}

// Runnable reports whether the flow is eligible for execution.
func (f *Flow) Runnable() bool {
	return f.IsActive && len(f.FlowData.Blocks) > 0
}

// Validate checks structural invariants of the flow's block collection.
// Violations are a data-quality concern, not a load failure.
func (f *Flow) Validate() error {
	seen := make(map[string]struct{}, len(f.FlowData.Blocks))
	for _, b := range f.FlowData.Blocks {
		if b.ID == "" {
			return ErrEmptyBlockID
		}
		if _, dup := seen[b.ID]; dup {
			return ErrDuplicateBlockID
		}
		seen[b.ID] = struct{}{}
	}
	return nil
}

// Conversation is the ephemeral per-(tenant, party) position in a flow.
// It is created on a party's first message and destroyed on reset or when
// its block disappears after a flow reload.
type Conversation struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenant_id"`
	PartyID        string    `json:"party_id"`
	CurrentBlockID string    `json:"current_block_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// TenantConfig holds the externally-managed configuration of one tenant.
// The engine reads it but never mutates it beyond LastLoadAt.
type TenantConfig struct {
	TenantID      string    `json:"tenant_id"`
	SiteURL       string    `json:"site_url,omitempty"`
	FlowsEndpoint string    `json:"flows_endpoint,omitempty"`
	LastLoadAt    time.Time `json:"last_load_at,omitempty"`
	CreatedAt     time.Time `json:"created_at,omitempty"`
	UpdatedAt     time.Time `json:"updated_at,omitempty"`
}

// Message is an inbound chat message delivered by a channel transport.
type Message struct {
	TenantID string `json:"tenant_id"`
	From     string `json:"from"`
	Body     string `json:"body"`
	Time     int64  `json:"time"`
}

// ReceiptStatus represents the delivery status of an outbound message.
type ReceiptStatus string

const (
	// ReceiptStatusSent indicates the message was handed to the channel.
	ReceiptStatusSent ReceiptStatus = "sent"
	// ReceiptStatusFailed indicates the channel rejected the message.
	ReceiptStatusFailed ReceiptStatus = "failed"
)

// Receipt records the outcome of one outbound send.
type Receipt struct {
	TenantID string        `json:"tenant_id"`
	To       string        `json:"to"`
	Status   ReceiptStatus `json:"status"`
	Time     int64         `json:"time"`
}

// ChannelStatus represents the state of a tenant's channel session.
type ChannelStatus string

const (
	// ChannelStatusDisconnected indicates no running session.
	ChannelStatusDisconnected ChannelStatus = "disconnected"
	// ChannelStatusWaitingQR indicates the session awaits QR login.
	ChannelStatusWaitingQR ChannelStatus = "waiting_qr"
	// ChannelStatusConnected indicates the session is serving traffic.
	ChannelStatusConnected ChannelStatus = "connected"
)
