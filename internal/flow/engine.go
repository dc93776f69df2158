package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/conversia/conversia/internal/metrics"
	"github.com/conversia/conversia/internal/models"
	"github.com/conversia/conversia/internal/store"
)

// DefaultResetKeyword hard-resets a party's conversation when received
// as the full message body (trimmed, case-insensitive).
const DefaultResetKeyword = "#reset"

// maxForwardHops bounds the auto-forward chain. The runner also stops on
// the first revisited block id, so the cap only matters for degenerate
// graphs with more distinct chained message blocks than this.
const maxForwardHops = 32

// Sender delivers outbound replies through a tenant's channel session.
type Sender interface {
	SendMessage(ctx context.Context, tenantID, to, body string) error
}

// FlowReader provides the tenant's currently eligible flow.
type FlowReader interface {
	ActiveFlow(tenantID string) (*models.Flow, error)
}

// Notifier is told when a conversation starts. Implementations must be
// best-effort; the engine never waits on or reacts to their outcome.
type Notifier interface {
	NotifyConversationStarted(ctx context.Context, tenantID, partyID string)
}

// Clarifier rephrases the "didn't understand" reply for a question
// block. Used when GenAI is configured; any error falls back to the
// static prompt text.
type Clarifier interface {
	ClarifyQuestion(ctx context.Context, question string, options []string, input string) (string, error)
}

// Prompts holds the fixed user-facing texts of the engine.
type Prompts struct {
	ResetAck      string
	NotUnderstood string
	AnswerYesNo   string
}

// DefaultPrompts matches the original Portuguese-first product.
var DefaultPrompts = Prompts{
	ResetAck:      "🔄 Conversa reiniciada. Envie uma mensagem para começar de novo.",
	NotUnderstood: "Desculpe, não entendi. Pode repetir?",
	AnswerYesNo:   "Por favor, responda sim ou não.",
}

// Affirmative and negative token sets for yes_no blocks. The product is
// Portuguese-first; English equivalents are accepted as well.
var (
	affirmativeTokens = map[string]struct{}{
		"sim": {}, "s": {}, "yes": {}, "y": {}, "1": {},
	}
	negativeTokens = map[string]struct{}{
		"não": {}, "nao": {}, "n": {}, "no": {}, "2": {},
	}
)

// Engine is the per-conversation state machine. It performs no locking
// of its own: the messaging dispatcher guarantees at most one in-flight
// message per (tenant, party).
type Engine struct {
	flows        FlowReader
	convs        store.ConversationStore
	sender       Sender
	notifier     Notifier
	clarifier    Clarifier
	prompts      Prompts
	resetKeyword string
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier sets the conversation-started notifier.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithClarifier sets the optional GenAI clarification generator.
func WithClarifier(c Clarifier) EngineOption {
	return func(e *Engine) { e.clarifier = c }
}

// WithPrompts overrides the engine's fixed reply texts.
func WithPrompts(p Prompts) EngineOption {
	return func(e *Engine) { e.prompts = p }
}

// WithResetKeyword overrides the reset keyword.
func WithResetKeyword(kw string) EngineOption {
	return func(e *Engine) { e.resetKeyword = strings.ToLower(strings.TrimSpace(kw)) }
}

// NewEngine creates a conversation engine over the given collaborators.
func NewEngine(flows FlowReader, convs store.ConversationStore, sender Sender, opts ...EngineOption) *Engine {
	e := &Engine{
		flows:        flows,
		convs:        convs,
		sender:       sender,
		prompts:      DefaultPrompts,
		resetKeyword: DefaultResetKeyword,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// HandleMessage advances the party's conversation for one inbound
// message. Errors are returned for logging only; no error here is fatal
// and none reaches the remote party beyond the clarification replies.
func (e *Engine) HandleMessage(ctx context.Context, msg models.Message) error {
	metrics.MessagesInbound.WithLabelValues(msg.TenantID).Inc()
	normalized := strings.ToLower(strings.TrimSpace(msg.Body))
	slog.Debug("Engine HandleMessage", "tenantID", msg.TenantID, "from", msg.From, "body_length", len(msg.Body))

	// Reset is checked before anything else and never touches the flow store.
	if normalized == e.resetKeyword {
		if err := e.convs.DeleteConversation(msg.TenantID, msg.From); err != nil {
			slog.Error("Engine reset delete failed", "error", err, "tenantID", msg.TenantID, "from", msg.From)
		}
		e.send(ctx, msg.TenantID, msg.From, e.prompts.ResetAck)
		slog.Info("Engine conversation reset", "tenantID", msg.TenantID, "from", msg.From)
		return nil
	}

	active, err := e.flows.ActiveFlow(msg.TenantID)
	if err != nil {
		return fmt.Errorf("failed to load active flow: %w", err)
	}
	if active == nil {
		// Intentional silence: the tenant has no runnable flow.
		slog.Debug("Engine no active flow", "tenantID", msg.TenantID)
		return nil
	}
	blocks := active.FlowData.Blocks

	conv, err := e.convs.GetConversation(msg.TenantID, msg.From)
	if err != nil {
		return fmt.Errorf("failed to load conversation: %w", err)
	}

	if conv == nil {
		return e.startConversation(ctx, msg, blocks)
	}

	current := ResolveBlock(blocks, conv.CurrentBlockID)
	if current == nil {
		// The flow was reloaded and the party's block is gone. Dropping
		// state silently beats sending a stale prompt.
		if err := e.convs.DeleteConversation(msg.TenantID, msg.From); err != nil {
			slog.Error("Engine stale-state delete failed", "error", err, "tenantID", msg.TenantID, "from", msg.From)
		}
		slog.Info("Engine dropped stale conversation", "tenantID", msg.TenantID, "from", msg.From, "blockID", conv.CurrentBlockID)
		return nil
	}

	switch current.Type {
	case models.BlockTypeMessage:
		next := ResolveBlock(blocks, current.Next)
		if next == nil {
			slog.Debug("Engine dead end on message block", "tenantID", msg.TenantID, "blockID", current.ID)
			return nil
		}
		return e.transition(ctx, msg, *conv, blocks, next)

	case models.BlockTypeQuestion:
		if len(current.NextOptions) == 0 {
			// A question with no options has nowhere to go.
			slog.Debug("Engine question block without options", "tenantID", msg.TenantID, "blockID", current.ID)
			return nil
		}
		if target, ok := current.MatchOption(msg.Body); ok {
			if next := ResolveBlock(blocks, target); next != nil {
				return e.transition(ctx, msg, *conv, blocks, next)
			}
			slog.Warn("Engine question option targets missing block", "tenantID", msg.TenantID, "blockID", current.ID, "target", target)
			return nil
		}
		e.send(ctx, msg.TenantID, msg.From, e.clarify(ctx, current, msg.Body))
		return nil

	case models.BlockTypeYesNo:
		var targetID string
		if _, yes := affirmativeTokens[normalized]; yes {
			targetID = current.NextYes
		} else if _, no := negativeTokens[normalized]; no {
			targetID = current.NextNo
		} else {
			e.send(ctx, msg.TenantID, msg.From, e.prompts.AnswerYesNo)
			return nil
		}
		next := ResolveBlock(blocks, targetID)
		if next == nil {
			slog.Debug("Engine yes_no dead end", "tenantID", msg.TenantID, "blockID", current.ID)
			return nil
		}
		return e.transition(ctx, msg, *conv, blocks, next)
	}

	// Unknown block type: implicit terminal.
	slog.Debug("Engine terminal block type", "tenantID", msg.TenantID, "blockID", current.ID, "type", current.Type)
	return nil
}

// startConversation handles a party with no state: enter at the flow's
// entry block, reply with its text, notify the lifecycle hook and
// auto-forward.
func (e *Engine) startConversation(ctx context.Context, msg models.Message, blocks []models.Block) error {
	entry := ResolveEntryBlock(blocks)
	if entry == nil {
		return nil
	}
	conv := models.Conversation{
		ID:             uuid.NewString(),
		TenantID:       msg.TenantID,
		PartyID:        msg.From,
		CurrentBlockID: entry.ID,
		CreatedAt:      time.Now(),
	}
	if err := e.convs.SaveConversation(conv); err != nil {
		return fmt.Errorf("failed to create conversation: %w", err)
	}
	metrics.ConversationsStarted.WithLabelValues(msg.TenantID).Inc()
	slog.Info("Engine conversation started", "tenantID", msg.TenantID, "from", msg.From, "conversationID", conv.ID, "entryBlockID", entry.ID)

	e.send(ctx, msg.TenantID, msg.From, entry.Text(true))

	if e.notifier != nil {
		e.notifier.NotifyConversationStarted(ctx, msg.TenantID, msg.From)
	}

	e.autoForward(ctx, msg, conv, blocks, entry)
	return nil
}

// transition moves the conversation to next, replies with its content
// and auto-forwards through any chained message blocks.
func (e *Engine) transition(ctx context.Context, msg models.Message, conv models.Conversation, blocks []models.Block, next *models.Block) error {
	conv.CurrentBlockID = next.ID
	if err := e.convs.SaveConversation(conv); err != nil {
		return fmt.Errorf("failed to save conversation: %w", err)
	}
	slog.Debug("Engine transitioned", "tenantID", msg.TenantID, "from", msg.From, "blockID", next.ID)
	e.send(ctx, msg.TenantID, msg.From, next.Text(false))
	e.autoForward(ctx, msg, conv, blocks, next)
	return nil
}

// autoForward walks forward from start through consecutive message
// blocks, advancing the stored position and sending each block's content
// without waiting for input. It stops at the first interactive or
// unknown-type block, on an unresolved next, on a revisited block id, on
// the hop cap, or when the channel refuses a send.
func (e *Engine) autoForward(ctx context.Context, msg models.Message, conv models.Conversation, blocks []models.Block, start *models.Block) {
	visited := map[string]struct{}{start.ID: {}}
	current := start

	for hops := 0; hops < maxForwardHops; hops++ {
		if current.Type != models.BlockTypeMessage {
			return
		}
		next := ResolveBlock(blocks, current.Next)
		if next == nil {
			return
		}
		if _, seen := visited[next.ID]; seen {
			slog.Warn("Engine auto-forward cycle detected", "tenantID", msg.TenantID, "blockID", next.ID)
			return
		}
		visited[next.ID] = struct{}{}

		conv.CurrentBlockID = next.ID
		if err := e.convs.SaveConversation(conv); err != nil {
			slog.Error("Engine auto-forward save failed", "error", err, "tenantID", msg.TenantID, "from", msg.From)
			return
		}
		metrics.AutoForwardHops.WithLabelValues(msg.TenantID).Inc()
		if err := e.sender.SendMessage(ctx, msg.TenantID, msg.From, next.Text(false)); err != nil {
			metrics.RepliesSent.WithLabelValues(msg.TenantID, string(models.ReceiptStatusFailed)).Inc()
			slog.Error("Engine auto-forward send failed", "error", err, "tenantID", msg.TenantID, "from", msg.From, "blockID", next.ID)
			return
		}
		metrics.RepliesSent.WithLabelValues(msg.TenantID, string(models.ReceiptStatusSent)).Inc()
		slog.Debug("Engine auto-forwarded", "tenantID", msg.TenantID, "from", msg.From, "blockID", next.ID)
		current = next
	}
	slog.Warn("Engine auto-forward hop cap reached", "tenantID", msg.TenantID, "from", msg.From, "cap", maxForwardHops)
}

// clarify produces the "didn't understand" reply for a question block,
// preferring the GenAI clarifier when one is configured.
func (e *Engine) clarify(ctx context.Context, block *models.Block, input string) string {
	if e.clarifier == nil {
		return e.prompts.NotUnderstood
	}
	options := make([]string, 0, len(block.NextOptions))
	for label := range block.NextOptions {
		options = append(options, label)
	}
	text, err := e.clarifier.ClarifyQuestion(ctx, block.Text(false), options, input)
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Debug("Engine clarifier fallback", "error", err)
		return e.prompts.NotUnderstood
	}
	return text
}

// send delivers a reply and records its receipt outcome. Send failures
// are logged but never surfaced: the transport owns retry policy.
func (e *Engine) send(ctx context.Context, tenantID, to, body string) {
	if body == "" {
		return
	}
	if err := e.sender.SendMessage(ctx, tenantID, to, body); err != nil {
		metrics.RepliesSent.WithLabelValues(tenantID, string(models.ReceiptStatusFailed)).Inc()
		slog.Error("Engine send failed", "error", err, "tenantID", tenantID, "to", to)
		return
	}
	metrics.RepliesSent.WithLabelValues(tenantID, string(models.ReceiptStatusSent)).Inc()
}
