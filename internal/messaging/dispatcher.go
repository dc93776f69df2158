package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/conversia/conversia/internal/models"
)

// partyQueueSize bounds the backlog of one (tenant, party) pair. A full
// queue drops the newest message; a chatty party never stalls others.
const partyQueueSize = 16

// Handler processes one inbound message. The dispatcher calls it at
// most once at a time per (tenant, party), in arrival order.
type Handler func(ctx context.Context, msg models.Message) error

// queueKey identifies one party's ordered lane.
type queueKey struct {
	tenantID string
	partyID  string
}

// Dispatcher fans inbound messages out to per-(tenant, party) worker
// queues. Different parties proceed concurrently; one party's messages
// are handled strictly one at a time.
type Dispatcher struct {
	handler Handler

	mu     sync.Mutex
	queues map[queueKey]chan models.Message
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewDispatcher creates a dispatcher invoking handler for each message.
func NewDispatcher(handler Handler) *Dispatcher {
	return &Dispatcher{
		handler: handler,
		queues:  make(map[queueKey]chan models.Message),
	}
}

// Run consumes the service's inbound channel until the context is
// cancelled or the channel closes. It returns immediately; processing
// happens on background workers.
func (d *Dispatcher) Run(ctx context.Context, svc Service) {
	d.mu.Lock()
	d.ctx, d.cancel = context.WithCancel(ctx)
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case msg, ok := <-svc.Messages():
				if !ok {
					slog.Info("Dispatcher inbound channel closed")
					return
				}
				d.Dispatch(msg)
			case <-d.ctx.Done():
				slog.Debug("Dispatcher stopping due to context cancellation")
				return
			}
		}
	}()
	slog.Debug("Dispatcher running")
}

// Dispatch routes one message onto its party's lane, creating the lane
// and its worker on first use.
func (d *Dispatcher) Dispatch(msg models.Message) {
	key := queueKey{tenantID: msg.TenantID, partyID: msg.From}

	d.mu.Lock()
	if d.ctx == nil || d.ctx.Err() != nil {
		d.mu.Unlock()
		return
	}
	queue, ok := d.queues[key]
	if !ok {
		queue = make(chan models.Message, partyQueueSize)
		d.queues[key] = queue
		d.wg.Add(1)
		go d.worker(key, queue)
	}
	d.mu.Unlock()

	select {
	case queue <- msg:
	default:
		slog.Warn("Dispatcher party queue full, dropping message", "tenantID", msg.TenantID, "from", msg.From)
	}
}

// worker drains one party's lane in order.
func (d *Dispatcher) worker(key queueKey, queue <-chan models.Message) {
	defer d.wg.Done()
	for {
		select {
		case msg := <-queue:
			if err := d.handler(d.ctx, msg); err != nil {
				slog.Error("Dispatcher handler failed", "error", err, "tenantID", key.tenantID, "from", key.partyID)
			}
		case <-d.ctx.Done():
			return
		}
	}
}

// Stop cancels processing and waits for in-flight handlers to finish.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	cancel := d.cancel
	d.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	d.wg.Wait()
	slog.Info("Dispatcher stopped")
}
