package events

import (
	"context"
	"sync"

	log "github.com/sirupsen/logrus"
)

// EventType represents different types of events in the system
type EventType string

const (
	EventTypePlayerNotification EventType = "player_notification"
	EventTypeLedgerChange       EventType = "ledger_change"
	EventTypeFeeDefaulted       EventType = "fee_defaulted"
	EventTypeTransferStarted    EventType = "transfer_started"
	EventTypeTransferCompleted  EventType = "transfer_completed"
	EventTypeTransferFailed     EventType = "transfer_failed"
	EventTypeAccountRemoved     EventType = "account_removed"
)

// Event is the base interface for all events
type Event interface {
	Type() EventType
}

// PlayerNotificationEvent asks the notifier to tell a player something
type PlayerNotificationEvent struct {
	PlayerName string
	Message    string
}

func (e PlayerNotificationEvent) Type() EventType {
	return EventTypePlayerNotification
}

// LedgerChangeEvent mirrors an audit entry after it has been committed
type LedgerChangeEvent struct {
	AccountName string
	Action      string
	Amount      int64
}

func (e LedgerChangeEvent) Type() EventType {
	return EventTypeLedgerChange
}

// FeeDefaultedEvent is raised when an account could not cover its fees and was zeroed
type FeeDefaultedEvent struct {
	AccountName string
	FeeDue      int64
	ValueLost   int64
}

func (e FeeDefaultedEvent) Type() EventType {
	return EventTypeFeeDefaulted
}

// TransferStartedEvent is raised once the source bank has been debited
type TransferStartedEvent struct {
	Code      string
	OwnerName string
	FromBank  int
	ToBank    int
	GemCount  int64
}

func (e TransferStartedEvent) Type() EventType {
	return EventTypeTransferStarted
}

// TransferCompletedEvent is raised once the destination has been credited
type TransferCompletedEvent struct {
	Code      string
	OwnerName string
	ToBank    int
	GemCount  int64
}

func (e TransferCompletedEvent) Type() EventType {
	return EventTypeTransferCompleted
}

// TransferFailedEvent is raised when a transfer ends without credit
type TransferFailedEvent struct {
	Code      string
	OwnerName string
	ToBank    int
	GemCount  int64
	Reason    string
}

func (e TransferFailedEvent) Type() EventType {
	return EventTypeTransferFailed
}

// AccountRemovedEvent is raised after an account record is deleted
type AccountRemovedEvent struct {
	AccountName      string
	Actor            string
	OrphanedTransfer []string
}

func (e AccountRemovedEvent) Type() EventType {
	return EventTypeAccountRemoved
}

// Handler is a function that handles events
type Handler func(ctx context.Context, event Event)

// Bus manages event subscriptions and dispatching
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	wg       sync.WaitGroup
}

// NewBus creates a new event bus
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe adds a handler for a specific event type
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.handlers[eventType] = append(b.handlers[eventType], handler)

	log.WithFields(log.Fields{
		"eventType":    eventType,
		"handlerCount": len(b.handlers[eventType]),
	}).Debug("Subscribed handler to event type")
}

// Emit publishes an event to all registered handlers
func (b *Bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers[event.Type()]))
	copy(handlers, b.handlers[event.Type()])
	b.mu.RUnlock()

	log.WithFields(log.Fields{
		"eventType":    event.Type(),
		"handlerCount": len(handlers),
	}).Debug("Emitting event to handlers")

	// Call handlers asynchronously to avoid blocking the committing caller
	for i, handler := range handlers {
		b.wg.Add(1)
		go func(h Handler, handlerIndex int) {
			defer b.wg.Done()
			defer func() {
				if r := recover(); r != nil {
					log.WithFields(log.Fields{
						"eventType":    event.Type(),
						"handlerIndex": handlerIndex,
						"panic":        r,
					}).Error("Event handler panicked")
				}
			}()
			h(ctx, event)
		}(handler, i)
	}
}

// Wait blocks until every handler started so far has returned
func (b *Bus) Wait() {
	b.wg.Wait()
}

// TransactionalBus holds events coupled to a unit of work until it commits
type TransactionalBus struct {
	real    *Bus
	pending []Event
}

// NewTransactionalBus creates a transactional bus flushing into real
func NewTransactionalBus(real *Bus) *TransactionalBus {
	return &TransactionalBus{real: real}
}

// Publish stashes an event until Flush
func (b *TransactionalBus) Publish(e Event) error {
	log.WithFields(log.Fields{
		"eventType":    e.Type(),
		"pendingCount": len(b.pending),
	}).Debug("Adding event to transactional bus pending queue")
	b.pending = append(b.pending, e)
	return nil
}

// Flush emits all pending events; called after a successful commit
func (b *TransactionalBus) Flush(ctx context.Context) {
	// Handlers outlive the transaction context
	eventCtx := context.WithoutCancel(ctx)

	for _, ev := range b.pending {
		b.real.Emit(eventCtx, ev)
	}
	b.pending = nil
}

// Discard drops pending events; called after a rollback
func (b *TransactionalBus) Discard() {
	if len(b.pending) > 0 {
		log.WithField("discardedEventCount", len(b.pending)).Debug("Discarding pending events")
	}
	b.pending = nil
}

// Pending returns the events waiting for a commit
func (b *TransactionalBus) Pending() []Event {
	return b.pending
}
