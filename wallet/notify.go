package wallet

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventEntryRecorded = "ledger.entry_recorded"
	EventWalletCreated = "wallet.created"
	EventWalletToggled = "wallet.status_changed"
)

// Event is published after a unit of work commits. Delivery is best effort.
type Event struct {
	Type       string
	WalletID   WalletID
	UserID     UserID
	Currency   Currency
	Balance    decimal.Decimal
	IsActive   bool
	Entry      *LedgerEntry
	OccurredAt time.Time
}

// Notifier delivers committed ledger events to other parts of the system
// (chat/notification services subscribe to them).
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// NopNotifier drops every event.
type NopNotifier struct{}

func (NopNotifier) Publish(context.Context, Event) error { return nil }
