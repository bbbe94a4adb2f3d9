// Package events publishes committed ledger events on Redis pub/sub so the
// notification and chat services can react to balance changes.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/wallet-ledger/wallet"
)

const DefaultChannel = "wallet_events"

// Message is the JSON document sent on the channel. Money is rendered as a
// fixed two-place string so subscribers never parse floats.
type Message struct {
	EventType  string        `json:"event_type"`
	WalletID   string        `json:"wallet_id"`
	UserID     string        `json:"user_id"`
	Currency   string        `json:"currency"`
	Balance    string        `json:"balance"`
	IsActive   bool          `json:"is_active"`
	Entry      *EntryMessage `json:"entry,omitempty"`
	OccurredAt time.Time     `json:"occurred_at"`
}

type EntryMessage struct {
	ID            string `json:"id"`
	Sequence      int64  `json:"sequence"`
	Kind          string `json:"kind"`
	Amount        string `json:"amount"`
	BalanceBefore string `json:"balance_before"`
	BalanceAfter  string `json:"balance_after"`
	ReferenceID   string `json:"reference_id,omitempty"`
	ReferenceType string `json:"reference_type,omitempty"`
	Description   string `json:"description,omitempty"`
}

func NewMessage(e wallet.Event) Message {
	msg := Message{
		EventType:  e.Type,
		WalletID:   string(e.WalletID),
		UserID:     string(e.UserID),
		Currency:   string(e.Currency),
		Balance:    wallet.FormatMoney(e.Balance),
		IsActive:   e.IsActive,
		OccurredAt: e.OccurredAt.UTC(),
	}
	if e.Entry != nil {
		msg.Entry = &EntryMessage{
			ID:            string(e.Entry.ID),
			Sequence:      e.Entry.Sequence,
			Kind:          string(e.Entry.Kind),
			Amount:        wallet.FormatMoney(e.Entry.Amount),
			BalanceBefore: wallet.FormatMoney(e.Entry.BalanceBefore),
			BalanceAfter:  wallet.FormatMoney(e.Entry.BalanceAfter),
			ReferenceID:   e.Entry.ReferenceID,
			ReferenceType: string(e.Entry.ReferenceType),
			Description:   e.Entry.Description,
		}
	}
	return msg
}

// RedisNotifier implements wallet.Notifier with PUBLISH.
type RedisNotifier struct {
	rdb     redis.UniversalClient
	channel string
	logger  *zap.Logger
}

func NewRedisNotifier(rdb redis.UniversalClient, channel string, logger *zap.Logger) *RedisNotifier {
	if channel == "" {
		channel = DefaultChannel
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisNotifier{rdb: rdb, channel: channel, logger: logger}
}

func (n *RedisNotifier) Publish(ctx context.Context, e wallet.Event) error {
	payload, err := json.Marshal(NewMessage(e))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := n.rdb.Publish(ctx, n.channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", e.Type, err)
	}
	n.logger.Debug("event published",
		zap.String("channel", n.channel),
		zap.String("event_type", e.Type),
		zap.String("wallet_id", string(e.WalletID)))
	return nil
}

// Connect opens a client for addr and checks the server answers.
func Connect(ctx context.Context, addr, password string) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return rdb, nil
}
