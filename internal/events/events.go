package events

import "context"

// Redis channels
const (
	ChannelVault        = "events:vault"
	ChannelPurchaseFeed = "events:purchase_feed"
)

// Event types
const (
	EventVaultStatusUpdated = "vault_status_updated"
	EventICOStarted         = "ico_started"
	EventPurchase           = "purchase"
	EventTimerExpired       = "timer_expired"
)

type Event struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type Publisher interface {
	Publish(ctx context.Context, stream string, event Event) error
}

type Subscriber interface {
	Subscribe(ctx context.Context, stream string, handler func(Event)) error
}
