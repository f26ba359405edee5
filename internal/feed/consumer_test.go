package feed

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/treasury-vault/backend/internal/events"
	"go.uber.org/zap"
)

type recordedPurchase struct {
	vaultID   uuid.UUID
	buyer     string
	amount    float64
	signature string
	at        time.Time
}

type captureHandler struct {
	purchases []recordedPurchase
}

func (h *captureHandler) HandlePurchase(_ context.Context, vaultID uuid.UUID, buyer string, amount float64, signature string, at time.Time) error {
	h.purchases = append(h.purchases, recordedPurchase{vaultID, buyer, amount, signature, at})
	return nil
}

type memDeduper struct {
	seen map[string]bool
}

func (d *memDeduper) Seen(_ context.Context, signature string) bool {
	if d.seen == nil {
		d.seen = make(map[string]bool)
	}
	was := d.seen[signature]
	d.seen[signature] = true
	return was
}

func purchaseEvent(vaultID uuid.UUID, buyer string, amount float64, signature string) events.Event {
	return events.Event{
		Type: events.EventPurchase,
		Payload: map[string]any{
			"vault_id":  vaultID.String(),
			"buyer":     buyer,
			"amount":    amount,
			"signature": signature,
			"timestamp": "2025-06-01T12:00:00Z",
		},
	}
}

func TestConsumerDeduplicatesBySignature(t *testing.T) {
	handler := &captureHandler{}
	c := NewConsumer(nil, handler, &memDeduper{}, zap.NewNop())
	vaultID := uuid.New()

	event := purchaseEvent(vaultID, "Buyer1", 25, "sig-abc")
	c.handle(context.Background(), event)
	c.handle(context.Background(), event)
	c.handle(context.Background(), purchaseEvent(vaultID, "Buyer2", 30, "sig-def"))

	if len(handler.purchases) != 2 {
		t.Fatalf("handled %d purchases, want 2 (one duplicate dropped)", len(handler.purchases))
	}
	if handler.purchases[0].signature != "sig-abc" || handler.purchases[1].signature != "sig-def" {
		t.Errorf("unexpected signatures: %+v", handler.purchases)
	}
}

func TestConsumerDropsMalformedMessages(t *testing.T) {
	handler := &captureHandler{}
	c := NewConsumer(nil, handler, &memDeduper{}, zap.NewNop())

	malformed := []map[string]any{
		{"buyer": "Buyer1", "amount": 10.0},                              // no vault_id
		{"vault_id": "not-a-uuid", "buyer": "Buyer1", "amount": 10.0},    // bad uuid
		{"vault_id": uuid.New().String(), "amount": 10.0},                // no buyer
		{"vault_id": uuid.New().String(), "buyer": "Buyer1"},             // no amount
		{"vault_id": uuid.New().String(), "buyer": "Buyer1", "amount": "ten"},
	}
	for _, payload := range malformed {
		c.handle(context.Background(), events.Event{Type: events.EventPurchase, Payload: payload})
	}

	if len(handler.purchases) != 0 {
		t.Fatalf("handled %d malformed purchases, want 0", len(handler.purchases))
	}
}

func TestParsePurchaseTimestamps(t *testing.T) {
	vaultID := uuid.New()
	base := map[string]any{
		"vault_id": vaultID.String(),
		"buyer":    "Buyer1",
		"amount":   5.0,
	}

	t.Run("rfc3339", func(t *testing.T) {
		payload := map[string]any{"timestamp": "2025-06-01T12:00:00Z"}
		for k, v := range base {
			payload[k] = v
		}
		p, err := parsePurchase(payload)
		if err != nil {
			t.Fatalf("parsePurchase: %v", err)
		}
		want := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
		if !p.Timestamp.Equal(want) {
			t.Errorf("timestamp = %v, want %v", p.Timestamp, want)
		}
	})

	t.Run("unix seconds", func(t *testing.T) {
		payload := map[string]any{"timestamp": float64(1748779200)}
		for k, v := range base {
			payload[k] = v
		}
		p, err := parsePurchase(payload)
		if err != nil {
			t.Fatalf("parsePurchase: %v", err)
		}
		if p.Timestamp.Unix() != 1748779200 {
			t.Errorf("timestamp = %v", p.Timestamp)
		}
	})

	t.Run("missing defaults to now", func(t *testing.T) {
		payload := map[string]any{}
		for k, v := range base {
			payload[k] = v
		}
		p, err := parsePurchase(payload)
		if err != nil {
			t.Fatalf("parsePurchase: %v", err)
		}
		if p.Timestamp.IsZero() {
			t.Error("timestamp should default to the current time")
		}
	})
}

func TestConsumerProcessesUnsignedPurchases(t *testing.T) {
	handler := &captureHandler{}
	c := NewConsumer(nil, handler, &memDeduper{}, zap.NewNop())
	vaultID := uuid.New()

	// No signature: dedupe is skipped rather than collapsing all
	// unsigned messages onto one key.
	c.handle(context.Background(), purchaseEvent(vaultID, "Buyer1", 10, ""))
	c.handle(context.Background(), purchaseEvent(vaultID, "Buyer1", 10, ""))

	if len(handler.purchases) != 2 {
		t.Fatalf("handled %d unsigned purchases, want 2", len(handler.purchases))
	}
}
