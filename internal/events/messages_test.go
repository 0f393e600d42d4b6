package events

import (
	"context"
	"testing"
	"time"
)

func TestNewExpenseCreatedMessage(t *testing.T) {
	msg := NewExpenseCreatedMessage("user-1", "exp-1", "Food")

	if msg.Type != TypeExpenseCreated {
		t.Errorf("expected type %s, got %s", TypeExpenseCreated, msg.Type)
	}
	if msg.OwnerID != "user-1" || msg.ExpenseID != "exp-1" || msg.Category != "Food" {
		t.Errorf("unexpected message fields: %+v", msg)
	}
	if msg.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
}

func TestNewBudgetExceededMessage(t *testing.T) {
	msg := NewBudgetExceededMessage("user-1", "Transport", 3, 2025)

	if msg.Type != TypeBudgetExceeded {
		t.Errorf("expected type %s, got %s", TypeBudgetExceeded, msg.Type)
	}
	if msg.Category != "Transport" || msg.Month != 3 || msg.Year != 2025 {
		t.Errorf("unexpected message fields: %+v", msg)
	}
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	msg := &Message{
		Type:      TypeExpenseCreated,
		OwnerID:   "user-1",
		ExpenseID: "exp-1",
		Category:  "Food",
		Timestamp: time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC),
	}

	data, err := msg.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON failed: %v", err)
	}

	parsed, err := MessageFromJSON(data)
	if err != nil {
		t.Fatalf("MessageFromJSON failed: %v", err)
	}
	if parsed.Type != msg.Type || parsed.OwnerID != msg.OwnerID || parsed.ExpenseID != msg.ExpenseID {
		t.Errorf("round trip changed message: %+v", parsed)
	}
	if !parsed.Timestamp.Equal(msg.Timestamp) {
		t.Errorf("timestamp changed: %v != %v", parsed.Timestamp, msg.Timestamp)
	}
}

func TestMessageFromJSON_Invalid(t *testing.T) {
	if _, err := MessageFromJSON([]byte(`{"month": "march"}`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestClient_NilSafe(t *testing.T) {
	var c *Client

	if err := c.Publish(context.Background(), NewExpenseCreatedMessage("u", "e", "Food")); err != nil {
		t.Errorf("nil client Publish should be a no-op, got %v", err)
	}
	if err := c.Close(); err != nil {
		t.Errorf("nil client Close should be a no-op, got %v", err)
	}
}
