package events

import (
	"encoding/json"
	"time"
)

const (
	TypeExpenseCreated = "expense.created"
	TypeBudgetExceeded = "budget.exceeded"
)

// Message is the envelope published for every domain event. Consumers fetch
// full records from the API, the payload carries identifiers only.
type Message struct {
	Type      string    `json:"type"`
	OwnerID   string    `json:"owner_id"`
	ExpenseID string    `json:"expense_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Month     int       `json:"month,omitempty"`
	Year      int       `json:"year,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func NewExpenseCreatedMessage(ownerID, expenseID, category string) *Message {
	return &Message{
		Type:      TypeExpenseCreated,
		OwnerID:   ownerID,
		ExpenseID: expenseID,
		Category:  category,
		Timestamp: time.Now(),
	}
}

func NewBudgetExceededMessage(ownerID, category string, month, year int) *Message {
	return &Message{
		Type:      TypeBudgetExceeded,
		OwnerID:   ownerID,
		Category:  category,
		Month:     month,
		Year:      year,
		Timestamp: time.Now(),
	}
}

func (m *Message) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func MessageFromJSON(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
