package amqp

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types published after a ledger commit.
const (
	EventLineCreated     = "line.created"
	EventLineUpdated     = "line.updated"
	EventLineDeleted     = "line.deleted"
	EventSubitemAdded    = "subitem.added"
	EventSubitemRemoved  = "subitem.removed"
	EventCategoryRenamed = "category.renamed"
	EventCategoryDeleted = "category.deleted"
)

// LedgerEvent announces a committed change. It carries identifiers only;
// consumers read current state from the ledger.
type LedgerEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	UserID    string    `json:"user_id"`
	LineID    string    `json:"line_id,omitempty"`
	SubitemID string    `json:"subitem_id,omitempty"`
	Category  string    `json:"category,omitempty"`
	Target    string    `json:"target,omitempty"` // new name for rename and delete
	Affected  int       `json:"affected,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewLedgerEvent stamps a fresh event id and the current time.
func NewLedgerEvent(eventType, userID string) *LedgerEvent {
	return &LedgerEvent{
		ID:        uuid.NewString(),
		Type:      eventType,
		UserID:    userID,
		Timestamp: time.Now().UTC(),
	}
}

func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
