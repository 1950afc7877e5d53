package audit

import (
	"encoding/json"
	"log"
	"time"
)

// Event is one structured audit record for a balance-affecting operation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	RefType   string    `json:"ref_type"`
	RefID     string    `json:"ref_id"`
	Amount    int64     `json:"amount_glm"`
	Status    string    `json:"status"`
	Details   any       `json:"details"`
}

// Logger emits JSON audit events for ledger activity. Entries in the ledger
// table are the source of truth; this stream exists for operators tailing
// logs, not for reconstruction.
type Logger struct{}

func NewLogger() *Logger {
	return &Logger{}
}

func (a *Logger) LogTransfer(refType, refID, fromAccount, toAccount string, amount int64, status string) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "TRANSFER",
		RefType:   refType,
		RefID:     refID,
		Amount:    amount,
		Status:    status,
		Details: map[string]string{
			"from_account": fromAccount,
			"to_account":   toAccount,
		},
	}
	a.log(event)
}

func (a *Logger) LogIssuance(refType, refID, toAccount string, amount int64) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "CREDIT_ISSUANCE",
		RefType:   refType,
		RefID:     refID,
		Amount:    amount,
		Status:    "SUCCESS",
		Details:   map[string]string{"to_account": toAccount},
	}
	a.log(event)
}

func (a *Logger) LogError(refType, refID string, err error) {
	event := Event{
		Timestamp: time.Now(),
		EventType: "ERROR",
		RefType:   refType,
		RefID:     refID,
		Status:    "FAILED",
		Details:   map[string]string{"error": err.Error()},
	}
	a.log(event)
}

func (a *Logger) log(event Event) {
	data, _ := json.Marshal(event)
	log.Printf("AUDIT: %s", string(data))
}
