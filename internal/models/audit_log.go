package models

import "time"

// AuditLog is one row of the transaction history trail. Every state
// transition and every discarded event leaves a record.
type AuditLog struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
}
