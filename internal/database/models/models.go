// Package models defines the rows persisted by the database package.
package models

import "time"

// CallRecord is one finished call session: who called whom, how the call
// was routed, and how it ended.
type CallRecord struct {
	ID          int64     `json:"id"`
	CallID      string    `json:"call_id"`
	Tenant      string    `json:"tenant"`
	Caller      string    `json:"caller"`
	Callee      string    `json:"callee"`
	Context     string    `json:"context"`
	Route       string    `json:"route"`
	Disposition string    `json:"disposition"`
	StartedAt   time.Time `json:"started_at"`
	EndedAt     time.Time `json:"ended_at"`
}
