package models

import "time"

// LogOutcome is the recorded result of one send attempt.
type LogOutcome string

const (
	OutcomeSent   LogOutcome = "sent"
	OutcomeFailed LogOutcome = "failed"
)

// MessageLog is one append-only record per send attempt. Entries are
// write-once and never mutated.
type MessageLog struct {
	ID           string     `json:"id"`
	CampaignID   string     `json:"campaign_id"`
	LeadID       string     `json:"lead_id"`
	Phone        string     `json:"phone"`
	Outcome      LogOutcome `json:"outcome"`
	GatewayMsgID string     `json:"gateway_msg_id,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}
